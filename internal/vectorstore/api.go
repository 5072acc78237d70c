package vectorstore

import (
	"context"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
)

// IndexAPI is the subset of the Vertex AI index service the manager needs.
// Long-running calls return once the operation has resolved.
type IndexAPI interface {
	ListIndexes(ctx context.Context, parent string) ([]*aiplatformpb.Index, error)
	GetIndex(ctx context.Context, name string) (*aiplatformpb.Index, error)
	CreateIndex(ctx context.Context, parent string, index *aiplatformpb.Index) (*aiplatformpb.Index, error)
	DeleteIndex(ctx context.Context, name string) error
	UpsertDatapoints(ctx context.Context, index string, datapoints []*aiplatformpb.IndexDatapoint) error
	RemoveDatapoints(ctx context.Context, index string, ids []string) error
}

type EndpointAPI interface {
	ListIndexEndpoints(ctx context.Context, parent string) ([]*aiplatformpb.IndexEndpoint, error)
	GetIndexEndpoint(ctx context.Context, name string) (*aiplatformpb.IndexEndpoint, error)
	CreateIndexEndpoint(ctx context.Context, parent string, endpoint *aiplatformpb.IndexEndpoint) (*aiplatformpb.IndexEndpoint, error)
	DeployIndex(ctx context.Context, endpoint string, deployed *aiplatformpb.DeployedIndex) (*aiplatformpb.DeployedIndex, error)
	UndeployIndex(ctx context.Context, endpoint string, deployedIndexID string) error
	DeleteIndexEndpoint(ctx context.Context, name string) error
}

// MatchAPI runs nearest neighbour queries against the public domain of an
// index endpoint.
type MatchAPI interface {
	FindNeighbors(ctx context.Context, publicDomain string, req *aiplatformpb.FindNeighborsRequest) (*aiplatformpb.FindNeighborsResponse, error)
}
