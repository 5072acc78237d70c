package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"sync"

	aiplatform "cloud.google.com/go/aiplatform/apiv1"
	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// VertexClients implements IndexAPI, EndpointAPI and MatchAPI on top of the
// Vertex AI gRPC clients. Match clients are created lazily, one per public
// endpoint domain.
type VertexClients struct {
	index    *aiplatform.IndexClient
	endpoint *aiplatform.IndexEndpointClient
	opts     []option.ClientOption

	mu    sync.Mutex
	match map[string]*aiplatform.MatchClient
}

func NewVertexClients(ctx context.Context, region string, opts ...option.ClientOption) (*VertexClients, error) {
	regional := append([]option.ClientOption{option.WithEndpoint(region + "-aiplatform.googleapis.com:443")}, opts...)
	indexClient, err := aiplatform.NewIndexClient(ctx, regional...)
	if err != nil {
		return nil, fmt.Errorf("create index client: %w", err)
	}
	endpointClient, err := aiplatform.NewIndexEndpointClient(ctx, regional...)
	if err != nil {
		_ = indexClient.Close()
		return nil, fmt.Errorf("create index endpoint client: %w", err)
	}
	return &VertexClients{
		index:    indexClient,
		endpoint: endpointClient,
		opts:     opts,
		match:    make(map[string]*aiplatform.MatchClient),
	}, nil
}

func (v *VertexClients) ListIndexes(ctx context.Context, parent string) ([]*aiplatformpb.Index, error) {
	it := v.index.ListIndexes(ctx, &aiplatformpb.ListIndexesRequest{Parent: parent})
	var out []*aiplatformpb.Index
	for {
		idx, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, idx)
	}
}

func (v *VertexClients) GetIndex(ctx context.Context, name string) (*aiplatformpb.Index, error) {
	return v.index.GetIndex(ctx, &aiplatformpb.GetIndexRequest{Name: name})
}

func (v *VertexClients) CreateIndex(ctx context.Context, parent string, index *aiplatformpb.Index) (*aiplatformpb.Index, error) {
	op, err := v.index.CreateIndex(ctx, &aiplatformpb.CreateIndexRequest{Parent: parent, Index: index})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (v *VertexClients) DeleteIndex(ctx context.Context, name string) error {
	op, err := v.index.DeleteIndex(ctx, &aiplatformpb.DeleteIndexRequest{Name: name})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (v *VertexClients) UpsertDatapoints(ctx context.Context, index string, datapoints []*aiplatformpb.IndexDatapoint) error {
	_, err := v.index.UpsertDatapoints(ctx, &aiplatformpb.UpsertDatapointsRequest{Index: index, Datapoints: datapoints})
	return err
}

func (v *VertexClients) RemoveDatapoints(ctx context.Context, index string, ids []string) error {
	_, err := v.index.RemoveDatapoints(ctx, &aiplatformpb.RemoveDatapointsRequest{Index: index, DatapointIds: ids})
	return err
}

func (v *VertexClients) ListIndexEndpoints(ctx context.Context, parent string) ([]*aiplatformpb.IndexEndpoint, error) {
	it := v.endpoint.ListIndexEndpoints(ctx, &aiplatformpb.ListIndexEndpointsRequest{Parent: parent})
	var out []*aiplatformpb.IndexEndpoint
	for {
		ep, err := it.Next()
		if errors.Is(err, iterator.Done) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, ep)
	}
}

func (v *VertexClients) GetIndexEndpoint(ctx context.Context, name string) (*aiplatformpb.IndexEndpoint, error) {
	return v.endpoint.GetIndexEndpoint(ctx, &aiplatformpb.GetIndexEndpointRequest{Name: name})
}

func (v *VertexClients) CreateIndexEndpoint(ctx context.Context, parent string, endpoint *aiplatformpb.IndexEndpoint) (*aiplatformpb.IndexEndpoint, error) {
	op, err := v.endpoint.CreateIndexEndpoint(ctx, &aiplatformpb.CreateIndexEndpointRequest{Parent: parent, IndexEndpoint: endpoint})
	if err != nil {
		return nil, err
	}
	return op.Wait(ctx)
}

func (v *VertexClients) DeployIndex(ctx context.Context, endpoint string, deployed *aiplatformpb.DeployedIndex) (*aiplatformpb.DeployedIndex, error) {
	op, err := v.endpoint.DeployIndex(ctx, &aiplatformpb.DeployIndexRequest{IndexEndpoint: endpoint, DeployedIndex: deployed})
	if err != nil {
		return nil, err
	}
	resp, err := op.Wait(ctx)
	if err != nil {
		return nil, err
	}
	return resp.GetDeployedIndex(), nil
}

func (v *VertexClients) UndeployIndex(ctx context.Context, endpoint string, deployedIndexID string) error {
	op, err := v.endpoint.UndeployIndex(ctx, &aiplatformpb.UndeployIndexRequest{IndexEndpoint: endpoint, DeployedIndexId: deployedIndexID})
	if err != nil {
		return err
	}
	_, err = op.Wait(ctx)
	return err
}

func (v *VertexClients) DeleteIndexEndpoint(ctx context.Context, name string) error {
	op, err := v.endpoint.DeleteIndexEndpoint(ctx, &aiplatformpb.DeleteIndexEndpointRequest{Name: name})
	if err != nil {
		return err
	}
	return op.Wait(ctx)
}

func (v *VertexClients) FindNeighbors(ctx context.Context, publicDomain string, req *aiplatformpb.FindNeighborsRequest) (*aiplatformpb.FindNeighborsResponse, error) {
	client, err := v.matchClient(ctx, publicDomain)
	if err != nil {
		return nil, err
	}
	return client.FindNeighbors(ctx, req)
}

func (v *VertexClients) matchClient(ctx context.Context, publicDomain string) (*aiplatform.MatchClient, error) {
	if publicDomain == "" {
		return nil, fmt.Errorf("index endpoint has no public domain")
	}
	v.mu.Lock()
	defer v.mu.Unlock()
	if c, ok := v.match[publicDomain]; ok {
		return c, nil
	}
	opts := append([]option.ClientOption{option.WithEndpoint(publicDomain + ":443")}, v.opts...)
	c, err := aiplatform.NewMatchClient(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create match client: %w", err)
	}
	v.match[publicDomain] = c
	return c, nil
}

func (v *VertexClients) Close() error {
	v.mu.Lock()
	defer v.mu.Unlock()
	var errs []error
	for domain, c := range v.match {
		errs = append(errs, c.Close())
		delete(v.match, domain)
	}
	errs = append(errs, v.endpoint.Close(), v.index.Close())
	return errors.Join(errs...)
}
