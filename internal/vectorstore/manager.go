package vectorstore

import (
	"context"
	"fmt"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/docstore"
	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
)

const (
	treeAHSchemaURI           = "gs://google-cloud-aiplatform/schema/matchingengine/metadata/nearest_neighbor_search_1.0.0.yaml"
	approximateNeighborsCount = 150
	distanceMeasure           = "DOT_PRODUCT_DISTANCE"
	leafNodeEmbeddingCount    = 500
	leafNodesToSearchPercent  = 7
)

type Config struct {
	ProjectID         string
	Region            string
	IndexName         string
	IndexEndpointName string
	Dimensions        int
}

// Manager drives the lifecycle of one named index and its endpoint:
// absent, index only, deployed, and back.
type Manager struct {
	cfg       Config
	parent    string
	indexes   IndexAPI
	endpoints EndpointAPI
	matcher   MatchAPI
	docs      docstore.Store
}

func NewManager(cfg Config, indexes IndexAPI, endpoints EndpointAPI, matcher MatchAPI, docs docstore.Store) *Manager {
	if cfg.IndexEndpointName == "" {
		cfg.IndexEndpointName = cfg.IndexName + "_endpoint"
	}
	return &Manager{
		cfg:       cfg,
		parent:    fmt.Sprintf("projects/%s/locations/%s", cfg.ProjectID, cfg.Region),
		indexes:   indexes,
		endpoints: endpoints,
		matcher:   matcher,
		docs:      docs,
	}
}

// GetIndex returns the index whose display name is the configured index
// name, or nil when there is none.
func (m *Manager) GetIndex(ctx context.Context) (*aiplatformpb.Index, error) {
	all, err := m.indexes.ListIndexes(ctx, m.parent)
	if err != nil {
		return nil, fmt.Errorf("list indexes: %w", err)
	}
	var matched []*aiplatformpb.Index
	for _, idx := range all {
		if idx.GetDisplayName() == m.cfg.IndexName {
			matched = append(matched, idx)
		}
	}
	switch len(matched) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, fmt.Errorf("%d indexes named %q: %w", len(matched), m.cfg.IndexName, appErr.ErrAmbiguous)
	}
	idx, err := m.indexes.GetIndex(ctx, matched[0].GetName())
	if err != nil {
		return nil, fmt.Errorf("get index %s: %w", matched[0].GetName(), err)
	}
	return idx, nil
}

func (m *Manager) GetIndexEndpoint(ctx context.Context) (*aiplatformpb.IndexEndpoint, error) {
	all, err := m.endpoints.ListIndexEndpoints(ctx, m.parent)
	if err != nil {
		return nil, fmt.Errorf("list index endpoints: %w", err)
	}
	var matched []*aiplatformpb.IndexEndpoint
	for _, ep := range all {
		if ep.GetDisplayName() == m.cfg.IndexEndpointName {
			matched = append(matched, ep)
		}
	}
	switch len(matched) {
	case 0:
		return nil, nil
	case 1:
	default:
		return nil, fmt.Errorf("%d index endpoints named %q: %w", len(matched), m.cfg.IndexEndpointName, appErr.ErrAmbiguous)
	}
	ep, err := m.endpoints.GetIndexEndpoint(ctx, matched[0].GetName())
	if err != nil {
		return nil, fmt.Errorf("get index endpoint %s: %w", matched[0].GetName(), err)
	}
	return ep, nil
}

func (m *Manager) CreateIndex(ctx context.Context) (*aiplatformpb.Index, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("index", m.cfg.IndexName))
	idx, err := m.GetIndex(ctx)
	if err != nil {
		return nil, err
	}
	if idx != nil {
		logger.Info("index already exists", zap.String("id", idx.GetName()))
		return idx, nil
	}
	logger.Info("index does not exist, creating", zap.Int("dimensions", m.cfg.Dimensions))
	metadata, err := treeAHMetadata(m.cfg.Dimensions)
	if err != nil {
		return nil, err
	}
	idx, err = m.indexes.CreateIndex(ctx, m.parent, &aiplatformpb.Index{
		DisplayName:       m.cfg.IndexName,
		MetadataSchemaUri: treeAHSchemaURI,
		Metadata:          metadata,
		IndexUpdateMethod: aiplatformpb.Index_STREAM_UPDATE,
	})
	if err != nil {
		return nil, fmt.Errorf("create index %s: %w", m.cfg.IndexName, err)
	}
	logger.Info("index created", zap.String("id", idx.GetName()))
	return idx, nil
}

func treeAHMetadata(dimensions int) (*structpb.Value, error) {
	v, err := structpb.NewValue(map[string]interface{}{
		"config": map[string]interface{}{
			"dimensions":                dimensions,
			"approximateNeighborsCount": approximateNeighborsCount,
			"distanceMeasureType":       distanceMeasure,
			"algorithmConfig": map[string]interface{}{
				"treeAhConfig": map[string]interface{}{
					"leafNodeEmbeddingCount":   leafNodeEmbeddingCount,
					"leafNodesToSearchPercent": leafNodesToSearchPercent,
				},
			},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("build index metadata: %w", err)
	}
	return v, nil
}

func (m *Manager) CreateEndpoint(ctx context.Context) (*aiplatformpb.IndexEndpoint, error) {
	logger := logutil.GetLogger(ctx).With(zap.String("endpoint", m.cfg.IndexEndpointName))
	ep, err := m.GetIndexEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	if ep != nil {
		logger.Info("index endpoint already exists",
			zap.String("id", ep.GetName()), zap.String("domain", ep.GetPublicEndpointDomainName()))
		return ep, nil
	}
	logger.Info("index endpoint does not exist, creating")
	ep, err = m.endpoints.CreateIndexEndpoint(ctx, m.parent, &aiplatformpb.IndexEndpoint{
		DisplayName:           m.cfg.IndexEndpointName,
		PublicEndpointEnabled: true,
	})
	if err != nil {
		return nil, fmt.Errorf("create index endpoint %s: %w", m.cfg.IndexEndpointName, err)
	}
	logger.Info("index endpoint created", zap.String("id", ep.GetName()))
	return ep, nil
}

// Deploy makes sure the index and the endpoint exist and binds them under a
// deployed index id equal to the endpoint display name. The remote operation
// can take tens of minutes.
func (m *Manager) Deploy(ctx context.Context) (*aiplatformpb.IndexEndpoint, error) {
	logger := logutil.GetLogger(ctx)
	idx, err := m.CreateIndex(ctx)
	if err != nil {
		return nil, err
	}
	ep, err := m.CreateEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	deployedID := ep.GetDisplayName()
	for _, d := range ep.GetDeployedIndexes() {
		if d.GetId() == deployedID && d.GetIndex() == idx.GetName() {
			logger.Info("index already deployed", zap.String("deployed_index_id", deployedID))
			return ep, nil
		}
	}
	logger.Info("deploying index to endpoint",
		zap.String("index", idx.GetName()), zap.String("endpoint", ep.GetName()), zap.String("deployed_index_id", deployedID))
	if _, err := m.endpoints.DeployIndex(ctx, ep.GetName(), &aiplatformpb.DeployedIndex{
		Id:          deployedID,
		Index:       idx.GetName(),
		DisplayName: deployedID,
	}); err != nil {
		return nil, fmt.Errorf("deploy index %s: %w", idx.GetName(), err)
	}
	ep, err = m.endpoints.GetIndexEndpoint(ctx, ep.GetName())
	if err != nil {
		return nil, fmt.Errorf("get index endpoint %s: %w", deployedID, err)
	}
	logger.Info("index deployed to endpoint",
		zap.String("endpoint", ep.GetDisplayName()), zap.Strings("deployed_indexes", deployedIDs(ep)))
	return ep, nil
}

// DeleteIndexEndpoint undeploys every binding of the endpoint and deletes
// it. The first failed undeploy stops the teardown, leaving the remaining
// bindings and the endpoint in place.
func (m *Manager) DeleteIndexEndpoint(ctx context.Context) error {
	logger := logutil.GetLogger(ctx).With(zap.String("endpoint", m.cfg.IndexEndpointName))
	ep, err := m.GetIndexEndpoint(ctx)
	if err != nil {
		return err
	}
	if ep == nil {
		return fmt.Errorf("index endpoint %s: %w", m.cfg.IndexEndpointName, appErr.ErrNotFound)
	}
	logger.Info("index endpoint exists",
		zap.String("id", ep.GetName()), zap.String("domain", ep.GetPublicEndpointDomainName()))
	ep, err = m.endpoints.GetIndexEndpoint(ctx, ep.GetName())
	if err != nil {
		return fmt.Errorf("get index endpoint %s: %w", m.cfg.IndexEndpointName, err)
	}
	for _, d := range ep.GetDeployedIndexes() {
		logger.Info("undeploying index", zap.String("deployed_index_id", d.GetId()))
		if err := m.endpoints.UndeployIndex(ctx, ep.GetName(), d.GetId()); err != nil {
			return fmt.Errorf("undeploy %s: %w", d.GetId(), err)
		}
		logger.Info("index undeployed", zap.String("deployed_index_id", d.GetId()))
	}
	logger.Info("deleting index endpoint", zap.String("id", ep.GetName()))
	if err := m.endpoints.DeleteIndexEndpoint(ctx, ep.GetName()); err != nil {
		return fmt.Errorf("delete index endpoint %s: %w", m.cfg.IndexEndpointName, err)
	}
	return nil
}

func (m *Manager) DeleteIndex(ctx context.Context) error {
	idx, err := m.GetIndex(ctx)
	if err != nil {
		return err
	}
	if idx == nil {
		return fmt.Errorf("index %s: %w", m.cfg.IndexName, appErr.ErrNotFound)
	}
	logutil.GetLogger(ctx).Info("deleting index", zap.String("index", m.cfg.IndexName), zap.String("id", idx.GetName()))
	if err := m.indexes.DeleteIndex(ctx, idx.GetName()); err != nil {
		return fmt.Errorf("delete index %s: %w", m.cfg.IndexName, err)
	}
	return nil
}

func (m *Manager) DeleteAll(ctx context.Context) error {
	if err := m.DeleteIndexEndpoint(ctx); err != nil {
		return err
	}
	return m.DeleteIndex(ctx)
}

func (m *Manager) State(ctx context.Context) (*model.IndexStatus, error) {
	status := &model.IndexStatus{
		State:        model.IndexStateAbsent,
		IndexName:    m.cfg.IndexName,
		EndpointName: m.cfg.IndexEndpointName,
	}
	idx, err := m.GetIndex(ctx)
	if err != nil {
		return nil, err
	}
	ep, err := m.GetIndexEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	if ep != nil {
		status.EndpointID = ep.GetName()
		status.EndpointDomain = ep.GetPublicEndpointDomainName()
		status.DeployedIndexIDs = deployedIDs(ep)
	}
	if idx == nil {
		return status, nil
	}
	status.IndexID = idx.GetName()
	status.State = model.IndexStateIndexOnly
	if ep != nil && findDeployment(ep, idx.GetName()) != nil {
		status.State = model.IndexStateDeployed
	}
	return status, nil
}

// VectorStore binds the existing index and endpoint to the document store.
func (m *Manager) VectorStore(ctx context.Context, embedder ai.IEmbedder, opts Options) (*Store, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder is required: %w", appErr.ErrInvalid)
	}
	if m.docs == nil {
		return nil, fmt.Errorf("document store is required: %w", appErr.ErrInvalid)
	}
	idx, err := m.GetIndex(ctx)
	if err != nil {
		return nil, err
	}
	if idx == nil {
		return nil, fmt.Errorf("index %s: %w", m.cfg.IndexName, appErr.ErrNotFound)
	}
	ep, err := m.GetIndexEndpoint(ctx)
	if err != nil {
		return nil, err
	}
	if ep == nil {
		return nil, fmt.Errorf("index endpoint %s: %w", m.cfg.IndexEndpointName, appErr.ErrNotFound)
	}
	if opts.K <= 0 {
		opts.K = defaultK
	}
	s := &Store{
		index:        idx.GetName(),
		endpoint:     ep.GetName(),
		publicDomain: ep.GetPublicEndpointDomainName(),
		indexes:      m.indexes,
		matcher:      m.matcher,
		docs:         m.docs,
		embedder:     embedder,
		opts:         opts,
	}
	if d := findDeployment(ep, idx.GetName()); d != nil {
		s.deployedIndexID = d.GetId()
	}
	return s, nil
}

// Upsert replaces the content of the index with texts.
func (m *Manager) Upsert(ctx context.Context, texts []string, metadatas []map[string]interface{}, embedder ai.IEmbedder, opts Options) ([]string, error) {
	s, err := m.VectorStore(ctx, embedder, opts)
	if err != nil {
		return nil, err
	}
	ids, err := s.AddTexts(ctx, texts, metadatas, true)
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("upserted data to the index", zap.Int("count", len(ids)))
	return ids, nil
}

func (m *Manager) Retrieve(ctx context.Context, embedder ai.IEmbedder, opts Options) (*Retriever, error) {
	s, err := m.VectorStore(ctx, embedder, opts)
	if err != nil {
		return nil, err
	}
	return s.AsRetriever(), nil
}

func findDeployment(ep *aiplatformpb.IndexEndpoint, indexName string) *aiplatformpb.DeployedIndex {
	for _, d := range ep.GetDeployedIndexes() {
		if d.GetIndex() == indexName {
			return d
		}
	}
	return nil
}

func deployedIDs(ep *aiplatformpb.IndexEndpoint) []string {
	ids := make([]string, 0, len(ep.GetDeployedIndexes()))
	for _, d := range ep.GetDeployedIndexes() {
		ids = append(ids, d.GetId())
	}
	return ids
}
