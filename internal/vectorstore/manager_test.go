package vectorstore

import (
	"context"
	"errors"
	"testing"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docrag/internal/docstore"
	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
	"github.com/xxxsen/docrag/internal/vectorstore/vectorstoretest"
)

const testParent = "projects/p/locations/us-central1"

func newTestManager(f *vectorstoretest.Fake) *Manager {
	return NewManager(Config{
		ProjectID:  "p",
		Region:     "us-central1",
		IndexName:  "idx",
		Dimensions: 3,
	}, f, f, f, docstore.NewMemory())
}

func TestManagerDefaultsEndpointName(t *testing.T) {
	m := newTestManager(vectorstoretest.NewFake())
	require.Equal(t, "idx_endpoint", m.cfg.IndexEndpointName)
	require.Equal(t, testParent, m.parent)
}

func TestGetIndexAbsent(t *testing.T) {
	m := newTestManager(vectorstoretest.NewFake())
	idx, err := m.GetIndex(context.Background())
	require.NoError(t, err)
	require.Nil(t, idx)
	ep, err := m.GetIndexEndpoint(context.Background())
	require.NoError(t, err)
	require.Nil(t, ep)
}

func TestGetIndexIgnoresOtherNames(t *testing.T) {
	f := vectorstoretest.NewFake()
	f.AddIndex(testParent, "other")
	want := f.AddIndex(testParent, "idx")
	idx, err := newTestManager(f).GetIndex(context.Background())
	require.NoError(t, err)
	require.Equal(t, want.Name, idx.GetName())
}

func TestGetIndexAmbiguous(t *testing.T) {
	f := vectorstoretest.NewFake()
	f.AddIndex(testParent, "idx")
	f.AddIndex(testParent, "idx")
	_, err := newTestManager(f).GetIndex(context.Background())
	require.ErrorIs(t, err, appErr.ErrAmbiguous)

	f.AddEndpoint(testParent, "idx_endpoint")
	f.AddEndpoint(testParent, "idx_endpoint")
	_, err = newTestManager(f).GetIndexEndpoint(context.Background())
	require.ErrorIs(t, err, appErr.ErrAmbiguous)
}

func TestCreateIndexIsIdempotent(t *testing.T) {
	f := vectorstoretest.NewFake()
	m := newTestManager(f)
	ctx := context.Background()

	first, err := m.CreateIndex(ctx)
	require.NoError(t, err)
	second, err := m.CreateIndex(ctx)
	require.NoError(t, err)
	require.Equal(t, first.GetName(), second.GetName())
	require.Equal(t, 1, f.CreateIndexCalls)
	require.Len(t, f.Indexes, 1)

	require.Equal(t, aiplatformpb.Index_STREAM_UPDATE, first.GetIndexUpdateMethod())
	cfg := first.GetMetadata().GetStructValue().GetFields()["config"].GetStructValue().GetFields()
	require.Equal(t, float64(3), cfg["dimensions"].GetNumberValue())
	require.Equal(t, float64(150), cfg["approximateNeighborsCount"].GetNumberValue())
	require.Equal(t, "DOT_PRODUCT_DISTANCE", cfg["distanceMeasureType"].GetStringValue())
}

func TestCreateEndpointIsPublicAndIdempotent(t *testing.T) {
	f := vectorstoretest.NewFake()
	m := newTestManager(f)
	ep, err := m.CreateEndpoint(context.Background())
	require.NoError(t, err)
	require.True(t, ep.GetPublicEndpointEnabled())
	require.Equal(t, "idx_endpoint", ep.GetDisplayName())
	again, err := m.CreateEndpoint(context.Background())
	require.NoError(t, err)
	require.Equal(t, ep.GetName(), again.GetName())
	require.Len(t, f.Endpoints, 1)
}

func TestDeployBindsIndexUnderEndpointName(t *testing.T) {
	f := vectorstoretest.NewFake()
	m := newTestManager(f)
	ctx := context.Background()

	ep, err := m.Deploy(ctx)
	require.NoError(t, err)
	require.Len(t, ep.GetDeployedIndexes(), 1)
	require.Equal(t, "idx_endpoint", ep.GetDeployedIndexes()[0].GetId())

	_, err = m.Deploy(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, f.DeployCalls)

	status, err := m.State(ctx)
	require.NoError(t, err)
	require.Equal(t, model.IndexStateDeployed, status.State)
	require.Equal(t, []string{"idx_endpoint"}, status.DeployedIndexIDs)
}

func TestStateTransitions(t *testing.T) {
	f := vectorstoretest.NewFake()
	m := newTestManager(f)
	ctx := context.Background()

	status, err := m.State(ctx)
	require.NoError(t, err)
	require.Equal(t, model.IndexStateAbsent, status.State)

	_, err = m.CreateIndex(ctx)
	require.NoError(t, err)
	status, err = m.State(ctx)
	require.NoError(t, err)
	require.Equal(t, model.IndexStateIndexOnly, status.State)

	_, err = m.CreateEndpoint(ctx)
	require.NoError(t, err)
	status, err = m.State(ctx)
	require.NoError(t, err)
	require.Equal(t, model.IndexStateIndexOnly, status.State)
	require.NotEmpty(t, status.EndpointDomain)
}

func TestDeleteIndexNotFound(t *testing.T) {
	err := newTestManager(vectorstoretest.NewFake()).DeleteIndex(context.Background())
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.True(t, appErr.IsNotFound(err))
}

func TestDeleteIndexEndpointNotFound(t *testing.T) {
	err := newTestManager(vectorstoretest.NewFake()).DeleteIndexEndpoint(context.Background())
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestDeleteIndexEndpointUndeploysEverything(t *testing.T) {
	f := vectorstoretest.NewFake()
	m := newTestManager(f)
	ctx := context.Background()
	ep, err := m.Deploy(ctx)
	require.NoError(t, err)
	other := f.AddIndex(testParent, "other")
	_, err = f.DeployIndex(ctx, ep.GetName(), &aiplatformpb.DeployedIndex{Id: "other_deployment", Index: other.Name})
	require.NoError(t, err)

	require.NoError(t, m.DeleteIndexEndpoint(ctx))
	require.Equal(t, []string{"idx_endpoint", "other_deployment"}, f.Undeployed)
	require.Empty(t, f.Endpoints)
}

func TestDeleteIndexEndpointStopsOnFirstFailure(t *testing.T) {
	f := vectorstoretest.NewFake()
	m := newTestManager(f)
	ctx := context.Background()
	ep, err := m.Deploy(ctx)
	require.NoError(t, err)
	other := f.AddIndex(testParent, "other")
	_, err = f.DeployIndex(ctx, ep.GetName(), &aiplatformpb.DeployedIndex{Id: "other_deployment", Index: other.Name})
	require.NoError(t, err)
	f.FailUndeploy["other_deployment"] = errors.New("quota")

	err = m.DeleteIndexEndpoint(ctx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "quota")
	require.Equal(t, []string{"idx_endpoint"}, f.Undeployed)

	left, err := m.GetIndexEndpoint(ctx)
	require.NoError(t, err)
	require.NotNil(t, left)
	require.Len(t, left.GetDeployedIndexes(), 1)
	require.Equal(t, "other_deployment", left.GetDeployedIndexes()[0].GetId())
}

func TestDeleteAll(t *testing.T) {
	f := vectorstoretest.NewFake()
	m := newTestManager(f)
	ctx := context.Background()
	_, err := m.Deploy(ctx)
	require.NoError(t, err)

	require.NoError(t, m.DeleteAll(ctx))
	status, err := m.State(ctx)
	require.NoError(t, err)
	require.Equal(t, model.IndexStateAbsent, status.State)
	require.Empty(t, status.EndpointID)
}

func TestDeleteAllAbortsWithoutEndpoint(t *testing.T) {
	f := vectorstoretest.NewFake()
	m := newTestManager(f)
	_, err := m.CreateIndex(context.Background())
	require.NoError(t, err)

	err = m.DeleteAll(context.Background())
	require.ErrorIs(t, err, appErr.ErrNotFound)
	require.Len(t, f.Indexes, 1)
}

func TestVectorStoreRequiresIndexAndEndpoint(t *testing.T) {
	f := vectorstoretest.NewFake()
	m := newTestManager(f)
	ctx := context.Background()
	emb := newMapEmbedder(nil)

	_, err := m.VectorStore(ctx, emb, Options{})
	require.ErrorIs(t, err, appErr.ErrNotFound)

	_, err = m.CreateIndex(ctx)
	require.NoError(t, err)
	_, err = m.VectorStore(ctx, emb, Options{})
	require.ErrorIs(t, err, appErr.ErrNotFound)

	_, err = m.CreateEndpoint(ctx)
	require.NoError(t, err)
	s, err := m.VectorStore(ctx, emb, Options{})
	require.NoError(t, err)
	require.Empty(t, s.deployedIndexID)
	require.Equal(t, defaultK, s.opts.K)
}
