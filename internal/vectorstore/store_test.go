package vectorstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/docstore"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
	"github.com/xxxsen/docrag/internal/vectorstore/vectorstoretest"
)

func deployedManager(t *testing.T) (*Manager, *vectorstoretest.Fake) {
	t.Helper()
	f := vectorstoretest.NewFake()
	m := newTestManager(f)
	_, err := m.Deploy(context.Background())
	require.NoError(t, err)
	return m, f
}

func TestUpsertThenRetrieve(t *testing.T) {
	m, _ := deployedManager(t)
	ctx := context.Background()
	emb := newMapEmbedder(map[string][]float32{
		"a": {1, 0, 0},
		"b": {0, 1, 0},
	})

	ids, err := m.Upsert(ctx, []string{"a"}, []map[string]interface{}{{}}, emb, Options{})
	require.NoError(t, err)
	require.Len(t, ids, 1)

	r, err := m.Retrieve(ctx, emb, Options{})
	require.NoError(t, err)
	matches, err := r.Invoke(ctx, "a")
	require.NoError(t, err)
	require.NotEmpty(t, matches)
	require.Equal(t, "a", matches[0].Text)
	require.Equal(t, ids[0], matches[0].ID)
	require.Equal(t, 1, emb.calls[ai.TaskRetrievalDocument])
	require.Equal(t, 1, emb.calls[ai.TaskRetrievalQuery])
}

func TestSimilaritySearchOrdersByDotProduct(t *testing.T) {
	m, _ := deployedManager(t)
	ctx := context.Background()
	emb := newMapEmbedder(map[string][]float32{
		"blue":   {1, 0, 0},
		"navy":   {0.8, 0.2, 0},
		"red":    {0, 1, 0},
		"q:blue": {1, 0, 0},
	})
	_, err := m.Upsert(ctx, []string{"red", "navy", "blue"},
		[]map[string]interface{}{{"color": "red"}, {"color": "blue"}, {"color": "blue"}}, emb, Options{})
	require.NoError(t, err)

	s, err := m.VectorStore(ctx, emb, Options{})
	require.NoError(t, err)
	matches, err := s.SimilaritySearch(ctx, "q:blue", 2, nil)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.Equal(t, "blue", matches[0].Text)
	require.Equal(t, "navy", matches[1].Text)
	require.Equal(t, "blue", matches[0].Metadata["color"])
}

func TestRetrieverAppliesKAndFilter(t *testing.T) {
	m, _ := deployedManager(t)
	ctx := context.Background()
	emb := newMapEmbedder(map[string][]float32{
		"shirt":   {1, 0, 0},
		"sweater": {0.9, 0, 0},
		"skirt":   {0.5, 0, 0},
		"q":       {1, 0, 0},
	})
	_, err := m.Upsert(ctx, []string{"shirt", "sweater", "skirt"}, []map[string]interface{}{
		{"season": []interface{}{"summer"}},
		{"season": []interface{}{"winter", "fall"}},
		{"season": []interface{}{"summer", "spring"}},
	}, emb, Options{})
	require.NoError(t, err)

	opts, err := DecodeOptions(map[string]interface{}{
		"k":      1,
		"filter": []interface{}{map[string]interface{}{"namespace": "season", "allow_list": []interface{}{"winter"}}},
	})
	require.NoError(t, err)
	r, err := m.Retrieve(ctx, emb, opts)
	require.NoError(t, err)
	matches, err := r.Invoke(ctx, "q")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "sweater", matches[0].Text)
}

func TestAddTextsLengthMismatch(t *testing.T) {
	m, f := deployedManager(t)
	emb := newMapEmbedder(nil)
	_, err := m.Upsert(context.Background(), []string{"a", "b"}, []map[string]interface{}{{}}, emb, Options{})
	require.ErrorIs(t, err, appErr.ErrInvalid)
	require.Zero(t, emb.calls[ai.TaskRetrievalDocument])
	for _, points := range f.Points {
		require.Empty(t, points)
	}
}

func TestAddTextsOverwriteRemovesStaleDatapoints(t *testing.T) {
	m, f := deployedManager(t)
	ctx := context.Background()
	emb := newMapEmbedder(nil)

	_, err := m.Upsert(ctx, []string{"old-1", "old-2"}, []map[string]interface{}{{}, {}}, emb, Options{})
	require.NoError(t, err)
	ids, err := m.Upsert(ctx, []string{"new"}, []map[string]interface{}{{}}, emb, Options{})
	require.NoError(t, err)

	idx, err := m.GetIndex(ctx)
	require.NoError(t, err)
	points := f.Points[idx.GetName()]
	require.Len(t, points, 1)
	require.Contains(t, points, ids[0])

	stored, err := m.docs.ListIDs(ctx)
	require.NoError(t, err)
	require.Equal(t, ids, stored)
}

func TestOverwriteAcrossRunsSharingDocStore(t *testing.T) {
	ctx := context.Background()
	f := vectorstoretest.NewFake()
	docs := docstore.NewMemory()
	newRun := func() *Manager {
		return NewManager(Config{ProjectID: "p", Region: "us-central1", IndexName: "idx", Dimensions: 3}, f, f, f, docs)
	}
	emb := newMapEmbedder(nil)

	first := newRun()
	_, err := first.Deploy(ctx)
	require.NoError(t, err)
	_, err = first.Upsert(ctx, []string{"old"}, []map[string]interface{}{{}}, emb, Options{})
	require.NoError(t, err)

	second := newRun()
	ids, err := second.Upsert(ctx, []string{"new"}, []map[string]interface{}{{}}, emb, Options{})
	require.NoError(t, err)

	idx, err := second.GetIndex(ctx)
	require.NoError(t, err)
	require.Len(t, f.Points[idx.GetName()], 1)
	require.Contains(t, f.Points[idx.GetName()], ids[0])
}

func TestAddTextsWithoutOverwriteKeepsExisting(t *testing.T) {
	m, f := deployedManager(t)
	ctx := context.Background()
	emb := newMapEmbedder(nil)
	s, err := m.VectorStore(ctx, emb, Options{})
	require.NoError(t, err)

	_, err = s.AddTexts(ctx, []string{"one"}, []map[string]interface{}{{}}, false)
	require.NoError(t, err)
	_, err = s.AddTexts(ctx, []string{"two"}, []map[string]interface{}{{}}, false)
	require.NoError(t, err)
	require.Len(t, f.Points[s.index], 2)
}

func TestAddTextsSurfacesUpsertError(t *testing.T) {
	m, f := deployedManager(t)
	f.UpsertErr = errors.New("wrong dimensions")
	_, err := m.Upsert(context.Background(), []string{"a"}, []map[string]interface{}{{}}, newMapEmbedder(nil), Options{})
	require.Error(t, err)
	require.Contains(t, err.Error(), "wrong dimensions")
}

func TestAddTextsSurfacesEmbedError(t *testing.T) {
	m, _ := deployedManager(t)
	emb := newMapEmbedder(nil)
	emb.err = ai.ErrUnavailable
	_, err := m.Upsert(context.Background(), []string{"a"}, []map[string]interface{}{{}}, emb, Options{})
	require.ErrorIs(t, err, ai.ErrUnavailable)
}

func TestSimilaritySearchRequiresDeployment(t *testing.T) {
	f := vectorstoretest.NewFake()
	m := newTestManager(f)
	ctx := context.Background()
	_, err := m.CreateIndex(ctx)
	require.NoError(t, err)
	_, err = m.CreateEndpoint(ctx)
	require.NoError(t, err)

	r, err := m.Retrieve(ctx, newMapEmbedder(nil), Options{})
	require.NoError(t, err)
	_, err = r.Invoke(ctx, "a")
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestRestrictsFromMetadata(t *testing.T) {
	got := restrictsFromMetadata(map[string]interface{}{
		"source": "doc.pdf",
		"page":   3,
		"tags":   []string{"x", "y"},
	})
	require.Len(t, got, 2)
	require.Equal(t, "source", got[0].GetNamespace())
	require.Equal(t, []string{"doc.pdf"}, got[0].GetAllowList())
	require.Equal(t, "tags", got[1].GetNamespace())
	require.Equal(t, []string{"x", "y"}, got[1].GetAllowList())
}

func TestDecodeOptions(t *testing.T) {
	opts, err := DecodeOptions(nil)
	require.NoError(t, err)
	require.Equal(t, 4, opts.K)

	opts, err = DecodeOptions(map[string]interface{}{"project": "p", "namespace": "ns", "kind": "chunks", "k": 7})
	require.NoError(t, err)
	require.Equal(t, "p", opts.Project)
	require.Equal(t, "ns", opts.Namespace)
	require.Equal(t, "chunks", opts.Kind)
	require.Equal(t, 7, opts.K)

	_, err = DecodeOptions(map[string]interface{}{"k": -1})
	require.Error(t, err)
}
