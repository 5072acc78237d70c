package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docrag/internal/chunkfile"
	"github.com/xxxsen/docrag/internal/config"
	"github.com/xxxsen/docrag/internal/docstore"
	"github.com/xxxsen/docrag/internal/filestore"
	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
	"github.com/xxxsen/docrag/internal/vectorstore"
	"github.com/xxxsen/docrag/internal/vectorstore/vectorstoretest"
)

type staticChunker struct {
	chunks []*model.Chunk
	err    error
	calls  int
}

func (s *staticChunker) Chunk(ctx context.Context, docPath string) ([]*model.Chunk, error) {
	s.calls++
	return s.chunks, s.err
}

// wordEmbedder maps the first word of a text to a fixed axis.
type wordEmbedder struct{}

func (wordEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	switch {
	case len(text) >= 4 && text[:4] == "bleu":
		return []float32{1, 0}, nil
	case len(text) >= 5 && text[:5] == "rouge":
		return []float32{0, 1}, nil
	}
	return []float32{0.1, 0.1}, nil
}

func (wordEmbedder) ModelName() string {
	return "word"
}

type fixture struct {
	svc     *RAGService
	fake    *vectorstoretest.Fake
	chunker *staticChunker
	cfg     RAGServiceConfig
}

func newFixture(t *testing.T, archive filestore.Store) *fixture {
	t.Helper()
	fake := vectorstoretest.NewFake()
	manager := vectorstore.NewManager(vectorstore.Config{
		ProjectID: "p", Region: "r", IndexName: "catalog", Dimensions: 2,
	}, fake, fake, fake, docstore.NewMemory())
	chunker := &staticChunker{chunks: []*model.Chunk{
		{Body: "bleu coûte 10", Metadata: map[string]interface{}{"page": 0}},
		{Body: "rouge coûte 12", Metadata: map[string]interface{}{"page": 1}},
	}}
	cfg := RAGServiceConfig{
		SourcePath:   "catalog.pdf",
		ChunkPath:    filepath.Join(t.TempDir(), "chunks.jsonl"),
		StoreOptions: vectorstore.Options{K: 1},
	}
	return &fixture{
		svc:     NewRAGService(cfg, chunker, manager, wordEmbedder{}, nil, archive),
		fake:    fake,
		chunker: chunker,
		cfg:     cfg,
	}
}

func TestSyncThenRetrieve(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	status, err := fx.svc.Deploy(ctx)
	require.NoError(t, err)
	require.Equal(t, model.IndexStateDeployed, status.State)

	res, err := fx.svc.Sync(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, res.Chunks)

	matches, err := fx.svc.Retrieve(ctx, "rouge ?")
	require.NoError(t, err)
	require.Len(t, matches, 1)
	require.Equal(t, "rouge coûte 12", matches[0].Text)

	saved, err := chunkfile.Load(fx.cfg.ChunkPath)
	require.NoError(t, err)
	require.Len(t, saved, 2)
}

func TestSyncOverwritesPreviousContent(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	_, err := fx.svc.Deploy(ctx)
	require.NoError(t, err)
	_, err = fx.svc.Sync(ctx)
	require.NoError(t, err)

	fx.chunker.chunks = fx.chunker.chunks[:1]
	_, err = fx.svc.Sync(ctx)
	require.NoError(t, err)

	total := 0
	for _, points := range fx.fake.Points {
		total += len(points)
	}
	require.Equal(t, 1, total)
}

func TestSyncStopsOnChunkError(t *testing.T) {
	fx := newFixture(t, nil)
	fx.chunker.err = appErr.ErrPageOutOfRange
	_, err := fx.svc.Sync(context.Background())
	require.ErrorIs(t, err, appErr.ErrPageOutOfRange)
	_, statErr := os.Stat(fx.cfg.ChunkPath)
	require.True(t, errors.Is(statErr, os.ErrNotExist))
}

func TestIngestRequiresDeployedIndex(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	_, err := fx.svc.Preprocess(ctx)
	require.NoError(t, err)
	_, err = fx.svc.Ingest(ctx)
	require.ErrorIs(t, err, appErr.ErrNotFound)
}

func TestIngestRefusesEmptyChunkFile(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()
	_, err := fx.svc.Deploy(ctx)
	require.NoError(t, err)
	require.NoError(t, chunkfile.Save(nil, fx.cfg.ChunkPath))
	_, err = fx.svc.Ingest(ctx)
	require.ErrorIs(t, err, appErr.ErrInvalid)
}

func TestIngestRestoresFromArchive(t *testing.T) {
	archive, err := filestore.New(config.FileStoreConfig{Type: "local", Data: map[string]interface{}{"dir": t.TempDir()}})
	require.NoError(t, err)
	fx := newFixture(t, archive)
	ctx := context.Background()
	_, err = fx.svc.Deploy(ctx)
	require.NoError(t, err)

	n, err := fx.svc.Preprocess(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	require.NoError(t, os.Remove(fx.cfg.ChunkPath))

	n, err = fx.svc.Ingest(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, n)
	_, err = os.Stat(fx.cfg.ChunkPath)
	require.NoError(t, err)
}

func TestTeardownTargets(t *testing.T) {
	fx := newFixture(t, nil)
	ctx := context.Background()

	require.ErrorIs(t, fx.svc.Teardown(ctx, "everything"), appErr.ErrInvalid)
	require.ErrorIs(t, fx.svc.Teardown(ctx, TargetIndex), appErr.ErrNotFound)

	_, err := fx.svc.Deploy(ctx)
	require.NoError(t, err)
	require.NoError(t, fx.svc.Teardown(ctx, TargetEndpoint))
	status, err := fx.svc.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, model.IndexStateIndexOnly, status.State)

	require.NoError(t, fx.svc.Teardown(ctx, TargetIndex))
	status, err = fx.svc.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, model.IndexStateAbsent, status.State)
}

func TestRetrieveRejectsEmptyQuery(t *testing.T) {
	fx := newFixture(t, nil)
	_, err := fx.svc.Retrieve(context.Background(), "")
	require.ErrorIs(t, err, appErr.ErrInvalid)
}
