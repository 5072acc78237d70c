package aicache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/model"
)

type countingEmbedder struct {
	calls int
	err   error
}

func (c *countingEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	c.calls++
	if c.err != nil {
		return nil, c.err
	}
	return []float32{float32(len(text)), 1}, nil
}

func (c *countingEmbedder) ModelName() string {
	return "text-embedding-004"
}

type countingTranscriber struct {
	calls int
	err   error
}

func (c *countingTranscriber) Transcribe(ctx context.Context, table string) (string, error) {
	c.calls++
	if c.err != nil {
		return "", c.err
	}
	return "prose of " + table, nil
}

type memoryRepo struct {
	items   map[string]*model.EmbeddingCache
	saveErr error
}

func (m *memoryRepo) Get(ctx context.Context, modelName, taskType, contentHash string) ([]float32, bool, error) {
	item, ok := m.items[modelName+"|"+taskType+"|"+contentHash]
	if !ok {
		return nil, false, nil
	}
	return item.Embedding, true, nil
}

func (m *memoryRepo) Save(ctx context.Context, item *model.EmbeddingCache) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.items[item.ModelName+"|"+item.TaskType+"|"+item.ContentHash] = item
	return nil
}

func TestLruEmbedderCachesPerTaskType(t *testing.T) {
	next := &countingEmbedder{}
	e := WrapLruCacheToEmbedder(next, 10, time.Minute)
	ctx := context.Background()

	first, err := e.Embed(ctx, "bleu", ai.TaskRetrievalQuery)
	require.NoError(t, err)
	first[0] = 99
	second, err := e.Embed(ctx, "bleu", ai.TaskRetrievalQuery)
	require.NoError(t, err)
	require.Equal(t, float32(4), second[0])
	require.Equal(t, 1, next.calls)

	_, err = e.Embed(ctx, "bleu", ai.TaskRetrievalDocument)
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
	require.Equal(t, "text-embedding-004", e.ModelName())
}

func TestLruEmbedderDisabled(t *testing.T) {
	next := &countingEmbedder{}
	require.Same(t, next, WrapLruCacheToEmbedder(next, 0, time.Minute))
	require.Same(t, next, WrapLruCacheToEmbedder(next, 10, 0))
}

func TestDBEmbedderStoresAndReuses(t *testing.T) {
	next := &countingEmbedder{}
	repo := &memoryRepo{items: map[string]*model.EmbeddingCache{}}
	e := WrapDBCacheToEmbedder(next, repo)
	ctx := context.Background()

	_, err := e.Embed(ctx, "chunk", ai.TaskRetrievalDocument)
	require.NoError(t, err)
	vec, err := e.Embed(ctx, "chunk", ai.TaskRetrievalDocument)
	require.NoError(t, err)
	require.Equal(t, []float32{5, 1}, vec)
	require.Equal(t, 1, next.calls)
	require.Len(t, repo.items, 1)
	for _, item := range repo.items {
		require.Equal(t, 2, item.Dimensions)
		require.Equal(t, "text-embedding-004", item.ModelName)
	}
}

func TestDBEmbedderIgnoresSaveFailure(t *testing.T) {
	next := &countingEmbedder{}
	repo := &memoryRepo{items: map[string]*model.EmbeddingCache{}, saveErr: errors.New("disk full")}
	vec, err := WrapDBCacheToEmbedder(next, repo).Embed(context.Background(), "x", ai.TaskRetrievalDocument)
	require.NoError(t, err)
	require.Len(t, vec, 2)
}

func TestDBEmbedderPropagatesModelError(t *testing.T) {
	next := &countingEmbedder{err: ai.ErrUnavailable}
	repo := &memoryRepo{items: map[string]*model.EmbeddingCache{}}
	_, err := WrapDBCacheToEmbedder(next, repo).Embed(context.Background(), "x", ai.TaskRetrievalDocument)
	require.ErrorIs(t, err, ai.ErrUnavailable)
	require.Empty(t, repo.items)
}

func TestLruTranscriberNormalizesWhitespace(t *testing.T) {
	next := &countingTranscriber{}
	tr := WrapLruCacheToTranscriber(next, 10, 0)
	ctx := context.Background()

	first, err := tr.Transcribe(ctx, "Couleur | Prix\nBleu | 10")
	require.NoError(t, err)
	second, err := tr.Transcribe(ctx, "Couleur  | Prix\n Bleu | 10 ")
	require.NoError(t, err)
	require.Equal(t, first, second)
	require.Equal(t, 1, next.calls)

	_, err = tr.Transcribe(ctx, "Rouge | 12")
	require.NoError(t, err)
	require.Equal(t, 2, next.calls)
}

func TestLruTranscriberDoesNotCacheErrors(t *testing.T) {
	next := &countingTranscriber{err: errors.New("boom")}
	tr := WrapLruCacheToTranscriber(next, 10, time.Minute)
	_, err := tr.Transcribe(context.Background(), "t")
	require.Error(t, err)
	next.err = nil
	out, err := tr.Transcribe(context.Background(), "t")
	require.NoError(t, err)
	require.Equal(t, "prose of t", out)
	require.Equal(t, 2, next.calls)
}

func TestLruTranscriberDisabled(t *testing.T) {
	next := &countingTranscriber{}
	require.Same(t, next, WrapLruCacheToTranscriber(next, 0, time.Minute))
}
