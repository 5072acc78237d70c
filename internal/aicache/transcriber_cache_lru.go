package aicache

import (
	"context"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/ai"
)

// WrapLruCacheToTranscriber remembers transcriptions by table content, so a
// table repeated across pages or re-chunked within ttl costs one model call.
// A zero ttl keeps entries until they are evicted by size.
func WrapLruCacheToTranscriber(t ai.ITranscriber, size int, ttl time.Duration) ai.ITranscriber {
	if t == nil || size <= 0 {
		return t
	}
	return &lruTranscriber{
		next:  t,
		cache: expirable.NewLRU[string, string](size, nil, ttl),
	}
}

type lruTranscriber struct {
	next  ai.ITranscriber
	cache *expirable.LRU[string, string]
}

func (l *lruTranscriber) Transcribe(ctx context.Context, table string) (string, error) {
	key := tableKey(table)
	if cached, ok := l.cache.Get(key); ok {
		logutil.GetLogger(ctx).Debug("transcription cache hit", zap.Int("table_len", len(table)))
		return cached, nil
	}
	res, err := l.next.Transcribe(ctx, table)
	if err != nil {
		return "", err
	}
	l.cache.Add(key, res)
	return res, nil
}
