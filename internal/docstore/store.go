package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/docrag/internal/model"
)

// Store keeps chunk text and metadata keyed by datapoint id. The vector index
// only holds embeddings, so every search result is resolved through a Store.
type Store interface {
	Put(ctx context.Context, docs []*model.StoredDocument) error
	// Get returns the documents found for ids in the order of ids; unknown ids
	// are skipped.
	Get(ctx context.Context, ids []string) ([]*model.StoredDocument, error)
	Delete(ctx context.Context, ids []string) error
	ListIDs(ctx context.Context) ([]string, error)
	Close() error
}

// Deps carries shared resources a backend may need.
type Deps struct {
	ProjectID string
	DB        *sql.DB
}

type Factory func(ctx context.Context, args interface{}, deps Deps) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(ctx context.Context, name string, args interface{}, deps Deps) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" {
		return nil, fmt.Errorf("doc_store.type is required")
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported doc store type: %s", name)
	}
	return factory(ctx, args, deps)
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return nil
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode doc store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode doc store config: %w", err)
	}
	return nil
}
