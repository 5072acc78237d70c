package docstore

import (
	"context"
	"sort"
	"sync"

	"github.com/xxxsen/docrag/internal/model"
)

type memoryStore struct {
	mu   sync.RWMutex
	docs map[string]*model.StoredDocument
}

// NewMemory returns a process-local store. Its content is lost on exit, so
// it is not offered as a doc_store type: a complete overwrite could no longer
// see the ids written by an earlier run.
func NewMemory() Store {
	return &memoryStore{docs: make(map[string]*model.StoredDocument)}
}

func (s *memoryStore) Put(ctx context.Context, docs []*model.StoredDocument) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, d := range docs {
		cp := *d
		s.docs[d.ID] = &cp
	}
	return nil
}

func (s *memoryStore) Get(ctx context.Context, ids []string) ([]*model.StoredDocument, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*model.StoredDocument, 0, len(ids))
	for _, id := range ids {
		if d, ok := s.docs[id]; ok {
			cp := *d
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryStore) Delete(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range ids {
		delete(s.docs, id)
	}
	return nil
}

func (s *memoryStore) ListIDs(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := make([]string, 0, len(s.docs))
	for id := range s.docs {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

func (s *memoryStore) Close() error {
	return nil
}
