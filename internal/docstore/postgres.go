package docstore

import (
	"context"
	"fmt"

	"github.com/xxxsen/docrag/internal/model"
	"github.com/xxxsen/docrag/internal/repo"
)

type postgresStore struct {
	repo *repo.ChunkDocumentRepo
}

func init() {
	Register("postgres", func(ctx context.Context, args interface{}, deps Deps) (Store, error) {
		if deps.DB == nil {
			return nil, fmt.Errorf("postgres doc store requires a database")
		}
		return NewPostgres(repo.NewChunkDocumentRepo(deps.DB)), nil
	})
}

func NewPostgres(r *repo.ChunkDocumentRepo) Store {
	return &postgresStore{repo: r}
}

func (s *postgresStore) Put(ctx context.Context, docs []*model.StoredDocument) error {
	return s.repo.Upsert(ctx, docs)
}

func (s *postgresStore) Get(ctx context.Context, ids []string) ([]*model.StoredDocument, error) {
	found, err := s.repo.ListByIDs(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*model.StoredDocument, len(found))
	for _, d := range found {
		byID[d.ID] = d
	}
	out := make([]*model.StoredDocument, 0, len(ids))
	for _, id := range ids {
		if d, ok := byID[id]; ok {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *postgresStore) Delete(ctx context.Context, ids []string) error {
	return s.repo.DeleteByIDs(ctx, ids)
}

func (s *postgresStore) ListIDs(ctx context.Context) ([]string, error) {
	return s.repo.ListIDs(ctx)
}

// Close is a no-op; the database handle belongs to the caller.
func (s *postgresStore) Close() error {
	return nil
}
