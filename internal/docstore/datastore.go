package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"cloud.google.com/go/datastore"

	"github.com/xxxsen/docrag/internal/model"
)

const (
	defaultKind = "document_id"
	// Cloud Datastore rejects batches of more than 500 entities.
	datastoreBatch = 500
)

type datastoreConfig struct {
	Project   string `json:"project"`
	Database  string `json:"database"`
	Namespace string `json:"namespace"`
	Kind      string `json:"kind"`
}

type datastoreEntity struct {
	Text     string `datastore:"text,noindex"`
	Metadata string `datastore:"metadata,noindex"`
	Ctime    int64  `datastore:"ctime"`
}

type datastoreStore struct {
	client    *datastore.Client
	namespace string
	kind      string
}

func init() {
	Register("datastore", createDatastoreStore)
}

func createDatastoreStore(ctx context.Context, args interface{}, deps Deps) (Store, error) {
	cfg := &datastoreConfig{}
	if err := decodeConfig(args, cfg); err != nil {
		return nil, err
	}
	if cfg.Project == "" {
		cfg.Project = deps.ProjectID
	}
	if cfg.Project == "" {
		return nil, fmt.Errorf("datastore project is required")
	}
	if cfg.Kind == "" {
		cfg.Kind = defaultKind
	}
	client, err := datastore.NewClientWithDatabase(ctx, cfg.Project, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("create datastore client: %w", err)
	}
	return &datastoreStore{client: client, namespace: cfg.Namespace, kind: cfg.Kind}, nil
}

func (s *datastoreStore) key(id string) *datastore.Key {
	k := datastore.NameKey(s.kind, id, nil)
	k.Namespace = s.namespace
	return k
}

func (s *datastoreStore) keys(ids []string) []*datastore.Key {
	keys := make([]*datastore.Key, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, s.key(id))
	}
	return keys
}

func (s *datastoreStore) Put(ctx context.Context, docs []*model.StoredDocument) error {
	for start := 0; start < len(docs); start += datastoreBatch {
		end := min(start+datastoreBatch, len(docs))
		batch := docs[start:end]
		keys := make([]*datastore.Key, 0, len(batch))
		entities := make([]*datastoreEntity, 0, len(batch))
		for _, d := range batch {
			meta, err := json.Marshal(d.Metadata)
			if err != nil {
				return fmt.Errorf("encode metadata of %s: %w", d.ID, err)
			}
			keys = append(keys, s.key(d.ID))
			entities = append(entities, &datastoreEntity{Text: d.Text, Metadata: string(meta), Ctime: d.Ctime})
		}
		if _, err := s.client.PutMulti(ctx, keys, entities); err != nil {
			return fmt.Errorf("put documents: %w", err)
		}
	}
	return nil
}

func (s *datastoreStore) Get(ctx context.Context, ids []string) ([]*model.StoredDocument, error) {
	out := make([]*model.StoredDocument, 0, len(ids))
	for start := 0; start < len(ids); start += datastoreBatch {
		end := min(start+datastoreBatch, len(ids))
		batch := ids[start:end]
		entities := make([]datastoreEntity, len(batch))
		err := s.client.GetMulti(ctx, s.keys(batch), entities)
		var multi datastore.MultiError
		if err != nil && !errors.As(err, &multi) {
			return nil, fmt.Errorf("get documents: %w", err)
		}
		for i, id := range batch {
			if multi != nil && multi[i] != nil {
				if errors.Is(multi[i], datastore.ErrNoSuchEntity) {
					continue
				}
				return nil, fmt.Errorf("get document %s: %w", id, multi[i])
			}
			doc := &model.StoredDocument{ID: id, Text: entities[i].Text, Ctime: entities[i].Ctime}
			if entities[i].Metadata != "" {
				if err := json.Unmarshal([]byte(entities[i].Metadata), &doc.Metadata); err != nil {
					return nil, fmt.Errorf("decode metadata of %s: %w", id, err)
				}
			}
			out = append(out, doc)
		}
	}
	return out, nil
}

func (s *datastoreStore) Delete(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += datastoreBatch {
		end := min(start+datastoreBatch, len(ids))
		if err := s.client.DeleteMulti(ctx, s.keys(ids[start:end])); err != nil {
			return fmt.Errorf("delete documents: %w", err)
		}
	}
	return nil
}

func (s *datastoreStore) ListIDs(ctx context.Context) ([]string, error) {
	q := datastore.NewQuery(s.kind).Namespace(s.namespace).KeysOnly()
	keys, err := s.client.GetAll(ctx, q, nil)
	if err != nil {
		return nil, fmt.Errorf("list document keys: %w", err)
	}
	ids := make([]string, 0, len(keys))
	for _, k := range keys {
		ids = append(ids, k.Name)
	}
	return ids, nil
}

func (s *datastoreStore) Close() error {
	return s.client.Close()
}
