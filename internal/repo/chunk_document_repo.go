package repo

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/didi/gendry/builder"

	"github.com/xxxsen/docrag/internal/model"
	"github.com/xxxsen/docrag/internal/pkg/dbutil"
)

const chunkDocumentTable = "chunk_documents"

var chunkDocumentFields = []string{"id", "text", "metadata", "ctime"}

type ChunkDocumentRepo struct {
	db *sql.DB
}

func NewChunkDocumentRepo(db *sql.DB) *ChunkDocumentRepo {
	return &ChunkDocumentRepo{db: db}
}

func (r *ChunkDocumentRepo) Upsert(ctx context.Context, docs []*model.StoredDocument) error {
	if len(docs) == 0 {
		return nil
	}
	rows := make([]map[string]interface{}, 0, len(docs))
	for _, d := range docs {
		meta := d.Metadata
		if meta == nil {
			meta = map[string]interface{}{}
		}
		blob, err := json.Marshal(meta)
		if err != nil {
			return fmt.Errorf("encode metadata of %s: %w", d.ID, err)
		}
		rows = append(rows, map[string]interface{}{
			"id":       d.ID,
			"text":     d.Text,
			"metadata": string(blob),
			"ctime":    d.Ctime,
		})
	}
	sqlStr, args, err := builder.BuildInsert(chunkDocumentTable, rows)
	if err != nil {
		return err
	}
	sqlStr += " ON CONFLICT (id) DO UPDATE SET text = EXCLUDED.text, metadata = EXCLUDED.metadata, ctime = EXCLUDED.ctime"
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func (r *ChunkDocumentRepo) ListByIDs(ctx context.Context, ids []string) ([]*model.StoredDocument, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	where := map[string]interface{}{"id in": toInterfaces(ids)}
	sqlStr, args, err := builder.BuildSelect(chunkDocumentTable, where, chunkDocumentFields)
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	docs := make([]*model.StoredDocument, 0, len(ids))
	for rows.Next() {
		doc := &model.StoredDocument{}
		var blob []byte
		if err := rows.Scan(&doc.ID, &doc.Text, &blob, &doc.Ctime); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(blob, &doc.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata of %s: %w", doc.ID, err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

func (r *ChunkDocumentRepo) ListIDs(ctx context.Context) ([]string, error) {
	where := map[string]interface{}{"_orderby": "id asc"}
	sqlStr, args, err := builder.BuildSelect(chunkDocumentTable, where, []string{"id"})
	if err != nil {
		return nil, err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	rows, err := r.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	ids := make([]string, 0)
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *ChunkDocumentRepo) DeleteByIDs(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	where := map[string]interface{}{"id in": toInterfaces(ids)}
	sqlStr, args, err := builder.BuildDelete(chunkDocumentTable, where)
	if err != nil {
		return err
	}
	sqlStr, args = dbutil.Finalize(sqlStr, args)
	_, err = r.db.ExecContext(ctx, sqlStr, args...)
	return err
}

func toInterfaces(items []string) []interface{} {
	out := make([]interface{}, 0, len(items))
	for _, item := range items {
		out = append(out, item)
	}
	return out
}
