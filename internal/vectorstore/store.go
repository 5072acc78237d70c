package vectorstore

import (
	"context"
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/aiplatform/apiv1/aiplatformpb"
	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/docstore"
	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
)

const (
	upsertBatchSize = 100
	removeBatchSize = 1000
)

// Store is a vector store handle bound to one index, its endpoint and the
// document store holding chunk text.
type Store struct {
	index           string
	endpoint        string
	deployedIndexID string
	publicDomain    string
	indexes         IndexAPI
	matcher         MatchAPI
	docs            docstore.Store
	embedder        ai.IEmbedder
	opts            Options
}

// AddTexts embeds texts, stores them and streams the vectors into the index.
// With completeOverwrite every datapoint from an earlier run is removed, so
// that afterwards the index holds exactly texts. Returns the new ids.
func (s *Store) AddTexts(ctx context.Context, texts []string, metadatas []map[string]interface{}, completeOverwrite bool) ([]string, error) {
	if len(texts) != len(metadatas) {
		return nil, fmt.Errorf("%d texts but %d metadatas: %w", len(texts), len(metadatas), appErr.ErrInvalid)
	}
	logger := logutil.GetLogger(ctx).With(zap.String("index", s.index))

	var previous []string
	if completeOverwrite {
		ids, err := s.docs.ListIDs(ctx)
		if err != nil {
			return nil, fmt.Errorf("list stored documents: %w", err)
		}
		previous = ids
	}

	now := time.Now().Unix()
	ids := make([]string, 0, len(texts))
	docs := make([]*model.StoredDocument, 0, len(texts))
	datapoints := make([]*aiplatformpb.IndexDatapoint, 0, len(texts))
	for i, text := range texts {
		vec, err := s.embedder.Embed(ctx, text, ai.TaskRetrievalDocument)
		if err != nil {
			return nil, fmt.Errorf("embed text %d: %w", i, err)
		}
		id := uuid.NewString()
		ids = append(ids, id)
		docs = append(docs, &model.StoredDocument{ID: id, Text: text, Metadata: metadatas[i], Ctime: now})
		datapoints = append(datapoints, &aiplatformpb.IndexDatapoint{
			DatapointId:   id,
			FeatureVector: vec,
			Restricts:     restrictsFromMetadata(metadatas[i]),
		})
	}

	if err := s.docs.Put(ctx, docs); err != nil {
		return nil, fmt.Errorf("store documents: %w", err)
	}
	for start := 0; start < len(datapoints); start += upsertBatchSize {
		end := min(start+upsertBatchSize, len(datapoints))
		if err := s.indexes.UpsertDatapoints(ctx, s.index, datapoints[start:end]); err != nil {
			return nil, fmt.Errorf("upsert datapoints: %w", err)
		}
		logger.Debug("datapoints upserted", zap.Int("from", start), zap.Int("to", end))
	}

	if completeOverwrite {
		stale := difference(previous, ids)
		if err := s.remove(ctx, stale); err != nil {
			return nil, err
		}
		logger.Info("stale datapoints removed", zap.Int("count", len(stale)))
	}
	return ids, nil
}

func (s *Store) remove(ctx context.Context, ids []string) error {
	for start := 0; start < len(ids); start += removeBatchSize {
		end := min(start+removeBatchSize, len(ids))
		if err := s.indexes.RemoveDatapoints(ctx, s.index, ids[start:end]); err != nil {
			return fmt.Errorf("remove datapoints: %w", err)
		}
	}
	if len(ids) == 0 {
		return nil
	}
	if err := s.docs.Delete(ctx, ids); err != nil {
		return fmt.Errorf("delete stored documents: %w", err)
	}
	return nil
}

// SimilaritySearch returns up to k documents closest to query, most similar
// first.
func (s *Store) SimilaritySearch(ctx context.Context, query string, k int, filter []Namespace) ([]*model.Match, error) {
	if s.deployedIndexID == "" {
		return nil, fmt.Errorf("index %s is not deployed: %w", s.index, appErr.ErrNotFound)
	}
	if k <= 0 {
		k = defaultK
	}
	vec, err := s.embedder.Embed(ctx, query, ai.TaskRetrievalQuery)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	resp, err := s.matcher.FindNeighbors(ctx, s.publicDomain, &aiplatformpb.FindNeighborsRequest{
		IndexEndpoint:   s.endpoint,
		DeployedIndexId: s.deployedIndexID,
		Queries: []*aiplatformpb.FindNeighborsRequest_Query{{
			Datapoint: &aiplatformpb.IndexDatapoint{
				DatapointId:   "query",
				FeatureVector: vec,
				Restricts:     restrictsFromFilter(filter),
			},
			NeighborCount: int32(k),
		}},
	})
	if err != nil {
		return nil, fmt.Errorf("find neighbors: %w", err)
	}
	var neighbors []*aiplatformpb.FindNeighborsResponse_Neighbor
	for _, nn := range resp.GetNearestNeighbors() {
		neighbors = append(neighbors, nn.GetNeighbors()...)
	}
	ids := make([]string, 0, len(neighbors))
	for _, n := range neighbors {
		ids = append(ids, n.GetDatapoint().GetDatapointId())
	}
	docs, err := s.docs.Get(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("load documents: %w", err)
	}
	byID := make(map[string]*model.StoredDocument, len(docs))
	for _, d := range docs {
		byID[d.ID] = d
	}
	matches := make([]*model.Match, 0, len(neighbors))
	for _, n := range neighbors {
		id := n.GetDatapoint().GetDatapointId()
		doc, ok := byID[id]
		if !ok {
			logutil.GetLogger(ctx).Warn("neighbor has no stored document", zap.String("id", id))
			continue
		}
		matches = append(matches, &model.Match{ID: id, Text: doc.Text, Metadata: doc.Metadata, Distance: n.GetDistance()})
	}
	return matches, nil
}

func (s *Store) AsRetriever() *Retriever {
	return &Retriever{store: s, k: s.opts.K, filter: s.opts.Filter}
}

type Retriever struct {
	store  *Store
	k      int
	filter []Namespace
}

func (r *Retriever) Invoke(ctx context.Context, query string) ([]*model.Match, error) {
	return r.store.SimilaritySearch(ctx, query, r.k, r.filter)
}

// restrictsFromMetadata exposes string metadata (and lists of strings) as
// token restricts so queries can filter on them.
func restrictsFromMetadata(meta map[string]interface{}) []*aiplatformpb.IndexDatapoint_Restriction {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var out []*aiplatformpb.IndexDatapoint_Restriction
	for _, k := range keys {
		var allow []string
		switch v := meta[k].(type) {
		case string:
			allow = []string{v}
		case []string:
			allow = v
		case []interface{}:
			for _, item := range v {
				if s, ok := item.(string); ok {
					allow = append(allow, s)
				}
			}
		}
		if len(allow) == 0 {
			continue
		}
		out = append(out, &aiplatformpb.IndexDatapoint_Restriction{Namespace: k, AllowList: allow})
	}
	return out
}

func restrictsFromFilter(filter []Namespace) []*aiplatformpb.IndexDatapoint_Restriction {
	if len(filter) == 0 {
		return nil
	}
	out := make([]*aiplatformpb.IndexDatapoint_Restriction, 0, len(filter))
	for _, f := range filter {
		out = append(out, &aiplatformpb.IndexDatapoint_Restriction{
			Namespace: f.Namespace,
			AllowList: f.AllowList,
			DenyList:  f.DenyList,
		})
	}
	return out
}

func difference(all, keep []string) []string {
	kept := make(map[string]struct{}, len(keep))
	for _, id := range keep {
		kept[id] = struct{}{}
	}
	var out []string
	for _, id := range all {
		if _, ok := kept[id]; !ok {
			out = append(out, id)
		}
	}
	return out
}
