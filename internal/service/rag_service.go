package service

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/chunkfile"
	"github.com/xxxsen/docrag/internal/filestore"
	"github.com/xxxsen/docrag/internal/model"
	appErr "github.com/xxxsen/docrag/internal/pkg/errors"
	"github.com/xxxsen/docrag/internal/vectorstore"
)

const (
	TargetEndpoint = "endpoint"
	TargetIndex    = "index"
	TargetAll      = "all"
)

type DocumentChunker interface {
	Chunk(ctx context.Context, docPath string) ([]*model.Chunk, error)
}

type RAGServiceConfig struct {
	// SourcePath is the PDF to chunk, ChunkPath the chunk file it produces.
	SourcePath   string
	ChunkPath    string
	StoreOptions vectorstore.Options
}

type SyncResult struct {
	Chunks int `json:"chunks"`
}

// RAGService chains the pipeline steps: chunk a document, persist the
// chunks, push them to the vector index and answer retrieval queries.
type RAGService struct {
	cfg           RAGServiceConfig
	chunker       DocumentChunker
	manager       *vectorstore.Manager
	docEmbedder   ai.IEmbedder
	queryEmbedder ai.IEmbedder
	archive       filestore.Store

	pipelineMu sync.Mutex

	retrieverMu sync.Mutex
	retriever   *vectorstore.Retriever
}

// NewRAGService wires the pipeline. queryEmbedder falls back to docEmbedder
// and archive may be nil.
func NewRAGService(cfg RAGServiceConfig, chunker DocumentChunker, manager *vectorstore.Manager,
	docEmbedder, queryEmbedder ai.IEmbedder, archive filestore.Store) *RAGService {
	if queryEmbedder == nil {
		queryEmbedder = docEmbedder
	}
	return &RAGService{
		cfg:           cfg,
		chunker:       chunker,
		manager:       manager,
		docEmbedder:   docEmbedder,
		queryEmbedder: queryEmbedder,
		archive:       archive,
	}
}

// Preprocess chunks the source document and writes the chunk file.
func (s *RAGService) Preprocess(ctx context.Context) (int, error) {
	s.pipelineMu.Lock()
	defer s.pipelineMu.Unlock()
	return s.preprocess(ctx)
}

func (s *RAGService) preprocess(ctx context.Context) (int, error) {
	if s.chunker == nil {
		return 0, fmt.Errorf("chunker is not configured: %w", appErr.ErrInvalid)
	}
	if s.cfg.SourcePath == "" {
		return 0, fmt.Errorf("data.source is required: %w", appErr.ErrInvalid)
	}
	logger := logutil.GetLogger(ctx).With(zap.String("source", s.cfg.SourcePath), zap.String("chunk_file", s.cfg.ChunkPath))
	chunks, err := s.chunker.Chunk(ctx, s.cfg.SourcePath)
	if err != nil {
		return 0, fmt.Errorf("chunk document: %w", err)
	}
	if err := chunkfile.Save(chunks, s.cfg.ChunkPath); err != nil {
		return 0, fmt.Errorf("save chunks: %w", err)
	}
	logger.Info("chunks saved", zap.Int("count", len(chunks)))
	if s.archive != nil {
		if err := s.archiveChunkFile(ctx); err != nil {
			return 0, err
		}
		logger.Info("chunk file archived")
	}
	return len(chunks), nil
}

func (s *RAGService) archiveChunkFile(ctx context.Context) error {
	f, err := os.Open(s.cfg.ChunkPath)
	if err != nil {
		return fmt.Errorf("open chunk file: %w", err)
	}
	defer f.Close()
	st, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat chunk file: %w", err)
	}
	if err := s.archive.Save(ctx, filepath.Base(s.cfg.ChunkPath), f, st.Size()); err != nil {
		return fmt.Errorf("archive chunk file: %w", err)
	}
	return nil
}

// Deploy creates the index and endpoint when missing and binds them.
func (s *RAGService) Deploy(ctx context.Context) (*model.IndexStatus, error) {
	if _, err := s.manager.Deploy(ctx); err != nil {
		return nil, err
	}
	s.resetRetriever()
	return s.manager.State(ctx)
}

// Ingest replaces the index content with the chunks of the chunk file.
func (s *RAGService) Ingest(ctx context.Context) (int, error) {
	s.pipelineMu.Lock()
	defer s.pipelineMu.Unlock()
	return s.ingest(ctx)
}

func (s *RAGService) ingest(ctx context.Context) (int, error) {
	chunks, err := s.loadChunks(ctx)
	if err != nil {
		return 0, err
	}
	if len(chunks) == 0 {
		return 0, fmt.Errorf("chunk file %s is empty: %w", s.cfg.ChunkPath, appErr.ErrInvalid)
	}
	texts, metadatas := chunkfile.Split(chunks)
	ids, err := s.manager.Upsert(ctx, texts, metadatas, s.docEmbedder, s.cfg.StoreOptions)
	if err != nil {
		return 0, fmt.Errorf("upsert chunks: %w", err)
	}
	s.resetRetriever()
	return len(ids), nil
}

func (s *RAGService) loadChunks(ctx context.Context) ([]*model.Chunk, error) {
	chunks, err := chunkfile.Load(s.cfg.ChunkPath)
	if err == nil {
		return chunks, nil
	}
	if !errors.Is(err, fs.ErrNotExist) || s.archive == nil {
		return nil, fmt.Errorf("load chunks: %w", err)
	}
	logutil.GetLogger(ctx).Info("chunk file missing, restoring from archive", zap.String("chunk_file", s.cfg.ChunkPath))
	rc, err := s.archive.Open(ctx, filepath.Base(s.cfg.ChunkPath))
	if err != nil {
		return nil, fmt.Errorf("open archived chunk file: %w", err)
	}
	defer rc.Close()
	chunks, err = chunkfile.Decode(rc)
	if err != nil {
		return nil, fmt.Errorf("decode archived chunk file: %w", err)
	}
	if err := chunkfile.Save(chunks, s.cfg.ChunkPath); err != nil {
		return nil, fmt.Errorf("restore chunk file: %w", err)
	}
	return chunks, nil
}

// Sync re-chunks the source document and overwrites the index with it.
func (s *RAGService) Sync(ctx context.Context) (*SyncResult, error) {
	s.pipelineMu.Lock()
	defer s.pipelineMu.Unlock()
	if _, err := s.preprocess(ctx); err != nil {
		return nil, err
	}
	n, err := s.ingest(ctx)
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Info("sync finished", zap.Int("chunks", n))
	return &SyncResult{Chunks: n}, nil
}

func (s *RAGService) Retrieve(ctx context.Context, query string) ([]*model.Match, error) {
	if query == "" {
		return nil, fmt.Errorf("query is required: %w", appErr.ErrInvalid)
	}
	r, err := s.getRetriever(ctx)
	if err != nil {
		return nil, err
	}
	return r.Invoke(ctx, query)
}

func (s *RAGService) getRetriever(ctx context.Context) (*vectorstore.Retriever, error) {
	s.retrieverMu.Lock()
	defer s.retrieverMu.Unlock()
	if s.retriever != nil {
		return s.retriever, nil
	}
	r, err := s.manager.Retrieve(ctx, s.queryEmbedder, s.cfg.StoreOptions)
	if err != nil {
		return nil, err
	}
	s.retriever = r
	return r, nil
}

func (s *RAGService) resetRetriever() {
	s.retrieverMu.Lock()
	s.retriever = nil
	s.retrieverMu.Unlock()
}

func (s *RAGService) Status(ctx context.Context) (*model.IndexStatus, error) {
	return s.manager.State(ctx)
}

// Teardown removes the endpoint, the index or both.
func (s *RAGService) Teardown(ctx context.Context, target string) error {
	defer s.resetRetriever()
	switch target {
	case TargetEndpoint:
		return s.manager.DeleteIndexEndpoint(ctx)
	case TargetIndex:
		return s.manager.DeleteIndex(ctx)
	case "", TargetAll:
		return s.manager.DeleteAll(ctx)
	default:
		return fmt.Errorf("unknown teardown target %q: %w", target, appErr.ErrInvalid)
	}
}
