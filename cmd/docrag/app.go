package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/ai"
	"github.com/xxxsen/docrag/internal/aicache"
	"github.com/xxxsen/docrag/internal/config"
	"github.com/xxxsen/docrag/internal/db"
	"github.com/xxxsen/docrag/internal/docstore"
	"github.com/xxxsen/docrag/internal/filestore"
	"github.com/xxxsen/docrag/internal/pdfdoc"
	"github.com/xxxsen/docrag/internal/repo"
	"github.com/xxxsen/docrag/internal/service"
	"github.com/xxxsen/docrag/internal/vectorstore"
)

const (
	queryCacheSize = 1024
	queryCacheTTL  = 10 * time.Minute
)

type app struct {
	cfg        *config.Config
	db         *sql.DB
	docs       docstore.Store
	clients    *vectorstore.VertexClients
	manager    *vectorstore.Manager
	embedCache *repo.EmbeddingCacheRepo
	rag        *service.RAGService
}

func buildApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	if err := a.init(ctx); err != nil {
		_ = a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init(ctx context.Context) error {
	cfg := a.cfg
	logger := logutil.GetLogger(ctx)

	if cfg.Database.Enabled() {
		conn, err := db.Open(cfg.Database)
		if err != nil {
			return fmt.Errorf("open db: %w", err)
		}
		a.db = conn
		if err := db.ApplyMigrations(conn); err != nil {
			return fmt.Errorf("migrations: %w", err)
		}
	}

	opts, err := vectorstore.DecodeOptions(cfg.VertexAI.DataStoreKwargs)
	if err != nil {
		return err
	}
	docs, err := docstore.New(ctx, cfg.DocStore.Type, docStoreArgs(cfg), docstore.Deps{
		ProjectID: cfg.VertexAI.ProjectID,
		DB:        a.db,
	})
	if err != nil {
		return fmt.Errorf("init doc store: %w", err)
	}
	a.docs = docs

	clients, err := vectorstore.NewVertexClients(ctx, cfg.VertexAI.Region)
	if err != nil {
		return fmt.Errorf("init vertex ai: %w", err)
	}
	a.clients = clients
	a.manager = vectorstore.NewManager(vectorstore.Config{
		ProjectID:         cfg.VertexAI.ProjectID,
		Region:            cfg.VertexAI.Region,
		IndexName:         cfg.VertexAI.IndexName,
		IndexEndpointName: cfg.VertexAI.IndexEndpointName,
		Dimensions:        cfg.VertexAI.Dimensions,
	}, clients, clients, clients, docs)

	transcriber, err := buildTranscriber(cfg)
	if err != nil {
		return err
	}
	chunker := ai.NewChunker(pdfdoc.NewParser(), pdfdoc.NewLoader(), transcriber)

	embedProvider, err := ai.NewEmbedProvider(cfg.Ingest.Provider, cfg.Ingest.Data)
	if err != nil {
		return fmt.Errorf("init embedding provider: %w", err)
	}
	docEmbedder := ai.NewEmbedder(embedProvider, cfg.Ingest.EmbeddingModel)
	if cfg.EmbeddingCache.Enabled {
		a.embedCache = repo.NewEmbeddingCacheRepo(a.db)
		docEmbedder = aicache.WrapDBCacheToEmbedder(docEmbedder, a.embedCache)
	}
	queryEmbedder := aicache.WrapLruCacheToEmbedder(docEmbedder, queryCacheSize, queryCacheTTL)

	var archive filestore.Store
	if cfg.FileStore.Type != "" {
		archive, err = filestore.New(cfg.FileStore)
		if err != nil {
			return fmt.Errorf("init file store: %w", err)
		}
	}

	a.rag = service.NewRAGService(service.RAGServiceConfig{
		SourcePath:   cfg.Data.Source,
		ChunkPath:    cfg.Data.Path,
		StoreOptions: opts,
	}, chunker, a.manager, docEmbedder, queryEmbedder, archive)

	logger.Info("pipeline ready",
		zap.String("project", cfg.VertexAI.ProjectID),
		zap.String("region", cfg.VertexAI.Region),
		zap.String("index", cfg.VertexAI.IndexName),
		zap.String("doc_store", cfg.DocStore.Type),
		zap.Bool("embedding_cache", cfg.EmbeddingCache.Enabled),
		zap.Bool("archive", archive != nil),
	)
	return nil
}

func buildTranscriber(cfg *config.Config) (ai.ITranscriber, error) {
	provider, err := ai.NewProvider(cfg.Transcribe.Provider, cfg.Transcribe.Data)
	if err != nil {
		return nil, fmt.Errorf("init transcribe provider: %w", err)
	}
	chatter := ai.WrapGuard(ai.NewChatter(provider, cfg.Transcribe.Model), ai.GuardConfig{
		Name:       provider.Name(),
		MaxRetries: cfg.RetryCount(),
		RetryWait:  time.Second,
		RPM:        cfg.Transcribe.RPM,
	})
	var transcriber ai.ITranscriber = ai.NewTranscriber(chatter, time.Duration(cfg.Transcribe.Timeout)*time.Second)
	if cfg.Transcribe.CacheSize > 0 {
		transcriber = aicache.WrapLruCacheToTranscriber(transcriber, cfg.Transcribe.CacheSize,
			time.Duration(cfg.Transcribe.CacheTTL)*time.Second)
	}
	return transcriber, nil
}

// docStoreArgs overlays doc_store.data on the document store fields of
// vertexai.data_store_kwargs.
func docStoreArgs(cfg *config.Config) map[string]interface{} {
	args := make(map[string]interface{})
	for _, key := range []string{"project", "database", "namespace", "kind"} {
		if v, ok := cfg.VertexAI.DataStoreKwargs[key]; ok {
			args[key] = v
		}
	}
	if data, ok := cfg.DocStore.Data.(map[string]interface{}); ok {
		for k, v := range data {
			args[k] = v
		}
	}
	return args
}

func (a *app) Close() error {
	var errs []error
	if a.clients != nil {
		errs = append(errs, a.clients.Close())
	}
	if a.docs != nil {
		errs = append(errs, a.docs.Close())
	}
	if a.db != nil {
		errs = append(errs, a.db.Close())
	}
	return errors.Join(errs...)
}
