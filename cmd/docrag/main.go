package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/xxxsen/common/logger"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/docrag/internal/config"
	"github.com/xxxsen/docrag/internal/handler"
	"github.com/xxxsen/docrag/internal/job"
	"github.com/xxxsen/docrag/internal/middleware"
	"github.com/xxxsen/docrag/internal/schedule"
	"github.com/xxxsen/docrag/internal/service"
)

func main() {
	var configPath string
	var target string

	rootCmd := &cobra.Command{
		Use:           "docrag",
		Short:         "pdf retrieval pipeline on vertex ai vector search",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config.yaml or config.json")

	withApp := func(fn func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			a, err := buildApp(ctx, cfg)
			if err != nil {
				return err
			}
			defer func() {
				if err := a.Close(); err != nil {
					logutil.GetLogger(ctx).Warn("close resources failed", zap.Error(err))
				}
			}()
			return fn(ctx, cmd, a, args)
		}
	}

	rootCmd.AddCommand(
		&cobra.Command{
			Use:   "chunk",
			Short: "split the source pdf into chunks and write the chunk file",
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
				n, err := a.rag.Preprocess(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d chunks written to %s\n", n, a.cfg.Data.Path)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "deploy",
			Short: "create the index and endpoint and deploy the index",
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
				status, err := a.rag.Deploy(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, status)
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "show the index and endpoint state",
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
				status, err := a.rag.Status(ctx)
				if err != nil {
					return err
				}
				return printJSON(cmd, status)
			}),
		},
		&cobra.Command{
			Use:   "ingest",
			Short: "embed the chunk file and overwrite the index with it",
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, _ []string) error {
				n, err := a.rag.Ingest(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%d chunks ingested\n", n)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "retrieve <query>",
			Short: "return the chunks closest to a query",
			Args:  cobra.ExactArgs(1),
			RunE: withApp(func(ctx context.Context, cmd *cobra.Command, a *app, args []string) error {
				matches, err := a.rag.Retrieve(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(cmd, matches)
			}),
		},
		&cobra.Command{
			Use:   "serve",
			Short: "run the http api and scheduled jobs",
			RunE: withApp(func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
				return runServer(ctx, a)
			}),
		},
	)

	deleteCmd := &cobra.Command{
		Use:   "delete",
		Short: "undeploy and delete the endpoint, the index or both",
		RunE: withApp(func(ctx context.Context, _ *cobra.Command, a *app, _ []string) error {
			return a.rag.Teardown(ctx, target)
		}),
	}
	deleteCmd.Flags().StringVar(&target, "target", service.TargetAll, "endpoint, index or all")
	rootCmd.AddCommand(deleteCmd)

	if err := rootCmd.Execute(); err != nil {
		logutil.GetLogger(context.Background()).Fatal("run failed", zap.Error(err))
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--config is required")
	}
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	logger.Init(
		cfg.LogConfig.File,
		cfg.LogConfig.Level,
		cfg.LogConfig.FileCount,
		cfg.LogConfig.FileSize,
		cfg.LogConfig.KeepDays,
		cfg.LogConfig.Console,
	)
	logutil.GetLogger(context.Background()).Info("config loaded", zap.String("config", path))
	return cfg, nil
}

func printJSON(cmd *cobra.Command, v interface{}) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

const shutdownTimeout = 10 * time.Second

func runServer(ctx context.Context, a *app) error {
	cfg := a.cfg
	addr := fmt.Sprintf("0.0.0.0:%d", cfg.Server.Port)
	deps := handler.RouterDeps{
		RAG:        handler.NewRAGHandler(a.rag),
		SyncWindow: time.Duration(cfg.Server.SyncWindow) * time.Second,
	}
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.CORS(cfg.Server.CORSOrigins),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	scheduler := schedule.NewCronScheduler()
	if cfg.Schedule.SyncCron != "" {
		if err := scheduler.AddJob(job.NewSyncJob(a.rag), cfg.Schedule.SyncCron); err != nil {
			return err
		}
	}
	if cfg.Schedule.CacheCleanupCron != "" && a.embedCache != nil {
		cleanup := job.NewEmbeddingCacheCleanupJob(a.embedCache, cfg.EmbeddingCache.MaxAgeDays)
		if err := scheduler.AddJob(cleanup, cfg.Schedule.CacheCleanupCron); err != nil {
			return err
		}
	}
	scheduler.Start(ctx)
	defer scheduler.Stop()

	srv := &http.Server{Addr: addr, Handler: engine}
	errCh := make(chan error, 1)
	logutil.GetLogger(ctx).Info("http server listening", zap.String("addr", addr))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	logutil.GetLogger(context.Background()).Info("server stopping...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logutil.GetLogger(context.Background()).Error("server shutdown failed", zap.Error(err))
		return err
	}
	return nil
}
