package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/xxxsen/common/logutil"
	"github.com/xxxsen/common/webapi"
	"go.uber.org/zap"

	"github.com/xxxsen/kbingest/internal/ai"
	"github.com/xxxsen/kbingest/internal/config"
	"github.com/xxxsen/kbingest/internal/db"
	"github.com/xxxsen/kbingest/internal/embedcache"
	"github.com/xxxsen/kbingest/internal/filestore"
	"github.com/xxxsen/kbingest/internal/handler"
	"github.com/xxxsen/kbingest/internal/job"
	"github.com/xxxsen/kbingest/internal/middleware"
	"github.com/xxxsen/kbingest/internal/repo"
	"github.com/xxxsen/kbingest/internal/schedule"
	"github.com/xxxsen/kbingest/internal/service"
)

type app struct {
	cfg       *config.Config
	db        *sql.DB
	store     filestore.Store
	cacheRepo *repo.EmbeddingCacheRepo
	ingest    *service.IngestService
	search    *service.SearchService
	ingestJob *job.IngestJob
}

func newApp(cfg *config.Config) (*app, error) {
	sqlDB, err := db.Open(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := db.ApplyMigrations(sqlDB); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("migrations: %w", err)
	}
	a := &app{cfg: cfg, db: sqlDB}
	if err := a.init(); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *app) init() error {
	sources := repo.NewSourceRepo(a.db)
	jobs := repo.NewJobRepo(a.db)
	chunks := repo.NewChunkRepo(a.db)
	a.cacheRepo = repo.NewEmbeddingCacheRepo(a.db)

	store, err := filestore.New(a.cfg.FileStore)
	if err != nil {
		return fmt.Errorf("init file store: %w", err)
	}
	a.store = store

	embedder, err := buildEmbedder(a.cfg.Embedding, a.cacheRepo)
	if err != nil {
		return err
	}
	a.ingest, err = service.NewIngestService(sources, jobs, chunks, embedder, store, service.IngestConfig{
		ChunkSize:      a.cfg.Ingest.ChunkSize,
		ChunkOverlap:   a.cfg.Ingest.ChunkOverlap,
		MaxSourceBytes: a.cfg.Ingest.MaxSourceBytes,
	})
	if err != nil {
		return fmt.Errorf("init ingest service: %w", err)
	}
	a.search = service.NewSearchService(chunks, embedder)
	a.ingestJob, err = job.NewIngestJob(a.ingest, job.IngestJobConfig{
		MaxPendingScan:         a.cfg.Ingest.MaxPendingScan,
		MaxWorkers:             a.cfg.Ingest.MaxWorkers,
		MaxChunksPerInvocation: a.cfg.Ingest.MaxChunksPerInvocation,
	})
	if err != nil {
		return err
	}
	return nil
}

func buildEmbedder(cfg config.EmbeddingConfig, cache embedcache.Store) (ai.IEmbedder, error) {
	entries := make([]ai.EmbedderEntry, 0, len(cfg.Providers))
	for _, item := range cfg.Providers {
		provider, err := ai.NewEmbedProvider(item.Provider, item.Data)
		if err != nil {
			return nil, fmt.Errorf("init embed provider %s: %w", item.Name, err)
		}
		embedder := ai.NewEmbedder(provider, item.Model, cfg.MaxInputChars)
		embedder = ai.WrapRetry(embedder, ai.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   time.Duration(cfg.RetryBaseDelayMs) * time.Millisecond,
			Timeout:     time.Duration(cfg.Timeout) * time.Second,
		})
		// caches sit under the group so they are keyed by the real model
		if cfg.DBCache {
			embedder = embedcache.WrapDBCacheToEmbedder(embedder, cache)
		}
		embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.CacheSize, time.Duration(cfg.CacheTTLSeconds)*time.Second)
		entries = append(entries, ai.EmbedderEntry{Name: item.Name, Embedder: embedder})
	}
	embedder := ai.NewGroupEmbedder(entries)
	if embedder == nil {
		return nil, fmt.Errorf("no embedding provider configured")
	}
	return embedder, nil
}

func (a *app) Serve(ctx context.Context) error {
	logger := logutil.GetLogger(ctx)
	logger.Info("starting server",
		zap.Int("port", a.cfg.Port),
		zap.String("file_store", a.store.Type()),
		zap.Int("max_workers", a.cfg.Ingest.MaxWorkers),
	)

	scheduler := schedule.NewCronScheduler()
	if err := scheduler.AddJob(a.ingestJob, a.cfg.Schedule.IngestSpec); err != nil {
		return err
	}
	stale := job.NewStaleJobReleaseJob(a.ingest, time.Duration(a.cfg.Schedule.StaleProcessingSeconds)*time.Second)
	if err := scheduler.AddJob(stale, a.cfg.Schedule.StaleReleaseSpec); err != nil {
		return err
	}
	if a.cfg.Embedding.DBCache {
		cleanup := job.NewEmbeddingCacheCleanupJob(a.cacheRepo, a.cfg.Schedule.CacheMaxAgeDays)
		if err := scheduler.AddJob(cleanup, a.cfg.Schedule.CacheCleanupSpec); err != nil {
			return err
		}
	}

	deps := handler.RouterDeps{
		Sources:       handler.NewSourceHandler(a.ingest, a.store, a.cfg.Ingest.MaxSourceBytes),
		Jobs:          handler.NewJobHandler(a.ingest, a.ingestJob),
		Search:        handler.NewSearchHandler(a.search),
		TickRateLimit: time.Duration(a.cfg.Schedule.TickRateLimitSeconds) * time.Second,
	}
	addr := fmt.Sprintf("0.0.0.0:%d", a.cfg.Port)
	engine, err := webapi.NewEngine(
		"/api/v1",
		addr,
		webapi.WithRegister(func(group *gin.RouterGroup) {
			handler.RegisterRoutes(group, deps)
		}),
		webapi.WithExtraMiddlewares(
			middleware.RequestID(),
			gzip.Gzip(gzip.DefaultCompression),
		),
	)
	if err != nil {
		return fmt.Errorf("init web engine: %w", err)
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	scheduler.Start(ctx)
	defer scheduler.Stop()

	go func() {
		if err := engine.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", zap.Error(err))
			stop()
		}
	}()
	logger.Info("http server listening", zap.String("addr", addr))

	<-ctx.Done()
	logger.Info("server stopping...")
	return nil
}

func (a *app) Close() {
	if a.ingestJob != nil {
		a.ingestJob.Release()
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
