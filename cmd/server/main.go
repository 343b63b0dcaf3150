// Package main is the entrypoint for the logsift server: the job submission
// API plus the background log processing pass.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/logsift/internal/api"
	"github.com/kiranshivaraju/logsift/internal/api/handler"
	mw "github.com/kiranshivaraju/logsift/internal/api/middleware"
	"github.com/kiranshivaraju/logsift/internal/bugindex"
	"github.com/kiranshivaraju/logsift/internal/cache"
	"github.com/kiranshivaraju/logsift/internal/config"
	"github.com/kiranshivaraju/logsift/internal/errorsummary"
	"github.com/kiranshivaraju/logsift/internal/fetch"
	"github.com/kiranshivaraju/logsift/internal/ingest"
	"github.com/kiranshivaraju/logsift/internal/scheduler"
	"github.com/kiranshivaraju/logsift/internal/store"
	"github.com/kiranshivaraju/logsift/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "env", cfg.Server.Env, "process_schedule", cfg.Processing.Schedule)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	pgStore := store.NewPostgresStore(pool)

	// 5. Seed known bugs and build the index over the store
	if cfg.BugIndex.SourceFile != "" {
		if err := seedBugs(ctx, cfg.BugIndex.SourceFile, pgStore); err != nil {
			return fmt.Errorf("seed bugs: %w", err)
		}
	}
	index := bugindex.New(bugindex.NewStoreSource(pgStore))

	// 6. Processing pipeline
	fetcher := fetch.NewHTTPFetcher(cfg.Fetch.Timeout, cfg.Fetch.MaxBytes, cfg.Fetch.RPS)
	matcher := errorsummary.NewMatcher(index, cfg.BugIndex.MaxCandidates)
	svc := ingest.NewService(pgStore, redisCache, fetcher, nil, matcher, ingest.Config{
		Workers:      cfg.Processing.Workers,
		MaxErrors:    cfg.Processing.MaxErrorLines,
		MaxLineBytes: cfg.Fetch.MaxLineBytes,
		JobTimeout:   cfg.Processing.JobTimeout,
	})

	sched := scheduler.New(svc, index, pgStore, scheduler.Config{
		ProcessSchedule: cfg.Processing.Schedule,
		RefreshSchedule: cfg.BugIndex.Schedule,
		BatchSize:       cfg.Processing.BatchSize,
		StaleAfter:      2 * cfg.Processing.JobTimeout,
	})
	if err := sched.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	sched.RunNow()

	// 7. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),

		HealthHandler:        handler.NewHealthHandler(pgStore, redisCache),
		SubmitJobsHandler:    handler.NewSubmitJobsHandler(svc),
		GetJobHandler:        handler.NewGetJobHandler(svc),
		ListArtifactsHandler: handler.NewListArtifactsHandler(svc),
		UpsertBugsHandler:    handler.NewUpsertBugsHandler(pgStore, index),
		SearchBugsHandler:    handler.NewSearchBugsHandler(index, redisCache),
	}

	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	// In-flight jobs are requeued by the processing pass when cancelled.
	sched.Stop(shutdownCtx)

	if serveErr != nil {
		return serveErr
	}
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

type bugUpserter interface {
	UpsertBugs(ctx context.Context, bugs []models.Bug) (int, error)
}

// seedBugs loads the YAML bug file and writes its entries to the store.
func seedBugs(ctx context.Context, path string, dst bugUpserter) error {
	bugs, err := bugindex.NewFileSource(path).LoadBugs(ctx)
	if err != nil {
		return err
	}
	n, err := dst.UpsertBugs(ctx, bugs)
	if err != nil {
		return fmt.Errorf("store bugs: %w", err)
	}
	slog.Info("bugs seeded", "path", path, "bugs", n)
	return nil
}
