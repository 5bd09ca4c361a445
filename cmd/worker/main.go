package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"

	"github.com/framelight/backend/internal/composite"
	"github.com/framelight/backend/internal/config"
	"github.com/framelight/backend/internal/execution"
	"github.com/framelight/backend/internal/generation"
	"github.com/framelight/backend/internal/jobs"
	"github.com/framelight/backend/internal/ledger"
	"github.com/framelight/backend/internal/notify"
	"github.com/framelight/backend/internal/provider"
	"github.com/framelight/backend/internal/storage"
	"github.com/framelight/backend/internal/styles"
)

// Standalone queue worker. Runs the same generation pipeline as the API
// binary without serving HTTP, for deployments that scale workers separately.
func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	cfg := config.Load()

	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		slog.Error("unable to create database pool", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		slog.Error("cannot reach PostgreSQL", "error", err)
		os.Exit(1)
	}

	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("failed to create river migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("river migrate up failed", "error", err)
		os.Exit(1)
	}

	txRunner := ledger.NewPgxRunner(pool, logger)
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, txRunner, logger)

	registry := styles.DefaultRegistry()
	stylesRepo := styles.NewRepository(pool)
	resolver := styles.NewResolver(registry, stylesRepo, logger)

	var insertMu sync.Mutex
	var insertFn jobs.InsertTxFunc
	insertGeneratePhoto := func(ctx context.Context, tx pgx.Tx, args jobs.GeneratePhotoArgs, priority int) error {
		insertMu.Lock()
		fn := insertFn
		insertMu.Unlock()
		if fn == nil {
			panic("river insert not wired")
		}
		return fn(ctx, tx, args, priority)
	}

	jobsRepo := jobs.NewRepository(pool)
	jobsSvc := jobs.NewService(jobsRepo, insertGeneratePhoto, logger)

	generationRepo := generation.NewRepository(pool)
	generationSvc := generation.NewService(
		generationRepo, ledgerSvc, jobsSvc, resolver, txRunner,
		cfg.PerGenerationCost, cfg.MaxRegenerations, logger)

	store, err := storage.NewFileStore(cfg.StoragePath)
	if err != nil {
		slog.Error("failed to initialize asset store", "error", err)
		os.Exit(1)
	}
	var generator provider.Generator
	if cfg.ProviderAPIKey != "" {
		generator = provider.NewClient(provider.Options{
			APIKey:  cfg.ProviderAPIKey,
			BaseURL: cfg.ProviderBaseURL,
			Model:   cfg.ProviderModel,
			Logger:  logger,
		})
	} else {
		generator = provider.NewSynthetic()
		slog.Warn("no provider credentials configured, using synthetic generator")
	}

	notifier := notify.NewDispatcher(cfg.NotifyBuffer, logger, &notify.LogSink{Log: logger})
	defer notifier.Close()

	workers := river.NewWorkers()
	river.AddWorker(workers, execution.NewGeneratePhotoWorker(
		generationSvc, jobsSvc, composite.NewBuilder(logger), generator, store, notifier, logger))

	riverClient, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: cfg.QueueMaxWorkers},
		},
		Workers: workers,
	})
	if err != nil {
		slog.Error("failed to create river client", "error", err)
		os.Exit(1)
	}

	insertMu.Lock()
	insertFn = func(ctx context.Context, tx pgx.Tx, args jobs.GeneratePhotoArgs, priority int) error {
		_, err := riverClient.InsertTx(ctx, tx, args, &river.InsertOpts{Priority: priority})
		return err
	}
	insertMu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := jobsSvc.PruneTerminal(ctx, cfg.JobRetention); err != nil {
				slog.Error("job pruning failed", "error", err)
			}
		}
	}()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := riverClient.Start(runCtx); err != nil {
		slog.Error("river client failed to start", "error", err)
		os.Exit(1)
	}
	slog.Info("worker started", "max_workers", cfg.QueueMaxWorkers)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig

	slog.Info("shutting down worker")
	stopCtx, stopCancel := context.WithTimeout(ctx, 30*time.Second)
	defer stopCancel()
	if err := riverClient.Stop(stopCtx); err != nil {
		slog.Error("river client stop failed", "error", err)
	}
}
