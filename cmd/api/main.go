package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"github.com/rs/cors"

	"github.com/framelight/backend/internal/composite"
	"github.com/framelight/backend/internal/config"
	"github.com/framelight/backend/internal/execution"
	"github.com/framelight/backend/internal/generation"
	"github.com/framelight/backend/internal/jobs"
	"github.com/framelight/backend/internal/ledger"
	"github.com/framelight/backend/internal/notify"
	"github.com/framelight/backend/internal/provider"
	"github.com/framelight/backend/internal/router"
	"github.com/framelight/backend/internal/status"
	"github.com/framelight/backend/internal/storage"
	"github.com/framelight/backend/internal/styles"
)

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
		slog.Error("cannot reach PostgreSQL, ensure it is running (e.g. docker-compose up -d)", "error", err)
		os.Exit(1)
	}
	slog.Info("connected to PostgreSQL")

	// River migrations
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		slog.Error("failed to create river migrator", "error", err)
		os.Exit(1)
	}
	if _, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil); err != nil {
		slog.Error("river migrate up failed", "error", err)
		os.Exit(1)
	}
	slog.Info("river migrations applied")

	// Ledger
	txRunner := ledger.NewPgxRunner(pool, logger)
	ledgerRepo := ledger.NewRepository(pool)
	ledgerSvc := ledger.NewService(ledgerRepo, txRunner, logger)

	// Styles
	registry := styles.DefaultRegistry()
	stylesRepo := styles.NewRepository(pool)
	resolver := styles.NewResolver(registry, stylesRepo, logger)

	// Jobs: insert func is set after the river client is created (breaks the
	// init cycle between queue service and worker registration).
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

	// Generation state machine
	generationRepo := generation.NewRepository(pool)
	generationSvc := generation.NewService(
		generationRepo, ledgerSvc, jobsSvc, resolver, txRunner,
		cfg.PerGenerationCost, cfg.MaxRegenerations, logger)

	// Assets and provider
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
		slog.Info("using remote photo provider", "model", cfg.ProviderModel)
	} else {
		generator = provider.NewSynthetic()
		slog.Warn("no provider credentials configured, using synthetic generator")
	}

	// Notifications
	notifier := notify.NewDispatcher(cfg.NotifyBuffer, logger, &notify.LogSink{Log: logger})
	defer notifier.Close()

	// Execution worker
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

	// Status façade
	statusSvc := status.NewService(generationSvc, jobsSvc, logger)

	generationHandler := generation.NewHandler(generationSvc, logger)
	statusHandler := status.NewHandler(statusSvc, logger)
	stylesHandler := styles.NewHandler(stylesRepo, registry, logger)
	ledgerHandler := ledger.NewHandler(ledgerSvc, ledgerRepo, logger)

	mux := router.New([]byte(cfg.JWTSecret), generationHandler, statusHandler, stylesHandler, ledgerHandler)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}).Handler(mux)

	// Start river client (processes jobs in this process too)
	riverCtx, stopRiver := context.WithCancel(ctx)
	defer stopRiver()
	go func() {
		if err := riverClient.Start(riverCtx); err != nil && riverCtx.Err() == nil {
			slog.Error("river client stopped", "error", err)
		}
	}()

	// Retention pruning for finished job rows
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := jobsSvc.PruneTerminal(ctx, cfg.JobRetention); err != nil {
				slog.Error("job pruning failed", "error", err)
			}
		}
	}()

	serverAddr := "0.0.0.0:" + cfg.Port
	slog.Info("starting HTTP server", "addr", serverAddr)
	if err := http.ListenAndServe(serverAddr, corsHandler); err != nil {
		slog.Error("HTTP server failed", "error", err)
		os.Exit(1)
	}
}
