package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

// Store is the introspection persistence interface. The pgx Repository
// implements it; tests use an in-memory store.
type Store interface {
	InsertQueuedTx(ctx context.Context, tx pgx.Tx, key string, generationID uuid.UUID) (bool, error)
	GetStateForUpdateTx(ctx context.Context, tx pgx.Tx, key string) (string, error)
	RequeueTx(ctx context.Context, tx pgx.Tx, key string) error
	Get(ctx context.Context, key string) (*JobStatus, error)
	MarkRunning(ctx context.Context, key string, attempt int) error
	SetProgress(ctx context.Context, key string, progress int, message string) error
	MarkCompleted(ctx context.Context, key string) error
	MarkFailed(ctx context.Context, key string, reason string) error
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// InsertTxFunc enqueues a river job within the given transaction. Provided by
// main as a closure over river.Client.InsertTx (breaks the init cycle).
type InsertTxFunc func(ctx context.Context, tx pgx.Tx, args GeneratePhotoArgs, priority int) error

// Service is the queue façade: transactional enqueue with dedupe, progress
// reporting, status introspection and retention pruning.
type Service struct {
	store    Store
	insertTx InsertTxFunc
	log      *slog.Logger
}

func NewService(store Store, insertTx InsertTxFunc, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{store: store, insertTx: insertTx, log: log}
}

// EnqueueTx enqueues the generation's job inside the caller's transaction.
// The dedupe key is derived from the generation id: a second enqueue while a
// job is outstanding is a safe no-op (returns false). A terminal key is
// requeued for a fresh run.
func (s *Service) EnqueueTx(ctx context.Context, tx pgx.Tx, args GeneratePhotoArgs, priority int) (bool, error) {
	key := KeyFor(args.GenerationID)

	created, err := s.store.InsertQueuedTx(ctx, tx, key, args.GenerationID)
	if err != nil {
		return false, fmt.Errorf("insert job row: %w", err)
	}
	if !created {
		state, err := s.store.GetStateForUpdateTx(ctx, tx, key)
		if err != nil {
			return false, fmt.Errorf("inspect existing job: %w", err)
		}
		if state == JobStateQueued || state == JobStateRunning {
			// Duplicate submission from a retried client request; the
			// outstanding job already covers it.
			s.log.Info("duplicate enqueue ignored", "job_key", key, "state", state)
			return false, nil
		}
		if err := s.store.RequeueTx(ctx, tx, key); err != nil {
			return false, fmt.Errorf("requeue job row: %w", err)
		}
	}

	if err := s.insertTx(ctx, tx, args, priority); err != nil {
		return false, fmt.Errorf("insert queue job: %w", err)
	}
	return true, nil
}

// Status returns the introspection row for a job key.
func (s *Service) Status(ctx context.Context, key string) (*JobStatus, error) {
	return s.store.Get(ctx, key)
}

func (s *Service) MarkRunning(ctx context.Context, key string, attempt int) error {
	return s.store.MarkRunning(ctx, key, attempt)
}

// SetProgress records 0-100 progress plus a human-readable message.
func (s *Service) SetProgress(ctx context.Context, key string, progress int, message string) error {
	if progress < 0 {
		progress = 0
	}
	if progress > 100 {
		progress = 100
	}
	return s.store.SetProgress(ctx, key, progress, message)
}

func (s *Service) MarkCompleted(ctx context.Context, key string) error {
	return s.store.MarkCompleted(ctx, key)
}

func (s *Service) MarkFailed(ctx context.Context, key string, reason string) error {
	return s.store.MarkFailed(ctx, key, reason)
}

// PruneTerminal removes finished introspection rows older than retention.
func (s *Service) PruneTerminal(ctx context.Context, retention time.Duration) (int64, error) {
	pruned, err := s.store.DeleteTerminalBefore(ctx, time.Now().Add(-retention))
	if err != nil {
		return 0, err
	}
	if pruned > 0 {
		s.log.Info("pruned finished jobs", "count", pruned)
	}
	return pruned, nil
}
