package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Job introspection states. River owns execution; this table is the read
// model surfaced to polling clients.
const (
	JobStateQueued    = "queued"
	JobStateRunning   = "running"
	JobStateCompleted = "completed"
	JobStateFailed    = "failed"
)

// ErrJobNotFound is returned when no introspection row exists for a key.
var ErrJobNotFound = errors.New("job not found")

// JobStatus is the introspection row for one queue job.
type JobStatus struct {
	Key           string     `json:"key"`
	GenerationID  uuid.UUID  `json:"generation_id"`
	State         string     `json:"state"`
	Progress      int        `json:"progress"`
	Message       string     `json:"message"`
	Attempts      int        `json:"attempts"`
	FailureReason *string    `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
}

func (j *JobStatus) Terminal() bool {
	return j.State == JobStateCompleted || j.State == JobStateFailed
}

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// InsertQueuedTx creates the introspection row if none exists. Returns false
// when the key is already present (dedupe path).
func (r *Repository) InsertQueuedTx(ctx context.Context, tx pgx.Tx, key string, generationID uuid.UUID) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO generation_jobs (job_key, generation_id, state, progress, message, attempts)
		VALUES ($1, $2, 'queued', 0, 'waiting for a worker', 0)
		ON CONFLICT (job_key) DO NOTHING
	`, key, generationID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// GetStateForUpdateTx locks the row so the dedupe decision and any requeue
// happen atomically with the enqueue.
func (r *Repository) GetStateForUpdateTx(ctx context.Context, tx pgx.Tx, key string) (string, error) {
	var state string
	err := tx.QueryRow(ctx, `
		SELECT state FROM generation_jobs WHERE job_key = $1 FOR UPDATE
	`, key).Scan(&state)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", ErrJobNotFound
	}
	return state, err
}

// RequeueTx resets a terminal row for a fresh run.
func (r *Repository) RequeueTx(ctx context.Context, tx pgx.Tx, key string) error {
	_, err := tx.Exec(ctx, `
		UPDATE generation_jobs
		SET state = 'queued', progress = 0, message = 'waiting for a worker',
			attempts = 0, failure_reason = NULL, finished_at = NULL, updated_at = now()
		WHERE job_key = $1
	`, key)
	return err
}

func (r *Repository) Get(ctx context.Context, key string) (*JobStatus, error) {
	var j JobStatus
	err := r.pool.QueryRow(ctx, `
		SELECT job_key, generation_id, state, progress, message, attempts, failure_reason, created_at, updated_at, finished_at
		FROM generation_jobs WHERE job_key = $1
	`, key).Scan(&j.Key, &j.GenerationID, &j.State, &j.Progress, &j.Message, &j.Attempts, &j.FailureReason, &j.CreatedAt, &j.UpdatedAt, &j.FinishedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	return &j, nil
}

func (r *Repository) MarkRunning(ctx context.Context, key string, attempt int) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET state = 'running', attempts = $2, message = 'processing', updated_at = now()
		WHERE job_key = $1
	`, key, attempt)
	return err
}

func (r *Repository) SetProgress(ctx context.Context, key string, progress int, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET progress = $2, message = $3, updated_at = now()
		WHERE job_key = $1
	`, key, progress, message)
	return err
}

func (r *Repository) MarkCompleted(ctx context.Context, key string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET state = 'completed', progress = 100, message = 'done', finished_at = now(), updated_at = now()
		WHERE job_key = $1
	`, key)
	return err
}

func (r *Repository) MarkFailed(ctx context.Context, key string, reason string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generation_jobs
		SET state = 'failed', message = 'failed', failure_reason = $2, finished_at = now(), updated_at = now()
		WHERE job_key = $1
	`, key, reason)
	return err
}

// DeleteTerminalBefore prunes finished rows past the retention window.
// Housekeeping only; river keeps its own completed-job retention.
func (r *Repository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		DELETE FROM generation_jobs
		WHERE state IN ('completed', 'failed') AND finished_at < $1
	`, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
