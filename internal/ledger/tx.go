package ledger

import (
	"context"
	"errors"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// TxRunner executes fn inside a database transaction at the requested
// isolation level. It exists so the isolation requirement of the ledger and
// the state machine is a visible contract rather than an incidental detail,
// and so services can be unit-tested with an in-memory runner.
type TxRunner interface {
	WithTransaction(ctx context.Context, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error
}

// Serializable transactions can abort under contention; Postgres asks the
// client to simply retry. 40001 = serialization_failure, 40P01 = deadlock.
const maxSerializationRetries = 3

// PgxRunner is the production TxRunner backed by a pgx pool.
type PgxRunner struct {
	pool *pgxpool.Pool
	log  *slog.Logger
}

func NewPgxRunner(pool *pgxpool.Pool, log *slog.Logger) *PgxRunner {
	if log == nil {
		log = slog.Default()
	}
	return &PgxRunner{pool: pool, log: log}
}

var _ TxRunner = (*PgxRunner)(nil)

func (r *PgxRunner) WithTransaction(ctx context.Context, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	var err error
	for attempt := 0; attempt <= maxSerializationRetries; attempt++ {
		err = r.runOnce(ctx, iso, fn)
		if err == nil || !isRetryableTxError(err) {
			return err
		}
		r.log.Warn("transaction aborted by serialization conflict, retrying",
			"attempt", attempt+1, "error", err)
	}
	return err
}

func (r *PgxRunner) runOnce(ctx context.Context, iso pgx.TxIsoLevel, fn func(pgx.Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: iso})
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func isRetryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}
