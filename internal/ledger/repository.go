package ledger

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/framelight/backend/internal/models"
)

// Repository persists credit transactions. The table is append-only; nothing
// here updates or deletes an existing row.
type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Store = (*Repository)(nil)

// SumByScope folds the scope's signed amounts inside the caller's transaction.
func (r *Repository) SumByScope(ctx context.Context, tx pgx.Tx, scope Scope) (int, error) {
	var sum int
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(SUM(amount), 0) FROM credit_transactions
		WHERE scope = $1 AND scope_id = $2
	`, scope.Kind, scope.ID).Scan(&sum)
	return sum, err
}

// InsertTx appends a ledger entry inside the given transaction.
func (r *Repository) InsertTx(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error {
	return tx.QueryRow(ctx, `
		INSERT INTO credit_transactions (id, scope, scope_id, amount, type, related_generation_id, description)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, t.ID, t.Scope, t.ScopeID, t.Amount, t.Type, t.RelatedGenerationID, t.Description).Scan(&t.CreatedAt)
}

// FindReservation returns the reserve entry for a generation, or nil when
// none was ever recorded (regenerations reserve nothing).
func (r *Repository) FindReservation(ctx context.Context, tx pgx.Tx, generationID uuid.UUID) (*models.CreditTransaction, error) {
	var t models.CreditTransaction
	err := tx.QueryRow(ctx, `
		SELECT id, scope, scope_id, amount, type, related_generation_id, description, created_at
		FROM credit_transactions
		WHERE related_generation_id = $1 AND type = $2
		ORDER BY created_at ASC
		LIMIT 1
	`, generationID, models.CreditTxReserve).Scan(
		&t.ID, &t.Scope, &t.ScopeID, &t.Amount, &t.Type, &t.RelatedGenerationID, &t.Description, &t.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// HasRefund reports whether a compensating refund already exists for the
// generation. Checked inside the refund transaction to keep Refund idempotent.
func (r *Repository) HasRefund(ctx context.Context, tx pgx.Tx, generationID uuid.UUID) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM credit_transactions
			WHERE related_generation_id = $1 AND type = $2
		)
	`, generationID, models.CreditTxRefund).Scan(&exists)
	return exists, err
}

// ListByScope returns the audit trail for a scope, newest first.
func (r *Repository) ListByScope(ctx context.Context, scope Scope, limit int) ([]*models.CreditTransaction, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT id, scope, scope_id, amount, type, related_generation_id, description, created_at
		FROM credit_transactions
		WHERE scope = $1 AND scope_id = $2
		ORDER BY created_at DESC
		LIMIT $3
	`, scope.Kind, scope.ID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.Scope, &t.ScopeID, &t.Amount, &t.Type, &t.RelatedGenerationID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}

// ListByGeneration returns all entries tied to one generation (reserve plus
// any refund), oldest first.
func (r *Repository) ListByGeneration(ctx context.Context, generationID uuid.UUID) ([]*models.CreditTransaction, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, scope, scope_id, amount, type, related_generation_id, description, created_at
		FROM credit_transactions
		WHERE related_generation_id = $1
		ORDER BY created_at ASC
	`, generationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.CreditTransaction
	for rows.Next() {
		var t models.CreditTransaction
		if err := rows.Scan(&t.ID, &t.Scope, &t.ScopeID, &t.Amount, &t.Type, &t.RelatedGenerationID, &t.Description, &t.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &t)
	}
	return list, rows.Err()
}
