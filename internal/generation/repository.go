package generation

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/framelight/backend/internal/models"
)

// ErrGenerationNotFound is returned when no (non-deleted) generation matches.
var ErrGenerationNotFound = errors.New("generation not found")

const generationColumns = `
	id, owner_person_id, owner_team_id, status, credit_source, credits_used,
	provider, package_id, style_settings, prompt, input_image_keys, output_image_keys,
	generation_group_id, is_original, group_index, max_regenerations, remaining_regenerations,
	error_message, deleted, created_at, completed_at`

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ Repo = (*Repository)(nil)

func scanGeneration(row pgx.Row) (*models.Generation, error) {
	var g models.Generation
	err := row.Scan(
		&g.ID, &g.OwnerPersonID, &g.OwnerTeamID, &g.Status, &g.CreditSource, &g.CreditsUsed,
		&g.Provider, &g.PackageID, &g.StyleSettings, &g.Prompt, &g.InputImageKeys, &g.OutputImageKeys,
		&g.GenerationGroupID, &g.IsOriginal, &g.GroupIndex, &g.MaxRegenerations, &g.RemainingRegenerations,
		&g.ErrorMessage, &g.Deleted, &g.CreatedAt, &g.CompletedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrGenerationNotFound
	}
	if err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *Repository) CreateTx(ctx context.Context, tx pgx.Tx, g *models.Generation) error {
	return tx.QueryRow(ctx, `
		INSERT INTO generations (
			id, owner_person_id, owner_team_id, status, credit_source, credits_used,
			provider, package_id, style_settings, prompt, input_image_keys, output_image_keys,
			generation_group_id, is_original, group_index, max_regenerations, remaining_regenerations)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
		RETURNING created_at
	`, g.ID, g.OwnerPersonID, g.OwnerTeamID, g.Status, g.CreditSource, g.CreditsUsed,
		g.Provider, g.PackageID, g.StyleSettings, g.Prompt, g.InputImageKeys, g.OutputImageKeys,
		g.GenerationGroupID, g.IsOriginal, g.GroupIndex, g.MaxRegenerations, g.RemainingRegenerations,
	).Scan(&g.CreatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.Generation, error) {
	return scanGeneration(r.pool.QueryRow(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE id = $1`, id))
}

// GetForUpdateTx locks the row for the regeneration-spawn transaction.
func (r *Repository) GetForUpdateTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Generation, error) {
	return scanGeneration(tx.QueryRow(ctx,
		`SELECT `+generationColumns+` FROM generations WHERE id = $1 FOR UPDATE`, id))
}

// MaxGroupIndexTx returns the highest group_index in a generation group.
// Computed inside the same transaction that decrements the quota so indexes
// are strictly increasing and never reused.
func (r *Repository) MaxGroupIndexTx(ctx context.Context, tx pgx.Tx, groupID uuid.UUID) (int, error) {
	var max int
	err := tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(group_index), 0) FROM generations WHERE generation_group_id = $1
	`, groupID).Scan(&max)
	return max, err
}

// DecrementRemainingTx consumes one regeneration slot. The guard keeps the
// counter non-negative even if the service check raced.
func (r *Repository) DecrementRemainingTx(ctx context.Context, tx pgx.Tx, id uuid.UUID) error {
	tag, err := tx.Exec(ctx, `
		UPDATE generations
		SET remaining_regenerations = remaining_regenerations - 1
		WHERE id = $1 AND remaining_regenerations > 0
	`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrRegenerationQuotaExhausted
	}
	return nil
}

// ClaimProcessing performs the pending -> processing transition. Allowed from
// processing as well so a retried attempt can reclaim; terminal states refuse.
func (r *Repository) ClaimProcessing(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE generations SET status = $2
		WHERE id = $1 AND status IN ($3, $2)
	`, id, models.GenerationStatusProcessing, models.GenerationStatusPending)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) SetCompleted(ctx context.Context, id uuid.UUID, outputKeys []string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generations
		SET status = $2, output_image_keys = $3, completed_at = now(), error_message = NULL
		WHERE id = $1
	`, id, models.GenerationStatusCompleted, outputKeys)
	return err
}

func (r *Repository) SetFailed(ctx context.Context, id uuid.UUID, message string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE generations
		SET status = $2, error_message = $3, completed_at = now()
		WHERE id = $1
	`, id, models.GenerationStatusFailed, message)
	return err
}

// SoftDelete hides the generation from default listings. Ledger entries are
// never touched.
func (r *Repository) SoftDelete(ctx context.Context, id, ownerPersonID uuid.UUID) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE generations SET deleted = TRUE
		WHERE id = $1 AND owner_person_id = $2
	`, id, ownerPersonID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) ListByOwner(ctx context.Context, ownerPersonID uuid.UUID) ([]*models.Generation, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+generationColumns+` FROM generations
		 WHERE owner_person_id = $1 AND NOT deleted
		 ORDER BY created_at DESC`, ownerPersonID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Generation
	for rows.Next() {
		g, err := scanGeneration(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, g)
	}
	return list, rows.Err()
}
