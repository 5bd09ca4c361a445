package styles

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/framelight/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

var _ ContextStore = (*Repository)(nil)

func (r *Repository) Create(ctx context.Context, c *models.StyleContext) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO style_contexts (id, ownership, owner_id, package_id, style_preset, name, settings)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at
	`, c.ID, c.Ownership, c.OwnerID, c.PackageID, c.StylePreset, c.Name, c.Settings).Scan(&c.CreatedAt)
}

func (r *Repository) GetByID(ctx context.Context, id uuid.UUID) (*models.StyleContext, error) {
	var c models.StyleContext
	err := r.pool.QueryRow(ctx, `
		SELECT id, ownership, owner_id, package_id, style_preset, name, settings, created_at
		FROM style_contexts WHERE id = $1
	`, id).Scan(&c.ID, &c.Ownership, &c.OwnerID, &c.PackageID, &c.StylePreset, &c.Name, &c.Settings, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListForOwner returns the caller's personal contexts plus team and shared
// free-tier ones.
func (r *Repository) ListForOwner(ctx context.Context, personID uuid.UUID, teamID *uuid.UUID) ([]*models.StyleContext, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, ownership, owner_id, package_id, style_preset, name, settings, created_at
		FROM style_contexts
		WHERE (ownership = 'personal' AND owner_id = $1)
		   OR (ownership = 'team' AND owner_id = $2)
		   OR ownership = 'shared'
		ORDER BY created_at DESC
	`, personID, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.StyleContext
	for rows.Next() {
		var c models.StyleContext
		if err := rows.Scan(&c.ID, &c.Ownership, &c.OwnerID, &c.PackageID, &c.StylePreset, &c.Name, &c.Settings, &c.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &c)
	}
	return list, rows.Err()
}
