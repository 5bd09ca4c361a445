package styles

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/framelight/backend/internal/models"
)

// ContextStore looks up stored style contexts for the resolver.
type ContextStore interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.StyleContext, error)
}

// Resolver turns a stored context reference or inline settings into resolved,
// package-typed settings at generation time.
type Resolver struct {
	registry *Registry
	contexts ContextStore
	log      *slog.Logger
}

func NewResolver(registry *Registry, contexts ContextStore, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.Default()
	}
	return &Resolver{registry: registry, contexts: contexts, log: log}
}

// Resolve loads the stored context when contextID is set, otherwise uses the
// inline blob, and applies the package adapter. Partially-shaped or legacy
// blobs degrade field-by-field to package defaults.
func (r *Resolver) Resolve(ctx context.Context, packageID string, contextID *uuid.UUID, inline json.RawMessage) (Settings, error) {
	adapter, err := r.registry.Adapter(packageID)
	if err != nil {
		return nil, err
	}

	raw := inline
	if contextID != nil {
		stored, err := r.contexts.GetByID(ctx, *contextID)
		if err != nil {
			return nil, fmt.Errorf("load style context %s: %w", *contextID, err)
		}
		if stored.PackageID != packageID {
			return nil, fmt.Errorf("style context %s belongs to package %q, not %q", stored.ID, stored.PackageID, packageID)
		}
		raw = stored.Settings
	}

	return adapter.Resolve(raw), nil
}

// Serialize is the inverse of Resolve. serialize -> resolve round-trips to
// the identical settings for any value produced by the same package version.
func (r *Resolver) Serialize(s Settings) (json.RawMessage, error) {
	adapter, err := r.registry.Adapter(s.PackageID())
	if err != nil {
		return nil, err
	}
	return adapter.Serialize(s)
}
