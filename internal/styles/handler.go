package styles

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/framelight/backend/internal/middleware"
	"github.com/framelight/backend/internal/models"
)

// ContextWriter is the persistence slice the handler needs beyond resolution.
type ContextWriter interface {
	Create(ctx context.Context, c *models.StyleContext) error
	ListForOwner(ctx context.Context, personID uuid.UUID, teamID *uuid.UUID) ([]*models.StyleContext, error)
}

type CreateContextRequest struct {
	Name        string          `json:"name"`
	PackageID   string          `json:"package_id"`
	StylePreset string          `json:"style_preset"`
	Ownership   string          `json:"ownership"`
	Settings    json.RawMessage `json:"settings"`
}

type Handler struct {
	store    ContextWriter
	registry *Registry
	log      *slog.Logger
}

func NewHandler(store ContextWriter, registry *Registry, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{store: store, registry: registry, log: log}
}

// Create serves POST /v1/style-contexts. Settings are normalized through the
// package adapter so stored blobs are always fully shaped.
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	var req CreateContextRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Name == "" || req.PackageID == "" {
		http.Error(w, "name and package_id are required", http.StatusBadRequest)
		return
	}

	adapter, err := h.registry.Adapter(req.PackageID)
	if err != nil {
		http.Error(w, "unknown package", http.StatusBadRequest)
		return
	}
	normalized, err := adapter.Serialize(adapter.Resolve(req.Settings))
	if err != nil {
		h.log.Error("normalize settings failed", "package", req.PackageID, "error", err)
		http.Error(w, "settings could not be processed", http.StatusInternalServerError)
		return
	}

	ownership := req.Ownership
	ownerID := &caller.PersonID
	switch ownership {
	case models.ContextOwnershipTeam:
		if caller.TeamID == nil {
			http.Error(w, "team ownership requires team membership", http.StatusBadRequest)
			return
		}
		ownerID = caller.TeamID
	case models.ContextOwnershipShared:
		ownerID = nil
	default:
		ownership = models.ContextOwnershipPersonal
	}

	c := &models.StyleContext{
		ID:          uuid.New(),
		Ownership:   ownership,
		OwnerID:     ownerID,
		PackageID:   req.PackageID,
		StylePreset: req.StylePreset,
		Name:        req.Name,
		Settings:    normalized,
	}
	if err := h.store.Create(r.Context(), c); err != nil {
		h.log.Error("create style context failed", "error", err)
		http.Error(w, "create failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(c)
}

// List serves GET /v1/style-contexts.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	list, err := h.store.ListForOwner(r.Context(), caller.PersonID, caller.TeamID)
	if err != nil {
		h.log.Error("list style contexts failed", "error", err)
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.StyleContext{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(list)
}
