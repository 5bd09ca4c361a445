package generation

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/framelight/backend/internal/ledger"
	"github.com/framelight/backend/internal/middleware"
	"github.com/framelight/backend/internal/models"
)

// Request/response structs use snake_case JSON.

type CreateRequest struct {
	PackageID      string          `json:"package_id"`
	Title          string          `json:"title"`
	CreditSource   string          `json:"credit_source"`
	StyleContextID *uuid.UUID      `json:"style_context_id,omitempty"`
	StyleSettings  json.RawMessage `json:"style_settings,omitempty"`
	InputImageKeys []string        `json:"input_image_keys"`
	ProviderModel  string          `json:"provider_model"`
	Variations     int             `json:"variations"`
	Prompt         string          `json:"prompt"`
}

type GenerationResponse struct {
	ID                     string          `json:"id"`
	Status                 string          `json:"status"`
	CreditSource           string          `json:"credit_source"`
	CreditsUsed            int             `json:"credits_used"`
	PackageID              string          `json:"package_id"`
	StyleSettings          json.RawMessage `json:"style_settings"`
	InputImageKeys         []string        `json:"input_image_keys"`
	OutputImageKeys        []string        `json:"output_image_keys"`
	GenerationGroupID      string          `json:"generation_group_id"`
	IsOriginal             bool            `json:"is_original"`
	GroupIndex             int             `json:"group_index"`
	RemainingRegenerations int             `json:"remaining_regenerations"`
	ErrorMessage           *string         `json:"error_message,omitempty"`
	CreatedAt              time.Time       `json:"created_at"`
	CompletedAt            *time.Time      `json:"completed_at,omitempty"`
}

type insufficientCreditsResponse struct {
	Error             string `json:"error"`
	Reason            string `json:"reason"`
	Required          int    `json:"required"`
	Available         int    `json:"available"`
	PersonalAvailable int    `json:"personal_available,omitempty"`
}

type Handler struct {
	svc *Service
	log *slog.Logger
}

func NewHandler(svc *Service, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, log: log}
}

func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	var req CreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.PackageID == "" {
		http.Error(w, "package_id is required", http.StatusBadRequest)
		return
	}

	g, err := h.svc.Create(r.Context(), CreateParams{
		OwnerPersonID:  caller.PersonID,
		OwnerTeamID:    caller.TeamID,
		CreditSource:   req.CreditSource,
		PackageID:      req.PackageID,
		Title:          req.Title,
		ContextID:      req.StyleContextID,
		InlineSettings: req.StyleSettings,
		InputImageKeys: req.InputImageKeys,
		ProviderModel:  req.ProviderModel,
		Variations:     req.Variations,
		Prompt:         req.Prompt,
	})
	if err != nil {
		h.writeCreateError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, toResponse(g))
}

func (h *Handler) Regenerate(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid generation id", http.StatusBadRequest)
		return
	}

	regen, err := h.svc.Regenerate(r.Context(), id, caller.PersonID)
	if err != nil {
		switch {
		case errors.Is(err, ErrGenerationNotFound):
			http.Error(w, "generation not found", http.StatusNotFound)
		case errors.Is(err, ErrNotOwner):
			http.Error(w, "forbidden", http.StatusForbidden)
		case errors.Is(err, ErrNotOriginal):
			http.Error(w, "only the original generation can be regenerated", http.StatusBadRequest)
		case errors.Is(err, ErrRegenerationQuotaExhausted):
			http.Error(w, "regeneration quota exhausted", http.StatusConflict)
		default:
			h.log.Error("regenerate failed", "generation_id", id, "error", err)
			http.Error(w, "regeneration failed", http.StatusInternalServerError)
		}
		return
	}
	writeJSON(w, http.StatusAccepted, toResponse(regen))
}

func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid generation id", http.StatusBadRequest)
		return
	}
	g, err := h.svc.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrGenerationNotFound) {
			http.Error(w, "generation not found", http.StatusNotFound)
			return
		}
		h.log.Error("get generation failed", "generation_id", id, "error", err)
		http.Error(w, "lookup failed", http.StatusInternalServerError)
		return
	}
	if g.OwnerPersonID != caller.PersonID || g.Deleted {
		http.Error(w, "generation not found", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(g))
}

func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	list, err := h.svc.ListByOwner(r.Context(), caller.PersonID)
	if err != nil {
		h.log.Error("list generations failed", "error", err)
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}
	out := make([]GenerationResponse, 0, len(list))
	for _, g := range list {
		out = append(out, toResponse(g))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) Delete(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid generation id", http.StatusBadRequest)
		return
	}
	if err := h.svc.Delete(r.Context(), id, caller.PersonID); err != nil {
		if errors.Is(err, ErrNotOwner) {
			http.Error(w, "generation not found", http.StatusNotFound)
			return
		}
		h.log.Error("delete generation failed", "generation_id", id, "error", err)
		http.Error(w, "delete failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) writeCreateError(w http.ResponseWriter, err error) {
	var insufficient *ledger.InsufficientCreditsError
	switch {
	case errors.As(err, &insufficient):
		writeJSON(w, http.StatusPaymentRequired, insufficientCreditsResponse{
			Error:             "insufficient credits",
			Reason:            insufficient.Reason,
			Required:          insufficient.Required,
			Available:         insufficient.Available,
			PersonalAvailable: insufficient.PersonalAvailable,
		})
	case errors.Is(err, ledger.ErrCreditSourceMismatch):
		http.Error(w, "team credit source requires team membership", http.StatusBadRequest)
	case errors.Is(err, ErrNoInputImages):
		http.Error(w, "at least one input image is required", http.StatusBadRequest)
	default:
		h.log.Error("create generation failed", "error", err)
		http.Error(w, "generation request failed", http.StatusInternalServerError)
	}
}

func toResponse(g *models.Generation) GenerationResponse {
	return GenerationResponse{
		ID:                     g.ID.String(),
		Status:                 g.Status,
		CreditSource:           g.CreditSource,
		CreditsUsed:            g.CreditsUsed,
		PackageID:              g.PackageID,
		StyleSettings:          g.StyleSettings,
		InputImageKeys:         g.InputImageKeys,
		OutputImageKeys:        g.OutputImageKeys,
		GenerationGroupID:      g.GenerationGroupID.String(),
		IsOriginal:             g.IsOriginal,
		GroupIndex:             g.GroupIndex,
		RemainingRegenerations: g.RemainingRegenerations,
		ErrorMessage:           g.ErrorMessage,
		CreatedAt:              g.CreatedAt,
		CompletedAt:            g.CompletedAt,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
