package status

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/framelight/backend/internal/generation"
	"github.com/framelight/backend/internal/middleware"
)

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

// Get serves GET /v1/generations/{id}/status.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	if middleware.CallerFromCtx(r.Context()) == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, "invalid generation id", http.StatusBadRequest)
		return
	}

	m, err := h.svc.Read(r.Context(), id)
	if err != nil {
		if errors.Is(err, generation.ErrGenerationNotFound) {
			http.Error(w, "generation not found", http.StatusNotFound)
			return
		}
		h.log.Error("status read failed", "generation_id", id, "error", err)
		http.Error(w, "status lookup failed", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(m)
}
