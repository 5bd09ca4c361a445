package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/framelight/backend/internal/middleware"
	"github.com/framelight/backend/internal/models"
)

// TransactionLister reads ledger history for the transactions endpoint.
type TransactionLister interface {
	ListByScope(ctx context.Context, scope Scope, limit int) ([]*models.CreditTransaction, error)
}

type BalanceResponse struct {
	Personal int  `json:"personal"`
	Team     *int `json:"team,omitempty"`
}

type TransferRequest struct {
	Amount      int    `json:"amount"`
	Direction   string `json:"direction"`
	Description string `json:"description"`
}

type Handler struct {
	svc    Service
	lister TransactionLister
	log    *slog.Logger
}

func NewHandler(svc Service, lister TransactionLister, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{svc: svc, lister: lister, log: log}
}

// Balance serves GET /v1/credits/balance: the caller's personal balance plus
// the team pool when they belong to one.
func (h *Handler) Balance(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	personal, err := h.svc.Balance(r.Context(), PersonScope(caller.PersonID))
	if err != nil {
		h.log.Error("balance lookup failed", "error", err)
		http.Error(w, "balance lookup failed", http.StatusInternalServerError)
		return
	}
	resp := BalanceResponse{Personal: personal}
	if caller.TeamID != nil {
		team, err := h.svc.Balance(r.Context(), TeamScope(*caller.TeamID))
		if err != nil {
			h.log.Error("team balance lookup failed", "error", err)
			http.Error(w, "balance lookup failed", http.StatusInternalServerError)
			return
		}
		resp.Team = &team
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(resp)
}

// Transactions serves GET /v1/credits/transactions: the caller's personal
// audit trail, or the team pool's with ?scope=team.
func (h *Handler) Transactions(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}

	scope := PersonScope(caller.PersonID)
	if r.URL.Query().Get("scope") == models.CreditScopeTeam {
		if caller.TeamID == nil {
			http.Error(w, "no team membership", http.StatusBadRequest)
			return
		}
		scope = TeamScope(*caller.TeamID)
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.lister.ListByScope(r.Context(), scope, limit)
	if err != nil {
		h.log.Error("list transactions failed", "error", err)
		http.Error(w, "listing failed", http.StatusInternalServerError)
		return
	}
	if list == nil {
		list = []*models.CreditTransaction{}
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(list)
}

// Transfer serves POST /v1/credits/transfer, moving credits between the
// caller's personal balance and their team pool.
func (h *Handler) Transfer(w http.ResponseWriter, r *http.Request) {
	caller := middleware.CallerFromCtx(r.Context())
	if caller == nil {
		http.Error(w, "unauthenticated", http.StatusUnauthorized)
		return
	}
	if caller.TeamID == nil {
		http.Error(w, "transfer requires team membership", http.StatusBadRequest)
		return
	}
	var req TransferRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Amount <= 0 {
		http.Error(w, "amount must be positive", http.StatusBadRequest)
		return
	}

	from, to := PersonScope(caller.PersonID), TeamScope(*caller.TeamID)
	if req.Direction == "to_personal" {
		from, to = to, from
	}
	if err := h.svc.Transfer(r.Context(), from, to, req.Amount, req.Description); err != nil {
		var insufficient *InsufficientCreditsError
		if errors.As(err, &insufficient) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusPaymentRequired)
			_ = json.NewEncoder(w).Encode(map[string]any{
				"error":     "insufficient credits",
				"reason":    insufficient.Reason,
				"required":  insufficient.Required,
				"available": insufficient.Available,
			})
			return
		}
		h.log.Error("transfer failed", "error", err)
		http.Error(w, "transfer failed", http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
