package router

import (
	"net/http"

	"github.com/framelight/backend/internal/generation"
	"github.com/framelight/backend/internal/ledger"
	"github.com/framelight/backend/internal/middleware"
	"github.com/framelight/backend/internal/status"
	"github.com/framelight/backend/internal/styles"
)

// New returns an http.Handler serving the API under /v1. Everything except
// the health check requires an authenticated caller.
func New(
	jwtSecret []byte,
	generationHandler *generation.Handler,
	statusHandler *status.Handler,
	stylesHandler *styles.Handler,
	ledgerHandler *ledger.Handler,
) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	api := http.NewServeMux()
	api.HandleFunc("POST /v1/generations", generationHandler.Create)
	api.HandleFunc("GET /v1/generations", generationHandler.List)
	api.HandleFunc("GET /v1/generations/{id}", generationHandler.Get)
	api.HandleFunc("DELETE /v1/generations/{id}", generationHandler.Delete)
	api.HandleFunc("POST /v1/generations/{id}/regenerate", generationHandler.Regenerate)
	api.HandleFunc("GET /v1/generations/{id}/status", statusHandler.Get)

	api.HandleFunc("POST /v1/style-contexts", stylesHandler.Create)
	api.HandleFunc("GET /v1/style-contexts", stylesHandler.List)

	api.HandleFunc("GET /v1/credits/balance", ledgerHandler.Balance)
	api.HandleFunc("GET /v1/credits/transactions", ledgerHandler.Transactions)
	api.HandleFunc("POST /v1/credits/transfer", ledgerHandler.Transfer)

	mux.Handle("/v1/", middleware.Identity(jwtSecret)(api))

	return mux
}
