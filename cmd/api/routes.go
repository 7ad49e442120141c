package main

import (
	"log/slog"
	"net/http"

	"github.com/pixelmuse/backend/internal/handlers"
	"github.com/pixelmuse/backend/internal/middleware"
	"github.com/pixelmuse/backend/internal/repository"
)

// RegisterV1Routes adds the API-key-authenticated /v1/ endpoints to the mux.
// Middleware chain: APIKeyAuth -> (CreditCheck on POST /v1/jobs only) -> handler.
func RegisterV1Routes(
	mux *http.ServeMux,
	apiKeyRepo *repository.APIKeyRepo,
	balanceRepo *repository.BalanceRepo,
	jobHandler *handlers.JobHandler,
	creditHandler *handlers.CreditHandler,
	logger *slog.Logger,
) {
	auth := middleware.APIKeyAuth(apiKeyRepo)
	creditCheck := middleware.CreditCheck(balanceRepo)

	mux.Handle("POST /v1/jobs", auth(creditCheck(http.HandlerFunc(jobHandler.CreateJob))))
	mux.Handle("GET /v1/jobs/{id}", auth(http.HandlerFunc(jobHandler.GetJob)))
	mux.Handle("GET /v1/jobs", auth(http.HandlerFunc(jobHandler.ListJobs)))
	mux.Handle("POST /v1/jobs/{id}/cancel", auth(http.HandlerFunc(jobHandler.CancelJob)))

	mux.Handle("POST /v1/pricing/estimate", auth(http.HandlerFunc(jobHandler.EstimateCost)))

	mux.Handle("GET /v1/credits/balance", auth(http.HandlerFunc(creditHandler.GetBalance)))
	mux.Handle("GET /v1/credits/history", auth(http.HandlerFunc(creditHandler.GetHistory)))
	mux.Handle("GET /v1/credits/stats", auth(http.HandlerFunc(creditHandler.GetStats)))
}

// RegisterAdminRoutes adds the operator-token-gated endpoints.
func RegisterAdminRoutes(mux *http.ServeMux, admin *handlers.AdminHandler) {
	mux.HandleFunc("POST /admin/credits/bonus", admin.AddBonus)
	mux.HandleFunc("POST /admin/credits/rollback", admin.RollbackTransaction)
	mux.HandleFunc("POST /admin/retention/run", admin.RunRetention)
}
