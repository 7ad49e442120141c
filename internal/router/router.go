package router

import (
	"net/http"

	"github.com/pixelmuse/backend/internal/auth"
	"github.com/pixelmuse/backend/internal/dashboard"
)

// New returns an http.Handler serving the dashboard API under /api/v1.
// Register and login are public; everything else requires a session token.
func New(authHandler *auth.Handler, dashHandler *dashboard.Handler, authSvc auth.Service) http.Handler {
	mux := http.NewServeMux()
	session := auth.RequireSession(authSvc)

	mux.HandleFunc("POST /api/v1/auth/register", authHandler.Register)
	mux.HandleFunc("POST /api/v1/auth/login", authHandler.Login)

	mux.Handle("GET /api/v1/team/me", session(http.HandlerFunc(dashHandler.GetMe)))
	mux.Handle("GET /api/v1/credit-ledger", session(http.HandlerFunc(dashHandler.ListCreditLedger)))
	mux.Handle("GET /api/v1/jobs", session(http.HandlerFunc(dashHandler.ListJobs)))
	mux.Handle("GET /api/v1/api-keys", session(http.HandlerFunc(dashHandler.ListAPIKeys)))
	mux.Handle("POST /api/v1/api-keys", session(http.HandlerFunc(dashHandler.CreateAPIKey)))
	mux.Handle("DELETE /api/v1/api-keys/{id}", session(http.HandlerFunc(dashHandler.RevokeAPIKey)))

	return mux
}
