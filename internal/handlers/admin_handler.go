package handlers

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/pixelmuse/backend/internal/ledger"
)

// OperatorLedger is the subset of the transaction engine exposed to operators.
type OperatorLedger interface {
	AddBonus(ctx context.Context, teamID int64, amount decimal.Decimal, reason string) error
	Rollback(ctx context.Context, transactionID int64) error
}

// RetentionSweeper expires completed jobs past their retention window.
type RetentionSweeper interface {
	ExpireCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// AdminHandler serves operator-only endpoints, gated by a shared operator
// token rather than team credentials.
type AdminHandler struct {
	Ledger        OperatorLedger
	Jobs          RetentionSweeper
	OperatorToken string
	RetentionDays int
	Logger        *slog.Logger
}

// Authorize checks the operator bearer token before each admin action.
func (h *AdminHandler) authorize(w http.ResponseWriter, r *http.Request) bool {
	header := r.Header.Get("Authorization")
	if h.OperatorToken == "" || len(header) < 8 || !strings.EqualFold(header[:7], "bearer ") {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return false
	}
	token := strings.TrimSpace(header[7:])
	if subtle.ConstantTimeCompare([]byte(token), []byte(h.OperatorToken)) != 1 {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return false
	}
	return true
}

type addBonusRequest struct {
	TeamID int64  `json:"team_id"`
	Amount string `json:"amount"`
	Reason string `json:"reason"`
}

// AddBonus handles POST /admin/credits/bonus.
func (h *AdminHandler) AddBonus(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	var req addBonusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil || !amount.IsPositive() {
		http.Error(w, `{"error":"amount must be a positive decimal"}`, http.StatusBadRequest)
		return
	}
	if err := h.Ledger.AddBonus(r.Context(), req.TeamID, amount, req.Reason); err != nil {
		if errors.Is(err, ledger.ErrBalanceNotFound) {
			http.Error(w, `{"error":"team balance not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("add bonus", "error", err, "team_id", req.TeamID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	h.Logger.Info("bonus credits granted", "team_id", req.TeamID, "amount", amount, "reason", req.Reason)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

type rollbackRequest struct {
	TransactionID int64 `json:"transaction_id"`
}

// RollbackTransaction handles POST /admin/credits/rollback.
func (h *AdminHandler) RollbackTransaction(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	var req rollbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if err := h.Ledger.Rollback(r.Context(), req.TransactionID); err != nil {
		switch {
		case errors.Is(err, ledger.ErrTransactionNotFound):
			http.Error(w, `{"error":"transaction not found"}`, http.StatusNotFound)
		case errors.Is(err, ledger.ErrUnsupportedRollback):
			http.Error(w, `{"error":"transaction type cannot be rolled back"}`, http.StatusConflict)
		default:
			h.Logger.Error("rollback transaction", "error", err, "transaction_id", req.TransactionID)
			http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		}
		return
	}
	h.Logger.Info("transaction rolled back", "transaction_id", req.TransactionID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// RunRetention handles POST /admin/retention/run: marks completed jobs older
// than the retention window as expired. Credits are untouched; expiry only
// removes result visibility.
func (h *AdminHandler) RunRetention(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(w, r) {
		return
	}
	days := h.RetentionDays
	if days <= 0 {
		days = 30
	}
	cutoff := time.Now().AddDate(0, 0, -days)
	expired, err := h.Jobs.ExpireCompletedBefore(r.Context(), cutoff)
	if err != nil {
		h.Logger.Error("retention sweep", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	h.Logger.Info("retention sweep finished", "expired", expired, "cutoff", cutoff)
	writeJSON(w, http.StatusOK, map[string]any{"expired": expired})
}
