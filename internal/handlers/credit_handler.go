package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/pixelmuse/backend/internal/middleware"
	"github.com/pixelmuse/backend/internal/models"
)

// BalanceReader loads a team's balance row.
type BalanceReader interface {
	GetByTeamID(ctx context.Context, teamID int64) (*models.CreditBalance, error)
}

// TransactionReader pages the ledger log and aggregates spend.
type TransactionReader interface {
	ListByTeamID(ctx context.Context, teamID int64, limit, offset int) ([]*models.CreditTransaction, error)
	SumByType(ctx context.Context, teamID int64, txType string) (map[string]string, error)
}

// CreditHandler serves /v1/credits endpoints.
type CreditHandler struct {
	Balances     BalanceReader
	Transactions TransactionReader
	Logger       *slog.Logger
}

type balanceResponse struct {
	AvailableCredits    string `json:"available_credits"`
	ReservedCredits     string `json:"reserved_credits"`
	BonusCredits        string `json:"bonus_credits"`
	UsedCredits         string `json:"used_credits"`
	TotalAllocated      string `json:"total_allocated"`
	NextReplenishmentAt string `json:"next_replenishment_at"`
}

// GetBalance handles GET /v1/credits/balance. Teams with no balance row yet
// see a zero balance rather than a 404.
func (h *CreditHandler) GetBalance(w http.ResponseWriter, r *http.Request) {
	team := middleware.TeamFromCtx(r.Context())
	if team == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	balance, err := h.Balances.GetByTeamID(r.Context(), team.ID)
	if err != nil {
		writeJSON(w, http.StatusOK, balanceResponse{
			AvailableCredits: "0.00", ReservedCredits: "0.00",
			BonusCredits: "0.00", UsedCredits: "0.00", TotalAllocated: "0.00",
		})
		return
	}
	writeJSON(w, http.StatusOK, balanceResponse{
		AvailableCredits:    balance.AvailableCredits.StringFixed(2),
		ReservedCredits:     balance.ReservedCredits.StringFixed(2),
		BonusCredits:        balance.BonusCredits.StringFixed(2),
		UsedCredits:         balance.UsedCredits().StringFixed(2),
		TotalAllocated:      balance.TotalAllocated.StringFixed(2),
		NextReplenishmentAt: balance.NextReplenishmentAt.Format("2006-01-02T15:04:05Z07:00"),
	})
}

// GetHistory handles GET /v1/credits/history with limit/offset paging.
func (h *CreditHandler) GetHistory(w http.ResponseWriter, r *http.Request) {
	team := middleware.TeamFromCtx(r.Context())
	if team == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	list, err := h.Transactions.ListByTeamID(r.Context(), team.ID, limit, offset)
	if err != nil {
		h.Logger.Error("list transactions", "error", err, "team_id", team.ID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transactions": list})
}

// GetStats handles GET /v1/credits/stats: total deducted and refunded per
// operation type for the team, straight from the ledger log.
func (h *CreditHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	team := middleware.TeamFromCtx(r.Context())
	if team == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	deducted, err := h.Transactions.SumByType(r.Context(), team.ID, models.TxTypeDeduction)
	if err != nil {
		h.Logger.Error("sum deductions", "error", err, "team_id", team.ID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	refunded, err := h.Transactions.SumByType(r.Context(), team.ID, models.TxTypeRefund)
	if err != nil {
		h.Logger.Error("sum refunds", "error", err, "team_id", team.ID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"deducted_by_operation": deducted,
		"refunded_by_operation": refunded,
	})
}
