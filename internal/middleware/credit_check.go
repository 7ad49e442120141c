package middleware

import (
	"context"
	"net/http"

	"github.com/pixelmuse/backend/internal/models"
)

// BalanceLookup resolves a team's current credit balance.
type BalanceLookup interface {
	GetByTeamID(ctx context.Context, teamID int64) (*models.CreditBalance, error)
}

// CreditCheck rejects job submissions from teams with no available credits
// before the handler does any pricing work. The authoritative affordability
// check still happens inside the reservation transaction.
func CreditCheck(balances BalanceLookup) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			team := TeamFromCtx(r.Context())
			if team == nil {
				http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
				return
			}

			balance, err := balances.GetByTeamID(r.Context(), team.ID)
			if err != nil {
				// No balance row yet: let the handler surface the
				// insufficient-credits error with full context.
				next.ServeHTTP(w, r)
				return
			}
			if balance.AvailableCredits.IsZero() || balance.AvailableCredits.IsNegative() {
				http.Error(w, `{"error":"insufficient credits"}`, http.StatusPaymentRequired)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
