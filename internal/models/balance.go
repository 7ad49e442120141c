package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// CreditBalance is the single serialization point for a team's credits.
// Mutated exclusively by the ledger engine under a FOR UPDATE row lock;
// invariant: AvailableCredits + ReservedCredits <= TotalAllocated.
type CreditBalance struct {
	ID                  int64           `json:"id"`
	TeamID              int64           `json:"team_id"`
	AvailableCredits    decimal.Decimal `json:"available_credits"`
	ReservedCredits     decimal.Decimal `json:"reserved_credits"`
	BonusCredits        decimal.Decimal `json:"bonus_credits"`
	TotalAllocated      decimal.Decimal `json:"total_allocated"`
	LastReplenishmentAt time.Time       `json:"last_replenishment_at"`
	NextReplenishmentAt time.Time       `json:"next_replenishment_at"`
	CreatedAt           time.Time       `json:"created_at"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

// UsedCredits is the spend already deducted from this allocation cycle.
func (b *CreditBalance) UsedCredits() decimal.Decimal {
	return b.TotalAllocated.Sub(b.AvailableCredits).Sub(b.ReservedCredits)
}
