package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Credit transaction types. The log is append-only: corrections are made by
// inserting a compensating refund row, never by editing a prior row.
const (
	TxTypeReservation   = "reservation"
	TxTypeDeduction     = "deduction"
	TxTypeRefund        = "refund"
	TxTypeReplenishment = "replenishment"
	TxTypeBonus         = "bonus"
)

type CreditTransaction struct {
	ID              int64           `json:"id"`
	TeamID          int64           `json:"team_id"`
	JobID           *uuid.UUID      `json:"job_id,omitempty"`
	TransactionType string          `json:"transaction_type"`
	OperationType   string          `json:"operation_type,omitempty"`
	Amount          decimal.Decimal `json:"amount"`
	BalanceBefore   decimal.Decimal `json:"balance_before"`
	BalanceAfter    decimal.Decimal `json:"balance_after"`
	Metadata        map[string]any  `json:"metadata,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
}
