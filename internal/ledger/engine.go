package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pixelmuse/backend/internal/models"
	"github.com/pixelmuse/backend/internal/observability"
)

// ErrBalanceNotFound is returned by operations that require a prior balance
// row (deduct, refund, bonus, rollback). It indicates a broken invariant,
// not a routine outcome.
var ErrBalanceNotFound = errors.New("credit balance not found")

// ErrInsufficientFunds is only used by callers that need an error form of a
// failed reservation; Reserve itself reports it as ok=false.
var ErrInsufficientFunds = errors.New("insufficient credits")

var (
	ErrTransactionNotFound = errors.New("transaction not found")
	ErrUnsupportedRollback = errors.New("transaction type cannot be rolled back")
	ErrNonPositiveAmount   = errors.New("amount must be positive")
)

// BalanceStore is the balance-row contract the engine mutates through.
type BalanceStore interface {
	GetForUpdate(ctx context.Context, tx pgx.Tx, teamID int64) (*models.CreditBalance, error)
	CreateTx(ctx context.Context, tx pgx.Tx, teamID int64, nextReplenishmentAt time.Time) (*models.CreditBalance, error)
	UpdateAmountsTx(ctx context.Context, tx pgx.Tx, teamID int64, available, reserved, bonus decimal.Decimal) error
	ResetTx(ctx context.Context, tx pgx.Tx, teamID int64, allocation decimal.Decimal, nextReplenishmentAt time.Time) error
}

// TransactionLog is the append-only ledger contract.
type TransactionLog interface {
	CreateTx(ctx context.Context, tx pgx.Tx, t *models.CreditTransaction) error
	GetByIDTx(ctx context.Context, tx pgx.Tx, id int64) (*models.CreditTransaction, error)
}

// TeamStore resolves a team's plan for replenishment.
type TeamStore interface {
	GetByIDTx(ctx context.Context, tx pgx.Tx, id int64) (*models.Team, error)
}

// TxBeginner abstracts transaction creation so tests don't need a pgxpool.Pool.
type TxBeginner interface {
	Begin(ctx context.Context) (pgx.Tx, error)
}

// Engine is the only component permitted to mutate credit balances. Every
// operation locks the team's balance row, applies the full effect, and
// appends exactly one transaction-log row, or nothing persists.
type Engine struct {
	db       TxBeginner
	balances BalanceStore
	log      TransactionLog
	teams    TeamStore
	metrics  *observability.Metrics
}

func NewEngine(db TxBeginner, balances BalanceStore, log TransactionLog, teams TeamStore, metrics *observability.Metrics) *Engine {
	return &Engine{db: db, balances: balances, log: log, teams: teams, metrics: metrics}
}

func (e *Engine) count(operation, outcome string) {
	e.metrics.LedgerOps.WithLabelValues(operation, outcome).Inc()
}

func (e *Engine) lockBalance(ctx context.Context, tx pgx.Tx, teamID int64) (*models.CreditBalance, error) {
	b, err := e.balances.GetForUpdate(ctx, tx, teamID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrBalanceNotFound
	}
	return b, err
}

// ReserveTx places a hold on credits inside the caller's transaction:
// available -= amount, reserved += amount. Returns ok=false without error
// when the team cannot afford the amount; the balance is untouched.
func (e *Engine) ReserveTx(ctx context.Context, tx pgx.Tx, teamID int64, amount decimal.Decimal, operationType string, jobID *uuid.UUID, meta map[string]any) (bool, error) {
	if !amount.IsPositive() {
		return false, ErrNonPositiveAmount
	}
	b, err := e.lockBalance(ctx, tx, teamID)
	if err != nil {
		return false, err
	}
	if b.AvailableCredits.LessThan(amount) {
		e.count("reserve", "insufficient")
		return false, nil
	}
	newAvailable := b.AvailableCredits.Sub(amount)
	if err := e.balances.UpdateAmountsTx(ctx, tx, teamID, newAvailable, b.ReservedCredits.Add(amount), b.BonusCredits); err != nil {
		return false, err
	}
	err = e.log.CreateTx(ctx, tx, &models.CreditTransaction{
		TeamID:          teamID,
		JobID:           jobID,
		TransactionType: models.TxTypeReservation,
		OperationType:   operationType,
		Amount:          amount,
		BalanceBefore:   b.AvailableCredits,
		BalanceAfter:    newAvailable,
		Metadata:        meta,
	})
	if err != nil {
		return false, err
	}
	e.count("reserve", "ok")
	return true, nil
}

// Reserve is ReserveTx in its own transaction.
func (e *Engine) Reserve(ctx context.Context, teamID int64, amount decimal.Decimal, operationType string, jobID *uuid.UUID, meta map[string]any) (bool, error) {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)
	ok, err := e.ReserveTx(ctx, tx, teamID, amount, operationType, jobID, meta)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, nil
	}
	return true, tx.Commit(ctx)
}

// DeductTx finalizes a previous reservation: reserved -= amount. The funds
// already left available at reserve time, so available is untouched.
func (e *Engine) DeductTx(ctx context.Context, tx pgx.Tx, teamID int64, amount decimal.Decimal, operationType string, jobID uuid.UUID, meta map[string]any) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	b, err := e.lockBalance(ctx, tx, teamID)
	if err != nil {
		return err
	}
	newReserved := b.ReservedCredits.Sub(amount)
	if err := e.balances.UpdateAmountsTx(ctx, tx, teamID, b.AvailableCredits, newReserved, b.BonusCredits); err != nil {
		return err
	}
	if err := e.log.CreateTx(ctx, tx, &models.CreditTransaction{
		TeamID:          teamID,
		JobID:           &jobID,
		TransactionType: models.TxTypeDeduction,
		OperationType:   operationType,
		Amount:          amount,
		BalanceBefore:   b.ReservedCredits,
		BalanceAfter:    newReserved,
		Metadata:        meta,
	}); err != nil {
		return err
	}
	e.count("deduct", "ok")
	return nil
}

// Deduct is DeductTx in its own transaction.
func (e *Engine) Deduct(ctx context.Context, teamID int64, amount decimal.Decimal, operationType string, jobID uuid.UUID, meta map[string]any) error {
	return e.inTx(ctx, func(tx pgx.Tx) error {
		return e.DeductTx(ctx, tx, teamID, amount, operationType, jobID, meta)
	})
}

// RefundTx releases a previous reservation back to available:
// available += amount, reserved -= amount.
func (e *Engine) RefundTx(ctx context.Context, tx pgx.Tx, teamID int64, amount decimal.Decimal, jobID uuid.UUID, reason string) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	b, err := e.lockBalance(ctx, tx, teamID)
	if err != nil {
		return err
	}
	newAvailable := b.AvailableCredits.Add(amount)
	if err := e.balances.UpdateAmountsTx(ctx, tx, teamID, newAvailable, b.ReservedCredits.Sub(amount), b.BonusCredits); err != nil {
		return err
	}
	if reason == "" {
		reason = "Job cancelled or failed"
	}
	if err := e.log.CreateTx(ctx, tx, &models.CreditTransaction{
		TeamID:          teamID,
		JobID:           &jobID,
		TransactionType: models.TxTypeRefund,
		Amount:          amount,
		BalanceBefore:   b.AvailableCredits,
		BalanceAfter:    newAvailable,
		Metadata: map[string]any{
			"reason":     reason,
			"refundedAt": time.Now().UTC().Format(time.RFC3339),
		},
	}); err != nil {
		return err
	}
	e.count("refund", "ok")
	return nil
}

// Refund is RefundTx in its own transaction.
func (e *Engine) Refund(ctx context.Context, teamID int64, amount decimal.Decimal, jobID uuid.UUID, reason string) error {
	return e.inTx(ctx, func(tx pgx.Tx) error {
		return e.RefundTx(ctx, tx, teamID, amount, jobID, reason)
	})
}

// Replenish resets the team's allocation cycle to its plan's monthly
// allotment. A team with no active plan resolves to a zero allocation, so
// the same operation serves both billing grant and revoke events. Creates
// the balance row if the team has never had one.
func (e *Engine) Replenish(ctx context.Context, teamID int64) error {
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		team, err := e.teams.GetByIDTx(ctx, tx, teamID)
		if err != nil {
			return fmt.Errorf("resolve team %d: %w", teamID, err)
		}
		next := time.Now().UTC().AddDate(0, 1, 0)

		b, err := e.balances.GetForUpdate(ctx, tx, teamID)
		if errors.Is(err, pgx.ErrNoRows) {
			b, err = e.balances.CreateTx(ctx, tx, teamID, next)
		}
		if err != nil {
			return err
		}

		allocation := models.AllocationFor(team.PlanTier)
		if err := e.balances.ResetTx(ctx, tx, teamID, allocation, next); err != nil {
			return err
		}
		return e.log.CreateTx(ctx, tx, &models.CreditTransaction{
			TeamID:          teamID,
			TransactionType: models.TxTypeReplenishment,
			Amount:          allocation,
			BalanceBefore:   b.AvailableCredits,
			BalanceAfter:    allocation,
			Metadata: map[string]any{
				"plan":               team.PlanTier,
				"previousAllocation": b.TotalAllocated.String(),
			},
		})
	})
	if err != nil {
		return err
	}
	e.count("replenish", "ok")
	return nil
}

// AddBonus grants extra spendable credits outside the allocation cycle:
// available += amount, bonus += amount. Operator-only.
func (e *Engine) AddBonus(ctx context.Context, teamID int64, amount decimal.Decimal, reason string) error {
	if !amount.IsPositive() {
		return ErrNonPositiveAmount
	}
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		b, err := e.lockBalance(ctx, tx, teamID)
		if err != nil {
			return err
		}
		newAvailable := b.AvailableCredits.Add(amount)
		if err := e.balances.UpdateAmountsTx(ctx, tx, teamID, newAvailable, b.ReservedCredits, b.BonusCredits.Add(amount)); err != nil {
			return err
		}
		return e.log.CreateTx(ctx, tx, &models.CreditTransaction{
			TeamID:          teamID,
			TransactionType: models.TxTypeBonus,
			Amount:          amount,
			BalanceBefore:   b.AvailableCredits,
			BalanceAfter:    newAvailable,
			Metadata:        map[string]any{"reason": reason},
		})
	})
	if err != nil {
		return err
	}
	e.count("bonus", "ok")
	return nil
}

// Rollback reverses a reservation or deduction by appending a compensating
// refund entry. The original row is never edited. Operator-only.
func (e *Engine) Rollback(ctx context.Context, transactionID int64) error {
	err := e.inTx(ctx, func(tx pgx.Tx) error {
		t, err := e.log.GetByIDTx(ctx, tx, transactionID)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrTransactionNotFound
		}
		if err != nil {
			return err
		}
		b, err := e.lockBalance(ctx, tx, t.TeamID)
		if err != nil {
			return err
		}

		newAvailable := b.AvailableCredits.Add(t.Amount)
		switch t.TransactionType {
		case models.TxTypeReservation:
			// Release the hold.
			err = e.balances.UpdateAmountsTx(ctx, tx, t.TeamID, newAvailable, b.ReservedCredits.Sub(t.Amount), b.BonusCredits)
		case models.TxTypeDeduction:
			// Restore already-finalized spend.
			err = e.balances.UpdateAmountsTx(ctx, tx, t.TeamID, newAvailable, b.ReservedCredits, b.BonusCredits)
		default:
			return fmt.Errorf("%w: %s", ErrUnsupportedRollback, t.TransactionType)
		}
		if err != nil {
			return err
		}

		return e.log.CreateTx(ctx, tx, &models.CreditTransaction{
			TeamID:          t.TeamID,
			JobID:           t.JobID,
			TransactionType: models.TxTypeRefund,
			Amount:          t.Amount,
			BalanceBefore:   b.AvailableCredits,
			BalanceAfter:    newAvailable,
			Metadata: map[string]any{
				"rollbackOf":     transactionID,
				"rollbackReason": "Transaction rollback",
			},
		})
	})
	if err != nil {
		return err
	}
	e.count("rollback", "ok")
	return nil
}

func (e *Engine) inTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := e.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}
