package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/pixelmuse/backend/internal/models"
)

type BalanceRepo struct {
	pool *pgxpool.Pool
}

func NewBalanceRepo(pool *pgxpool.Pool) *BalanceRepo {
	return &BalanceRepo{pool: pool}
}

const balanceColumns = `id, team_id, available_credits, reserved_credits, bonus_credits, total_allocated,
	last_replenishment_at, next_replenishment_at, created_at, updated_at`

func scanBalance(row pgx.Row) (*models.CreditBalance, error) {
	var b models.CreditBalance
	err := row.Scan(&b.ID, &b.TeamID, &b.AvailableCredits, &b.ReservedCredits, &b.BonusCredits, &b.TotalAllocated,
		&b.LastReplenishmentAt, &b.NextReplenishmentAt, &b.CreatedAt, &b.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func (r *BalanceRepo) GetByTeamID(ctx context.Context, teamID int64) (*models.CreditBalance, error) {
	return scanBalance(r.pool.QueryRow(ctx, `
		SELECT `+balanceColumns+` FROM credit_balances WHERE team_id = $1
	`, teamID))
}

// GetForUpdate locks the team's balance row for the duration of the caller's
// transaction. Every balance mutation must start here.
func (r *BalanceRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, teamID int64) (*models.CreditBalance, error) {
	return scanBalance(tx.QueryRow(ctx, `
		SELECT `+balanceColumns+` FROM credit_balances WHERE team_id = $1 FOR UPDATE
	`, teamID))
}

// CreateTx bootstraps a zero balance row for a team. Used by replenishment
// when no row exists yet.
func (r *BalanceRepo) CreateTx(ctx context.Context, tx pgx.Tx, teamID int64, nextReplenishmentAt time.Time) (*models.CreditBalance, error) {
	return scanBalance(tx.QueryRow(ctx, `
		INSERT INTO credit_balances (team_id, available_credits, reserved_credits, bonus_credits, total_allocated, next_replenishment_at)
		VALUES ($1, 0, 0, 0, 0, $2)
		RETURNING `+balanceColumns+`
	`, teamID, nextReplenishmentAt))
}

// UpdateAmountsTx writes the three mutable credit columns. Call after
// GetForUpdate in the same transaction.
func (r *BalanceRepo) UpdateAmountsTx(ctx context.Context, tx pgx.Tx, teamID int64, available, reserved, bonus decimal.Decimal) error {
	_, err := tx.Exec(ctx, `
		UPDATE credit_balances
		SET available_credits = $2, reserved_credits = $3, bonus_credits = $4, updated_at = now()
		WHERE team_id = $1
	`, teamID, available, reserved, bonus)
	return err
}

// ResetTx applies a replenishment: full reset of the allocation cycle.
func (r *BalanceRepo) ResetTx(ctx context.Context, tx pgx.Tx, teamID int64, allocation decimal.Decimal, nextReplenishmentAt time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE credit_balances
		SET available_credits = $2, reserved_credits = 0, bonus_credits = 0, total_allocated = $2,
			last_replenishment_at = now(), next_replenishment_at = $3, updated_at = now()
		WHERE team_id = $1
	`, teamID, allocation, nextReplenishmentAt)
	return err
}
