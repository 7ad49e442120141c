package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmuse/backend/internal/models"
)

type TeamRepo struct {
	pool *pgxpool.Pool
}

func NewTeamRepo(pool *pgxpool.Pool) *TeamRepo {
	return &TeamRepo{pool: pool}
}

const teamColumns = `id, name, COALESCE(plan_tier, ''), billing_customer_id, billing_subscription_id, created_at, updated_at, deleted_at`

func scanTeam(row pgx.Row) (*models.Team, error) {
	var t models.Team
	err := row.Scan(&t.ID, &t.Name, &t.PlanTier, &t.BillingCustomerID, &t.BillingSubscriptionID,
		&t.CreatedAt, &t.UpdatedAt, &t.DeletedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (r *TeamRepo) GetByID(ctx context.Context, id int64) (*models.Team, error) {
	return scanTeam(r.pool.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
}

// GetByIDTx reads the team inside the caller's transaction so the plan the
// replenishment resolves is the plan at commit time.
func (r *TeamRepo) GetByIDTx(ctx context.Context, tx pgx.Tx, id int64) (*models.Team, error) {
	return scanTeam(tx.QueryRow(ctx, `SELECT `+teamColumns+` FROM teams WHERE id = $1`, id))
}

func (r *TeamRepo) GetByBillingCustomerID(ctx context.Context, customerID string) (*models.Team, error) {
	return scanTeam(r.pool.QueryRow(ctx, `
		SELECT `+teamColumns+` FROM teams WHERE billing_customer_id = $1
	`, customerID))
}

// UpdateSubscription records the billing provider's view of the team's plan.
func (r *TeamRepo) UpdateSubscription(ctx context.Context, id int64, planTier string, subscriptionID *string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE teams SET plan_tier = $2, billing_subscription_id = $3, updated_at = now() WHERE id = $1
	`, id, planTier, subscriptionID)
	return err
}
