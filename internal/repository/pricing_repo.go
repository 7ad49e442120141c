package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmuse/backend/internal/models"
)

type PricingRepo struct {
	pool *pgxpool.Pool
}

func NewPricingRepo(pool *pgxpool.Pool) *PricingRepo {
	return &PricingRepo{pool: pool}
}

func (r *PricingRepo) GetByOperationType(ctx context.Context, operationType string) (*models.PricingConfig, error) {
	var p models.PricingConfig
	var multipliers []byte
	err := r.pool.QueryRow(ctx, `
		SELECT id, operation_type, base_cost, multipliers, active, created_at, updated_at
		FROM credit_pricing_config
		WHERE operation_type = $1 AND active
	`, operationType).Scan(&p.ID, &p.OperationType, &p.BaseCost, &multipliers, &p.Active, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(multipliers, &p.Multipliers); err != nil {
		return nil, err
	}
	return &p, nil
}
