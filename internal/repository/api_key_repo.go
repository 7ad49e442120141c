package repository

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmuse/backend/internal/models"
)

type APIKeyRepo struct {
	pool *pgxpool.Pool
}

func NewAPIKeyRepo(pool *pgxpool.Pool) *APIKeyRepo {
	return &APIKeyRepo{pool: pool}
}

// APIKeyWithTeam is the auth middleware's lookup result.
type APIKeyWithTeam struct {
	Key  models.APIKey
	Team models.Team
}

// FindByKeyHash resolves a SHA-256 key hash to the key and its team, and
// touches last_used_at. Revoked keys do not match.
func (r *APIKeyRepo) FindByKeyHash(ctx context.Context, keyHash string) (*APIKeyWithTeam, error) {
	var out APIKeyWithTeam
	err := r.pool.QueryRow(ctx, `
		SELECT k.id, k.team_id, k.name, k.created_at,
			t.id, t.name, COALESCE(t.plan_tier, ''), t.billing_customer_id, t.billing_subscription_id, t.created_at, t.updated_at, t.deleted_at
		FROM api_keys k
		JOIN teams t ON t.id = k.team_id
		WHERE k.key_hash = $1 AND k.revoked_at IS NULL AND t.deleted_at IS NULL
	`, keyHash).Scan(
		&out.Key.ID, &out.Key.TeamID, &out.Key.Name, &out.Key.CreatedAt,
		&out.Team.ID, &out.Team.Name, &out.Team.PlanTier, &out.Team.BillingCustomerID, &out.Team.BillingSubscriptionID,
		&out.Team.CreatedAt, &out.Team.UpdatedAt, &out.Team.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	_, _ = r.pool.Exec(ctx, `UPDATE api_keys SET last_used_at = now() WHERE id = $1`, out.Key.ID)
	return &out, nil
}

func (r *APIKeyRepo) Create(ctx context.Context, k *models.APIKey) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO api_keys (team_id, name, key_hash)
		VALUES ($1, $2, $3)
		RETURNING id, created_at
	`, k.TeamID, k.Name, k.KeyHash).Scan(&k.ID, &k.CreatedAt)
}

func (r *APIKeyRepo) ListByTeamID(ctx context.Context, teamID int64) ([]*models.APIKey, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, team_id, name, last_used_at, created_at, revoked_at
		FROM api_keys WHERE team_id = $1 ORDER BY created_at DESC
	`, teamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var keys []*models.APIKey
	for rows.Next() {
		var k models.APIKey
		if err := rows.Scan(&k.ID, &k.TeamID, &k.Name, &k.LastUsedAt, &k.CreatedAt, &k.RevokedAt); err != nil {
			return nil, err
		}
		keys = append(keys, &k)
	}
	return keys, rows.Err()
}

// Revoke soft-deletes a key; only keys belonging to the team are touched.
func (r *APIKeyRepo) Revoke(ctx context.Context, id, teamID int64) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE api_keys SET revoked_at = now()
		WHERE id = $1 AND team_id = $2 AND revoked_at IS NULL
	`, id, teamID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}
