package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// WebhookEventRepo records processed provider notifications for idempotency.
// A unique (provider, event_id) row per event: the first insert wins, repeats
// report inserted=false and the handler no-ops.
type WebhookEventRepo struct {
	pool *pgxpool.Pool
}

func NewWebhookEventRepo(pool *pgxpool.Pool) *WebhookEventRepo {
	return &WebhookEventRepo{pool: pool}
}

func (r *WebhookEventRepo) Insert(ctx context.Context, provider, eventID, eventType string, payload []byte) (inserted bool, err error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO webhook_events (provider, event_id, event_type, payload)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (provider, event_id) DO NOTHING
	`, provider, eventID, eventType, payload)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// Delete removes a dedup row so a failed event can be redelivered.
func (r *WebhookEventRepo) Delete(ctx context.Context, provider, eventID string) error {
	_, err := r.pool.Exec(ctx, `DELETE FROM webhook_events WHERE provider = $1 AND event_id = $2`, provider, eventID)
	return err
}
