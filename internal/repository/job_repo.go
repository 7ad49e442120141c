package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmuse/backend/internal/models"
)

type JobRepo struct {
	pool *pgxpool.Pool
}

func NewJobRepo(pool *pgxpool.Pool) *JobRepo {
	return &JobRepo{pool: pool}
}

func (r *JobRepo) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.Begin(ctx)
}

const jobColumns = `id, team_id, user_id, job_type, custom_model_id, status, priority, input_data, result_data,
	error, estimated_credits, queued_at, started_at, completed_at, expires_at, created_at`

func scanJob(row pgx.Row) (*models.Job, error) {
	var j models.Job
	var errData []byte
	err := row.Scan(&j.ID, &j.TeamID, &j.UserID, &j.JobType, &j.CustomModelID, &j.Status, &j.Priority,
		&j.InputData, &j.ResultData, &errData, &j.EstimatedCredits,
		&j.QueuedAt, &j.StartedAt, &j.CompletedAt, &j.ExpiresAt, &j.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(errData) > 0 {
		var je models.JobError
		if err := json.Unmarshal(errData, &je); err == nil {
			j.Error = &je
		}
	}
	return &j, nil
}

// CreateTx persists a new queued job inside the caller's transaction so job
// creation, credit reservation, and queue insertion commit together.
func (r *JobRepo) CreateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error {
	return tx.QueryRow(ctx, `
		INSERT INTO jobs (id, team_id, user_id, job_type, custom_model_id, status, priority, input_data, estimated_credits)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING queued_at, created_at
	`, j.ID, j.TeamID, j.UserID, j.JobType, j.CustomModelID, j.Status, j.Priority, j.InputData, j.EstimatedCredits).
		Scan(&j.QueuedAt, &j.CreatedAt)
}

func (r *JobRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
}

func (r *JobRepo) GetByIDForTeam(ctx context.Context, id uuid.UUID, teamID int64) (*models.Job, error) {
	return scanJob(r.pool.QueryRow(ctx, `
		SELECT `+jobColumns+` FROM jobs WHERE id = $1 AND team_id = $2
	`, id, teamID))
}

// GetForUpdate locks the job row so concurrent webhook deliveries and
// cancellations serialize on the job's lifecycle.
func (r *JobRepo) GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error) {
	return scanJob(tx.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1 FOR UPDATE`, id))
}

// MarkProcessing records the external executor picking up the job. Only sets
// started_at on the first notification.
func (r *JobRepo) MarkProcessing(ctx context.Context, id uuid.UUID) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $2, started_at = COALESCE(started_at, now())
		WHERE id = $1 AND status IN ($3, $2)
	`, id, models.JobStatusProcessing, models.JobStatusQueued)
	return err
}

func (r *JobRepo) MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, resultData json.RawMessage) error {
	_, err := tx.Exec(ctx, `
		UPDATE jobs SET status = $2, result_data = $3, completed_at = now() WHERE id = $1
	`, id, models.JobStatusCompleted, resultData)
	return err
}

func (r *JobRepo) MarkFailedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, jobErr *models.JobError) error {
	errData, err := json.Marshal(jobErr)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = $2, error = $3, completed_at = now() WHERE id = $1
	`, id, models.JobStatusFailed, errData)
	return err
}

func (r *JobRepo) MarkCancelledTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, jobErr *models.JobError) error {
	errData, err := json.Marshal(jobErr)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE jobs SET status = $2, error = $3, completed_at = now() WHERE id = $1
	`, id, models.JobStatusCancelled, errData)
	return err
}

// ListFilter narrows ListByTeamID. Zero values mean "no filter".
type ListFilter struct {
	Status  string
	JobType string
	Limit   int
	Offset  int
}

func (r *JobRepo) ListByTeamID(ctx context.Context, teamID int64, f ListFilter) ([]*models.Job, error) {
	limit := f.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE team_id = $1
		  AND ($2 = '' OR status = $2)
		  AND ($3 = '' OR job_type = $3)
		ORDER BY queued_at DESC
		LIMIT $4 OFFSET $5
	`, teamID, f.Status, f.JobType, limit, f.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, j)
	}
	return list, rows.Err()
}

// ExpireCompletedBefore marks completed jobs older than cutoff as expired.
// Run by the retention sweep, not by the job lifecycle.
func (r *JobRepo) ExpireCompletedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE jobs SET status = $1, expires_at = now()
		WHERE status = $2 AND completed_at < $3
	`, models.JobStatusExpired, models.JobStatusCompleted, cutoff)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
