package repository

import (
	"context"
	"encoding/json"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmuse/backend/internal/models"
)

type ReferenceModelRepo struct {
	pool *pgxpool.Pool
}

func NewReferenceModelRepo(pool *pgxpool.Pool) *ReferenceModelRepo {
	return &ReferenceModelRepo{pool: pool}
}

func (r *ReferenceModelRepo) GetByID(ctx context.Context, id int64) (*models.ReferenceModel, error) {
	var m models.ReferenceModel
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, category, COALESCE(description, ''), complexity_factor, active, created_at, updated_at
		FROM reference_models WHERE id = $1 AND active
	`, id).Scan(&m.ID, &m.Name, &m.Category, &m.Description, &m.ComplexityFactor, &m.Active, &m.CreatedAt, &m.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &m, nil
}

type CustomModelRepo struct {
	pool *pgxpool.Pool
}

func NewCustomModelRepo(pool *pgxpool.Pool) *CustomModelRepo {
	return &CustomModelRepo{pool: pool}
}

const customModelColumns = `id, team_id, reference_model_id, name, creation_prompt, status, model_url,
	version, refinement_history, created_at, updated_at, deleted_at`

func scanCustomModel(row pgx.Row) (*models.CustomModel, error) {
	var m models.CustomModel
	var history []byte
	err := row.Scan(&m.ID, &m.TeamID, &m.ReferenceModelID, &m.Name, &m.CreationPrompt, &m.Status, &m.ModelURL,
		&m.Version, &history, &m.CreatedAt, &m.UpdatedAt, &m.DeletedAt)
	if err != nil {
		return nil, err
	}
	if len(history) > 0 {
		_ = json.Unmarshal(history, &m.RefinementHistory)
	}
	return &m, nil
}

func (r *CustomModelRepo) GetByID(ctx context.Context, id int64) (*models.CustomModel, error) {
	return scanCustomModel(r.pool.QueryRow(ctx, `
		SELECT `+customModelColumns+` FROM custom_models WHERE id = $1 AND deleted_at IS NULL
	`, id))
}

func (r *CustomModelRepo) GetByIDForTeam(ctx context.Context, id, teamID int64) (*models.CustomModel, error) {
	return scanCustomModel(r.pool.QueryRow(ctx, `
		SELECT `+customModelColumns+` FROM custom_models WHERE id = $1 AND team_id = $2 AND deleted_at IS NULL
	`, id, teamID))
}

func (r *CustomModelRepo) CreateTx(ctx context.Context, tx pgx.Tx, m *models.CustomModel) error {
	return tx.QueryRow(ctx, `
		INSERT INTO custom_models (team_id, reference_model_id, name, creation_prompt, status, version, refinement_history)
		VALUES ($1, $2, $3, $4, $5, 1, '[]')
		RETURNING id, created_at, updated_at
	`, m.TeamID, m.ReferenceModelID, m.Name, m.CreationPrompt, m.Status).Scan(&m.ID, &m.CreatedAt, &m.UpdatedAt)
}

// MarkReadyTx transitions a model out of training/refining with its new URL.
func (r *CustomModelRepo) MarkReadyTx(ctx context.Context, tx pgx.Tx, id int64, modelURL string) error {
	_, err := tx.Exec(ctx, `
		UPDATE custom_models SET status = $2, model_url = $3, updated_at = now() WHERE id = $1
	`, id, models.ModelStatusReady, modelURL)
	return err
}

// AppendRefinementTx bumps the version and records the refinement pass.
func (r *CustomModelRepo) AppendRefinementTx(ctx context.Context, tx pgx.Tx, id int64, modelURL string, entry models.RefinementEntry) error {
	entryData, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = tx.Exec(ctx, `
		UPDATE custom_models
		SET status = $2, model_url = $3, version = version + 1,
			refinement_history = refinement_history || $4::jsonb, updated_at = now()
		WHERE id = $1
	`, id, models.ModelStatusReady, modelURL, entryData)
	return err
}

func (r *CustomModelRepo) MarkFailedTx(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE custom_models SET status = $2, updated_at = now() WHERE id = $1
	`, id, models.ModelStatusFailed)
	return err
}

func (r *CustomModelRepo) UpdateStatus(ctx context.Context, id int64, status string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE custom_models SET status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	return err
}
