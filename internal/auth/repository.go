package auth

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pixelmuse/backend/internal/models"
)

type Repository struct {
	pool *pgxpool.Pool
}

func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// CreateWithTeam inserts a team and its founding admin user atomically.
func (r *Repository) CreateWithTeam(ctx context.Context, email, passwordHash, name, teamName string) (*models.User, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	var teamID int64
	err = tx.QueryRow(ctx, `
		INSERT INTO teams (name) VALUES ($1) RETURNING id
	`, teamName).Scan(&teamID)
	if err != nil {
		return nil, err
	}

	user := &models.User{TeamID: teamID, Email: email, Name: name, Role: "admin"}
	err = tx.QueryRow(ctx, `
		INSERT INTO users (team_id, email, name, password_hash, role)
		VALUES ($1, $2, $3, $4, 'admin')
		RETURNING id, created_at, updated_at
	`, teamID, email, name, passwordHash).Scan(&user.ID, &user.CreatedAt, &user.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return user, nil
}

// GetByEmail returns the user including password hash. Returns nil if not found.
func (r *Repository) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	var u models.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, team_id, email, name, password_hash, role, created_at, updated_at
		FROM users WHERE email = $1
	`, email).Scan(&u.ID, &u.TeamID, &u.Email, &u.Name, &u.PasswordHash, &u.Role, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return &u, nil
}
