package models

import "time"

type User struct {
	ID           int64     `json:"id"`
	TeamID       int64     `json:"team_id"`
	Email        string    `json:"email"`
	Name         string    `json:"name"`
	PasswordHash string    `json:"-"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// APIKey authenticates programmatic access for a team. Only the SHA-256
// hash of the key is stored.
type APIKey struct {
	ID         int64      `json:"id"`
	TeamID     int64      `json:"team_id"`
	Name       string     `json:"name"`
	KeyHash    string     `json:"-"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}
