package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Job types: the closed set of externally-executed operations.
const (
	JobTypeModelCreation   = "model_creation"
	JobTypeModelRefinement = "model_refinement"
	JobTypeImageGeneration = "image_generation"
)

// Job lifecycle: queued → processing → {completed | failed | cancelled}.
// expired is reachable only from completed via retention cleanup.
const (
	JobStatusQueued     = "queued"
	JobStatusProcessing = "processing"
	JobStatusCompleted  = "completed"
	JobStatusFailed     = "failed"
	JobStatusCancelled  = "cancelled"
	JobStatusExpired    = "expired"
)

// ValidJobType reports whether t is one of the supported job types.
func ValidJobType(t string) bool {
	switch t {
	case JobTypeModelCreation, JobTypeModelRefinement, JobTypeImageGeneration:
		return true
	}
	return false
}

// TerminalStatus reports whether a job in this status accepts no further
// lifecycle transitions from execution.
func TerminalStatus(s string) bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled, JobStatusExpired:
		return true
	}
	return false
}

// JobError is the structured error stored on a failed job.
type JobError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
}

type Job struct {
	ID               uuid.UUID       `json:"id"`
	TeamID           int64           `json:"team_id"`
	UserID           int64           `json:"user_id"`
	JobType          string          `json:"job_type"`
	CustomModelID    *int64          `json:"custom_model_id,omitempty"`
	Status           string          `json:"status"`
	Priority         int             `json:"priority"`
	InputData        json.RawMessage `json:"input_data"`
	ResultData       json.RawMessage `json:"result_data,omitempty"`
	Error            *JobError       `json:"error,omitempty"`
	EstimatedCredits decimal.Decimal `json:"estimated_credits"`
	QueuedAt         time.Time       `json:"queued_at"`
	StartedAt        *time.Time      `json:"started_at,omitempty"`
	CompletedAt      *time.Time      `json:"completed_at,omitempty"`
	ExpiresAt        *time.Time      `json:"expires_at,omitempty"`
	CreatedAt        time.Time       `json:"created_at"`
}
