package models

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// Custom model statuses over the training/refinement lifecycle.
const (
	ModelStatusPending  = "pending"
	ModelStatusTraining = "training"
	ModelStatusRefining = "refining"
	ModelStatusReady    = "ready"
	ModelStatusFailed   = "failed"
)

// ReferenceModel is a curated base model whose complexity factor feeds the
// pricing formulas.
type ReferenceModel struct {
	ID               int64           `json:"id"`
	Name             string          `json:"name"`
	Category         string          `json:"category"`
	Description      string          `json:"description,omitempty"`
	ComplexityFactor decimal.Decimal `json:"complexity_factor"`
	Active           bool            `json:"active"`
	CreatedAt        time.Time       `json:"created_at"`
	UpdatedAt        time.Time       `json:"updated_at"`
}

// RefinementEntry records one completed refinement pass on a custom model.
type RefinementEntry struct {
	Iteration int             `json:"iteration"`
	ModelURL  string          `json:"model_url"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`
	RefinedAt string          `json:"refined_at"`
}

// CustomModel is a team-owned model trained from a reference model.
type CustomModel struct {
	ID                int64             `json:"id"`
	TeamID            int64             `json:"team_id"`
	ReferenceModelID  int64             `json:"reference_model_id"`
	Name              string            `json:"name"`
	CreationPrompt    string            `json:"creation_prompt"`
	Status            string            `json:"status"`
	ModelURL          *string           `json:"model_url,omitempty"`
	Version           int               `json:"version"`
	RefinementHistory []RefinementEntry `json:"refinement_history"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
	DeletedAt         *time.Time        `json:"deleted_at,omitempty"`
}
