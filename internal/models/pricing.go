package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// PricingMultipliers is the per-operation multiplier map stored as jsonb.
// Which keys are present depends on the operation type.
type PricingMultipliers struct {
	ReferenceComplexity           float64            `json:"referenceComplexity,omitempty"`
	TrainingImagesMultiplier      float64            `json:"trainingImagesMultiplier,omitempty"`
	RefinementIterationMultiplier float64            `json:"refinementIterationMultiplier,omitempty"`
	ModelComplexityMultiplier     float64            `json:"modelComplexityMultiplier,omitempty"`
	ResolutionMultiplier          map[string]float64 `json:"resolutionMultiplier,omitempty"`
	QualityMultiplier             map[string]float64 `json:"qualityMultiplier,omitempty"`
}

// PricingConfig holds the base cost and multipliers for one operation type.
// Read-only from the ledger's perspective; updated administratively.
type PricingConfig struct {
	ID            int64              `json:"id"`
	OperationType string             `json:"operation_type"`
	BaseCost      decimal.Decimal    `json:"base_cost"`
	Multipliers   PricingMultipliers `json:"multipliers"`
	Active        bool               `json:"active"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
}
