package pricing

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pixelmuse/backend/internal/models"
)

// Pricing rows and reference models are configuration: a missing row is a
// deployment error, fatal to the request, never retried.
var (
	ErrNotConfigured          = errors.New("operation pricing not configured")
	ErrReferenceModelNotFound = errors.New("reference model not found")
)

// ConfigStore reads the per-operation pricing table.
type ConfigStore interface {
	GetByOperationType(ctx context.Context, operationType string) (*models.PricingConfig, error)
}

// ReferenceModelStore resolves reference-model complexity for model creation.
type ReferenceModelStore interface {
	GetByID(ctx context.Context, id int64) (*models.ReferenceModel, error)
}

// Default multiplier values applied when the config row omits a key.
var (
	defaultReferenceComplexity  = decimal.NewFromFloat(1.5)
	defaultTrainingImages       = decimal.NewFromFloat(0.5)
	defaultRefinementIteration  = decimal.NewFromFloat(1.2)
	defaultRefinementComplexity = decimal.NewFromFloat(1.1)
	defaultGenerationComplexity = decimal.NewFromFloat(1.2)
)

// freeTrainingImages is the number of training images included in the base cost.
const freeTrainingImages = 5

// Params is the closed set of cost-computation inputs, one variant per
// operation type.
type Params interface {
	operationType() string
}

type ModelCreationParams struct {
	ReferenceModelID    int64
	TrainingImagesCount int
}

type ModelRefinementParams struct {
	RefinementIteration   int
	ModelComplexityFactor decimal.Decimal
}

type ImageGenerationParams struct {
	Resolution            string // 512x512 | 1024x1024 | 1536x1536
	Quality               string // normal | hd
	ModelComplexityFactor decimal.Decimal
	NumImages             int
}

func (ModelCreationParams) operationType() string   { return models.JobTypeModelCreation }
func (ModelRefinementParams) operationType() string { return models.JobTypeModelRefinement }
func (ImageGenerationParams) operationType() string { return models.JobTypeImageGeneration }

// Service computes deterministic credit costs. No side effects beyond
// reading pricing config and reference models.
type Service struct {
	configs ConfigStore
	refs    ReferenceModelStore
}

func NewService(configs ConfigStore, refs ReferenceModelStore) *Service {
	return &Service{configs: configs, refs: refs}
}

// CostOf returns the credit cost of an operation, rounded up to 2 decimal
// places. The raw formula result is never rounded down.
func (s *Service) CostOf(ctx context.Context, p Params) (decimal.Decimal, error) {
	cfg, err := s.configs.GetByOperationType(ctx, p.operationType())
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrNotConfigured, p.operationType())
	}
	if err != nil {
		return decimal.Zero, err
	}

	var cost decimal.Decimal
	switch p := p.(type) {
	case ModelCreationParams:
		cost, err = s.modelCreationCost(ctx, cfg, p)
	case ModelRefinementParams:
		cost = refinementCost(cfg, p)
	case ImageGenerationParams:
		cost = imageGenerationCost(cfg, p)
	default:
		return decimal.Zero, fmt.Errorf("unknown params type %T", p)
	}
	if err != nil {
		return decimal.Zero, err
	}
	return cost.RoundCeil(2), nil
}

// modelCreationCost = baseCost * complexityFactor * referenceComplexity
//                   + max(0, trainingImages-5) * trainingImagesMultiplier
func (s *Service) modelCreationCost(ctx context.Context, cfg *models.PricingConfig, p ModelCreationParams) (decimal.Decimal, error) {
	ref, err := s.refs.GetByID(ctx, p.ReferenceModelID)
	if errors.Is(err, pgx.ErrNoRows) {
		return decimal.Zero, fmt.Errorf("%w: %d", ErrReferenceModelNotFound, p.ReferenceModelID)
	}
	if err != nil {
		return decimal.Zero, err
	}

	complexityMult := multiplierOr(cfg.Multipliers.ReferenceComplexity, defaultReferenceComplexity)
	imageMult := multiplierOr(cfg.Multipliers.TrainingImagesMultiplier, defaultTrainingImages)

	additionalImages := p.TrainingImagesCount - freeTrainingImages
	if additionalImages < 0 {
		additionalImages = 0
	}
	return cfg.BaseCost.
		Mul(ref.ComplexityFactor).
		Mul(complexityMult).
		Add(decimal.NewFromInt(int64(additionalImages)).Mul(imageMult)), nil
}

// refinementCost = baseCost * iterationMultiplier^iteration
//                * (modelComplexityFactor * modelComplexityMultiplier)
func refinementCost(cfg *models.PricingConfig, p ModelRefinementParams) decimal.Decimal {
	iterMult := multiplierOr(cfg.Multipliers.RefinementIterationMultiplier, defaultRefinementIteration)
	complexityMult := multiplierOr(cfg.Multipliers.ModelComplexityMultiplier, defaultRefinementComplexity)

	return cfg.BaseCost.
		Mul(iterMult.Pow(decimal.NewFromInt(int64(p.RefinementIteration)))).
		Mul(p.ModelComplexityFactor.Mul(complexityMult))
}

// imageGenerationCost = baseCost * resolutionMultiplier * qualityMultiplier
//                     * (modelComplexityFactor * modelComplexityMultiplier) * numImages
func imageGenerationCost(cfg *models.PricingConfig, p ImageGenerationParams) decimal.Decimal {
	resMult := tableMultiplier(cfg.Multipliers.ResolutionMultiplier, p.Resolution)
	qualMult := tableMultiplier(cfg.Multipliers.QualityMultiplier, p.Quality)
	complexityMult := multiplierOr(cfg.Multipliers.ModelComplexityMultiplier, defaultGenerationComplexity)

	numImages := p.NumImages
	if numImages < 1 {
		numImages = 1
	}
	return cfg.BaseCost.
		Mul(resMult).
		Mul(qualMult).
		Mul(p.ModelComplexityFactor.Mul(complexityMult)).
		Mul(decimal.NewFromInt(int64(numImages)))
}

func multiplierOr(v float64, def decimal.Decimal) decimal.Decimal {
	if v == 0 {
		return def
	}
	return decimal.NewFromFloat(v)
}

func tableMultiplier(table map[string]float64, key string) decimal.Decimal {
	if v, ok := table[key]; ok && v != 0 {
		return decimal.NewFromFloat(v)
	}
	return decimal.NewFromInt(1)
}
