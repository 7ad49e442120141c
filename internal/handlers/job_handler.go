package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/pixelmuse/backend/internal/jobs"
	"github.com/pixelmuse/backend/internal/middleware"
	"github.com/pixelmuse/backend/internal/models"
	"github.com/pixelmuse/backend/internal/observability"
	"github.com/pixelmuse/backend/internal/pricing"
	"github.com/pixelmuse/backend/internal/repository"
	"github.com/pixelmuse/backend/internal/validation"
)

// JobCoordinator is the subset of the job service the handler drives.
type JobCoordinator interface {
	Create(ctx context.Context, p jobs.CreateParams) (*models.Job, error)
	Cancel(ctx context.Context, jobID uuid.UUID, teamID int64) (bool, error)
	GetForTeam(ctx context.Context, jobID uuid.UUID, teamID int64) (*models.Job, error)
	List(ctx context.Context, teamID int64, f repository.ListFilter) ([]*models.Job, error)
}

// Pricer computes credit costs for job submissions and estimates.
type Pricer interface {
	CostOf(ctx context.Context, p pricing.Params) (decimal.Decimal, error)
}

// CustomModelLookup resolves team-owned custom models for refinement and
// generation jobs.
type CustomModelLookup interface {
	GetByIDForTeam(ctx context.Context, id, teamID int64) (*models.CustomModel, error)
}

// ReferenceModelLookup resolves complexity factors for pricing.
type ReferenceModelLookup interface {
	GetByID(ctx context.Context, id int64) (*models.ReferenceModel, error)
}

// JobHandler serves /v1/jobs endpoints.
type JobHandler struct {
	Jobs      JobCoordinator
	Pricing   Pricer
	Models    CustomModelLookup
	RefModels ReferenceModelLookup
	Validator *validation.Validator
	Metrics   *observability.Metrics
	Logger    *slog.Logger
}

type createJobRequest struct {
	JobType string          `json:"job_type"`
	Input   json.RawMessage `json:"input"`
}

type createJobResponse struct {
	JobID            string `json:"job_id"`
	Status           string `json:"status"`
	EstimatedCredits string `json:"estimated_credits"`
}

// CreateJob handles POST /v1/jobs.
// Auth -> Validate Input -> Price -> Reserve + Queue -> 202.
func (h *JobHandler) CreateJob(w http.ResponseWriter, r *http.Request) {
	team := middleware.TeamFromCtx(r.Context())
	if team == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}

	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if !models.ValidJobType(req.JobType) {
		http.Error(w, `{"error":"invalid job_type"}`, http.StatusBadRequest)
		return
	}

	if err := h.Validator.ValidateInput(req.JobType, req.Input); err != nil {
		if errors.Is(err, validation.ErrValidation) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{"error": err.Error()})
			return
		}
		h.Logger.Error("validate input", "error", err)
		http.Error(w, `{"error":"input validation failed"}`, http.StatusBadRequest)
		return
	}

	params := jobs.CreateParams{
		TeamID:   team.ID,
		JobType:  req.JobType,
		Input:    req.Input,
		PlanTier: team.PlanTier,
	}
	if key := middleware.KeyFromCtx(r.Context()); key != nil {
		params.UserID = key.ID
	}

	cost, ok := h.resolveCost(w, r, team.ID, req.JobType, req.Input, &params)
	if !ok {
		return
	}
	params.EstimatedCredits = cost

	job, err := h.Jobs.Create(r.Context(), params)
	if err != nil {
		if errors.Is(err, jobs.ErrInsufficientCredits) {
			http.Error(w, `{"error":"insufficient credits"}`, http.StatusPaymentRequired)
			return
		}
		h.Logger.Error("create job", "error", err, "job_type", req.JobType, "team_id", team.ID)
		http.Error(w, `{"error":"failed to create job"}`, http.StatusInternalServerError)
		return
	}

	if h.Metrics != nil {
		h.Metrics.JobsCreated.WithLabelValues(job.JobType).Inc()
	}
	writeJSON(w, http.StatusAccepted, createJobResponse{
		JobID:            job.ID.String(),
		Status:           job.Status,
		EstimatedCredits: job.EstimatedCredits.StringFixed(2),
	})
}

// resolveCost prices the submission per job type, attaches the new custom
// model for creation jobs, and writes the HTTP error itself on failure.
func (h *JobHandler) resolveCost(w http.ResponseWriter, r *http.Request, teamID int64, jobType string, input json.RawMessage, params *jobs.CreateParams) (decimal.Decimal, bool) {
	ctx := r.Context()
	switch jobType {
	case models.JobTypeModelCreation:
		var in struct {
			ReferenceModelID int64    `json:"referenceModelId"`
			Name             string   `json:"name"`
			Prompt           string   `json:"prompt"`
			TrainingImages   []string `json:"trainingImages"`
		}
		_ = json.Unmarshal(input, &in)
		cost, err := h.Pricing.CostOf(ctx, pricing.ModelCreationParams{
			ReferenceModelID:    in.ReferenceModelID,
			TrainingImagesCount: len(in.TrainingImages),
		})
		if err != nil {
			h.writePricingError(w, err)
			return decimal.Zero, false
		}
		params.NewModel = &models.CustomModel{
			TeamID:           teamID,
			ReferenceModelID: in.ReferenceModelID,
			Name:             in.Name,
			CreationPrompt:   in.Prompt,
			Status:           models.ModelStatusTraining,
		}
		return cost, true

	case models.JobTypeModelRefinement:
		var in struct {
			CustomModelID       int64 `json:"customModelId"`
			RefinementIteration int   `json:"refinementIteration"`
		}
		_ = json.Unmarshal(input, &in)
		model, factor, ok := h.lookupModel(w, ctx, in.CustomModelID, teamID)
		if !ok {
			return decimal.Zero, false
		}
		iteration := in.RefinementIteration
		if iteration < 1 {
			iteration = model.Version
		}
		cost, err := h.Pricing.CostOf(ctx, pricing.ModelRefinementParams{
			RefinementIteration:   iteration,
			ModelComplexityFactor: factor,
		})
		if err != nil {
			h.writePricingError(w, err)
			return decimal.Zero, false
		}
		params.CustomModelID = &model.ID
		return cost, true

	case models.JobTypeImageGeneration:
		var in struct {
			CustomModelID int64  `json:"customModelId"`
			Resolution    string `json:"resolution"`
			Quality       string `json:"quality"`
			NumImages     int    `json:"numImages"`
		}
		_ = json.Unmarshal(input, &in)
		factor := decimal.NewFromInt(1)
		if in.CustomModelID != 0 {
			model, f, ok := h.lookupModel(w, ctx, in.CustomModelID, teamID)
			if !ok {
				return decimal.Zero, false
			}
			factor = f
			params.CustomModelID = &model.ID
		}
		cost, err := h.Pricing.CostOf(ctx, pricing.ImageGenerationParams{
			Resolution:            in.Resolution,
			Quality:               in.Quality,
			ModelComplexityFactor: factor,
			NumImages:             in.NumImages,
		})
		if err != nil {
			h.writePricingError(w, err)
			return decimal.Zero, false
		}
		return cost, true
	}
	http.Error(w, `{"error":"invalid job_type"}`, http.StatusBadRequest)
	return decimal.Zero, false
}

// lookupModel loads a team's custom model and its reference complexity.
func (h *JobHandler) lookupModel(w http.ResponseWriter, ctx context.Context, modelID, teamID int64) (*models.CustomModel, decimal.Decimal, bool) {
	model, err := h.Models.GetByIDForTeam(ctx, modelID, teamID)
	if err != nil {
		http.Error(w, `{"error":"custom model not found"}`, http.StatusNotFound)
		return nil, decimal.Zero, false
	}
	ref, err := h.RefModels.GetByID(ctx, model.ReferenceModelID)
	if err != nil {
		h.Logger.Error("resolve reference model", "error", err, "custom_model_id", modelID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return nil, decimal.Zero, false
	}
	return model, ref.ComplexityFactor, true
}

func (h *JobHandler) writePricingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, pricing.ErrReferenceModelNotFound):
		http.Error(w, `{"error":"reference model not found"}`, http.StatusNotFound)
	case errors.Is(err, pricing.ErrNotConfigured):
		h.Logger.Error("pricing not configured", "error", err)
		http.Error(w, `{"error":"pricing not configured"}`, http.StatusInternalServerError)
	default:
		h.Logger.Error("compute cost", "error", err)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
	}
}

// GetJob handles GET /v1/jobs/{id}.
func (h *JobHandler) GetJob(w http.ResponseWriter, r *http.Request) {
	team := middleware.TeamFromCtx(r.Context())
	if team == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	job, err := h.Jobs.GetForTeam(r.Context(), jobID, team.ID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("get job", "error", err, "job_id", jobID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

// ListJobs handles GET /v1/jobs with optional status, job_type, limit and
// offset query parameters.
func (h *JobHandler) ListJobs(w http.ResponseWriter, r *http.Request) {
	team := middleware.TeamFromCtx(r.Context())
	if team == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	q := r.URL.Query()
	f := repository.ListFilter{
		Status:  q.Get("status"),
		JobType: q.Get("job_type"),
	}
	f.Limit, _ = strconv.Atoi(q.Get("limit"))
	f.Offset, _ = strconv.Atoi(q.Get("offset"))

	list, err := h.Jobs.List(r.Context(), team.ID, f)
	if err != nil {
		h.Logger.Error("list jobs", "error", err, "team_id", team.ID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": list})
}

// CancelJob handles POST /v1/jobs/{id}/cancel. Responds 200 with
// cancelled=false when the job was already past queued.
func (h *JobHandler) CancelJob(w http.ResponseWriter, r *http.Request) {
	team := middleware.TeamFromCtx(r.Context())
	if team == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	jobID, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		http.Error(w, `{"error":"invalid job id"}`, http.StatusBadRequest)
		return
	}
	cancelled, err := h.Jobs.Cancel(r.Context(), jobID, team.ID)
	if err != nil {
		if errors.Is(err, jobs.ErrJobNotFound) {
			http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
			return
		}
		h.Logger.Error("cancel job", "error", err, "job_id", jobID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if cancelled && h.Metrics != nil {
		h.Metrics.JobsCancelled.Inc()
	}
	writeJSON(w, http.StatusOK, map[string]bool{"cancelled": cancelled})
}

// EstimateCost handles POST /v1/pricing/estimate: the same pricing path as
// job creation without reserving anything.
func (h *JobHandler) EstimateCost(w http.ResponseWriter, r *http.Request) {
	team := middleware.TeamFromCtx(r.Context())
	if team == nil {
		http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
		return
	}
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if !models.ValidJobType(req.JobType) {
		http.Error(w, `{"error":"invalid job_type"}`, http.StatusBadRequest)
		return
	}
	var discard jobs.CreateParams
	cost, ok := h.resolveCost(w, r, team.ID, req.JobType, req.Input, &discard)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"job_type":          req.JobType,
		"estimated_credits": cost.StringFixed(2),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
