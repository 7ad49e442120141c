package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/pixelmuse/backend/internal/execution"
	"github.com/pixelmuse/backend/internal/generation"
	"github.com/pixelmuse/backend/internal/models"
	"github.com/pixelmuse/backend/internal/observability"
	"github.com/pixelmuse/backend/internal/repository"
	"github.com/pixelmuse/backend/internal/storage"
)

// ErrInsufficientCredits is returned by Create when the reservation fails.
var ErrInsufficientCredits = errors.New("insufficient credits")

// ErrJobNotFound is returned for unknown job ids or cross-team access.
var ErrJobNotFound = errors.New("job not found")

// JobStore is the job persistence contract.
type JobStore interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	CreateTx(ctx context.Context, tx pgx.Tx, j *models.Job) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Job, error)
	GetByIDForTeam(ctx context.Context, id uuid.UUID, teamID int64) (*models.Job, error)
	GetForUpdate(ctx context.Context, tx pgx.Tx, id uuid.UUID) (*models.Job, error)
	MarkProcessing(ctx context.Context, id uuid.UUID) error
	MarkCompletedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, resultData json.RawMessage) error
	MarkFailedTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, jobErr *models.JobError) error
	MarkCancelledTx(ctx context.Context, tx pgx.Tx, id uuid.UUID, jobErr *models.JobError) error
	ListByTeamID(ctx context.Context, teamID int64, f repository.ListFilter) ([]*models.Job, error)
}

// Ledger is the subset of the transaction engine the coordinator drives.
// Every terminal job transition pairs with exactly one of DeductTx/RefundTx
// in the same database transaction as the job-state write.
type Ledger interface {
	ReserveTx(ctx context.Context, tx pgx.Tx, teamID int64, amount decimal.Decimal, operationType string, jobID *uuid.UUID, meta map[string]any) (bool, error)
	DeductTx(ctx context.Context, tx pgx.Tx, teamID int64, amount decimal.Decimal, operationType string, jobID uuid.UUID, meta map[string]any) error
	RefundTx(ctx context.Context, tx pgx.Tx, teamID int64, amount decimal.Decimal, jobID uuid.UUID, reason string) error
}

// ModelStore creates custom models alongside their creation job and
// updates them on completion/failure of model jobs.
type ModelStore interface {
	CreateTx(ctx context.Context, tx pgx.Tx, m *models.CustomModel) error
	MarkReadyTx(ctx context.Context, tx pgx.Tx, id int64, modelURL string) error
	AppendRefinementTx(ctx context.Context, tx pgx.Tx, id int64, modelURL string, entry models.RefinementEntry) error
	MarkFailedTx(ctx context.Context, tx pgx.Tx, id int64) error
}

// EnqueueDispatchTxFunc enqueues a dispatch job within the given transaction.
// Provided by main as a closure over river.Client.InsertTx.
type EnqueueDispatchTxFunc func(ctx context.Context, tx pgx.Tx, args execution.DispatchArgs) error

// Service coordinates the job lifecycle: queued → processing →
// {completed | failed | cancelled}, with each terminal transition paired
// with its ledger operation.
type Service struct {
	store     JobStore
	ledger    Ledger
	modelRepo ModelStore
	artifacts storage.ArtifactStore
	enqueue   EnqueueDispatchTxFunc
	metrics   *observability.Metrics
	logger    *slog.Logger
}

func NewService(store JobStore, ledger Ledger, modelRepo ModelStore, artifacts storage.ArtifactStore, enqueue EnqueueDispatchTxFunc, metrics *observability.Metrics, logger *slog.Logger) *Service {
	return &Service{store: store, ledger: ledger, modelRepo: modelRepo, artifacts: artifacts, enqueue: enqueue, metrics: metrics, logger: logger}
}

// CreateParams describes one unit of work to reserve credits for and queue.
type CreateParams struct {
	TeamID           int64
	UserID           int64
	JobType          string
	CustomModelID    *int64
	Input            json.RawMessage
	EstimatedCredits decimal.Decimal
	PlanTier         string

	// NewModel, when set on a model_creation job, is inserted in the same
	// transaction and becomes the job's custom model.
	NewModel *models.CustomModel
}

// Create persists a queued job, reserves its estimated credits, and enqueues
// dispatch, all in one transaction. Returns immediately; execution is
// asynchronous. ErrInsufficientCredits when the reservation fails.
func (s *Service) Create(ctx context.Context, p CreateParams) (*models.Job, error) {
	job := &models.Job{
		ID:               uuid.New(),
		TeamID:           p.TeamID,
		UserID:           p.UserID,
		JobType:          p.JobType,
		CustomModelID:    p.CustomModelID,
		Status:           models.JobStatusQueued,
		Priority:         models.PriorityFor(p.PlanTier),
		InputData:        p.Input,
		EstimatedCredits: p.EstimatedCredits,
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	if p.NewModel != nil {
		if err := s.modelRepo.CreateTx(ctx, tx, p.NewModel); err != nil {
			return nil, fmt.Errorf("create custom model: %w", err)
		}
		job.CustomModelID = &p.NewModel.ID
	}
	if err := s.store.CreateTx(ctx, tx, job); err != nil {
		return nil, fmt.Errorf("create job: %w", err)
	}
	ok, err := s.ledger.ReserveTx(ctx, tx, p.TeamID, p.EstimatedCredits, p.JobType, &job.ID, map[string]any{
		"userId": p.UserID,
	})
	if err != nil {
		return nil, fmt.Errorf("reserve credits: %w", err)
	}
	if !ok {
		return nil, ErrInsufficientCredits
	}
	if err := s.enqueue(ctx, tx, execution.DispatchArgs{JobID: job.ID}); err != nil {
		return nil, fmt.Errorf("enqueue dispatch: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	s.logger.Info("job created", "job_id", job.ID, "job_type", job.JobType, "team_id", p.TeamID, "estimated_credits", p.EstimatedCredits)
	return job, nil
}

// Cancel cancels a queued job and refunds its reservation. Returns false
// when the job is already processing or terminal: in-flight work cannot be
// revoked at the provider, so the caller waits for the callback instead.
func (s *Service) Cancel(ctx context.Context, jobID uuid.UUID, teamID int64) (bool, error) {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return false, err
	}
	defer tx.Rollback(ctx)

	job, err := s.store.GetForUpdate(ctx, tx, jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, ErrJobNotFound
	}
	if err != nil {
		return false, err
	}
	if job.TeamID != teamID {
		return false, ErrJobNotFound
	}
	if job.Status != models.JobStatusQueued {
		return false, nil
	}

	if err := s.store.MarkCancelledTx(ctx, tx, jobID, &models.JobError{
		Code:      "JOB_CANCELLED",
		Message:   "Job was cancelled by user",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return false, err
	}
	if job.EstimatedCredits.IsPositive() {
		if err := s.ledger.RefundTx(ctx, tx, teamID, job.EstimatedCredits, jobID, "Job cancelled by user"); err != nil {
			return false, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return false, err
	}
	s.logger.Info("job cancelled", "job_id", jobID, "team_id", teamID)
	return true, nil
}

// GetJob loads a job without tenant scoping (worker and webhook paths).
func (s *Service) GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error) {
	job, err := s.store.GetByID(ctx, jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

// GetForTeam loads a job scoped to its owning team (API path).
func (s *Service) GetForTeam(ctx context.Context, jobID uuid.UUID, teamID int64) (*models.Job, error) {
	job, err := s.store.GetByIDForTeam(ctx, jobID, teamID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	return job, err
}

func (s *Service) List(ctx context.Context, teamID int64, f repository.ListFilter) ([]*models.Job, error) {
	return s.store.ListByTeamID(ctx, teamID, f)
}

// HandleProcessing records the provider picking the job up. Repeated
// processing notifications are no-ops beyond the first started_at.
func (s *Service) HandleProcessing(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if models.TerminalStatus(job.Status) {
		return nil
	}
	return s.store.MarkProcessing(ctx, jobID)
}

// HandleCompleted finalizes a successful job: persist artifacts / update the
// model, convert the reservation into a deduction, and mark the job
// completed. The state write and the ledger op commit together.
func (s *Service) HandleCompleted(ctx context.Context, jobID uuid.UUID, rawResult json.RawMessage) error {
	job, err := s.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if models.TerminalStatus(job.Status) {
		return nil
	}

	var result generation.Result
	if err := json.Unmarshal(rawResult, &result); err != nil {
		return fmt.Errorf("decode result for job %s: %w", jobID, err)
	}

	resultData := rawResult
	if job.JobType == models.JobTypeImageGeneration {
		// Persist provider-hosted images before touching the ledger; a
		// storage failure leaves the job non-terminal for redelivery.
		resultData, err = s.storeArtifacts(ctx, job, result)
		if err != nil {
			return fmt.Errorf("store artifacts for job %s: %w", jobID, err)
		}
	}

	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	job, err = s.store.GetForUpdate(ctx, tx, jobID)
	if err != nil {
		return err
	}
	if models.TerminalStatus(job.Status) {
		return nil
	}

	switch job.JobType {
	case models.JobTypeModelCreation:
		if job.CustomModelID != nil {
			if err := s.modelRepo.MarkReadyTx(ctx, tx, *job.CustomModelID, result.ModelURL); err != nil {
				return err
			}
		}
	case models.JobTypeModelRefinement:
		if job.CustomModelID != nil {
			entry := models.RefinementEntry{
				Iteration: refinementIteration(job.InputData),
				ModelURL:  result.ModelURL,
				Metadata:  result.Metadata,
				RefinedAt: time.Now().UTC().Format(time.RFC3339),
			}
			if err := s.modelRepo.AppendRefinementTx(ctx, tx, *job.CustomModelID, result.ModelURL, entry); err != nil {
				return err
			}
		}
	case models.JobTypeImageGeneration:
		// Artifacts already stored.
	default:
		return fmt.Errorf("unknown job type %q", job.JobType)
	}

	if err := s.ledger.DeductTx(ctx, tx, job.TeamID, job.EstimatedCredits, job.JobType, jobID, nil); err != nil {
		return err
	}
	if err := s.store.MarkCompletedTx(ctx, tx, jobID, resultData); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.metrics.JobsCompleted.WithLabelValues(job.JobType).Inc()
	s.logger.Info("job completed", "job_id", jobID, "job_type", job.JobType, "team_id", job.TeamID)
	return nil
}

// HandleFailed finalizes a failed job: mark any associated model failed,
// refund the reservation, and record the structured error.
func (s *Service) HandleFailed(ctx context.Context, jobID uuid.UUID, code, message string) error {
	tx, err := s.store.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	job, err := s.store.GetForUpdate(ctx, tx, jobID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrJobNotFound
	}
	if err != nil {
		return err
	}
	if models.TerminalStatus(job.Status) {
		return nil
	}

	if job.CustomModelID != nil {
		if err := s.modelRepo.MarkFailedTx(ctx, tx, *job.CustomModelID); err != nil {
			return err
		}
	}
	if job.EstimatedCredits.IsPositive() {
		if err := s.ledger.RefundTx(ctx, tx, job.TeamID, job.EstimatedCredits, jobID, message); err != nil {
			return err
		}
	}
	if code == "" {
		code = "GENERATION_FAILED"
	}
	if err := s.store.MarkFailedTx(ctx, tx, jobID, &models.JobError{
		Code:      code,
		Message:   message,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return err
	}
	s.metrics.JobsFailed.WithLabelValues(job.JobType).Inc()
	s.logger.Info("job failed", "job_id", jobID, "team_id", job.TeamID, "code", code)
	return nil
}

// storeArtifacts copies every provider image into the artifact store and
// returns the result payload rewritten with stored locations.
func (s *Service) storeArtifacts(ctx context.Context, job *models.Job, result generation.Result) (json.RawMessage, error) {
	artifacts := make([]storage.Artifact, 0, len(result.Images))
	for _, img := range result.Images {
		a, err := s.artifacts.StoreFromURL(ctx, img.URL, job.TeamID, job.ID)
		if err != nil {
			return nil, err
		}
		artifacts = append(artifacts, a)
	}
	return json.Marshal(map[string]any{
		"artifacts": artifacts,
		"metadata":  result.Metadata,
	})
}

func refinementIteration(input json.RawMessage) int {
	var peek struct {
		RefinementIteration int `json:"refinementIteration"`
	}
	_ = json.Unmarshal(input, &peek)
	return peek.RefinementIteration
}
