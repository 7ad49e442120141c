package execution

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/riverqueue/river"

	"github.com/pixelmuse/backend/internal/generation"
	"github.com/pixelmuse/backend/internal/models"
)

// DispatchArgs enqueues one job for submission to the generation provider.
type DispatchArgs struct {
	JobID uuid.UUID `json:"job_id"`
}

func (DispatchArgs) Kind() string { return "dispatch_generation" }

// JobService is the contract the worker needs to load jobs and report
// submission failures.
type JobService interface {
	GetJob(ctx context.Context, jobID uuid.UUID) (*models.Job, error)
	HandleFailed(ctx context.Context, jobID uuid.UUID, code, message string) error
}

// DispatchWorker submits queued jobs to the external executor. The provider
// reports progress back through the webhook endpoint, so no worker goroutine
// blocks on generation itself.
type DispatchWorker struct {
	river.WorkerDefaults[DispatchArgs]
	jobService JobService
	submitter  generation.Submitter
	webhookURL string
}

func NewDispatchWorker(js JobService, submitter generation.Submitter, webhookURL string) *DispatchWorker {
	return &DispatchWorker{jobService: js, submitter: submitter, webhookURL: webhookURL}
}

func (w *DispatchWorker) Work(ctx context.Context, riverJob *river.Job[DispatchArgs]) error {
	jobID := riverJob.Args.JobID

	job, err := w.jobService.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}
	// Cancelled between enqueue and work; nothing to submit.
	if job.Status != models.JobStatusQueued {
		return nil
	}

	err = w.submitter.Submit(ctx, generation.SubmitRequest{
		JobID:      job.ID,
		JobType:    job.JobType,
		Input:      job.InputData,
		WebhookURL: w.webhookURL,
	})
	if err != nil {
		// A rejected submission is a provider failure: refund and mark failed
		// rather than retrying forever.
		if markErr := w.jobService.HandleFailed(ctx, jobID, "SUBMIT_FAILED", err.Error()); markErr != nil {
			return errors.Join(err, fmt.Errorf("mark job failed: %w", markErr))
		}
	}
	return nil
}
