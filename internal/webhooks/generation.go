// Package webhooks translates asynchronous provider notifications into job
// coordinator and ledger transitions, idempotently. Unverified input is
// rejected with no side effects.
package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/google/uuid"

	"github.com/pixelmuse/backend/internal/generation"
	"github.com/pixelmuse/backend/internal/jobs"
	"github.com/pixelmuse/backend/internal/observability"
)

const providerGeneration = "generation"

// Coordinator is the job-lifecycle contract the reconciler drives.
type Coordinator interface {
	HandleProcessing(ctx context.Context, jobID uuid.UUID) error
	HandleCompleted(ctx context.Context, jobID uuid.UUID, result json.RawMessage) error
	HandleFailed(ctx context.Context, jobID uuid.UUID, code, message string) error
}

// EventLog deduplicates provider notifications. Insert reports false for a
// repeat delivery; Delete releases the key when processing failed so the
// provider's retry is not swallowed.
type EventLog interface {
	Insert(ctx context.Context, provider, eventID, eventType string, payload []byte) (bool, error)
	Delete(ctx context.Context, provider, eventID string) error
}

// GenerationHandler receives the generation provider's callbacks.
type GenerationHandler struct {
	coordinator Coordinator
	events      EventLog
	secret      string
	metrics     *observability.Metrics
	logger      *slog.Logger
}

func NewGenerationHandler(coordinator Coordinator, events EventLog, secret string, metrics *observability.Metrics, logger *slog.Logger) *GenerationHandler {
	return &GenerationHandler{coordinator: coordinator, events: events, secret: secret, metrics: metrics, logger: logger}
}

// ServeHTTP handles POST /webhooks/generation.
func (h *GenerationHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	signature := r.Header.Get(generation.SignatureHeader)
	if signature == "" || !generation.ValidateSignature(body, signature, h.secret) {
		h.metrics.WebhookEvents.WithLabelValues(providerGeneration, "rejected").Inc()
		h.logger.Warn("generation webhook signature rejected")
		http.Error(w, `{"error":"invalid webhook signature"}`, http.StatusUnauthorized)
		return
	}

	var payload generation.WebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if payload.JobID == uuid.Nil {
		http.Error(w, `{"error":"missing jobId"}`, http.StatusBadRequest)
		return
	}

	// At-least-once delivery: dedup on (jobId, status).
	eventID := fmt.Sprintf("%s:%s", payload.JobID, payload.Status)
	inserted, err := h.events.Insert(r.Context(), providerGeneration, eventID, payload.Status, body)
	if err != nil {
		h.logger.Error("record generation event", "error", err, "job_id", payload.JobID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !inserted {
		h.metrics.WebhookEvents.WithLabelValues(providerGeneration, "duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
		return
	}

	if err := h.dispatch(r.Context(), payload); err != nil {
		// Release the dedup key so the provider's retry can land.
		if delErr := h.events.Delete(r.Context(), providerGeneration, eventID); delErr != nil {
			h.logger.Error("release generation event", "error", delErr, "job_id", payload.JobID)
		}
		h.metrics.WebhookEvents.WithLabelValues(providerGeneration, "error").Inc()
		if errors.Is(err, jobs.ErrJobNotFound) {
			http.Error(w, `{"error":"job not found"}`, http.StatusNotFound)
			return
		}
		h.logger.Error("process generation webhook", "error", err, "job_id", payload.JobID, "status", payload.Status)
		http.Error(w, `{"error":"webhook processing failed"}`, http.StatusInternalServerError)
		return
	}

	h.metrics.WebhookEvents.WithLabelValues(providerGeneration, "processed").Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

func (h *GenerationHandler) dispatch(ctx context.Context, payload generation.WebhookPayload) error {
	switch payload.Status {
	case "processing":
		return h.coordinator.HandleProcessing(ctx, payload.JobID)
	case "completed":
		return h.coordinator.HandleCompleted(ctx, payload.JobID, payload.Result)
	case "failed":
		code, message := "GENERATION_FAILED", "generation failed"
		if payload.Error != nil {
			if payload.Error.Code != "" {
				code = payload.Error.Code
			}
			message = payload.Error.Message
		}
		return h.coordinator.HandleFailed(ctx, payload.JobID, code, message)
	default:
		h.logger.Warn("unknown generation webhook status", "status", payload.Status, "job_id", payload.JobID)
		return nil
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
