package webhooks

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pixelmuse/backend/internal/models"
	"github.com/pixelmuse/backend/internal/observability"
)

const providerBilling = "billing"

// Billing event types the reconciler reacts to. Each one, grant or revoke,
// funnels into the same idempotent replenishment.
const (
	EventSubscriptionCreated = "customer.subscription.created"
	EventSubscriptionUpdated = "customer.subscription.updated"
	EventSubscriptionDeleted = "customer.subscription.deleted"
	EventInvoicePaid         = "invoice.payment_succeeded"
	EventInvoiceFailed       = "invoice.payment_failed"
	EventCheckoutCompleted   = "checkout.session.completed"
)

// TeamResolver maps a billing customer id to a team and records plan changes.
type TeamResolver interface {
	GetByBillingCustomerID(ctx context.Context, customerID string) (*models.Team, error)
	UpdateSubscription(ctx context.Context, id int64, planTier string, subscriptionID *string) error
}

// Replenisher is the ledger's replenish entry point.
type Replenisher interface {
	Replenish(ctx context.Context, teamID int64) error
}

// billingEvent is the provider's envelope. Only the fields the reconciler
// acts on are decoded; the rest stays in the stored payload.
type billingEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object struct {
			ID       string `json:"id"`
			Customer string `json:"customer"`
			Status   string `json:"status"`
			Plan     struct {
				Nickname string `json:"nickname"`
			} `json:"plan"`
		} `json:"object"`
	} `json:"data"`
}

// BillingHandler receives subscription/invoice lifecycle events.
type BillingHandler struct {
	teams   TeamResolver
	ledger  Replenisher
	events  EventLog
	secret  string
	metrics *observability.Metrics
	logger  *slog.Logger
	now     func() time.Time
}

func NewBillingHandler(teams TeamResolver, ledger Replenisher, events EventLog, secret string, metrics *observability.Metrics, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{teams: teams, ledger: ledger, events: events, secret: secret, metrics: metrics, logger: logger, now: time.Now}
}

// ServeHTTP handles POST /webhooks/billing.
func (h *BillingHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, `{"error":"failed to read body"}`, http.StatusBadRequest)
		return
	}

	if !verifyBillingSignature(body, r.Header.Get(BillingSignatureHeader), h.secret, h.now()) {
		h.metrics.WebhookEvents.WithLabelValues(providerBilling, "rejected").Inc()
		h.logger.Warn("billing webhook signature rejected")
		http.Error(w, `{"error":"webhook signature verification failed"}`, http.StatusBadRequest)
		return
	}

	var event billingEvent
	if err := json.Unmarshal(body, &event); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}
	if event.ID == "" {
		http.Error(w, `{"error":"missing event id"}`, http.StatusBadRequest)
		return
	}

	inserted, err := h.events.Insert(r.Context(), providerBilling, event.ID, event.Type, body)
	if err != nil {
		h.logger.Error("record billing event", "error", err, "event_id", event.ID)
		http.Error(w, `{"error":"internal error"}`, http.StatusInternalServerError)
		return
	}
	if !inserted {
		h.metrics.WebhookEvents.WithLabelValues(providerBilling, "duplicate").Inc()
		writeJSON(w, http.StatusOK, map[string]bool{"received": true})
		return
	}

	if err := h.process(r.Context(), event); err != nil {
		if delErr := h.events.Delete(r.Context(), providerBilling, event.ID); delErr != nil {
			h.logger.Error("release billing event", "error", delErr, "event_id", event.ID)
		}
		h.metrics.WebhookEvents.WithLabelValues(providerBilling, "error").Inc()
		h.logger.Error("process billing event", "error", err, "event_id", event.ID, "type", event.Type)
		http.Error(w, `{"error":"webhook processing failed"}`, http.StatusInternalServerError)
		return
	}

	h.metrics.WebhookEvents.WithLabelValues(providerBilling, "processed").Inc()
	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}

func (h *BillingHandler) process(ctx context.Context, event billingEvent) error {
	customerID := event.Data.Object.Customer
	if customerID == "" {
		h.logger.Warn("billing event without customer", "event_id", event.ID, "type", event.Type)
		return nil
	}
	team, err := h.teams.GetByBillingCustomerID(ctx, customerID)
	if errors.Is(err, pgx.ErrNoRows) {
		h.logger.Warn("billing event for unknown customer", "customer_id", customerID, "type", event.Type)
		return nil
	}
	if err != nil {
		return err
	}

	switch event.Type {
	case EventSubscriptionCreated, EventSubscriptionUpdated:
		plan := ""
		var subID *string
		if event.Data.Object.Status == "active" || event.Data.Object.Status == "trialing" {
			plan = event.Data.Object.Plan.Nickname
			id := event.Data.Object.ID
			subID = &id
		}
		if err := h.teams.UpdateSubscription(ctx, team.ID, plan, subID); err != nil {
			return err
		}
	case EventSubscriptionDeleted, EventInvoiceFailed:
		// Plan gone: replenish below resolves a zero allocation.
		if err := h.teams.UpdateSubscription(ctx, team.ID, "", nil); err != nil {
			return err
		}
	case EventInvoicePaid, EventCheckoutCompleted:
		// Plan unchanged; reset the allocation cycle.
	default:
		h.logger.Info("unhandled billing event type", "type", event.Type)
		return nil
	}

	return h.ledger.Replenish(ctx, team.ID)
}
