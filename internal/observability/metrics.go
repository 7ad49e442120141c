// Package observability exposes Prometheus metrics for the job pipeline
// and the credit ledger.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds every counter the core emits. Constructed once at process
// start and passed by reference; tests use NewWithRegistry with a private
// registry.
type Metrics struct {
	JobsCreated   *prometheus.CounterVec // job_type
	JobsCompleted *prometheus.CounterVec // job_type
	JobsFailed    *prometheus.CounterVec // job_type
	JobsCancelled prometheus.Counter
	WebhookEvents *prometheus.CounterVec // provider, outcome
	LedgerOps     *prometheus.CounterVec // operation, outcome
}

func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

func NewWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsCreated: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmuse_jobs_created_total",
			Help: "Jobs accepted into the queue.",
		}, []string{"job_type"}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmuse_jobs_completed_total",
			Help: "Jobs finalized as completed.",
		}, []string{"job_type"}),
		JobsFailed: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmuse_jobs_failed_total",
			Help: "Jobs finalized as failed.",
		}, []string{"job_type"}),
		JobsCancelled: factory.NewCounter(prometheus.CounterOpts{
			Name: "pixelmuse_jobs_cancelled_total",
			Help: "Jobs cancelled before dispatch.",
		}),
		WebhookEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmuse_webhook_events_total",
			Help: "Inbound webhook deliveries by provider and outcome.",
		}, []string{"provider", "outcome"}),
		LedgerOps: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "pixelmuse_ledger_operations_total",
			Help: "Ledger engine operations by type and outcome.",
		}, []string{"operation", "outcome"}),
	}
}
