// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts webhook deliveries by provider, outcome and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entitled",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total webhook requests by provider, outcome and HTTP status.",
	}, []string{"provider", "outcome", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "entitled",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"provider"})

	// SlotDecisionsTotal counts content slot decisions by result (granted or a deny reason).
	SlotDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entitled",
		Subsystem: "gate",
		Name:      "slot_decisions_total",
		Help:      "Content slot decisions by result.",
	}, []string{"result"})

	// SlotCASConflictsTotal counts lost compare-and-set races while consuming slots.
	SlotCASConflictsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entitled",
		Subsystem: "gate",
		Name:      "cas_conflicts_total",
		Help:      "Compare-and-set conflicts while consuming content slots.",
	})

	// ExpiredSubscriptionsTotal counts records downgraded by the expiry sweep.
	ExpiredSubscriptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entitled",
		Subsystem: "subscription",
		Name:      "expired_total",
		Help:      "Subscriptions downgraded by the expiry sweep.",
	})

	// LedgerPrunedTotal counts idempotency ledger entries removed by retention.
	LedgerPrunedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "entitled",
		Subsystem: "billing",
		Name:      "ledger_pruned_total",
		Help:      "Idempotency ledger entries removed after the retention period.",
	})

	// JobsProcessedTotal counts background jobs by type and final status.
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "entitled",
		Subsystem: "jobs",
		Name:      "processed_total",
		Help:      "Background jobs processed by type and status.",
	}, []string{"type", "status"})
)
