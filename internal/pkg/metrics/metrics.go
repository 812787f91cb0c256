package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// WebhookRequestsTotal counts webhook requests by event type and HTTP status.
	WebhookRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subsync",
		Subsystem: "billing",
		Name:      "webhook_requests_total",
		Help:      "Total billing webhook requests by event type and HTTP status.",
	}, []string{"event_type", "status"})

	// WebhookDuration tracks webhook processing latency.
	WebhookDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "subsync",
		Subsystem: "billing",
		Name:      "webhook_duration_seconds",
		Help:      "Billing webhook processing duration in seconds.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"event_type"})

	// ReconcileTotal counts reconciliation runs by outcome.
	ReconcileTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subsync",
		Subsystem: "billing",
		Name:      "reconcile_total",
		Help:      "Total subscription reconciliations by outcome.",
	}, []string{"outcome"})

	// CheckoutSessionsTotal counts checkout attempts by mode and outcome.
	CheckoutSessionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subsync",
		Subsystem: "billing",
		Name:      "checkout_sessions_total",
		Help:      "Total checkout session requests by mode and outcome.",
	}, []string{"mode", "outcome"})

	// SnapshotCacheTotal counts snapshot cache lookups.
	SnapshotCacheTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "subsync",
		Subsystem: "cache",
		Name:      "subscription_lookups_total",
		Help:      "Subscription snapshot cache lookups by result.",
	}, []string{"result"})
)
