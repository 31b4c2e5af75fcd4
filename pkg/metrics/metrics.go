package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// AccessChecks counts evaluator decisions by outcome (allowed|denied|error).
	AccessChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_access_checks_total",
			Help: "Total number of resource access checks",
		},
		[]string{"resource_type", "result"},
	)

	// CreditConsumptions counts consume calls by result (success|insufficient|replayed).
	CreditConsumptions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_credit_consumptions_total",
			Help: "Total number of credit consumption attempts",
		},
		[]string{"result"},
	)

	// CreditsConsumed accumulates the credit amounts deducted per funding source.
	CreditsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_credits_consumed_total",
			Help: "Total credits deducted, labelled by funding source",
		},
		[]string{"source"},
	)

	// PeerValidations counts cross-service validation lookups (hit|miss|fail_open|fail_closed).
	PeerValidations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_peer_validations_total",
			Help: "Total peer service validation lookups",
		},
		[]string{"lookup", "result"},
	)

	// EventsPublished counts broker publishes by outcome (ok|dropped).
	EventsPublished = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authcore_events_published_total",
			Help: "Total domain events handed to the broker",
		},
		[]string{"subject", "result"},
	)

	// APILatency measures HTTP request latencies.
	APILatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "authcore_api_latency_seconds",
			Help:    "API endpoint latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)
