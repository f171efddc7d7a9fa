package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RegistryMutations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facereg",
		Name:      "registry_mutations_total",
		Help:      "Committed registry mutations by event action",
	}, []string{"action"})

	MergesBlocked = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facereg",
		Name:      "merges_blocked_total",
		Help:      "Merge attempts refused, by reason",
	}, []string{"reason"})

	VarianceChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facereg",
		Name:      "variance_checks_total",
		Help:      "Fusion variance-explosion checks by outcome",
	}, []string{"outcome"})

	MahalanobisDistance = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facereg",
		Name:      "variance_check_mean_mahalanobis_sq",
		Help:      "Average squared Mahalanobis distance seen by variance checks",
		Buckets:   prometheus.ExponentialBuckets(0.01, 2, 14),
	})

	Identities = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "facereg",
		Name:      "identities",
		Help:      "Non-merged identities by state, as of the last save",
	}, []string{"state"})

	SaveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "facereg",
		Name:      "registry_save_duration_seconds",
		Help:      "Duration of lock + backup + write + rename",
		Buckets:   prometheus.ExponentialBuckets(0.001, 2, 14),
	})

	SaveFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "facereg",
		Name:      "registry_save_failures_total",
		Help:      "Failed registry saves",
	})

	RecordedEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facereg",
		Name:      "instrumentation_events_total",
		Help:      "Instrumentation events emitted by the registry",
	}, []string{"event"})

	ProposalsIngested = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "facereg",
		Name:      "proposals_ingested_total",
		Help:      "Clustering proposals processed by the worker, by outcome",
	}, []string{"outcome"})

	PendingProposals = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facereg",
		Name:      "pending_proposals",
		Help:      "Unprocessed messages in the PROPOSALS stream",
	})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "facereg",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "facereg",
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)
