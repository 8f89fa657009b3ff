package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/shopspring/decimal"
)

var (
	// Tracks marketplace operations by name and result kind.
	MarketOpsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_operations_total",
			Help: "Total number of marketplace operations (by op and result).",
		},
		[]string{"op", "result"}, // result = "ok" | error kind | "error"
	)

	// Measures duration of marketplace operations, collaborator calls included.
	MarketOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_operation_duration_seconds",
			Help:    "Duration of marketplace operations in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.0005, 2, 15), // 0.5ms → ~8s
		},
		[]string{"op"},
	)

	// Tracks outbound calls to the asset registry and payout service.
	CollaboratorRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_collaborator_requests_total",
			Help: "Total number of requests to external collaborators.",
		},
		[]string{"collaborator", "endpoint", "status"},
	)

	CollaboratorRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_collaborator_request_duration_seconds",
			Help:    "Duration of requests to external collaborators in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15), // 1ms → ~16s
		},
		[]string{"collaborator", "endpoint"},
	)

	// Tracks event messages published by subject and result.
	EventMessageCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_event_messages_total",
			Help: "Total number of event messages published.",
		},
		[]string{"transport", "subject", "result"}, // result = "ok" | "error"
	)

	EventMessageLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "market_event_publish_latency_seconds",
			Help:    "Time taken to publish event messages",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"transport", "subject"},
	)

	// Tracks cache hits and misses for collaborator credentials.
	SecretsCacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "secrets_cache_access_total",
			Help: "Number of cache hits/misses in secret cache.",
		},
		[]string{"result"}, // hit | miss
	)

	// Tracks total errors (aggregated).
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "market_errors_total",
			Help: "Count of service-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	ActiveListings = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "market_active_listings",
			Help: "Number of active listings.",
		},
	)

	// Float approximation of the sum of all withdrawable balances, in smallest units.
	OutstandingProceeds = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "market_outstanding_proceeds",
			Help: "Sum of all withdrawable proceeds balances.",
		},
	)

	// Gauges the last successful snapshot time (seconds since epoch).
	LastSnapshotTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "market_last_snapshot_timestamp",
			Help: "Timestamp (unix seconds) of the last successful ledger snapshot.",
		},
	)
)

// ObserveDuration records the time taken for a function and updates the given histogram.
func ObserveDuration(v interface{}, start time.Time, labels ...string) {
	duration := time.Since(start).Seconds()

	switch metric := v.(type) {
	case *prometheus.HistogramVec:
		metric.WithLabelValues(labels...).Observe(duration)
	case *prometheus.SummaryVec:
		metric.WithLabelValues(labels...).Observe(duration)
	default:
		// silently ignore counters; they're not meant for duration tracking
	}
}

func IncMarketOp(op, result string) {
	MarketOpsTotal.WithLabelValues(op, result).Inc()
}

func IncCollaboratorRequest(collaborator, endpoint, status string) {
	CollaboratorRequestsTotal.WithLabelValues(collaborator, endpoint, status).Inc()
}

func IncEventMessage(transport, subject, result string) {
	EventMessageCount.WithLabelValues(transport, subject, result).Inc()
}

func IncCacheHit(result string) {
	SecretsCacheHits.WithLabelValues(result).Inc()
}

func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// SetLedgerGauges publishes the current listing count and proceeds total.
func SetLedgerGauges(listings int, proceeds decimal.Decimal) {
	ActiveListings.Set(float64(listings))
	f, _ := proceeds.Float64()
	OutstandingProceeds.Set(f)
}

func SetLastSnapshot(t time.Time) {
	LastSnapshotTimestamp.Set(float64(t.Unix()))
}
