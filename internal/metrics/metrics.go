package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Sweep Metrics
var (
	// SweepRunsTotal counts periodic and manual sweeps by activity and whether they finished
	SweepRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "headlinebot_sweep_runs_total",
			Help: "Sweeps run by activity and result (completed/aborted)",
		},
		[]string{"activity", "result"},
	)

	// SweepResultsTotal counts per-item outcomes inside sweeps
	SweepResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "headlinebot_sweep_results_total",
			Help: "Per-item sweep results by activity and outcome",
		},
		[]string{"activity", "outcome"},
	)

	// SweepDuration tracks how long each sweep takes
	SweepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "headlinebot_sweep_duration_seconds",
			Help:    "Sweep duration in seconds",
			Buckets: []float64{.05, .1, .5, 1, 5, 15, 30, 60, 120},
		},
		[]string{"activity"},
	)
)

// Publication Metrics
var (
	// PublishOutcomesTotal counts gate publish outcomes (posted/failed/deferred)
	PublishOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "headlinebot_publish_outcomes_total",
			Help: "Publish attempts by outcome",
		},
		[]string{"outcome"},
	)

	// GateRefusalsTotal counts refusals by rule
	GateRefusalsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "headlinebot_gate_refusals_total",
			Help: "Publication gate refusals by reason",
		},
		[]string{"reason"},
	)

	// SendDuration tracks sender latency
	SendDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "headlinebot_send_duration_seconds",
			Help:    "Sender call duration in seconds",
			Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10, 15},
		},
	)
)

// Upstream Metrics
var (
	// SourceFetchesTotal counts source fetches by site and status
	SourceFetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "headlinebot_source_fetches_total",
			Help: "Source fetches by status (ok/error)",
		},
		[]string{"status"},
	)

	// CircuitBreakerState tracks current circuit breaker state (0=closed, 1=half-open, 2=open)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "headlinebot_circuit_breaker_state",
			Help: "Current circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"component"},
	)

	// SeenCacheHitsTotal counts ingestion skips served by the seen cache
	SeenCacheHitsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "headlinebot_seen_cache_hits_total",
			Help: "URLs skipped because the seen cache already knew them",
		},
	)
)

// Handler exposes the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}
