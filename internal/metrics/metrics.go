package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Run metrics
	RunsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_runs_started_total",
			Help: "Total number of research runs started",
		},
	)

	RunsCompleted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_runs_completed_total",
			Help: "Total number of research runs completed",
		},
		[]string{"status"},
	)

	RunDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quarry_run_duration_seconds",
			Help:    "Research run duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	RunCycles = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quarry_run_cycles",
			Help:    "Number of fetch cycles per run",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 13},
		},
	)

	// Fetch metrics
	FetchesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_fetches_total",
			Help: "Total number of sub-query fetches by outcome",
		},
		[]string{"source", "outcome"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quarry_fetch_duration_seconds",
			Help:    "Sub-query fetch duration in seconds",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"source"},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_retries_total",
			Help: "Total number of retries by source",
		},
		[]string{"source"},
	)

	// Circuit breaker metrics
	BreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quarry_breaker_state",
			Help: "Circuit breaker state per source (0=closed, 1=half-open, 2=open)",
		},
		[]string{"source"},
	)

	BreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_breaker_transitions_total",
			Help: "Circuit breaker state transitions",
		},
		[]string{"source", "to"},
	)

	BreakerRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_breaker_rejections_total",
			Help: "Calls rejected while the breaker was open",
		},
		[]string{"source"},
	)

	// State store metrics
	MergesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "quarry_state_merges_total",
			Help: "Total number of state store merges",
		},
	)

	FindingsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quarry_findings_total",
			Help: "Total number of findings merged by source",
		},
		[]string{"source"},
	)

	// Expansion metrics
	ExpansionCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "quarry_expansion_candidates",
			Help:    "Qualifying expansion candidates per cycle",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32},
		},
	)
)
