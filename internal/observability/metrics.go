package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "covid_impact"

// Metrics holds the Prometheus counters, histograms, and gauges for the scoring service.
type Metrics struct {
	// Data-lake access.
	FetchRequests *prometheus.CounterVec   // labels: dataset, outcome={success,error,retry}
	FetchDuration *prometheus.HistogramVec // labels: dataset
	FetchCache    *prometheus.CounterVec   // labels: backend={memory,redis}, result={hit,miss,error}

	// Scoring runs.
	ScoreRuns         *prometheus.CounterVec // labels: outcome={success,input_error,remote_error,publish_error}
	ScoresProduced    prometheus.Counter
	IncompleteRows    prometheus.Counter
	RunDuration       prometheus.Histogram
	LastRunSuccess    prometheus.Gauge
	PolicyImpactSkips prometheus.Counter
	JobRunning        prometheus.Gauge
}

// NewMetrics creates and registers all service metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchRequests,
		m.FetchDuration,
		m.FetchCache,
		m.ScoreRuns,
		m.ScoresProduced,
		m.IncompleteRows,
		m.RunDuration,
		m.LastRunSuccess,
		m.PolicyImpactSkips,
		m.JobRunning,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_requests_total",
			Help:      "Data-lake requests by dataset and outcome.",
		}, []string{"dataset", "outcome"}),
		FetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Data-lake request duration in seconds.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"dataset"}),
		FetchCache: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetch_cache_total",
			Help:      "Fetch cache lookups by backend and result.",
		}, []string{"backend", "result"}),
		ScoreRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "score_runs_total",
			Help:      "Scoring runs by outcome.",
		}, []string{"outcome"}),
		ScoresProduced: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "scores_produced_total",
			Help:      "Total impact scores computed.",
		}),
		IncompleteRows: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "incomplete_rows_total",
			Help:      "Scored rows with at least one weighted indicator missing.",
		}),
		RunDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Duration of a complete fetch-score-publish run.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		}),
		LastRunSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "last_run_success_timestamp_seconds",
			Help:      "Unix time of the last successful scoring run.",
		}),
		PolicyImpactSkips: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "policy_impact_skipped_total",
			Help:      "Policy changes skipped for lack of data around the change date.",
		}),
		JobRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_running",
			Help:      "1 when the scoring job loop is active, 0 when shut down.",
		}),
	}
}
