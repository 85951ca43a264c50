package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for embedding runs.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Fragment solve metrics
	solvesExecuted *prometheus.CounterVec
	solveDuration  *prometheus.HistogramVec
	solveRetries   *prometheus.CounterVec

	// Embedding loop metrics
	iterationsCompleted *prometheus.CounterVec
	convergenceDelta    *prometheus.GaugeVec

	// Error metrics
	errorsByKind *prometheus.CounterVec

	// System metrics
	activeRuns prometheus.Gauge
	queuedJobs prometheus.Gauge

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// Return a no-op metrics instance
		return &Metrics{config: cfg}, nil
	}

	namespace := cfg.Namespace
	buckets := cfg.DefaultHistogramBuckets
	if len(buckets) == 0 {
		buckets = prometheus.DefBuckets
	}

	registry := prometheus.NewRegistry()

	m := &Metrics{
		config:   cfg,
		registry: registry,

		runsStarted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_started_total",
				Help:      "Total number of embedding runs started",
			},
			[]string{"method"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of embedding runs completed",
			},
			[]string{"status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of embedding runs in seconds",
				Buckets:   buckets,
			},
			[]string{"status"},
		),

		solvesExecuted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fragment_solves_total",
				Help:      "Total number of fragment solves",
			},
			[]string{"backend", "status"},
		),
		solveDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "fragment_solve_duration_seconds",
				Help:      "Duration of fragment solves in seconds, retries included",
				Buckets:   buckets,
			},
			[]string{"backend"},
		),
		solveRetries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "fragment_solve_retries_total",
				Help:      "Total number of fragment solve retries",
			},
			[]string{"backend"},
		),

		iterationsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "embedding_iterations_total",
				Help:      "Total number of embedding-loop iterations completed",
			},
			[]string{"status"},
		),
		convergenceDelta: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "embedding_convergence_delta",
				Help:      "Latest environment potential delta per run",
			},
			[]string{"run_id"},
		),

		errorsByKind: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "solver_errors_total",
				Help:      "Total number of classified solver errors",
			},
			[]string{"kind"},
		),

		activeRuns: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "active_runs",
				Help:      "Current number of active embedding runs",
			},
		),
		queuedJobs: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "queued_solve_jobs",
				Help:      "Current number of queued fragment solve jobs",
			},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.solvesExecuted,
		m.solveDuration,
		m.solveRetries,
		m.iterationsCompleted,
		m.convergenceDelta,
		m.errorsByKind,
		m.activeRuns,
		m.queuedJobs,
	)

	return m, nil
}

// Run Metrics

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(method string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(method).Inc()
	m.activeRuns.Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(status).Inc()
	m.runDuration.WithLabelValues(status).Observe(duration.Seconds())
	m.activeRuns.Dec()
}

// Fragment Solve Metrics

// RecordSolve records one terminal fragment solve.
func (m *Metrics) RecordSolve(backend, status string, duration time.Duration) {
	if m.solvesExecuted == nil {
		return
	}
	m.solvesExecuted.WithLabelValues(backend, status).Inc()
	m.solveDuration.WithLabelValues(backend).Observe(duration.Seconds())
}

// RecordSolveRetry records one retry of a fragment solve.
func (m *Metrics) RecordSolveRetry(backend string) {
	if m.solveRetries == nil {
		return
	}
	m.solveRetries.WithLabelValues(backend).Inc()
}

// Embedding Loop Metrics

// RecordIteration records one completed embedding-loop iteration.
func (m *Metrics) RecordIteration(status string) {
	if m.iterationsCompleted == nil {
		return
	}
	m.iterationsCompleted.WithLabelValues(status).Inc()
}

// SetConvergenceDelta publishes the latest potential delta for a run.
func (m *Metrics) SetConvergenceDelta(runID string, delta float64) {
	if m.convergenceDelta == nil {
		return
	}
	m.convergenceDelta.WithLabelValues(runID).Set(delta)
}

// Error Metrics

// RecordSolverError records a classified solver error.
func (m *Metrics) RecordSolverError(kind string) {
	if m.errorsByKind == nil {
		return
	}
	m.errorsByKind.WithLabelValues(kind).Inc()
}

// System Metrics

// SetActiveRuns sets the current number of active runs.
func (m *Metrics) SetActiveRuns(count float64) {
	if m.activeRuns == nil {
		return
	}
	m.activeRuns.Set(count)
}

// SetQueuedJobs sets the current number of queued solve jobs.
func (m *Metrics) SetQueuedJobs(count float64) {
	if m.queuedJobs == nil {
		return
	}
	m.queuedJobs.Set(count)
}

// Timer provides a convenient way to time operations.
type Timer struct {
	start time.Time
}

// NewTimer creates a new timer.
func NewTimer() *Timer {
	return &Timer{start: time.Now()}
}

// Duration returns the elapsed time since the timer was created.
func (t *Timer) Duration() time.Duration {
	return time.Since(t.start)
}

// ObserveDuration is a helper to time an operation and record it.
func (t *Timer) ObserveDuration(observer prometheus.Observer) {
	observer.Observe(t.Duration().Seconds())
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// StartMetricsServer starts an HTTP server to expose metrics.
func (m *Metrics) StartMetricsServer() error {
	if !m.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(m.config.Path, m.Handler())

	server := &http.Server{
		Addr:              m.config.ListenAddress,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()

	return nil
}
