package telemetry

import (
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for forge.
type Metrics struct {
	config MetricsConfig

	// Run metrics
	runsStarted   *prometheus.CounterVec
	runsCompleted *prometheus.CounterVec
	runDuration   *prometheus.HistogramVec

	// Component metrics
	componentOps        *prometheus.CounterVec
	componentOpDuration *prometheus.HistogramVec

	// Rollback metrics
	rollbackActions   *prometheus.CounterVec
	rollbackRemaining prometheus.Gauge

	// Error metrics
	errorsByComponent *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a new metrics collector with the given configuration.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
		// No-op instance
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
				Help:      "Total number of install/uninstall runs started",
			},
			[]string{"mode"},
		),
		runsCompleted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "runs_completed_total",
				Help:      "Total number of runs completed",
			},
			[]string{"mode", "status"},
		),
		runDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "run_duration_seconds",
				Help:      "Duration of run execution in seconds",
				Buckets:   buckets,
			},
			[]string{"mode", "status"},
		),

		componentOps: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "component_operations_total",
				Help:      "Total number of component operations",
			},
			[]string{"component", "operation", "status"},
		),
		componentOpDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "component_operation_duration_seconds",
				Help:      "Duration of component operations in seconds",
				Buckets:   buckets,
			},
			[]string{"component", "operation"},
		),

		rollbackActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rollback_actions_total",
				Help:      "Total number of rollback actions attempted",
			},
			[]string{"component", "status"},
		),
		rollbackRemaining: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "rollback_actions_remaining",
				Help:      "Actions still recorded in the state log after the last rollback",
			},
		),

		errorsByComponent: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_total",
				Help:      "Total number of errors by component",
			},
			[]string{"component"},
		),
	}

	registry.MustRegister(
		m.runsStarted,
		m.runsCompleted,
		m.runDuration,
		m.componentOps,
		m.componentOpDuration,
		m.rollbackActions,
		m.rollbackRemaining,
		m.errorsByComponent,
	)

	return m, nil
}

// RecordRunStarted increments the counter for started runs.
func (m *Metrics) RecordRunStarted(mode string) {
	if m.runsStarted == nil {
		return
	}
	m.runsStarted.WithLabelValues(mode).Inc()
}

// RecordRunCompleted records a completed run with its status and duration.
func (m *Metrics) RecordRunCompleted(mode, status string, duration time.Duration) {
	if m.runsCompleted == nil {
		return
	}
	m.runsCompleted.WithLabelValues(mode, status).Inc()
	m.runDuration.WithLabelValues(mode, status).Observe(duration.Seconds())
}

// RecordComponentOp records a component operation outcome.
func (m *Metrics) RecordComponentOp(component, operation, status string, duration time.Duration) {
	if m.componentOps == nil {
		return
	}
	m.componentOps.WithLabelValues(component, operation, status).Inc()
	m.componentOpDuration.WithLabelValues(component, operation).Observe(duration.Seconds())
}

// RecordRollbackAction records one rollback attempt.
func (m *Metrics) RecordRollbackAction(component, status string) {
	if m.rollbackActions == nil {
		return
	}
	m.rollbackActions.WithLabelValues(component, status).Inc()
}

// SetRollbackRemaining sets the count of actions left after a rollback.
func (m *Metrics) SetRollbackRemaining(count float64) {
	if m.rollbackRemaining == nil {
		return
	}
	m.rollbackRemaining.Set(count)
}

// RecordError records an error for a component.
func (m *Metrics) RecordError(component string) {
	if m.errorsByComponent == nil {
		return
	}
	m.errorsByComponent.WithLabelValues(component).Inc()
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
