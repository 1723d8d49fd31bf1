package telemetry

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics provides Prometheus metrics for the resolution engine. A Metrics
// created with collection disabled accepts every call and records nothing.
type Metrics struct {
	config MetricsConfig

	// tree and closure
	treeBuilds     *prometheus.CounterVec
	treeDuration   *prometheus.HistogramVec
	segments       *prometheus.GaugeVec
	applications   *prometheus.GaugeVec
	closurePasses  *prometheus.HistogramVec
	closureCapHits *prometheus.CounterVec
	invalidations  *prometheus.CounterVec

	// engine calls
	operations        *prometheus.CounterVec
	operationDuration *prometheus.HistogramVec
	environmentBuilds *prometheus.CounterVec

	// sources
	reloads *prometheus.CounterVec

	errorsByClass *prometheus.CounterVec
	errorsByCode  *prometheus.CounterVec

	registry *prometheus.Registry
}

// NewMetrics creates a metrics collector with its own registry.
func NewMetrics(cfg MetricsConfig) (*Metrics, error) {
	if !cfg.Enabled {
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

		treeBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tree_builds_total",
				Help:      "Total number of segment tree builds",
			},
			[]string{"partition"},
		),
		treeDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "tree_build_duration_seconds",
				Help:      "Duration of segment tree builds in seconds",
				Buckets:   buckets,
			},
			[]string{"partition"},
		),
		segments: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "segments",
				Help:      "Number of resolved segments in the current tree",
			},
			[]string{"partition"},
		),
		applications: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "applications",
				Help:      "Number of resolved applications in the current tree",
			},
			[]string{"partition"},
		),
		closurePasses: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "disabled_closure_passes",
				Help:      "Number of propagation passes per disabled closure",
				Buckets:   []float64{0, 1, 2, 4, 8, 16, 32, 64, 128},
			},
			[]string{"partition"},
		),
		closureCapHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "disabled_closure_cap_hits_total",
				Help:      "Number of disabled closures stopped by the iteration cap",
			},
			[]string{"partition"},
		),
		invalidations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "invalidations_total",
				Help:      "Number of cached tree invalidations",
			},
			[]string{"partition", "reason"},
		),
		operations: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "operations_total",
				Help:      "Total number of engine calls",
			},
			[]string{"operation", "status"},
		),
		operationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "operation_duration_seconds",
				Help:      "Duration of engine calls in seconds",
				Buckets:   buckets,
			},
			[]string{"operation"},
		),
		environmentBuilds: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "environment_builds_total",
				Help:      "Total number of application environment builds",
			},
			[]string{"status"},
		),
		reloads: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "source_reloads_total",
				Help:      "Number of configuration source reloads",
			},
			[]string{"status"},
		),
		errorsByClass: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_class_total",
				Help:      "Total number of errors by error class",
			},
			[]string{"class"},
		),
		errorsByCode: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "errors_by_code_total",
				Help:      "Total number of errors by error code",
			},
			[]string{"code"},
		),
	}

	registry.MustRegister(
		m.treeBuilds,
		m.treeDuration,
		m.segments,
		m.applications,
		m.closurePasses,
		m.closureCapHits,
		m.invalidations,
		m.operations,
		m.operationDuration,
		m.environmentBuilds,
		m.reloads,
		m.errorsByClass,
		m.errorsByCode,
	)
	return m, nil
}

// RecordTreeBuild records one segment tree build.
func (m *Metrics) RecordTreeBuild(partition string, duration time.Duration, segments, applications int) {
	if m.treeBuilds == nil {
		return
	}
	m.treeBuilds.WithLabelValues(partition).Inc()
	m.treeDuration.WithLabelValues(partition).Observe(duration.Seconds())
	m.segments.WithLabelValues(partition).Set(float64(segments))
	m.applications.WithLabelValues(partition).Set(float64(applications))
}

// RecordClosure records one disabled closure computation.
func (m *Metrics) RecordClosure(partition string, passes int, capped bool) {
	if m.closurePasses == nil {
		return
	}
	m.closurePasses.WithLabelValues(partition).Observe(float64(passes))
	if capped {
		m.closureCapHits.WithLabelValues(partition).Inc()
	}
}

// RecordInvalidation records a dropped tree.
func (m *Metrics) RecordInvalidation(partition, reason string) {
	if m.invalidations == nil {
		return
	}
	m.invalidations.WithLabelValues(partition, reason).Inc()
}

// RecordOperation records one engine call.
func (m *Metrics) RecordOperation(operation, status string, duration time.Duration) {
	if m.operations == nil {
		return
	}
	m.operations.WithLabelValues(operation, status).Inc()
	m.operationDuration.WithLabelValues(operation).Observe(duration.Seconds())
}

// RecordEnvironmentBuild records one application environment build.
func (m *Metrics) RecordEnvironmentBuild(status string) {
	if m.environmentBuilds == nil {
		return
	}
	m.environmentBuilds.WithLabelValues(status).Inc()
}

// RecordReload records one reload of the configuration sources.
func (m *Metrics) RecordReload(status string) {
	if m.reloads == nil {
		return
	}
	m.reloads.WithLabelValues(status).Inc()
}

// RecordError records an error by class and optionally by code.
func (m *Metrics) RecordError(errorClass, errorCode string) {
	if m.errorsByClass == nil {
		return
	}
	m.errorsByClass.WithLabelValues(errorClass).Inc()
	if errorCode != "" {
		m.errorsByCode.WithLabelValues(errorCode).Inc()
	}
}

// Registry returns the registry holding the collectors, nil when disabled.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Timer measures the duration of an operation.
type Timer struct {
	start time.Time
}

// NewTimer starts a timer.
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

// Serve exposes the metrics on addr (the configured address when empty)
// until ctx is done.
func (m *Metrics) Serve(ctx context.Context, addr string) error {
	if !m.config.Enabled {
		<-ctx.Done()
		return nil
	}
	if addr == "" {
		addr = m.config.ListenAddress
	}
	path := m.config.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, m.Handler())
	server := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}
