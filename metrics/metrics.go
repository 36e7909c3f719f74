// Package metrics exposes Prometheus collectors describing the worker pool,
// the handoff queue and session outcomes. All methods are safe on a nil
// *Metrics so callers never have to guard instrumentation.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Config configures the collectors.
type Config struct {
	// Namespace is the metrics namespace (default: "connserver").
	Namespace string

	// ConstLabels are added to every metric, e.g. {"server": "smtp"}.
	ConstLabels prometheus.Labels

	// Buckets are the session duration histogram buckets.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry receives the collectors.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// Option configures Config.
type Option func(*Config)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) Option {
	return func(c *Config) {
		c.Namespace = namespace
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) Option {
	return func(c *Config) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the session duration histogram buckets.
func WithBuckets(buckets []float64) Option {
	return func(c *Config) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the registerer the collectors are added to.
func WithRegistry(registry prometheus.Registerer) Option {
	return func(c *Config) {
		c.Registry = registry
	}
}

// Metrics holds the server collectors.
type Metrics struct {
	sessionsAccepted  prometheus.Counter
	sessionsRejected  prometheus.Counter
	sessionsProcessed prometheus.Counter
	sessionsDiscarded prometheus.Counter
	workerFailures    prometheus.Counter
	workers           prometheus.Gauge
	workersActive     prometheus.Gauge
	queueLength       prometheus.Gauge
	sessionDuration   prometheus.Histogram
}

// New registers the collectors and returns them. Registering twice with the
// same registry and labels panics, as with any promauto collector.
//
// Parameters:
//   - opts: Functional options overriding the defaults
//
// Returns:
//   - The registered Metrics
func New(opts ...Option) *Metrics {
	cfg := Config{
		Namespace: "connserver",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
	for _, opt := range opts {
		opt(&cfg)
	}

	factory := promauto.With(cfg.Registry)
	counter := func(name, help string) prometheus.Counter {
		return factory.NewCounter(prometheus.CounterOpts{
			Namespace:   cfg.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		})
	}
	gauge := func(name, help string) prometheus.Gauge {
		return factory.NewGauge(prometheus.GaugeOpts{
			Namespace:   cfg.Namespace,
			Name:        name,
			Help:        help,
			ConstLabels: cfg.ConstLabels,
		})
	}

	return &Metrics{
		sessionsAccepted:  counter("sessions_accepted_total", "Sessions admitted to the queue"),
		sessionsRejected:  counter("sessions_rejected_total", "Connections refused by session creation or admission"),
		sessionsProcessed: counter("sessions_processed_total", "Sessions handed to the processing hook"),
		sessionsDiscarded: counter("sessions_discarded_total", "Queued sessions dropped unprocessed during shutdown"),
		workerFailures:    counter("worker_create_failures_total", "Failed attempts to grow the worker pool"),
		workers:           gauge("workers", "Workers in the pool"),
		workersActive:     gauge("workers_active", "Workers currently processing a session"),
		queueLength:       gauge("queue_length", "Sessions waiting for a worker"),
		sessionDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace:   cfg.Namespace,
			Name:        "session_duration_seconds",
			Help:        "Time spent in the session processing hook",
			ConstLabels: cfg.ConstLabels,
			Buckets:     cfg.Buckets,
		}),
	}
}

// SessionAccepted counts an admitted session.
func (m *Metrics) SessionAccepted() {
	if m == nil {
		return
	}

	m.sessionsAccepted.Inc()
}

// SessionRejected counts a connection refused before queueing.
func (m *Metrics) SessionRejected() {
	if m == nil {
		return
	}

	m.sessionsRejected.Inc()
}

// SessionProcessed counts a processed session and records its duration.
func (m *Metrics) SessionProcessed(d time.Duration) {
	if m == nil {
		return
	}

	m.sessionsProcessed.Inc()
	m.sessionDuration.Observe(d.Seconds())
}

// SessionsDiscarded counts n sessions dropped without processing.
func (m *Metrics) SessionsDiscarded(n int) {
	if m == nil || n <= 0 {
		return
	}

	m.sessionsDiscarded.Add(float64(n))
}

// WorkerCreateFailed counts a failed pool growth attempt.
func (m *Metrics) WorkerCreateFailed() {
	if m == nil {
		return
	}

	m.workerFailures.Inc()
}

// SetPool publishes the pool size and the number of busy workers.
func (m *Metrics) SetPool(total, active int) {
	if m == nil {
		return
	}

	m.workers.Set(float64(total))
	m.workersActive.Set(float64(active))
}

// SetQueueLength publishes the number of queued sessions.
func (m *Metrics) SetQueueLength(n int) {
	if m == nil {
		return
	}

	m.queueLength.Set(float64(n))
}
