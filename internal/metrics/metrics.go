// Package metrics provides Prometheus metrics collection for arbor.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "arbor"

// Collector holds all Prometheus metrics for arbor. Each collector owns its
// registry so tests and multiple servers never share global state.
type Collector struct {
	registry *prometheus.Registry

	// Request metrics
	RequestsTotal    *prometheus.CounterVec
	RequestDuration  *prometheus.HistogramVec
	RequestsInFlight prometheus.Gauge

	// Auth and rate limit metrics
	AuthFailures  *prometheus.CounterVec
	RateLimitHits prometheus.Counter

	// Lifecycle metrics
	LifecycleEvents   *prometheus.CounterVec
	LifecycleCancels  *prometheus.CounterVec
	DispatchFailures  *prometheus.CounterVec
	RecordsOperations *prometheus.CounterVec

	// Plugin metrics
	PluginsStarted prometheus.Gauge
}

// New creates a collector on a fresh registry, with the Go and process
// collectors included.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates a collector registering into reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Total number of HTTP requests processed",
			},
			[]string{"method", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "HTTP request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5},
			},
			[]string{"method", "status"},
		),
		RequestsInFlight: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "requests_in_flight",
				Help:      "Number of requests currently being processed",
			},
		),
		AuthFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "auth_failures_total",
				Help:      "Total number of authentication and authorization failures",
			},
			[]string{"reason"},
		),
		RateLimitHits: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_hits_total",
				Help:      "Total number of requests rejected by the rate limiter",
			},
		),
		LifecycleEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_events_total",
				Help:      "Lifecycle events emitted, by resource, phase and operation",
			},
			[]string{"resource", "phase", "operation"},
		),
		LifecycleCancels: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "lifecycle_cancels_total",
				Help:      "Lifecycle operations aborted, by resource and error kind",
			},
			[]string{"resource", "kind"},
		),
		DispatchFailures: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "dispatch_failures_total",
				Help:      "Requests the tree rejected, by error kind",
			},
			[]string{"kind"},
		),
		RecordsOperations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "records_operations_total",
				Help:      "Record store operations, by operation and outcome",
			},
			[]string{"operation", "outcome"},
		),
		PluginsStarted: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "plugins_started",
				Help:      "Number of plugins in the started state",
			},
		),
	}
}

// Registry returns the registry the collector writes to.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
