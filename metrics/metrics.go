// Package metrics holds the prometheus collectors of the cache storage.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	lookups       *prometheus.CounterVec
	puts          *prometheus.CounterVec
	invalidations *prometheus.CounterVec
	malformed     *prometheus.CounterVec
	errors        *prometheus.CounterVec
	duration      *prometheus.HistogramVec
}

// New creates the collectors and registers them with a fresh registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	lookups := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "httpcache_lookups_total",
		Help: "Total storage lookups by result",
	}, []string{"backend", "result"})

	puts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "httpcache_puts_total",
		Help: "Total stored responses",
	}, []string{"backend"})

	invalidations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "httpcache_invalidations_total",
		Help: "Total invalidated keys",
	}, []string{"backend"})

	malformed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "httpcache_malformed_entries_total",
		Help: "Total stored entries that could not be read back",
	}, []string{"backend"})

	errors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "httpcache_storage_errors_total",
		Help: "Total failed storage operations",
	}, []string{"backend", "op"})

	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "httpcache_operation_duration_seconds",
		Help:    "Duration of storage operations",
		Buckets: prometheus.ExponentialBuckets(0.00005, 4, 10),
	}, []string{"backend", "op"})

	registry.MustRegister(lookups, puts, invalidations, malformed, errors, duration)

	return &Metrics{
		registry:      registry,
		lookups:       lookups,
		puts:          puts,
		invalidations: invalidations,
		malformed:     malformed,
		errors:        errors,
		duration:      duration,
	}
}

func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the collected metrics in the prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) Hit(backend string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(backend, "hit").Inc()
}

func (m *Metrics) Miss(backend string) {
	if m == nil {
		return
	}
	m.lookups.WithLabelValues(backend, "miss").Inc()
}

func (m *Metrics) Put(backend string) {
	if m == nil {
		return
	}
	m.puts.WithLabelValues(backend).Inc()
}

func (m *Metrics) Invalidation(backend string) {
	if m == nil {
		return
	}
	m.invalidations.WithLabelValues(backend).Inc()
}

func (m *Metrics) Malformed(backend string) {
	if m == nil {
		return
	}
	m.malformed.WithLabelValues(backend).Inc()
}

func (m *Metrics) Error(backend, op string) {
	if m == nil {
		return
	}
	m.errors.WithLabelValues(backend, op).Inc()
}

func (m *Metrics) Observe(backend, op string, seconds float64) {
	if m == nil {
		return
	}
	m.duration.WithLabelValues(backend, op).Observe(seconds)
}
