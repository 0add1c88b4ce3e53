// Package metrics exposes the named counters and timers fed by the decision
// orchestrator, the configuration resolver, and the store adapter. Backed by
// a private Prometheus registry; the boundary decides whether to serve it.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics records rate-limiter observations. A disabled instance keeps all
// methods as no-ops so call sites stay unconditional.
type Metrics struct {
	enabled  bool
	registry *prometheus.Registry

	checks        *prometheus.CounterVec
	checkDuration *prometheus.HistogramVec
	errors        prometheus.Counter
	storeErrors   *prometheus.CounterVec
	cacheHits     prometheus.Counter
	cacheMisses   prometheus.Counter
	patternHits   prometheus.Counter
	patternMisses prometheus.Counter
}

// New builds the metric surface. When enabled is false every record method
// is a no-op and the handler serves an empty registry.
func New(enabled bool) *Metrics {
	m := &Metrics{
		enabled:  enabled,
		registry: prometheus.NewRegistry(),
		checks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratekit_checks_total",
			Help: "Rate limit decisions by algorithm and result.",
		}, []string{"algorithm", "result"}),
		checkDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ratekit_check_duration_seconds",
			Help:    "Decision latency by algorithm.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 12),
		}, []string{"algorithm"}),
		errors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratekit_errors_total",
			Help: "Decisions that hit the failure policy.",
		}),
		storeErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratekit_store_errors_total",
			Help: "Store failures by kind (unavailable or script).",
		}, []string{"kind"}),
		cacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratekit_config_cache_hits_total",
			Help: "Exact-key config cache hits.",
		}),
		cacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratekit_config_cache_misses_total",
			Help: "Exact-key config cache misses.",
		}),
		patternHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratekit_pattern_hits_total",
			Help: "Config resolutions served by a wildcard pattern.",
		}),
		patternMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratekit_pattern_misses_total",
			Help: "Config resolutions that fell through to the default.",
		}),
	}
	if enabled {
		m.registry.MustRegister(
			m.checks, m.checkDuration, m.errors, m.storeErrors,
			m.cacheHits, m.cacheMisses, m.patternHits, m.patternMisses,
		)
	}
	return m
}

// RecordCheck counts a completed decision and observes its latency.
func (m *Metrics) RecordCheck(algorithm string, allowed bool, latency time.Duration) {
	if !m.enabled {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.checks.WithLabelValues(algorithm, result).Inc()
	m.checkDuration.WithLabelValues(algorithm).Observe(latency.Seconds())
}

// RecordError counts a decision that fell back to the failure policy.
func (m *Metrics) RecordError() {
	if !m.enabled {
		return
	}
	m.errors.Inc()
}

// RecordStoreError counts a store failure by kind.
func (m *Metrics) RecordStoreError(kind string) {
	if !m.enabled {
		return
	}
	m.storeErrors.WithLabelValues(kind).Inc()
}

// RecordCacheHit counts an exact-key cache hit.
func (m *Metrics) RecordCacheHit() {
	if !m.enabled {
		return
	}
	m.cacheHits.Inc()
}

// RecordCacheMiss counts an exact-key cache miss.
func (m *Metrics) RecordCacheMiss() {
	if !m.enabled {
		return
	}
	m.cacheMisses.Inc()
}

// RecordPatternHit counts a resolution served by a pattern config.
func (m *Metrics) RecordPatternHit() {
	if !m.enabled {
		return
	}
	m.patternHits.Inc()
}

// RecordPatternMiss counts a resolution that used the default config.
func (m *Metrics) RecordPatternMiss() {
	if !m.enabled {
		return
	}
	m.patternMisses.Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
