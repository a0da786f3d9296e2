// Package metrics exposes Prometheus instrumentation for the sync
// engine.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Metrics struct {
	registry *prometheus.Registry

	RefreshTotal    *prometheus.CounterVec
	RefreshDuration *prometheus.HistogramVec
	CacheHits       prometheus.Counter
	CacheMisses     prometheus.Counter
	PendingReclaims prometheus.Counter
}

func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		RefreshTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "prunsync_refresh_total",
			Help: "Refresh attempts by collection and outcome.",
		}, []string{"collection", "outcome"}),
		RefreshDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "prunsync_refresh_duration_seconds",
			Help:    "End-to-end refresh duration by collection.",
			Buckets: prometheus.DefBuckets,
		}, []string{"collection"}),
		CacheHits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prunsync_cache_hits_total",
			Help: "Cache reads served from memory.",
		}),
		CacheMisses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prunsync_cache_misses_total",
			Help: "Cache reads that had to recompute.",
		}),
		PendingReclaims: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "prunsync_pending_reclaims_total",
			Help: "Stuck pending entities recovered by the reclaim sweep.",
		}),
	}
	registry.MustRegister(m.RefreshTotal, m.RefreshDuration, m.CacheHits, m.CacheMisses, m.PendingReclaims)
	return m
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveRefresh(collection, outcome string, seconds float64) {
	m.RefreshTotal.WithLabelValues(collection, outcome).Inc()
	m.RefreshDuration.WithLabelValues(collection).Observe(seconds)
}
