// Package metrics exposes cache statistics in Prometheus exposition format.
// Values are read from the cache at scrape time, so the collector carries no
// bookkeeping of its own.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tiercache/internal/cache"
	"tiercache/internal/circuitbreaker"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "tiercache"

// Source supplies the statistics snapshot the collector reports from.
// *cache.Manager satisfies it.
type Source interface {
	Stats() cache.Snapshot
}

// Collector registers cache statistics on a private Prometheus registry.
type Collector struct {
	source   Source
	registry *prometheus.Registry
}

// New creates a collector for the given source. An empty namespace falls
// back to DefaultNamespace.
func New(namespace string, source Source) *Collector {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	c := &Collector{
		source:   source,
		registry: prometheus.NewRegistry(),
	}
	c.registerMetrics(namespace)
	return c
}

// Handler returns the scrape endpoint handler backed by the private registry.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

func (c *Collector) registerMetrics(namespace string) {
	counter := func(subsystem, name, help string, value func(cache.Snapshot) float64) prometheus.CounterFunc {
		return prometheus.NewCounterFunc(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      name,
				Help:      help,
			},
			func() float64 { return value(c.source.Stats()) },
		)
	}
	gauge := func(subsystem, name, help string, value func(cache.Snapshot) float64) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: subsystem,
				Name:      name,
				Help:      help,
			},
			func() float64 { return value(c.source.Stats()) },
		)
	}

	c.registry.MustRegister(
		counter("cache", "hits_total", "Total cache hits across both tiers",
			func(s cache.Snapshot) float64 { return float64(s.Hits) }),
		counter("cache", "misses_total", "Total cache misses",
			func(s cache.Snapshot) float64 { return float64(s.Misses) }),
		counter("cache", "l1_hits_total", "Total hits served from the in-process tier",
			func(s cache.Snapshot) float64 { return float64(s.L1Hits) }),
		counter("cache", "l2_hits_total", "Total hits served from the remote tier",
			func(s cache.Snapshot) float64 { return float64(s.L2Hits) }),
		counter("cache", "writes_total", "Total cache writes",
			func(s cache.Snapshot) float64 { return float64(s.Writes) }),
		counter("cache", "deletes_total", "Total cache deletes",
			func(s cache.Snapshot) float64 { return float64(s.Deletes) }),
		counter("cache", "errors_total", "Total cache errors absorbed by the degradation path",
			func(s cache.Snapshot) float64 { return float64(s.Errors) }),
		counter("cache", "compressed_writes_total", "Total writes compressed before the remote tier",
			func(s cache.Snapshot) float64 { return float64(s.CompressedWrites) }),
		gauge("cache", "hit_rate", "Hits divided by total lookups",
			func(s cache.Snapshot) float64 { return s.HitRate }),
		gauge("cache", "l1_entries", "Current number of entries in the in-process tier",
			func(s cache.Snapshot) float64 { return float64(s.L1Size) }),
		gauge("", "circuit_breaker_state", "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			func(s cache.Snapshot) float64 { return breakerStateValue(s.CircuitBreakerState) }),
		gauge("", "remote_available", "Whether the remote tier is configured and not tripped (0 or 1)",
			func(s cache.Snapshot) float64 {
				if s.RemoteAvailable {
					return 1
				}
				return 0
			}),
	)
}

func breakerStateValue(state string) float64 {
	switch state {
	case circuitbreaker.StateClosed.String():
		return 0
	case circuitbreaker.StateHalfOpen.String():
		return 1
	case circuitbreaker.StateOpen.String():
		return 2
	default:
		return -1
	}
}
