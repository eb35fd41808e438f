// Package metrics collects prometheus counters for one download run.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "tiler"

// Outcome labels for TilesTotal.
const (
	OutcomeCached  = "cached"
	OutcomeFetched = "fetched"
	OutcomeFailed  = "failed"
)

// Metrics holds the collectors of a single run. Each run registers on its
// own registry so repeated runs in one process do not collide.
type Metrics struct {
	Registry *prometheus.Registry

	TilesTotal    *prometheus.CounterVec
	FetchAttempts *prometheus.CounterVec
	FetchDuration prometheus.Histogram
	FetchedBytes  prometheus.Counter

	CacheHits    prometheus.Counter
	CacheMisses  prometheus.Counter
	CacheCorrupt prometheus.Counter
}

// New registers a fresh set of collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		Registry: reg,
		TilesTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "tiles_total",
			Help:      "Tiles resolved by the fetch pipeline, by outcome",
		}, []string{"outcome"}),
		FetchAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "attempts_total",
			Help:      "Tile fetch attempts, by result class",
		}, []string{"class"}),
		FetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "duration_seconds",
			Help:      "Latency of single tile fetch attempts",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		FetchedBytes: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "fetch",
			Name:      "bytes_total",
			Help:      "Payload bytes received from the tile source",
		}),
		CacheHits: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "hits_total",
			Help:      "Tile cache hits",
		}),
		CacheMisses: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "misses_total",
			Help:      "Tile cache misses",
		}),
		CacheCorrupt: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "corrupt_total",
			Help:      "Cache entries that could not be read and were treated as misses",
		}),
	}
}

// ObserveFetch records one fetch attempt.
func (m *Metrics) ObserveFetch(class string, d time.Duration, size int) {
	m.FetchAttempts.WithLabelValues(class).Inc()
	m.FetchDuration.Observe(d.Seconds())
	if size > 0 {
		m.FetchedBytes.Add(float64(size))
	}
}

// WriteTextfile dumps the registry in the node_exporter textfile format.
func (m *Metrics) WriteTextfile(path string) error {
	return prometheus.WriteToTextfile(path, m.Registry)
}
