package strata

import "github.com/prometheus/client_golang/prometheus"

// engineMetrics instruments the engine itself: set/get/flush/compact
// counts, get hits and misses, flush and compact durations, and a gauge
// for segment count. No bloom-filter metric is kept. This is ambient
// observability of the storage core, distinct
// from the disk-usage and visualization collaborators spec §1 excludes.
type engineMetrics struct {
	sets       prometheus.Counter
	gets       prometheus.Counter
	hits       prometheus.Counter
	misses     prometheus.Counter
	flushes    prometheus.Counter
	compactions prometheus.Counter
	opDuration prometheus.ObserverVec
	segments   prometheus.Gauge
}

// newEngineMetrics creates a fresh set of collectors without registering
// them anywhere, so that opening multiple engines in the same process (as
// the test suite does) never double-registers a collector.
func newEngineMetrics() *engineMetrics {
	m := &engineMetrics{
		sets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_sets_total",
			Help: "Number of Set calls accepted by the engine.",
		}),
		gets: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_gets_total",
			Help: "Number of Get calls made to the engine.",
		}),
		hits: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_get_hits_total",
			Help: "Number of Get calls that found a value.",
		}),
		misses: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_get_misses_total",
			Help: "Number of Get calls that found no value.",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_flushes_total",
			Help: "Number of memtable flushes performed.",
		}),
		compactions: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "strata_compactions_total",
			Help: "Number of compaction passes performed.",
		}),
		opDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "strata_op_duration_seconds",
			Help:    "Duration of flush and compact operations.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),
		segments: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "strata_segments",
			Help: "Current number of on-disk segments.",
		}),
	}
	return m
}

// Registry returns a *prometheus.Registry with every collector registered,
// ready to be exposed by a caller's own metrics endpoint.
func (m *engineMetrics) Registry() *prometheus.Registry {
	reg := prometheus.NewRegistry()
	reg.MustRegister(m.sets, m.gets, m.hits, m.misses, m.flushes, m.compactions, m.segments)
	if c, ok := m.opDuration.(prometheus.Collector); ok {
		reg.MustRegister(c)
	}
	return reg
}
