package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Lookups tracks GetOrCompute outcomes ("hit", "miss", "shared", "error")
	Lookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resizer_cache_lookups_total",
			Help: "Total number of cache lookups by outcome",
		},
		[]string{"outcome"},
	)

	// Evictions tracks removed entries by reason ("size", "ttl", "purge")
	Evictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resizer_cache_evictions_total",
			Help: "Total number of cache entries removed by reason",
		},
		[]string{"reason"},
	)

	// Computations tracks the number of compute function invocations
	Computations = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "resizer_cache_computations_total",
			Help: "Total number of computations performed on cache misses",
		},
	)

	// InFlight tracks computations currently running
	InFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resizer_cache_inflight_computations",
			Help: "Number of computations currently in flight",
		},
	)

	// SizeBytes tracks the accounted size of the memory cache
	SizeBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resizer_cache_size_bytes",
			Help: "Current accounted size of the memory cache in bytes",
		},
	)

	// Entries tracks the number of entries held by the memory cache
	Entries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "resizer_cache_entries",
			Help: "Current number of entries in the memory cache",
		},
	)
)
