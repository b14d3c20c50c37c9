package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_cache_lookups_total",
		Help: "Cache lookups by store and result (hit or miss).",
	}, []string{"store", "result"})

	cacheDeduplicated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_cache_loads_shared_total",
		Help: "Loads that were answered by another caller's in-flight fetch.",
	}, []string{"store"})

	cacheDiscarded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "quoteflow_cache_loads_discarded_total",
		Help: "Fetched values not written because the key changed during the fetch.",
	}, []string{"store"})
)
