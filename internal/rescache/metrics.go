package rescache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	hitsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repolens_resource_cache_hits_total",
		Help: "Number of resource cache hits.",
	}, []string{"cache"})

	missesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repolens_resource_cache_misses_total",
		Help: "Number of resource cache misses (loader invocations attempted).",
	}, []string{"cache"})

	evictionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "repolens_resource_cache_evictions_total",
		Help: "Number of entries evicted to keep the cache within its size budget.",
	}, []string{"cache"})

	entriesGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "repolens_resource_cache_entries",
		Help: "Current number of cached entries.",
	}, []string{"cache"})

	memoryGauge = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "repolens_resource_cache_memory_mb",
		Help: "Estimated memory held by cached entries in megabytes.",
	}, []string{"cache"})
)
