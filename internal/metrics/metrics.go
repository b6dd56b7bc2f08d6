// Package metrics exposes prometheus counters for the caches and the
// validation pipeline. Collectors live on a dedicated registry so tests and
// embedding processes never collide with the default one.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Cache names used as label values.
const (
	CacheGraph     = "graph"
	CacheChildren  = "children"
	CacheInference = "inference"
)

// Lookup results.
const (
	ResultHit  = "hit"
	ResultMiss = "miss"
)

// Registry holds every trellis collector.
var Registry = prometheus.NewRegistry()

var factory = promauto.With(Registry)

var (
	// CacheLookups counts cache lookups by cache and result.
	CacheLookups = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trellis",
		Name:      "cache_lookups_total",
		Help:      "Cache lookups by cache and result.",
	}, []string{"cache", "result"})

	// CacheInvalidations counts dropped cache entries by cache and reason.
	CacheInvalidations = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trellis",
		Name:      "cache_invalidations_total",
		Help:      "Cache entries dropped by cache and reason.",
	}, []string{"cache", "reason"})

	// CacheEvictions counts LRU evictions.
	CacheEvictions = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trellis",
		Name:      "cache_evictions_total",
		Help:      "LRU evictions by cache.",
	}, []string{"cache"})

	// ValidationFailures counts rejected writes by error code.
	ValidationFailures = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trellis",
		Name:      "validation_failures_total",
		Help:      "Writes rejected by the validation pipeline, by error code.",
	}, []string{"code"})

	// Writes counts committed writes by operation.
	Writes = factory.NewCounterVec(prometheus.CounterOpts{
		Namespace: "trellis",
		Name:      "writes_total",
		Help:      "Committed object writes by operation.",
	}, []string{"op"})

	// Rollbacks counts writes undone after post-write verification failed.
	Rollbacks = factory.NewCounter(prometheus.CounterOpts{
		Namespace: "trellis",
		Name:      "rollbacks_total",
		Help:      "Writes undone after post-write verification failed.",
	})
)

// Hit records a cache hit.
func Hit(cache string) { CacheLookups.WithLabelValues(cache, ResultHit).Inc() }

// Miss records a cache miss.
func Miss(cache string) { CacheLookups.WithLabelValues(cache, ResultMiss).Inc() }

// Invalidated records a dropped entry.
func Invalidated(cache, reason string) { CacheInvalidations.WithLabelValues(cache, reason).Inc() }

// Evicted records an LRU eviction.
func Evicted(cache string) { CacheEvictions.WithLabelValues(cache).Inc() }
