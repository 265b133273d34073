package synthesis

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lexicore_synthesis_cache_hits_total",
		Help: "Synthesis cache lookups that found an entry.",
	})

	metricCacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lexicore_synthesis_cache_misses_total",
		Help: "Synthesis cache lookups that found nothing.",
	})

	metricSynthesisFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lexicore_synthesis_failures_total",
		Help: "Synthesizer calls that returned an error.",
	})
)
