package engine

import "github.com/prometheus/client_golang/prometheus"

const (
	resultOK    = "ok"
	resultError = "error"
	cacheHit    = "hit"
	cacheMiss   = "miss"
)

var (
	invocationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_engine_invocations_total",
			Help: "Number of module function invocations, by result.",
		},
		[]string{"result"},
	)

	invokeDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scribe_engine_invoke_duration_seconds",
			Help:    "Wall-clock duration of top-level invocations.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		},
	)

	expandCacheTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_engine_expand_cache_total",
			Help: "Expansion cache lookups, by result.",
		},
		[]string{"result"},
	)

	enginesActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scribe_engines_active",
			Help: "Number of engines that have not been destroyed.",
		},
	)
)

func init() {
	prometheus.MustRegister(invocationsTotal, invokeDuration, expandCacheTotal, enginesActive)

	for _, r := range []string{resultOK, resultError} {
		invocationsTotal.WithLabelValues(r)
	}
	for _, r := range []string{cacheHit, cacheMiss} {
		expandCacheTotal.WithLabelValues(r)
	}
}
