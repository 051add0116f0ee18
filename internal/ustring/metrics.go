package ustring

import "github.com/prometheus/client_golang/prometheus"

var cacheLookups = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scribe_pattern_cache_lookups_total",
		Help: "Pattern cache lookups by result.",
	},
	[]string{"result"},
)

func init() {
	prometheus.MustRegister(cacheLookups)

	cacheLookups.WithLabelValues("hit")
	cacheLookups.WithLabelValues("miss")
}
