package governor

import "github.com/prometheus/client_golang/prometheus"

const (
	kindCPU       = "cpu"
	kindMemory    = "memory"
	kindExpensive = "expensive"
)

var limitExceeded = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Name: "scribe_governor_limit_exceeded_total",
		Help: "Number of times a resource limit was exceeded, by kind.",
	},
	[]string{"kind"},
)

func init() {
	prometheus.MustRegister(limitExceeded)

	for _, k := range []string{kindCPU, kindMemory, kindExpensive} {
		limitExceeded.WithLabelValues(k)
	}
}
