package subprocess

import "github.com/prometheus/client_golang/prometheus"

// Metric label values for child exits.
const (
	exitQuit     = "quit"
	exitExited   = "exited"
	exitSignaled = "signaled"
	exitKilled   = "killed"
)

var (
	roundTrips = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_subprocess_round_trips_total",
			Help: "Total number of requests sent to luahost children, by message type.",
		},
		[]string{"type"},
	)

	callDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scribe_subprocess_call_seconds",
			Help:    "Duration of function calls into luahost children, in seconds.",
			Buckets: prometheus.DefBuckets,
		},
	)

	freedHandles = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "scribe_subprocess_freed_handles_total",
			Help: "Total number of function handles freed in luahost children.",
		},
	)

	activeChildren = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "scribe_subprocess_active_children",
			Help: "Number of currently running luahost children.",
		},
	)

	childExits = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scribe_subprocess_child_exits_total",
			Help: "Total number of luahost child exits, by kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(roundTrips)
	prometheus.MustRegister(callDuration)
	prometheus.MustRegister(freedHandles)
	prometheus.MustRegister(activeChildren)
	prometheus.MustRegister(childExits)

	for _, t := range []MsgType{MsgLoad, MsgCall, MsgRegister, MsgWrap, MsgStatus, MsgFree} {
		roundTrips.WithLabelValues(t.String())
	}
	for _, k := range []string{exitQuit, exitExited, exitSignaled, exitKilled} {
		childExits.WithLabelValues(k)
	}
}
