package relay

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// relayOutcomesTotal 按终态统计中继次数
	relayOutcomesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "relay_outcomes_total",
			Help: "Total number of relay invocations by terminal outcome",
		},
		[]string{"outcome"},
	)

	relayBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_bytes_total",
		Help: "Total bytes written to relay sinks",
	})

	relayPausesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "relay_backpressure_pauses_total",
		Help: "Number of times a relay paused its source on sink backpressure",
	})
)

func observe(out Outcome) {
	relayOutcomesTotal.WithLabelValues(out.Kind.String()).Inc()
	relayBytesTotal.Add(float64(out.Bytes))
	relayPausesTotal.Add(float64(out.Pauses))
}
