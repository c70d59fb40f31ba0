package fetch

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// fetchDuration 记录出站调用耗时
var fetchDuration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Name:    "fetch_request_duration_seconds",
		Help:    "Outbound storage request duration in seconds",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	},
	[]string{"method", "status"},
)

func observeFetch(method string, resp *Response, err error, elapsed time.Duration) {
	status := "error"
	if resp != nil {
		status = strconv.Itoa(resp.StatusCode)
	} else if err == nil {
		status = "unknown"
	}
	fetchDuration.WithLabelValues(method, status).Observe(elapsed.Seconds())
}
