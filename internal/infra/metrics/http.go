package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() { register(httpRequestsTotal, httpLatencyMs) }

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "HTTP requests by route pattern and status code.",
		},
		[]string{"route", "code"},
	)

	httpLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_latency_ms",
			Help:    "HTTP request latency in milliseconds; streaming routes measure the whole stream.",
			Buckets: []float64{5, 10, 25, 50, 100, 250, 500, 1000, 5000, 30000, 120000},
		},
		[]string{"route"},
	)
)

func ObserveHTTP(route string, code int, elapsed time.Duration) {
	if route == "" {
		route = "unmatched"
	}
	httpRequestsTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	httpLatencyMs.WithLabelValues(route).Observe(float64(elapsed.Milliseconds()))
}
