package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(upstreamCallsLatencyMs, upstreamOutputTokens)
}

var (
	upstreamCallsLatencyMs = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_calls_latency_ms",
			Help:    "Upstream provider call latency distribution in milliseconds.",
			Buckets: []float64{10, 25, 50, 100, 200, 400, 800, 1600, 3000, 5000},
		},
		[]string{"provider", "op", "success"},
	)

	upstreamOutputTokens = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_output_tokens",
			Help: "Sum of finalized output tokens per provider/model.",
		},
		[]string{"provider", "model"},
	)
)

func ObserveUpstreamCall(provider, op string, elapsed time.Duration, success bool) {
	upstreamCallsLatencyMs.WithLabelValues(norm(provider), norm(op), strconv.FormatBool(success)).
		Observe(float64(elapsed.Milliseconds()))
}

func AddOutputTokens(provider, model string, n int) {
	if n <= 0 {
		return
	}
	upstreamOutputTokens.WithLabelValues(norm(provider), norm(model)).Add(float64(n))
}
