// File: internal/infra/metrics/metrics.go
package metrics

import (
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(buildInfo, taskTransitionsTotal, rateLimitDecisionsTotal)
}

var (
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "build_info",
			Help: "A constant metric with labels for version and commit hash.",
		},
		[]string{"version", "commit"},
	)

	taskTransitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_status_transitions_total",
			Help: "Status changes written to the task record store, by source and new status.",
		},
		[]string{"source", "status"}, // source: submit|stream|reconcile|cancel
	)

	rateLimitDecisionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "rate_limit_decisions_total",
			Help: "Rate limiter decisions per action.",
		},
		[]string{"action", "result"}, // result: allowed|denied|error
	)
)

func norm(s string) string { return strings.ToLower(strings.TrimSpace(s)) }

func SetBuildInfo(version, commit string) {
	buildInfo.WithLabelValues(version, commit).Set(1)
}

func IncTaskTransition(source, status string) {
	taskTransitionsTotal.WithLabelValues(norm(source), norm(status)).Inc()
}

func IncRateLimit(action, result string) {
	rateLimitDecisionsTotal.WithLabelValues(norm(action), norm(result)).Inc()
}
