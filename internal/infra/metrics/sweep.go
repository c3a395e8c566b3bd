package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func init() {
	register(sweepRunsTotal, sweepDuration, sweepRecordsTotal, workerQueueDropsTotal)
}

var (
	sweepRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_sweep_runs_total",
			Help: "Background reconciliation sweeps by result.",
		},
		[]string{"result"}, // ok|error
	)

	sweepDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "task_sweep_duration_seconds",
			Help:    "Wall time of one reconciliation sweep.",
			Buckets: prometheus.DefBuckets,
		},
	)

	sweepRecordsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "task_sweep_records_total",
			Help: "Records visited by the sweeper, by outcome.",
		},
		[]string{"outcome"}, // unchanged|advanced|error|skipped
	)

	workerQueueDropsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "worker_queue_drops_total",
			Help: "Tasks rejected because the worker queue was full.",
		},
	)
)

func ObserveSweep(elapsed time.Duration, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	sweepRunsTotal.WithLabelValues(result).Inc()
	sweepDuration.Observe(elapsed.Seconds())
}

func IncSweepRecord(outcome string) {
	sweepRecordsTotal.WithLabelValues(norm(outcome)).Inc()
}

func IncWorkerQueueDrop() { workerQueueDropsTotal.Inc() }
