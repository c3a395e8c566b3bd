package metrics

import "github.com/prometheus/client_golang/prometheus"

func init() {
	register(
		streamEventsTotal,
		streamsActive,
		checkpointsTotal,
		resumePollsTotal,
		cancelResultsTotal,
	)
}

var (
	streamEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_events_total",
			Help: "Classified stream events forwarded to clients, by mode and kind.",
		},
		[]string{"mode", "kind"}, // mode: attach|resume
	)

	streamsActive = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "streams_active",
			Help: "Open client streams by mode.",
		},
		[]string{"mode"},
	)

	checkpointsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stream_checkpoints_total",
			Help: "Cursor checkpoints written by primary attachments.",
		},
		[]string{"result"}, // ok|error
	)

	resumePollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "resume_polls_total",
			Help: "Resume poll iterations, by observed status.",
		},
		[]string{"status"},
	)

	cancelResultsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cancel_results_total",
			Help: "Cancel requests by outcome.",
		},
		[]string{"result"}, // forwarded|already_terminal|shared|error
	)
)

func IncStreamEvent(mode, kind string) {
	streamEventsTotal.WithLabelValues(norm(mode), norm(kind)).Inc()
}

// StreamOpened bumps the open-stream gauge and returns the matching decrement.
func StreamOpened(mode string) func() {
	g := streamsActive.WithLabelValues(norm(mode))
	g.Inc()
	return g.Dec
}

func IncCheckpoint(result string) {
	checkpointsTotal.WithLabelValues(norm(result)).Inc()
}

func IncResumePoll(status string) {
	resumePollsTotal.WithLabelValues(norm(status)).Inc()
}

func IncCancel(result string) {
	cancelResultsTotal.WithLabelValues(norm(result)).Inc()
}
