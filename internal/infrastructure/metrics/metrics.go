package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Engine metrics
var (
	InboundTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapqual",
			Subsystem: "engine",
			Name:      "inbound_events_total",
			Help:      "Inbound webhook events by outcome",
		},
		[]string{"outcome"},
	)

	BatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zapqual",
			Subsystem: "engine",
			Name:      "batch_size_messages",
			Help:      "Number of messages coalesced per processed batch",
			Buckets:   []float64{1, 2, 3, 5, 8, 13, 21},
		},
	)

	LockContentionTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zapqual",
			Subsystem: "engine",
			Name:      "lock_contention_total",
			Help:      "Batch callbacks skipped because the session lock was held",
		},
	)

	StaleRearmTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "zapqual",
			Subsystem: "engine",
			Name:      "stale_rearm_total",
			Help:      "Batch windows re-armed because newer messages arrived after scheduling",
		},
	)

	InferenceDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "zapqual",
			Subsystem: "engine",
			Name:      "inference_duration_seconds",
			Help:      "Inference call duration in seconds",
			Buckets:   []float64{0.5, 1, 2, 5, 10, 30, 75},
		},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapqual",
			Subsystem: "engine",
			Name:      "dispatch_total",
			Help:      "Outbound reply dispatch attempts by result",
		},
		[]string{"result"},
	)

	ScheduledTasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapqual",
			Subsystem: "engine",
			Name:      "scheduled_tasks_total",
			Help:      "Tasks enqueued on the delayed scheduler by kind",
		},
		[]string{"kind"},
	)

	StageTransitionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "zapqual",
			Subsystem: "engine",
			Name:      "stage_transitions_total",
			Help:      "SPIN stage transitions by target stage",
		},
		[]string{"to_stage"},
	)
)

// RecordInbound records a webhook event outcome (accepted, duplicate,
// rejected).
func RecordInbound(outcome string) {
	InboundTotal.WithLabelValues(outcome).Inc()
}

// RecordDispatch records a dispatch attempt result (sent, failed,
// rejected).
func RecordDispatch(result string) {
	DispatchTotal.WithLabelValues(result).Inc()
}
