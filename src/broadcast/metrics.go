package broadcast

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"signalrelay/src/model"
)

// ----- metrics -----

// ResultsTotal counts per-subscriber outcomes by operation and status.
var ResultsTotal = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "signalrelay",
		Subsystem: "broadcast",
		Name:      "results_total",
		Help:      "Per-subscriber results produced by broadcast operations",
	},
	[]string{"operation", "status"}, // operation: signal, close, leverage, single
)

// Duration measures a whole fan-out, from subscriber listing to the last result.
var Duration = promauto.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "signalrelay",
		Subsystem: "broadcast",
		Name:      "duration_seconds",
		Help:      "Wall time of one broadcast operation",
		Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
	},
	[]string{"operation"},
)

// TaskPanics counts subscriber tasks that panicked and were recovered.
var TaskPanics = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "signalrelay",
		Subsystem: "subscriber",
		Name:      "task_panics_total",
		Help:      "Subscriber tasks recovered from a panic",
	},
)

// NotificationsFailed counts chat messages that could not be delivered.
var NotificationsFailed = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "signalrelay",
		Name:      "notifications_failed_total",
		Help:      "Outgoing notifications that failed to send",
	},
)

func recordResults(operation string, results []model.TradeResult) {
	for i := range results {
		ResultsTotal.WithLabelValues(operation, string(results[i].Status)).Inc()
	}
}
