// Package metrics holds the Prometheus collectors for import runs, the
// outbound fetcher and the downstream circuit breaker.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ImportRunsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_runs_total",
			Help: "Total number of import runs",
		},
		[]string{"import", "trigger", "result"}, // result: success, failure
	)

	ImportRunDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "import_run_duration_seconds",
			Help:    "Duration of import runs in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
		},
		[]string{"import"},
	)

	ImportItemsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_items_total",
			Help: "Total number of records seen by import runs, by stage",
		},
		[]string{"import", "stage"}, // stage: received, imported, skipped, failed
	)

	ImportRetriesExhausted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "import_retries_exhausted_total",
			Help: "Total number of times an import used up its retries",
		},
		[]string{"import"},
	)

	ImportsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "imports_in_flight",
			Help: "Current number of running imports",
		},
	)

	FetchFailuresTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "fetch_failures_total",
			Help: "Total number of failed third-party API fetches, by failure kind",
		},
		[]string{"kind"},
	)

	SchedulerDueConfigurations = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "scheduler_due_configurations",
			Help: "Number of configurations found due on the last tick",
		},
	)

	TaskQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "task_queue_depth",
			Help: "Number of tasks waiting in the worker queue",
		},
	)

	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from", "to"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through the circuit breaker",
		},
		[]string{"name", "result"}, // result: success, failure, rejected
	)
)

// RecordRun records the outcome and item counts of a finished run.
func RecordRun(importName, trigger string, success bool, duration time.Duration, received, imported, skipped, failed int) {
	result := "failure"
	if success {
		result = "success"
	}
	ImportRunsTotal.WithLabelValues(importName, trigger, result).Inc()
	ImportRunDuration.WithLabelValues(importName).Observe(duration.Seconds())

	ImportItemsTotal.WithLabelValues(importName, "received").Add(float64(received))
	ImportItemsTotal.WithLabelValues(importName, "imported").Add(float64(imported))
	ImportItemsTotal.WithLabelValues(importName, "skipped").Add(float64(skipped))
	ImportItemsTotal.WithLabelValues(importName, "failed").Add(float64(failed))
}
