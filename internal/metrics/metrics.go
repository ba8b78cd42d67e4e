// Package metrics registers the worker's prometheus collectors on the default
// registry; internal/httpapi exposes them on /metrics.
package metrics

import "github.com/prometheus/client_golang/prometheus"

var (
	JobsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fishnet",
			Subsystem: "worker",
			Name:      "jobs_total",
			Help:      "Jobs reaching a terminal outcome, by class and outcome",
		},
		[]string{"class", "outcome"},
	)

	JobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "fishnet",
			Subsystem: "worker",
			Name:      "job_duration_seconds",
			Help:      "Time from assignment to terminal outcome",
			Buckets:   prometheus.ExponentialBuckets(0.5, 2, 12),
		},
		[]string{"class"},
	)

	AcquireTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fishnet",
			Subsystem: "api",
			Name:      "acquire_total",
			Help:      "Acquire round trips by result",
		},
		[]string{"result"},
	)

	SubmitAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fishnet",
			Subsystem: "api",
			Name:      "submit_attempts_total",
			Help:      "Submission attempts by result",
		},
		[]string{"result"},
	)

	InFlight = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fishnet",
			Subsystem: "worker",
			Name:      "inflight_jobs",
			Help:      "Jobs currently holding an engine slot",
		},
		[]string{"class"},
	)

	SlotStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "fishnet",
			Subsystem: "engine",
			Name:      "slots",
			Help:      "Engine slots by lifecycle state",
		},
		[]string{"state"},
	)

	EngineRestarts = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "fishnet",
			Subsystem: "engine",
			Name:      "restarts_total",
			Help:      "Engine slot restarts after process death",
		},
	)

	BackoffSeconds = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "fishnet",
			Subsystem: "worker",
			Name:      "backoff_seconds_total",
			Help:      "Time spent waiting before the next poll, by cause",
		},
		[]string{"cause"},
	)
)

func init() {
	prometheus.MustRegister(JobsTotal, JobDuration, AcquireTotal, SubmitAttempts, InFlight, SlotStates, EngineRestarts, BackoffSeconds)
}
