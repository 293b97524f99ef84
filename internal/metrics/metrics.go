// Package metrics is kept close to the teacher's pkg/metrics/metrics.go
// (promauto-registered vars under one namespace), renamed to this
// platform's namespace and extended with the lock/breaker metrics the
// new components introduce. Carried as ambient plumbing even though
// spec.md lists a metrics dashboard as out of core scope — see DESIGN.md.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ExecutionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobctl",
			Subsystem: "executions",
			Name:      "total",
			Help:      "Total number of job executions by terminal status",
		},
		[]string{"status"},
	)

	ExecutionDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "jobctl",
			Subsystem: "executions",
			Name:      "duration_seconds",
			Help:      "Duration of job executions in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 15),
		},
		[]string{"job_name", "status"},
	)

	StepAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobctl",
			Subsystem: "steps",
			Name:      "attempts_total",
			Help:      "Total step attempts by step type and outcome",
		},
		[]string{"step_type", "status"},
	)

	SchedulerLag = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "jobctl",
			Subsystem: "scheduler",
			Name:      "lag_seconds",
			Help:      "Delay between scheduled fire time and actual dispatch",
			Buckets:   prometheus.ExponentialBuckets(0.01, 2, 10),
		},
	)

	SchedulerPolls = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobctl",
			Subsystem: "scheduler",
			Name:      "polls_total",
			Help:      "Total number of scheduler poll cycles",
		},
	)

	JobsDispatched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobctl",
			Subsystem: "scheduler",
			Name:      "jobs_dispatched_total",
			Help:      "Total number of jobs dispatched",
		},
	)

	LockContention = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobctl",
			Subsystem: "scheduler",
			Name:      "lock_contention_total",
			Help:      "Total number of per-bucket lock acquisitions lost to another instance",
		},
	)

	ActiveNodes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jobctl",
			Subsystem: "cluster",
			Name:      "active_nodes",
			Help:      "Number of active worker nodes",
		},
	)

	WorkerExecutionsRunning = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "jobctl",
			Subsystem: "worker",
			Name:      "executions_running",
			Help:      "Number of currently running executions on this worker",
		},
	)

	HeartbeatsSent = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobctl",
			Subsystem: "worker",
			Name:      "heartbeats_total",
			Help:      "Total heartbeats sent",
		},
	)

	RetriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobctl",
			Subsystem: "executions",
			Name:      "retries_total",
			Help:      "Total number of execution retries",
		},
		[]string{"job_name"},
	)

	OrphansReaped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "jobctl",
			Subsystem: "scheduler",
			Name:      "orphans_reaped_total",
			Help:      "Total number of orphaned executions cleaned up",
		},
	)

	BreakerTrips = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "jobctl",
			Subsystem: "steps",
			Name:      "breaker_trips_total",
			Help:      "Total number of circuit breaker open transitions by step",
		},
		[]string{"step_id"},
	)
)

// RecordExecution records metrics for a completed execution.
func RecordExecution(jobName, status string, durationSeconds float64) {
	ExecutionsTotal.WithLabelValues(status).Inc()
	ExecutionDuration.WithLabelValues(jobName, status).Observe(durationSeconds)
}

// RecordDispatch records a job being dispatched.
func RecordDispatch(lagSeconds float64) {
	JobsDispatched.Inc()
	SchedulerLag.Observe(lagSeconds)
}
