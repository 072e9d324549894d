// Package metrics exposes the scheduler's Prometheus instrumentation,
// grounded in control_plane/observability/metrics.go's promauto-constructed
// gauge/counter/histogram vars, trimmed to the signals this core actually
// emits (queue depth, placement decisions, worker saturation, completion
// counts, deadline-satisfaction rate).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// QueueDepth tracks the number of pending tasks in the TaskStore.
	QueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fluxsched_queue_depth",
		Help: "Current number of pending tasks in the scheduler queue",
	})

	// SchedulingDecisions tracks placement-tick outcomes by decision type.
	SchedulingDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxsched_scheduling_decisions_total",
		Help: "Total number of scheduling decisions made, by decision type",
	}, []string{"decision"}) // DISPATCH, NO_ELIGIBLE_WORKER, REJECTED

	// WorkerSaturation tracks a worker's active/max-concurrency ratio.
	WorkerSaturation = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fluxsched_worker_saturation",
		Help: "Ratio of active tasks to max concurrency, per worker",
	}, []string{"worker_id"})

	// TaskCompletions tracks completions by success/failure.
	TaskCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "fluxsched_task_completions_total",
		Help: "Total number of task completions",
	}, []string{"success"})

	// DeadlineSatisfactionRate tracks completed_on_time / total_completed.
	DeadlineSatisfactionRate = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "fluxsched_deadline_satisfaction_rate",
		Help: "Ratio of on-time completions to total completions",
	})

	// WorkerEvictions tracks workers evicted for stale heartbeats.
	WorkerEvictions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fluxsched_worker_evictions_total",
		Help: "Total number of workers evicted for stale heartbeats",
	})

	// RequeuedTasks tracks tasks returned to pending after a worker eviction.
	RequeuedTasks = promauto.NewCounter(prometheus.CounterOpts{
		Name: "fluxsched_requeued_tasks_total",
		Help: "Total number of tasks requeued after their worker was evicted",
	})

	// AdmissionWaitSeconds tracks time tasks wait in the queue before
	// placement.
	AdmissionWaitSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "fluxsched_admission_wait_seconds",
		Help:    "Time tasks wait in the pending queue before being placed",
		Buckets: prometheus.DefBuckets,
	})
)
