// Package metrics holds the Prometheus instrumentation shared by the
// orchestrator and the scheduler.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for taskflow.
type Metrics struct {
	// Submission metrics
	TasksSubmitted     prometheus.Counter
	WorkflowsSubmitted prometheus.Counter

	// Execution metrics
	TasksCompleted     *prometheus.CounterVec
	TaskDuration       prometheus.Histogram
	WorkflowsCompleted prometheus.Counter

	// Scheduler metrics
	ScheduleRuns *prometheus.CounterVec

	// Engine gauges
	ActiveTasks     prometheus.Gauge
	ActiveWorkflows prometheus.Gauge
	QueueDepth      prometheus.Gauge
}

// NewMetrics creates a Metrics instance registered with registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	factory := promauto.With(registry)

	return &Metrics{
		TasksSubmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskflow_tasks_submitted_total",
				Help: "Total number of tasks accepted into workflows",
			},
		),
		WorkflowsSubmitted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskflow_workflows_submitted_total",
				Help: "Total number of workflows submitted",
			},
		),
		TasksCompleted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskflow_tasks_completed_total",
				Help: "Total number of executed tasks by outcome",
			},
			[]string{"success"},
		),
		TaskDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "taskflow_task_duration_seconds",
				Help:    "Task execution duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		WorkflowsCompleted: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "taskflow_workflows_completed_total",
				Help: "Total number of workflows that reached a terminal state",
			},
		),
		ScheduleRuns: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "taskflow_schedule_runs_total",
				Help: "Total number of scheduled workflow submissions",
			},
			[]string{"schedule"},
		),
		ActiveTasks: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskflow_active_tasks",
				Help: "Number of tasks currently running",
			},
		),
		ActiveWorkflows: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskflow_active_workflows",
				Help: "Number of workflows with unfinished tasks",
			},
		),
		QueueDepth: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "taskflow_ready_queue_depth",
				Help: "Number of entries in the ready queue",
			},
		),
	}
}
