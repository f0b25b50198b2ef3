package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// TasksScheduled tracks tasks accepted by a scheduler
	TasksScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_scheduler_tasks_scheduled_total",
			Help: "Total number of tasks submitted to the scheduler",
		},
		[]string{"scheduler"},
	)

	// TasksExecuted tracks tasks run to completion (including ones that panicked)
	TasksExecuted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_scheduler_tasks_executed_total",
			Help: "Total number of tasks executed by scheduler workers",
		},
		[]string{"scheduler"},
	)

	// TaskPanics tracks tasks that panicked
	TaskPanics = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_scheduler_task_panics_total",
			Help: "Total number of tasks that panicked",
		},
		[]string{"scheduler"},
	)

	// TasksDropped tracks tasks submitted after every worker exited
	TasksDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_scheduler_tasks_dropped_total",
			Help: "Total number of tasks submitted after scheduler shutdown",
		},
		[]string{"scheduler"},
	)

	// QueueDepth tracks ready tasks waiting for a worker
	QueueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "flowcore_scheduler_queue_depth",
			Help: "Number of ready tasks waiting for a worker",
		},
		[]string{"scheduler"},
	)

	// TaskDuration tracks task run time
	TaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowcore_scheduler_task_duration_seconds",
			Help:    "Task execution time in seconds",
			Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
		},
		[]string{"scheduler"},
	)

	// Timers tracks timer lifecycle transitions
	Timers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_scheduler_timers_total",
			Help: "Timer transitions by event (scheduled, fired, canceled)",
		},
		[]string{"scheduler", "event"},
	)

	// Transactions tracks finished retry loops
	Transactions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_transactions_total",
			Help: "Total number of retry loops by variant and outcome",
		},
		[]string{"variant", "outcome"},
	)

	// TransactionAttempts tracks attempts per finished retry loop
	TransactionAttempts = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowcore_transaction_attempts",
			Help:    "Attempts needed per retry loop",
			Buckets: []float64{1, 2, 3, 5, 8, 13, 21, 50},
		},
		[]string{"variant"},
	)

	// TransactionRetries tracks errors resolved by OnError
	TransactionRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_transaction_retries_total",
			Help: "Total number of retries by variant and error code",
		},
		[]string{"variant", "code"},
	)

	// CommitLatency tracks commit round trips
	CommitLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "flowcore_commit_latency_seconds",
			Help:    "Commit latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"variant"},
	)

	// DebugEvents tracks records emitted by the debug variant
	DebugEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_transaction_debug_events_total",
			Help: "Total number of debug transaction records",
		},
		[]string{"function"},
	)

	// BackendOps tracks backend round trips
	BackendOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "flowcore_backend_ops_total",
			Help: "Backend operations by backend, op and result",
		},
		[]string{"backend", "op", "result"},
	)

	// DBConnectionPoolUsage tracks sql pool usage percentage
	DBConnectionPoolUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "flowcore_db_connection_pool_usage_percent",
			Help: "Open connections as a percentage of the configured maximum",
		},
	)
)
