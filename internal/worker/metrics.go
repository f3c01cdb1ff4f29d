package worker

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	tasksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "guildsight_worker_tasks_total",
			Help: "Tasks settled by the worker pool, by kind and outcome.",
		},
		[]string{"kind", "outcome"},
	)
	taskSeconds = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "guildsight_worker_task_seconds",
			Help:    "Task handler wall time.",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14), // 50ms to ~400s
		},
		[]string{"kind"},
	)
	tasksInflight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "guildsight_worker_tasks_inflight",
			Help: "Tasks currently being handled.",
		},
	)
)

// Outcome labels.
const (
	outcomeOK      = "ok"
	outcomeRetried = "retried"
	outcomeDead    = "dead"
	outcomeExpired = "expired"
)
