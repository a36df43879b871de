package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	metricItems = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedforge_items_processed_total",
		Help: "Work items processed, labelled by outcome.",
	}, []string{"result"})

	metricBatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedforge_batches_completed_total",
		Help: "Batches fully drained from the queue store.",
	})

	metricDispatches = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedforge_dispatches_total",
		Help: "Async continuation requests issued.",
	})

	metricLockContention = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedforge_lock_contention_total",
		Help: "Lock acquisition attempts that found a live holder.",
	})

	metricRecoveries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "feedforge_watchdog_recoveries_total",
		Help: "Stalled runs restarted by the watchdog.",
	})

	metricRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "feedforge_runs_total",
		Help: "Feed runs finished, labelled by final status.",
	}, []string{"status"})
)
