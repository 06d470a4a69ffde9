package task

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "task_runs_started_total",
		Help: "Total task runs started, including retries",
	}, []string{"task"})

	runsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "task_runs_finished_total",
		Help: "Total task runs that reached a terminal state by outcome",
	}, []string{"task", "outcome"})

	staleCompletions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "task_stale_completions_total",
		Help: "Completions discarded because their run was superseded or aborted",
	}, []string{"task"})
)
