package stream

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "stream",
		Name:      "runs_total",
		Help:      "Completed accumulator runs by outcome (ok, stream_error, commit_error).",
	}, []string{"outcome"})

	overlappingRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "stream",
		Name:      "overlapping_runs_total",
		Help:      "Runs started while another run targeted the same chat.",
	})

	fragmentsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "stream",
		Name:      "fragments_total",
		Help:      "Fragments received from the completion engine.",
	})

	titleFailuresTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "stream",
		Name:      "title_failures_total",
		Help:      "First-turn title jobs that failed; the main commit is unaffected.",
	})

	runDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chatpdt",
		Subsystem: "stream",
		Name:      "run_seconds",
		Help:      "Wall time from run start to final commit.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	})
)
