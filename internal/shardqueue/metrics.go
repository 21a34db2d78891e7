package shardqueue

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	submissionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "shardqueue",
		Name:      "submissions_total",
		Help:      "Jobs accepted by the shard executor.",
	}, []string{"shard"})

	queueFullTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "shardqueue",
		Name:      "queue_full_total",
		Help:      "Submissions rejected because the shard stayed full.",
	}, []string{"shard"})

	jobFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "shardqueue",
		Name:      "job_failures_total",
		Help:      "Jobs whose final attempt returned an error or panicked.",
	}, []string{"shard"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatpdt",
		Subsystem: "shardqueue",
		Name:      "run_seconds",
		Help:      "Duration of a single job attempt.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"shard"})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "chatpdt",
		Subsystem: "shardqueue",
		Name:      "depth",
		Help:      "Jobs waiting in a shard after the last run.",
	}, []string{"shard"})
)

func labelFor(shard int) string { return strconv.Itoa(shard) }
