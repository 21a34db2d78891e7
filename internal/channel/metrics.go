package channel

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	deliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "channel",
		Name:      "deliveries_total",
		Help:      "Snapshots delivered to subscribers by collection and source.",
	}, []string{"collection", "source"})

	readFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "channel",
		Name:      "read_failures_total",
		Help:      "Snapshot re-reads that failed and were skipped.",
	}, []string{"collection"})

	pushEndedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "channel",
		Name:      "push_ended_total",
		Help:      "Push listeners that ended under a live subscription.",
	}, []string{"collection"})

	activeSubscriptions = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatpdt",
		Subsystem: "channel",
		Name:      "active_subscriptions",
		Help:      "Subscriptions not yet disposed.",
	})
)
