package admin

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	broadcastTargetsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "admin",
		Name:      "broadcast_targets_total",
		Help:      "Override documents written by fleet broadcasts.",
	})
	flagChangesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "admin",
		Name:      "flag_changes_total",
		Help:      "User flag updates by flag.",
	}, []string{"flag"})
	deletionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "admin",
		Name:      "deletions_total",
		Help:      "Records removed through the console by kind.",
	}, []string{"kind"})
)
