package gateway

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	opsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "gateway",
		Name:      "operations_total",
		Help:      "Gateway operations by backend, operation and outcome.",
	}, []string{"backend", "op", "outcome"})

	opDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "chatpdt",
		Subsystem: "gateway",
		Name:      "operation_seconds",
		Help:      "Backend latency of gateway operations.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend", "op"})

	downgradesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "gateway",
		Name:      "downgrades_total",
		Help:      "Cloud to LocalOnly capability transitions.",
	})

	mirrorFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "gateway",
		Name:      "mirror_failures_total",
		Help:      "Local cache writes that failed after a successful cloud write.",
	}, []string{"op"})
)
