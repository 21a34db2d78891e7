package override

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	pushesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "override",
		Name:      "pushes_total",
		Help:      "Override pushes by outcome.",
	}, []string{"outcome"})

	fieldsPushedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "override",
		Name:      "fields_pushed_total",
		Help:      "Sub-payloads written, by document field.",
	}, []string{"field"})

	rejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "override",
		Name:      "rejected_total",
		Help:      "Stored sub-payloads dropped at decode because they were invalid.",
	}, []string{"field"})

	acceptedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "override",
		Name:      "accepted_total",
		Help:      "Timestamped events acted on by a receiver.",
	}, []string{"field"})

	injectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatpdt",
		Subsystem: "override",
		Name:      "ghost_injections_total",
		Help:      "Ghost messages written into chats by outcome (ok, duplicate, error).",
	}, []string{"outcome"})
)
