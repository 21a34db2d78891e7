package chatpdt

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsActive = promauto.NewGauge(prometheus.GaugeOpts{
	Namespace: "chatpdt",
	Name:      "sessions_active",
	Help:      "Sessions attached to their override document.",
})
