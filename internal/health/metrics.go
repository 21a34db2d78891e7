package health

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var backendUp = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Namespace: "chatpdt",
	Subsystem: "health",
	Name:      "backend_up",
	Help:      "1 when the last ping of the backend succeeded.",
}, []string{"backend"})
