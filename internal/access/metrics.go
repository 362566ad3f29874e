package access

import "github.com/prometheus/client_golang/prometheus"

var accessDecisions = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name:      "decisions",
	Subsystem: "access",
	Help:      "Counter of access requests, labeled by policy kind and outcome.",
}, []string{"kind", "outcome"})

func init() {
	prometheus.MustRegister(accessDecisions)
}
