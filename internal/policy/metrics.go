package policy

import "github.com/prometheus/client_golang/prometheus"

var (
	lastRefresh = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name:      "last_refresh",
		Subsystem: "policy",
		Help:      "The last Unix time a watched policy was refreshed, labeled by policy kind.",
	}, []string{"kind"})

	refreshErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "refresh_errors",
		Subsystem: "policy",
		Help:      "Counter of failed policy refreshes, labeled by policy kind and error kind.",
	}, []string{"kind", "error"})
)

func init() {
	prometheus.MustRegister(lastRefresh)
	prometheus.MustRegister(refreshErrors)
}
