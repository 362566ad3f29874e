package seal

import "github.com/prometheus/client_golang/prometheus"

const (
	outcomeReleased    = "released"
	outcomeDenied      = "denied"
	outcomeUnavailable = "unavailable"
)

var shareRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name:      "share_requests",
	Subsystem: "keyserver",
	Help:      "Counter of key share requests, labeled by outcome.",
}, []string{"outcome"})

func init() {
	prometheus.MustRegister(shareRequests)
}
