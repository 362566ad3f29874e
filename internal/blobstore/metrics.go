package blobstore

import "github.com/prometheus/client_golang/prometheus"

var blobOps = prometheus.NewCounterVec(prometheus.CounterOpts{
	Name:      "operations",
	Subsystem: "blobstore",
	Help:      "Counter of blob store calls, labeled by operation and outcome.",
}, []string{"op", "outcome"})

func init() {
	prometheus.MustRegister(blobOps)
}
