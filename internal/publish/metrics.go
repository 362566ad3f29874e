package publish

import "github.com/prometheus/client_golang/prometheus"

var (
	publishRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "runs",
		Subsystem: "publish",
		Help:      "Counter of publish runs reaching a terminal phase, labeled by phase and error kind.",
	}, []string{"phase", "error"})

	blobOutcomes = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name:      "blob_status",
		Subsystem: "publish",
		Help:      "Counter of uploaded blobs, labeled by store status.",
	}, []string{"status"})

	publishDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:      "duration_seconds",
		Subsystem: "publish",
		Help:      "Time from publish start to association.",
		Buckets:   prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(publishRuns)
	prometheus.MustRegister(blobOutcomes)
	prometheus.MustRegister(publishDuration)
}
