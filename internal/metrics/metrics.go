// Package metrics exposes client-side counters for the capture, detection and
// reporting pipeline.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "posemonitor"

var (
	FramesProcessed = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_processed_total",
		Help:      "Frames sent through pose detection.",
	})

	FramesSkipped = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_skipped_total",
		Help:      "Frames skipped because the stream position did not advance.",
	})

	DetectErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "detect_errors_total",
		Help:      "Failed pose detection calls.",
	})

	DetectLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "detect_latency_seconds",
		Help:      "Round trip of a single detection call.",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	})

	EventsRecorded = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "pose_events_recorded_total",
		Help:      "Pose events appended to the session buffer.",
	})

	BatchesSent = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "batches_sent_total",
		Help:      "Pose batches sent to the server, by result status.",
	}, []string{"status"})

	APIRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "Server API calls, by endpoint and result status.",
	}, []string{"endpoint", "status"})
)

var registry = prometheus.NewRegistry()

func init() {
	registry.MustRegister(
		FramesProcessed,
		FramesSkipped,
		DetectErrors,
		DetectLatency,
		EventsRecorded,
		BatchesSent,
		APIRequests,
	)
}

// Handler serves the client registry in the prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(registry, promhttp.HandlerOpts{})
}
