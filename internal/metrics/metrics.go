// Package metrics exposes the prometheus collectors the scheduler and
// HTTP facade record against (SPEC_FULL §11, §12 "/metrics").
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// JobsByStatus counts jobs that the worker moved to a terminal status
	// (completed, error, cancelled), labeled by the status name. Waiting
	// jobs cancelled directly by cancel_job are not counted.
	JobsByStatus = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "videogen_jobs_total",
			Help: "Total number of jobs the worker moved to each terminal status.",
		},
		[]string{"status"},
	)

	// QueueDepth is the current length of the in-memory backlog.
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "videogen_queue_depth",
			Help: "Current number of job ids waiting in the backlog.",
		},
	)

	// EncoderDuration observes wall-clock time spent inside the encoder
	// subprocess per job, from spawn to exit.
	EncoderDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "videogen_encoder_duration_seconds",
			Help:    "Duration of encoder subprocess runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
		},
	)
)

// Handler returns the /metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
