// Package metrics holds the Prometheus collectors shared by the pipeline,
// the camera tracker and the printer link. They register on the default
// registry and are served by the web server on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "instantprint"

var (
	// Runs counts finished pipeline runs by kind (capture, test) and outcome.
	Runs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Pipeline runs by kind and outcome (ok, failed, skipped).",
		},
		[]string{"kind", "outcome"},
	)

	// StageDuration observes the time spent in each pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   []float64{.01, .05, .1, .25, .5, 1, 2.5, 5, 10, 30},
		},
		[]string{"stage"},
	)

	// PollAttempts observes how many status queries a capture needed.
	PollAttempts = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "camera_poll_attempts",
			Help:      "Status queries issued per capture command.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		},
	)

	// PrinterBytes counts bytes accepted by the printer transport.
	PrinterBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "printer_bytes_total",
			Help:      "Bytes written to the printer transport.",
		},
	)

	// PrinterErrors counts operations that moved the link to ERROR.
	PrinterErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "printer_errors_total",
			Help:      "Printer operations that failed with a device I/O error.",
		},
	)
)
