package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline metrics
var (
	// UploadsTotal counts finished upload runs by outcome.
	UploadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "uploads_total",
			Help:      "Total number of video upload runs by outcome",
		},
		[]string{"outcome"},
	)

	// StageDuration tracks time spent in each pipeline stage.
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "stage_duration_seconds",
			Help:      "Time spent in each upload pipeline stage",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300, 600},
		},
		[]string{"stage"},
	)

	// ToolDuration tracks external process run time.
	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ingest",
			Name:      "external_tool_duration_seconds",
			Help:      "Run time of ffprobe and ffmpeg invocations",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		},
		[]string{"tool", "status"},
	)

	// BytesBuffered counts payload bytes written to local temporary files.
	BytesBuffered = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "bytes_buffered_total",
			Help:      "Total payload bytes buffered to local disk",
		},
	)

	// ActiveUploads tracks the number of in-flight upload runs.
	ActiveUploads = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "ingest",
			Name:      "active_uploads",
			Help:      "Number of in-flight upload runs",
		},
	)

	// AspectClasses counts processed videos by aspect class.
	AspectClasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Name:      "aspect_class_total",
			Help:      "Processed videos by aspect class",
		},
		[]string{"class"},
	)
)

// API metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Subsystem: "api",
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request duration.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "ingest",
			Subsystem: "api",
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)

	// AuthFailures counts authentication failures by reason.
	AuthFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "ingest",
			Subsystem: "api",
			Name:      "auth_failures_total",
			Help:      "Total number of authentication failures",
		},
		[]string{"reason"},
	)
)

// RecordUpload records the outcome of an upload run.
func RecordUpload(outcome string) {
	UploadsTotal.WithLabelValues(outcome).Inc()
}

// ObserveStage records the duration of a pipeline stage in seconds.
func ObserveStage(stage string, seconds float64) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
}
