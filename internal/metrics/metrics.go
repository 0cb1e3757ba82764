// Package metrics registers the Prometheus collectors shared by the server,
// the expiry manager and the worker. They are exposed on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Deletion triggers used as the "trigger" label.
const (
	TriggerLazy   = "lazy"
	TriggerSweep  = "sweep"
	TriggerTimer  = "timer"
	TriggerManual = "manual"
)

var (
	// HTTPRequestsTotal counts requests by route pattern, not raw path, so
	// share ids never become label values.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropzone_http_requests_total",
			Help: "HTTP requests handled, by method, route and status.",
		},
		[]string{"method", "route", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dropzone_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	UploadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropzone_uploaded_files_total",
		Help: "Files encrypted and stored.",
	})

	UploadedBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropzone_uploaded_bytes_total",
		Help: "Plaintext bytes accepted by uploads.",
	})

	DownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropzone_downloads_total",
		Help: "Attachment downloads served.",
	})

	PreviewsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropzone_previews_total",
		Help: "Inline previews served.",
	})

	DeletionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropzone_deletions_total",
			Help: "Files removed, by what triggered the deletion.",
		},
		[]string{"trigger"},
	)

	SweepRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "dropzone_sweep_runs_total",
		Help: "Expiry sweeps executed.",
	})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "dropzone_sweep_duration_seconds",
		Help:    "Expiry sweep duration in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})

	PendingTimers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "dropzone_pending_expiry_timers",
		Help: "In-process one-shot deletion timers currently armed.",
	})

	EmailsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dropzone_emails_total",
			Help: "Share notifications, by result.",
		},
		[]string{"result"},
	)
)
