package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	TasksCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_downloader_tasks_created_total",
		Help: "Total number of download tasks created",
	})

	TasksFinished = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_downloader_tasks_finished_total",
		Help: "Total number of download tasks finished",
	})

	TasksFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_downloader_tasks_failed_total",
		Help: "Total number of download tasks failed",
	})

	TasksCancelled = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_downloader_tasks_cancelled_total",
		Help: "Total number of download tasks cancelled",
	})

	AssetsFoundLocally = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_downloader_assets_found_locally_total",
		Help: "Total number of requests served from a storage root without downloading",
	})

	ActiveDownloads = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "asset_downloader_active_downloads",
		Help: "Number of download units holding a download slot",
	})

	DownloadsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_downloader_downloads_total",
		Help: "Total number of download attempts",
	})

	DownloadsSuccess = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_downloader_downloads_success_total",
		Help: "Total number of successful downloads",
	})

	DownloadsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_downloader_downloads_failed_total",
		Help: "Total number of failed downloads",
	})

	DownloadDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "asset_downloader_download_duration_seconds",
		Help:    "Download duration in seconds",
		Buckets: prometheus.DefBuckets,
	})

	DownloadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "asset_downloader_download_bytes_total",
		Help: "Total bytes downloaded",
	})

	PostprocessRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "asset_downloader_postprocess_runs_total",
		Help: "Total number of post-processing subprocesses started",
	}, []string{"command", "mode"})
)
