// Package metrics holds the Prometheus collectors exported at /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Sync
	SyncPasses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "player_sync_passes_total",
			Help: "Manifest sync passes by result",
		},
		[]string{"result"}, // "ok", "fetch_failed", "download_failed", "fatal", "pending", "skipped"
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "player_sync_duration_seconds",
			Help:    "Duration of manifest sync passes",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300, 900},
		},
	)

	BlobDownloads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "player_blob_downloads_total",
			Help: "Blob downloads by result",
		},
		[]string{"result"},
	)

	BlobDownloadBytes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "player_blob_download_bytes_total",
			Help: "Bytes written to the local blob cache",
		},
	)

	BlobCacheBytes = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "player_blob_cache_bytes",
			Help: "Bytes currently held in the local blob cache",
		},
	)

	// Mutation queue
	QueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "player_sync_queue_depth",
			Help: "Mutations waiting for delivery",
		},
	)

	DrainItems = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "player_drain_items_total",
			Help: "Queued mutations processed by drain passes, by result",
		},
		[]string{"result"}, // "delivered", "failed", "dropped"
	)

	// Connectivity
	Online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "player_online",
			Help: "1 when the device considers itself online",
		},
	)

	ConnectivityTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "player_connectivity_transitions_total",
			Help: "Online/offline transitions",
		},
		[]string{"to"},
	)

	// Playback
	PlaybackAdvances = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "player_playback_advances_total",
			Help: "Rotation advances",
		},
	)

	PlaybackResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "player_schedule_resolutions_total",
			Help: "Schedule resolutions that changed the active content, by reason",
		},
		[]string{"reason"},
	)

	// Remote store
	RemoteBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "player_remote_breaker_state",
			Help: "Circuit breaker state for the remote store (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	RemoteRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "player_remote_requests_total",
			Help: "Remote store requests by operation and result",
		},
		[]string{"operation", "result"},
	)

	// Local store
	LocalStoreErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "player_localstore_errors_total",
			Help: "Local store failures by region and operation",
		},
		[]string{"region", "operation"},
	)
)
