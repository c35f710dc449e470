package cache

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// SnapshotAcquires tracks Acquire outcomes by path
	SnapshotAcquires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whtop_snapshot_acquires_total",
			Help: "Total number of snapshot acquisitions by path",
		},
		[]string{"path"}, // "fresh", "coalesced", "refreshed", "failed", "abandoned"
	)

	// SnapshotRefreshes tracks provider calls
	SnapshotRefreshes = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whtop_snapshot_refreshes_total",
			Help: "Total number of snapshot refreshes (provider calls)",
		},
	)

	// SnapshotRefreshErrors tracks failed provider calls
	SnapshotRefreshErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "whtop_snapshot_refresh_errors_total",
			Help: "Total number of failed snapshot refreshes",
		},
	)

	// SnapshotRefreshDuration tracks how long the provider takes
	SnapshotRefreshDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "whtop_snapshot_refresh_duration_seconds",
			Help:    "Duration of snapshot refreshes in seconds",
			Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
	)

	// SnapshotLastRefresh is the unix time of the last successful refresh
	SnapshotLastRefresh = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "whtop_snapshot_last_refresh_timestamp_seconds",
			Help: "Unix time of the last successful snapshot refresh",
		},
	)

	// MirrorErrors tracks mirror operation errors
	MirrorErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "whtop_snapshot_mirror_errors_total",
			Help: "Total number of snapshot mirror operation errors",
		},
		[]string{"operation"}, // "publish", "latest", "delete"
	)
)
