// Package metrics exposes the Prometheus registry used by whtop.
// Metrics are defined in their respective packages (cache, limit, client,
// server) via promauto and land in the default registry.
//
// This package provides the /metrics handler and a reference for all
// available metrics.
package metrics

import (
	"net/http"
	"runtime"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry is the default Prometheus registry used by whtop.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// buildInfo reports the running version; always 1.
var buildInfo = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "whtop_build_info",
	Help: "Build information of the running whtop binary",
}, []string{"version", "goversion"})

// SetBuildInfo records version in whtop_build_info.
func SetBuildInfo(version string) {
	buildInfo.Reset()
	buildInfo.WithLabelValues(version, runtime.Version()).Set(1)
}

// Handler returns the HTTP handler serving the default registry.
func Handler() http.Handler {
	return promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	})
}

// Metrics Documentation
//
// Snapshot Cache Metrics (pkg/cache):
//   - whtop_snapshot_acquires_total{path} (Counter): Acquire outcomes (fresh, coalesced, refreshed, failed, abandoned)
//   - whtop_snapshot_refreshes_total (Counter): Provider calls
//   - whtop_snapshot_refresh_errors_total (Counter): Failed provider calls
//   - whtop_snapshot_refresh_duration_seconds (Histogram): Provider call duration
//   - whtop_snapshot_last_refresh_timestamp_seconds (Gauge): Unix time of the last successful refresh
//   - whtop_snapshot_mirror_errors_total{operation} (Counter): Redis mirror errors
//
// HTTP Server Metrics (pkg/server):
//   - whtop_http_requests_total{route, status} (Counter): Requests by route pattern and status
//   - whtop_http_request_duration_seconds{route} (Histogram): Request duration by route pattern
//   - whtop_http_requests_in_flight (Gauge): Requests being served
//
// Client Metrics (pkg/client, pkg/limit):
//   - whtop_client_requests_total{endpoint, status} (Counter): Requests by endpoint and status
//   - whtop_client_request_duration_seconds{endpoint} (Histogram): Request duration by endpoint
//   - whtop_client_errors_total{class} (Counter): Errors by class (client, server, unavailable, network, timeout, decode)
//   - whtop_client_requests_in_flight (Gauge): Requests holding a permit
//   - whtop_client_permit_wait_seconds (Histogram): Time spent waiting for a permit
//   - whtop_client_permit_rejections_total (Counter): Permit waits abandoned
//
// Example Prometheus Queries:
//
//   # Share of requests served without a provider call
//   sum(rate(whtop_snapshot_acquires_total{path=~"fresh|coalesced"}[5m])) /
//   sum(rate(whtop_snapshot_acquires_total[5m]))
//
//   # Snapshot age
//   time() - whtop_snapshot_last_refresh_timestamp_seconds
//
//   # P95 capture latency
//   histogram_quantile(0.95, rate(whtop_snapshot_refresh_duration_seconds_bucket[5m]))
