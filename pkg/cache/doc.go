// Package cache provides the refresh-gated snapshot cache and the HTTP
// freshness headers derived from it.
//
// The snapshot cache implements the following guarantees:
//
// - A served snapshot is never older than the refresh interval, except for
// callers that raced into a refresh already in flight (one extra cycle)
// - At most one provider call per staleness event, however many callers race
// - Snapshots are replaced wholesale, never mutated in place
// - A failed refresh leaves the cached snapshot untouched
// - Capture timestamps are monotonic across all callers
//
// # Basic Usage
//
//	provider := telemetry.NewHostProvider(logger)
//
//	snapshots, err := cache.NewSnapshotCache(provider, cache.Options{
//		RefreshInterval: 2 * time.Second,
//	})
//	if err != nil {
//		return err
//	}
//
//	entry, err := snapshots.Acquire(ctx)
//	if err != nil {
//		// Provider failed (*cache.ProviderError) or ctx was cancelled
//	}
//
// # Freshness Headers
//
// Body and headers must come from the same Entry:
//
//	policy := cache.DefaultPolicy(snapshots.Interval())
//	cache.BuildHeaders(policy, entry.CapturedAt).Apply(w.Header())
//	json.NewEncoder(w).Encode(render(entry.Snapshot))
//
// Apply never overwrites headers already present on the response.
//
// # Redis Mirror
//
// A Mirror registered as a RefreshListener publishes every refreshed snapshot
// to Redis under whtop:snapshot:<host>. It is write-only from the cache's
// point of view; the cache state is never restored from Redis.
//
// # Metrics
//
// The package exports Prometheus metrics:
//
//   - whtop_snapshot_acquires_total{path} - Acquire outcomes
//   - whtop_snapshot_refreshes_total - Provider calls
//   - whtop_snapshot_refresh_errors_total - Failed provider calls
//   - whtop_snapshot_refresh_duration_seconds - Provider call duration
//   - whtop_snapshot_last_refresh_timestamp_seconds - Last successful refresh
//   - whtop_snapshot_mirror_errors_total{operation} - Mirror errors
package cache
