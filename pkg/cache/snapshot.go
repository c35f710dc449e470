package cache

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/whtop/pkg/telemetry"
)

// RefreshListener is notified after every successful refresh. Notifications
// run on their own goroutine, after the cache lock is released, so a slow
// listener never delays Acquire. Listeners may see entries out of order.
type RefreshListener interface {
	OnRefresh(entry Entry)
}

// Options configures a SnapshotCache.
type Options struct {
	// RefreshInterval is the staleness window. Must be >= 0.
	RefreshInterval time.Duration

	// Now returns the current time (default: time.Now). Values should carry
	// a monotonic reading so staleness is immune to wall clock changes.
	Now func() time.Time

	// Logger overrides the component logger.
	Logger *zerolog.Logger

	// Listeners receive each newly refreshed entry.
	Listeners []RefreshListener
}

// SnapshotCache owns the most recent host snapshot and bounds how often the
// provider is queried. Any number of goroutines may call Acquire.
//
// Reads take the shared lock and return immediately while the snapshot is
// fresh. Once it is stale, callers queue for the exclusive lock and re-check:
// the first one refreshes, the rest reuse its result.
type SnapshotCache struct {
	provider  telemetry.Provider
	interval  time.Duration
	now       func() time.Time
	listeners []RefreshListener
	logger    zerolog.Logger

	mu          sync.RWMutex
	snapshot    *telemetry.Snapshot
	lastRefresh time.Time
	// attempts counts completed provider calls. It is written under mu and
	// read without it, before a caller queues for the lock, so callers that
	// arrive during a refresh can tell it apart from a later one. lastErr is
	// the error of the most recent call, nil if it succeeded.
	attempts atomic.Uint64
	lastErr  error
}

type acquireResult struct {
	entry Entry
	err   error
}

// NewSnapshotCache creates an empty cache in front of provider.
func NewSnapshotCache(provider telemetry.Provider, opts Options) (*SnapshotCache, error) {
	if provider == nil {
		return nil, fmt.Errorf("provider cannot be nil")
	}
	if opts.RefreshInterval < 0 {
		return nil, fmt.Errorf("%w: refresh interval must be >= 0 (got %v)", ErrInvalidPolicy, opts.RefreshInterval)
	}

	now := opts.Now
	if now == nil {
		now = time.Now
	}

	logger := log.With().Str("component", "snapshot-cache").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	return &SnapshotCache{
		provider:  provider,
		interval:  opts.RefreshInterval,
		now:       now,
		listeners: opts.Listeners,
		logger:    logger,
	}, nil
}

// Interval returns the configured staleness window.
func (c *SnapshotCache) Interval() time.Duration {
	return c.interval
}

// Acquire returns a snapshot no older than the refresh interval, refreshing
// it first if needed. A caller that waits on another caller's refresh gets
// that refresh's result, including its error.
//
// Cancelling ctx abandons only this caller's wait. A refresh already started
// runs to completion and its result is kept for other callers.
func (c *SnapshotCache) Acquire(ctx context.Context) (Entry, error) {
	observed := c.attempts.Load()

	// Fast path: shared lock, never waits on the provider.
	c.mu.RLock()
	if !c.dueLocked() {
		entry := c.entryLocked()
		c.mu.RUnlock()
		SnapshotAcquires.WithLabelValues("fresh").Inc()
		return entry, nil
	}
	c.mu.RUnlock()

	done := make(chan acquireResult, 1)
	go func() {
		entry, err := c.refresh(context.WithoutCancel(ctx), observed)
		done <- acquireResult{entry: entry, err: err}
	}()

	select {
	case res := <-done:
		return res.entry, res.err
	case <-ctx.Done():
		SnapshotAcquires.WithLabelValues("abandoned").Inc()
		return Entry{}, ctx.Err()
	}
}

// refresh is the slow path. The shared lock has been released; the exclusive
// lock is taken fresh, never upgraded.
func (c *SnapshotCache) refresh(ctx context.Context, observed uint64) (Entry, error) {
	c.mu.Lock()

	// Re-check: a caller that held the lock before us may have refreshed.
	if !c.dueLocked() {
		entry := c.entryLocked()
		c.mu.Unlock()
		SnapshotAcquires.WithLabelValues("coalesced").Inc()
		c.logger.Debug().Time("captured_at", entry.CapturedAt).Msg("Reusing snapshot refreshed by another caller")
		return entry, nil
	}

	// We waited on a refresh that failed; share its error instead of
	// querying the provider again for the same staleness event.
	if c.attempts.Load() != observed && c.lastErr != nil {
		err := c.lastErr
		c.mu.Unlock()
		SnapshotAcquires.WithLabelValues("failed").Inc()
		return Entry{}, &ProviderError{Err: err}
	}

	capturedAt := c.now()
	start := time.Now()
	snapshot, err := c.provider.Capture(ctx)
	if err == nil && snapshot == nil {
		err = ErrNoSnapshot
	}
	duration := time.Since(start)

	SnapshotRefreshes.Inc()
	SnapshotRefreshDuration.Observe(duration.Seconds())
	c.attempts.Add(1)

	if err != nil {
		c.lastErr = err
		stale := c.entryLocked()
		c.mu.Unlock()

		SnapshotRefreshErrors.Inc()
		SnapshotAcquires.WithLabelValues("failed").Inc()
		event := c.logger.Error().Err(err).Dur("duration", duration)
		if !stale.IsZero() {
			event = event.Dur("stale_age", stale.Age(capturedAt))
		}
		event.Msg("Snapshot refresh failed")
		return Entry{}, &ProviderError{Err: err}
	}

	c.snapshot = snapshot
	c.lastRefresh = capturedAt
	c.lastErr = nil
	entry := c.entryLocked()
	c.mu.Unlock()

	SnapshotAcquires.WithLabelValues("refreshed").Inc()
	SnapshotLastRefresh.Set(float64(capturedAt.UnixNano()) / 1e9)
	c.logger.Debug().
		Time("captured_at", capturedAt).
		Dur("duration", duration).
		Int("processes", len(snapshot.Processes)).
		Msg("Snapshot refreshed")

	c.notify(entry)

	return entry, nil
}

func (c *SnapshotCache) notify(entry Entry) {
	if len(c.listeners) == 0 {
		return
	}
	go func() {
		for _, listener := range c.listeners {
			listener.OnRefresh(entry)
		}
	}()
}

// Peek returns the cached entry without refreshing it.
// Returns false before the first successful refresh.
func (c *SnapshotCache) Peek() (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.snapshot == nil {
		return Entry{}, false
	}
	return c.entryLocked(), true
}

// dueLocked reports whether a refresh is needed. Caller holds c.mu.
func (c *SnapshotCache) dueLocked() bool {
	if c.snapshot == nil {
		return true
	}
	return c.now().Sub(c.lastRefresh) >= c.interval
}

func (c *SnapshotCache) entryLocked() Entry {
	return Entry{Snapshot: c.snapshot, CapturedAt: c.lastRefresh}
}
