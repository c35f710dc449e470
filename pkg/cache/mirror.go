package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/whtop/pkg/telemetry"
)

var (
	// ErrMirrorMiss indicates no snapshot is mirrored for the key
	ErrMirrorMiss = errors.New("mirror miss")

	// ErrInvalidMirror indicates the mirrored value is invalid or corrupted
	ErrInvalidMirror = errors.New("invalid mirrored snapshot")
)

// DefaultPublishTimeout bounds a single publish issued from OnRefresh.
const DefaultPublishTimeout = 2 * time.Second

// MirroredSnapshot is the value stored in Redis.
type MirroredSnapshot struct {
	Host       string             `json:"host"`
	CapturedAt time.Time          `json:"captured_at"`
	Snapshot   telemetry.Snapshot `json:"snapshot"`
}

// Mirror publishes refreshed snapshots to Redis so other consumers can read
// the latest host state. The cache never reads its own state back from it.
type Mirror struct {
	redis  *redis.Client
	key    MirrorKey
	ttl    time.Duration
	logger zerolog.Logger

	mu            sync.Mutex
	lastPublished time.Time
}

// NewMirror creates a mirror writing to key. Entries expire after ttl.
func NewMirror(redisClient *redis.Client, key MirrorKey, ttl time.Duration, logger zerolog.Logger) *Mirror {
	if redisClient == nil {
		panic("redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Mirror{
		redis:  redisClient,
		key:    key,
		ttl:    ttl,
		logger: logger,
	}
}

// MirrorTTL derives the mirror TTL from the refresh interval: five intervals,
// at least five seconds.
func MirrorTTL(refreshInterval time.Duration) time.Duration {
	if refreshInterval < time.Second {
		refreshInterval = time.Second
	}
	return 5 * refreshInterval
}

// Key returns the Redis key the mirror writes to.
func (m *Mirror) Key() string {
	return m.key.String()
}

// Publish stores entry unless a newer one has already been published.
func (m *Mirror) Publish(ctx context.Context, entry Entry) error {
	if entry.IsZero() {
		return fmt.Errorf("entry cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry.CapturedAt.Before(m.lastPublished) {
		return nil
	}

	data, err := json.Marshal(MirroredSnapshot{
		Host:       m.key.Host,
		CapturedAt: entry.CapturedAt,
		Snapshot:   *entry.Snapshot,
	})
	if err != nil {
		MirrorErrors.WithLabelValues("publish").Inc()
		return fmt.Errorf("marshal snapshot: %w", err)
	}

	if err := m.redis.Set(ctx, m.key.String(), data, m.ttl).Err(); err != nil {
		MirrorErrors.WithLabelValues("publish").Inc()
		return fmt.Errorf("redis set: %w", err)
	}

	m.lastPublished = entry.CapturedAt
	return nil
}

// OnRefresh implements RefreshListener. Failures are logged, never returned,
// so the mirror cannot fail a request.
func (m *Mirror) OnRefresh(entry Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), DefaultPublishTimeout)
	defer cancel()

	if err := m.Publish(ctx, entry); err != nil {
		m.logger.Warn().Err(err).Str("key", m.key.String()).Msg("Failed to mirror snapshot")
		return
	}
	m.logger.Debug().
		Str("key", m.key.String()).
		Time("captured_at", entry.CapturedAt).
		Msg("Mirrored snapshot")
}

// Latest retrieves the mirrored snapshot.
// Returns ErrMirrorMiss if nothing is stored or the entry expired.
func (m *Mirror) Latest(ctx context.Context) (*MirroredSnapshot, error) {
	data, err := m.redis.Get(ctx, m.key.String()).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, ErrMirrorMiss
		}
		MirrorErrors.WithLabelValues("latest").Inc()
		return nil, fmt.Errorf("redis get: %w", err)
	}

	var mirrored MirroredSnapshot
	if err := json.Unmarshal(data, &mirrored); err != nil {
		MirrorErrors.WithLabelValues("latest").Inc()
		return nil, fmt.Errorf("%w: %v", ErrInvalidMirror, err)
	}

	return &mirrored, nil
}

// Delete removes the mirrored snapshot.
func (m *Mirror) Delete(ctx context.Context) error {
	if err := m.redis.Del(ctx, m.key.String()).Err(); err != nil {
		MirrorErrors.WithLabelValues("delete").Inc()
		return fmt.Errorf("redis del: %w", err)
	}

	m.mu.Lock()
	m.lastPublished = time.Time{}
	m.mu.Unlock()
	return nil
}

// Ping checks the Redis connection; used for readiness.
func (m *Mirror) Ping(ctx context.Context) error {
	if err := m.redis.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}
