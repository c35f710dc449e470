package limit

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	limiterInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "whtop_client_requests_in_flight",
		Help: "Number of outbound client requests holding a permit",
	})

	limiterWaitDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "whtop_client_permit_wait_seconds",
		Help:    "Time spent waiting for an outbound request permit",
		Buckets: []float64{0.001, 0.01, 0.05, 0.1, 0.5, 1, 3},
	})

	limiterRejectedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "whtop_client_permit_rejections_total",
		Help: "Total number of permit requests abandoned before a permit was granted",
	})
)

// Config configures a Limiter.
type Config struct {
	// MaxConcurrency is the number of permits (default 5).
	MaxConcurrency int64

	// RequestsPerSecond paces permit issuance. Zero disables pacing.
	RequestsPerSecond float64

	// Burst is the pacing burst size (default 1 when pacing is enabled).
	Burst int
}

// Limiter hands out request permits.
type Limiter struct {
	sem      *semaphore.Weighted
	pacer    *rate.Limiter
	capacity int64
	rps      float64
	logger   zerolog.Logger

	inFlight atomic.Int64
	waiting  atomic.Int64
}

// New creates a Limiter.
func New(cfg Config, logger zerolog.Logger) (*Limiter, error) {
	if cfg.MaxConcurrency < 0 {
		return nil, fmt.Errorf("max concurrency must be >= 0 (got %d)", cfg.MaxConcurrency)
	}
	if cfg.RequestsPerSecond < 0 {
		return nil, fmt.Errorf("requests per second must be >= 0 (got %g)", cfg.RequestsPerSecond)
	}
	if cfg.MaxConcurrency == 0 {
		cfg.MaxConcurrency = DefaultMaxConcurrency
	}

	l := &Limiter{
		sem:      semaphore.NewWeighted(cfg.MaxConcurrency),
		capacity: cfg.MaxConcurrency,
		rps:      cfg.RequestsPerSecond,
		logger:   logger,
	}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		l.pacer = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return l, nil
}

// Acquire blocks until a permit is available or ctx is done.
// The returned release function must be called exactly once; further calls
// are no-ops.
func (l *Limiter) Acquire(ctx context.Context) (release func(), err error) {
	start := time.Now()
	l.waiting.Add(1)
	defer l.waiting.Add(-1)

	if l.pacer != nil {
		if err := l.pacer.Wait(ctx); err != nil {
			limiterRejectedTotal.Inc()
			return nil, fmt.Errorf("wait for pacing: %w", err)
		}
	}

	if err := l.sem.Acquire(ctx, 1); err != nil {
		limiterRejectedTotal.Inc()
		return nil, fmt.Errorf("wait for permit: %w", err)
	}

	waited := time.Since(start)
	limiterWaitDuration.Observe(waited.Seconds())
	if waited > 100*time.Millisecond {
		l.logger.Debug().Dur("waited", waited).Int64("capacity", l.capacity).Msg("Permit granted after wait")
	}

	return l.grant(), nil
}

// TryAcquire takes a permit only if one is free right now, ignoring pacing.
func (l *Limiter) TryAcquire() (release func(), ok bool) {
	if !l.sem.TryAcquire(1) {
		return nil, false
	}
	return l.grant(), true
}

// grant records a held permit and returns its release function.
func (l *Limiter) grant() func() {
	l.inFlight.Add(1)
	limiterInFlight.Inc()

	var released atomic.Bool
	return func() {
		if !released.CompareAndSwap(false, true) {
			return
		}
		l.inFlight.Add(-1)
		limiterInFlight.Dec()
		l.sem.Release(1)
	}
}

// State returns the current limiter state.
func (l *Limiter) State() State {
	return State{
		InFlight:          l.inFlight.Load(),
		MaxConcurrency:    l.capacity,
		Waiting:           l.waiting.Load(),
		RequestsPerSecond: l.rps,
		ObservedAt:        time.Now(),
	}
}
