// Package limit bounds the outbound requests a whtop client keeps in flight.
// A Limiter hands out permits (at most MaxConcurrency at a time) and can pace
// how fast new permits are issued.
package limit

import "time"

// Defaults for a Limiter created from a zero Config.
const (
	DefaultMaxConcurrency = 5
)

// State is a point-in-time view of a Limiter.
type State struct {
	// InFlight is the number of permits currently held.
	InFlight int64 `json:"in_flight"`

	// MaxConcurrency is the permit capacity.
	MaxConcurrency int64 `json:"max_concurrency"`

	// Waiting is the number of callers blocked in Acquire.
	Waiting int64 `json:"waiting"`

	// RequestsPerSecond is the pacing rate, 0 when unpaced.
	RequestsPerSecond float64 `json:"requests_per_second"`

	// ObservedAt is when the state was read.
	ObservedAt time.Time `json:"observed_at"`
}

// Saturated reports whether every permit is held.
func (s State) Saturated() bool {
	return s.InFlight >= s.MaxConcurrency
}

// Available returns the number of permits that can be acquired without waiting.
func (s State) Available() int64 {
	if s.Saturated() {
		return 0
	}
	return s.MaxConcurrency - s.InFlight
}
