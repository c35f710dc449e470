package cache

import (
	"errors"
	"fmt"
	"time"

	"github.com/Sternrassler/whtop/pkg/telemetry"
)

var (
	// ErrInvalidPolicy indicates a cache policy that cannot be served.
	ErrInvalidPolicy = errors.New("invalid cache policy")

	// ErrNoSnapshot indicates the provider returned neither a snapshot nor an error.
	ErrNoSnapshot = errors.New("provider returned no snapshot")
)

// Entry is the result of one Acquire: a snapshot and the instant it was captured.
// Response bodies and freshness headers must be derived from the same Entry.
type Entry struct {
	// Snapshot is shared and must not be modified.
	Snapshot *telemetry.Snapshot

	// CapturedAt is when the refresh that produced Snapshot started.
	CapturedAt time.Time
}

// IsZero reports whether the entry holds no snapshot.
func (e Entry) IsZero() bool {
	return e.Snapshot == nil
}

// Age returns how old the entry is at now.
// Returns 0 for entries captured after now.
func (e Entry) Age(now time.Time) time.Duration {
	age := now.Sub(e.CapturedAt)
	if age < 0 {
		return 0
	}
	return age
}

// ProviderError reports a failed capture. The previously cached snapshot
// stays valid when a refresh fails.
type ProviderError struct {
	Err error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	return fmt.Sprintf("capture snapshot: %v", e.Err)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *ProviderError) Unwrap() error {
	return e.Err
}
