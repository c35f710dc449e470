package cache

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// CachePolicy controls how often snapshots are refreshed and which
// Cache-Control directives accompany them. It is fixed at startup.
//
// Directives with a numeric argument are nil when absent.
type CachePolicy struct {
	// RefreshInterval is the maximum age of a served snapshot before a
	// refresh is attempted. Zero refreshes on every request.
	RefreshInterval time.Duration

	// NoStore forbids storing the response (no-store).
	NoStore bool
	// NoCache requires revalidation before reuse (no-cache).
	NoCache bool
	// Public allows shared caches to store the response (public).
	Public bool
	// Private forbids shared caches from storing the response (private).
	Private bool
	// MaxAge in seconds (max-age).
	MaxAge *uint64
	// SharedMaxAge in seconds for shared caches (s-maxage).
	SharedMaxAge *uint64
	// MustRevalidate requires validation once stale (must-revalidate).
	MustRevalidate bool
	// ProxyRevalidate requires validation once stale in shared caches (proxy-revalidate).
	ProxyRevalidate bool
	// MustUnderstand limits storage to caches that understand the status
	// code (must-understand). Pair it with NoStore.
	MustUnderstand bool
	// NoTransform forbids intermediaries from transforming the body (no-transform).
	NoTransform bool
	// Immutable marks the response as never changing while fresh (immutable).
	Immutable bool
	// StaleWhileRevalidate in seconds (stale-while-revalidate).
	StaleWhileRevalidate *uint64
	// StaleIfError in seconds (stale-if-error).
	StaleIfError *uint64
}

// Seconds returns a pointer to n, for the numeric directives of CachePolicy.
func Seconds(n uint64) *uint64 {
	return &n
}

// DefaultPolicy returns the policy used when nothing is configured:
// public, with max-age equal to the whole seconds of the refresh interval.
func DefaultPolicy(refreshInterval time.Duration) CachePolicy {
	maxAge := uint64(0)
	if refreshInterval > 0 {
		maxAge = uint64(math.Floor(refreshInterval.Seconds()))
	}
	return CachePolicy{
		RefreshInterval: refreshInterval,
		Public:          true,
		MaxAge:          Seconds(maxAge),
	}
}

// Validate reports whether the policy can be served.
func (p CachePolicy) Validate() error {
	if p.RefreshInterval < 0 {
		return fmt.Errorf("%w: refresh interval must be >= 0 (got %v)", ErrInvalidPolicy, p.RefreshInterval)
	}
	if p.Public && p.Private {
		return fmt.Errorf("%w: public and private are mutually exclusive", ErrInvalidPolicy)
	}
	return nil
}

// CacheControl renders the Cache-Control header value.
// Directives appear in a fixed order so the output is deterministic:
// no-store, no-cache, public, private, max-age, s-maxage, must-revalidate,
// proxy-revalidate, must-understand, no-transform, immutable,
// stale-while-revalidate, stale-if-error.
func (p CachePolicy) CacheControl() string {
	var directives []string
	flag := func(set bool, name string) {
		if set {
			directives = append(directives, name)
		}
	}
	value := func(v *uint64, name string) {
		if v != nil {
			directives = append(directives, name+"="+strconv.FormatUint(*v, 10))
		}
	}

	flag(p.NoStore, "no-store")
	flag(p.NoCache, "no-cache")
	flag(p.Public, "public")
	flag(p.Private, "private")
	value(p.MaxAge, "max-age")
	value(p.SharedMaxAge, "s-maxage")
	flag(p.MustRevalidate, "must-revalidate")
	flag(p.ProxyRevalidate, "proxy-revalidate")
	flag(p.MustUnderstand, "must-understand")
	flag(p.NoTransform, "no-transform")
	flag(p.Immutable, "immutable")
	value(p.StaleWhileRevalidate, "stale-while-revalidate")
	value(p.StaleIfError, "stale-if-error")

	return strings.Join(directives, ", ")
}
