package cache

import (
	"net/http"
	"time"
)

// FreshnessHeaders are the caching headers sent with a snapshot response.
type FreshnessHeaders struct {
	CacheControl string
	LastModified string
}

// BuildHeaders derives the freshness headers for a snapshot captured at
// lastRefresh. A zero lastRefresh is reported as the current time.
func BuildHeaders(policy CachePolicy, lastRefresh time.Time) FreshnessHeaders {
	if lastRefresh.IsZero() {
		lastRefresh = time.Now()
	}
	return FreshnessHeaders{
		CacheControl: policy.CacheControl(),
		LastModified: FormatHTTPDate(lastRefresh),
	}
}

// FormatHTTPDate formats t as an HTTP-date in GMT,
// e.g. "Tue, 15 Nov 1994 08:12:31 GMT".
func FormatHTTPDate(t time.Time) string {
	return t.UTC().Format(http.TimeFormat)
}

// Apply sets each non-empty header on h unless h already carries it,
// preserving values set earlier in the pipeline.
func (f FreshnessHeaders) Apply(h http.Header) {
	SetIfAbsent(h, "Cache-Control", f.CacheControl)
	SetIfAbsent(h, "Last-Modified", f.LastModified)
}

// SetIfAbsent sets key to value unless h already carries key. Empty values
// are never set.
func SetIfAbsent(h http.Header, key, value string) {
	if value == "" {
		return
	}
	if _, exists := h[http.CanonicalHeaderKey(key)]; exists {
		return
	}
	h.Set(key, value)
}

// ParseLastModified reads the Last-Modified header of a response.
// Returns false if the header is missing or malformed.
func ParseLastModified(h http.Header) (time.Time, bool) {
	lastModStr := h.Get("Last-Modified")
	if lastModStr == "" {
		return time.Time{}, false
	}

	lastMod, err := http.ParseTime(lastModStr)
	if err != nil {
		return time.Time{}, false
	}
	return lastMod, true
}
