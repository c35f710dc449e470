package cache

import (
	"strings"
)

// MirrorKey identifies the Redis key a host's snapshot is mirrored under.
type MirrorKey struct {
	// Namespace prefixes the key (default "whtop").
	Namespace string

	// Host is the name of the host the snapshot describes.
	Host string
}

// String generates the Redis key.
// Format: namespace:snapshot:host
//
// Example:
//
//	whtop:snapshot:web-01
func (k MirrorKey) String() string {
	namespace := normalizeKeyPart(k.Namespace)
	if namespace == "" {
		namespace = "whtop"
	}

	host := normalizeKeyPart(k.Host)
	if host == "" {
		host = "localhost"
	}

	return strings.Join([]string{namespace, "snapshot", host}, ":")
}

// normalizeKeyPart lower-cases s and replaces separators and whitespace so a
// part never introduces extra key segments.
func normalizeKeyPart(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	return strings.Map(func(r rune) rune {
		switch r {
		case ':', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, s)
}
