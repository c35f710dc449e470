package config

import (
	"github.com/urfave/cli/v2"
)

// Flag names.
const (
	FlagAddress         = "address"
	FlagRefreshRateSecs = "refresh-rate-secs"
	FlagServeStatic     = "serve-static"
	FlagStaticDir       = "static-dir"
	FlagRequestTimeout  = "request-timeout"
	FlagRedisURL        = "redis-url"
	FlagLogLevel        = "log-level"
	FlagLogPretty       = "log-pretty"

	FlagCacheNoStore              = "cache-no-store"
	FlagCacheNoCache              = "cache-no-cache"
	FlagCachePublic               = "cache-public"
	FlagCachePrivate              = "cache-private"
	FlagCacheMaxAge               = "cache-max-age"
	FlagCacheSharedMaxAge         = "cache-s-maxage"
	FlagCacheMustRevalidate       = "cache-must-revalidate"
	FlagCacheProxyRevalidate      = "cache-proxy-revalidate"
	FlagCacheMustUnderstand       = "cache-must-understand"
	FlagCacheNoTransform          = "cache-no-transform"
	FlagCacheImmutable            = "cache-immutable"
	FlagCacheStaleWhileRevalidate = "cache-stale-while-revalidate"
	FlagCacheStaleIfError         = "cache-stale-if-error"
)

// env maps a flag name to its environment variable, e.g.
// "refresh-rate-secs" to "WHTOP_REFRESH_RATE_SECS".
func env(flag string) []string {
	name := []byte(flag)
	for i, b := range name {
		switch {
		case b == '-':
			name[i] = '_'
		case b >= 'a' && b <= 'z':
			name[i] = b - 'a' + 'A'
		}
	}
	return []string{EnvPrefix + string(name)}
}

// Flags returns the server flags with their defaults and WHTOP_* variables.
func Flags() []cli.Flag {
	d := Defaults()
	return []cli.Flag{
		&cli.StringFlag{Name: FlagAddress, Usage: "listen address", Value: d.Address, EnvVars: env(FlagAddress)},
		&cli.Float64Flag{Name: FlagRefreshRateSecs, Usage: "snapshot refresh interval in seconds", Value: d.RefreshRateSecs, EnvVars: env(FlagRefreshRateSecs)},
		&cli.BoolFlag{Name: FlagServeStatic, Usage: "serve the static dashboard", Value: d.ServeStatic, EnvVars: env(FlagServeStatic)},
		&cli.StringFlag{Name: FlagStaticDir, Usage: "static dashboard directory", Value: d.StaticDir, EnvVars: env(FlagStaticDir)},
		&cli.DurationFlag{Name: FlagRequestTimeout, Usage: "per-request wait budget (0 disables)", Value: d.RequestTimeout, EnvVars: env(FlagRequestTimeout)},
		&cli.StringFlag{Name: FlagRedisURL, Usage: "mirror snapshots to Redis (redis:// URL or host:port)", EnvVars: env(FlagRedisURL)},
		&cli.StringFlag{Name: FlagLogLevel, Usage: "log level (debug, info, warn, error)", Value: d.LogLevel, EnvVars: env(FlagLogLevel)},
		&cli.BoolFlag{Name: FlagLogPretty, Usage: "human-readable logs", EnvVars: env(FlagLogPretty)},

		&cli.BoolFlag{Name: FlagCacheNoStore, Usage: "add no-store", EnvVars: env(FlagCacheNoStore)},
		&cli.BoolFlag{Name: FlagCacheNoCache, Usage: "add no-cache", EnvVars: env(FlagCacheNoCache)},
		&cli.BoolFlag{Name: FlagCachePublic, Usage: "add public (default unless private)", EnvVars: env(FlagCachePublic)},
		&cli.BoolFlag{Name: FlagCachePrivate, Usage: "add private", EnvVars: env(FlagCachePrivate)},
		&cli.Int64Flag{Name: FlagCacheMaxAge, Usage: "max-age seconds (-1 derives it from the refresh interval)", Value: Unset, EnvVars: env(FlagCacheMaxAge)},
		&cli.Int64Flag{Name: FlagCacheSharedMaxAge, Usage: "s-maxage seconds (-1 omits it)", Value: Unset, EnvVars: env(FlagCacheSharedMaxAge)},
		&cli.BoolFlag{Name: FlagCacheMustRevalidate, Usage: "add must-revalidate", EnvVars: env(FlagCacheMustRevalidate)},
		&cli.BoolFlag{Name: FlagCacheProxyRevalidate, Usage: "add proxy-revalidate", EnvVars: env(FlagCacheProxyRevalidate)},
		&cli.BoolFlag{Name: FlagCacheMustUnderstand, Usage: "add must-understand", EnvVars: env(FlagCacheMustUnderstand)},
		&cli.BoolFlag{Name: FlagCacheNoTransform, Usage: "add no-transform", EnvVars: env(FlagCacheNoTransform)},
		&cli.BoolFlag{Name: FlagCacheImmutable, Usage: "add immutable", EnvVars: env(FlagCacheImmutable)},
		&cli.Int64Flag{Name: FlagCacheStaleWhileRevalidate, Usage: "stale-while-revalidate seconds (-1 omits it)", Value: Unset, EnvVars: env(FlagCacheStaleWhileRevalidate)},
		&cli.Int64Flag{Name: FlagCacheStaleIfError, Usage: "stale-if-error seconds (-1 omits it)", Value: Unset, EnvVars: env(FlagCacheStaleIfError)},
	}
}

// FromContext reads the configuration from parsed flags and validates it.
func FromContext(c *cli.Context) (AppConfig, error) {
	cfg := AppConfig{
		Address:         c.String(FlagAddress),
		RefreshRateSecs: c.Float64(FlagRefreshRateSecs),
		ServeStatic:     c.Bool(FlagServeStatic),
		StaticDir:       c.String(FlagStaticDir),
		RequestTimeout:  c.Duration(FlagRequestTimeout),
		RedisURL:        c.String(FlagRedisURL),
		LogLevel:        c.String(FlagLogLevel),
		LogPretty:       c.Bool(FlagLogPretty),
		Cache: CacheDirectives{
			NoStore:              c.Bool(FlagCacheNoStore),
			NoCache:              c.Bool(FlagCacheNoCache),
			Private:              c.Bool(FlagCachePrivate),
			MustRevalidate:       c.Bool(FlagCacheMustRevalidate),
			ProxyRevalidate:      c.Bool(FlagCacheProxyRevalidate),
			MustUnderstand:       c.Bool(FlagCacheMustUnderstand),
			NoTransform:          c.Bool(FlagCacheNoTransform),
			Immutable:            c.Bool(FlagCacheImmutable),
			MaxAge:               c.Int64(FlagCacheMaxAge),
			SharedMaxAge:         c.Int64(FlagCacheSharedMaxAge),
			StaleWhileRevalidate: c.Int64(FlagCacheStaleWhileRevalidate),
			StaleIfError:         c.Int64(FlagCacheStaleIfError),
		},
	}
	if c.IsSet(FlagCachePublic) {
		public := c.Bool(FlagCachePublic)
		cfg.Cache.Public = &public
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}
