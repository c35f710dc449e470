// Package config loads and validates the whtop server configuration from
// flags, WHTOP_* environment variables and an optional .env file.
package config

import (
	"errors"
	"fmt"
	"math"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/Sternrassler/whtop/pkg/cache"
	"github.com/Sternrassler/whtop/pkg/logging"
)

// EnvPrefix prefixes every environment variable read by the server.
const EnvPrefix = "WHTOP_"

// EnvFileVar names the .env file to load before flags are parsed.
const EnvFileVar = EnvPrefix + "ENV_FILE"

// Unset marks a numeric cache directive as absent. For MaxAge it means
// "derive from the refresh interval".
const Unset int64 = -1

// ConfigError reports an invalid configuration value.
type ConfigError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid config %s: %s", e.Field, e.Message)
}

// CacheDirectives overrides the default Cache-Control policy.
type CacheDirectives struct {
	NoStore bool
	NoCache bool
	// Public defaults to true unless Private is set.
	Public          *bool
	Private         bool
	MustRevalidate  bool
	ProxyRevalidate bool
	MustUnderstand  bool
	NoTransform     bool
	Immutable       bool

	// Numeric directives in seconds; Unset when absent.
	MaxAge               int64
	SharedMaxAge         int64
	StaleWhileRevalidate int64
	StaleIfError         int64
}

// AppConfig is the server configuration.
type AppConfig struct {
	Address         string
	RefreshRateSecs float64
	ServeStatic     bool
	StaticDir       string
	RequestTimeout  time.Duration
	RedisURL        string
	LogLevel        string
	LogPretty       bool
	Cache           CacheDirectives
}

// Defaults returns the configuration used when nothing is set.
func Defaults() AppConfig {
	return AppConfig{
		Address:         ":8080",
		RefreshRateSecs: 2.0,
		ServeStatic:     true,
		StaticDir:       "dist",
		RequestTimeout:  30 * time.Second,
		LogLevel:        string(logging.LevelInfo),
		Cache: CacheDirectives{
			MaxAge:               Unset,
			SharedMaxAge:         Unset,
			StaleWhileRevalidate: Unset,
			StaleIfError:         Unset,
		},
	}
}

// Validate checks the configuration. All problems are reported, joined.
func (c AppConfig) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, &ConfigError{Field: field, Message: fmt.Sprintf(format, args...)})
	}

	if c.Address == "" {
		add("address", "must not be empty")
	}
	if math.IsNaN(c.RefreshRateSecs) || math.IsInf(c.RefreshRateSecs, 0) {
		add("refresh_rate_secs", "must be a finite number (got %v)", c.RefreshRateSecs)
	} else if c.RefreshRateSecs < 0 {
		add("refresh_rate_secs", "must be >= 0 (got %v)", c.RefreshRateSecs)
	} else if c.RefreshRateSecs > math.MaxInt64/float64(time.Second) {
		add("refresh_rate_secs", "too large (got %v)", c.RefreshRateSecs)
	}
	if c.ServeStatic && c.StaticDir == "" {
		add("static_dir", "must be set when serve_static is enabled")
	}
	if c.RequestTimeout < 0 {
		add("request_timeout", "must be >= 0 (got %v)", c.RequestTimeout)
	}
	if _, err := logging.ParseLevel(c.LogLevel); err != nil {
		add("log_level", "%v", err)
	}

	for field, value := range map[string]int64{
		"cache_max_age":                c.Cache.MaxAge,
		"cache_s_maxage":               c.Cache.SharedMaxAge,
		"cache_stale_while_revalidate": c.Cache.StaleWhileRevalidate,
		"cache_stale_if_error":         c.Cache.StaleIfError,
	} {
		if value < Unset {
			add(field, "must be >= 0 (got %d)", value)
		}
	}
	if c.Cache.Private && c.Cache.Public != nil && *c.Cache.Public {
		add("cache_public", "public and private are mutually exclusive")
	}

	return errors.Join(errs...)
}

// RefreshInterval converts RefreshRateSecs to a duration.
func (c AppConfig) RefreshInterval() time.Duration {
	return time.Duration(c.RefreshRateSecs * float64(time.Second))
}

// Policy builds the cache policy: the default policy for the refresh
// interval with the configured directives applied on top.
func (c AppConfig) Policy() (cache.CachePolicy, error) {
	policy := cache.DefaultPolicy(c.RefreshInterval())
	d := c.Cache

	policy.NoStore = d.NoStore
	policy.NoCache = d.NoCache
	policy.Private = d.Private
	policy.Public = !d.Private
	if d.Public != nil {
		policy.Public = *d.Public
	}
	policy.MustRevalidate = d.MustRevalidate
	policy.ProxyRevalidate = d.ProxyRevalidate
	policy.MustUnderstand = d.MustUnderstand
	policy.NoTransform = d.NoTransform
	policy.Immutable = d.Immutable

	if d.MaxAge != Unset {
		policy.MaxAge = seconds(d.MaxAge)
	}
	policy.SharedMaxAge = seconds(d.SharedMaxAge)
	policy.StaleWhileRevalidate = seconds(d.StaleWhileRevalidate)
	policy.StaleIfError = seconds(d.StaleIfError)

	if err := policy.Validate(); err != nil {
		return cache.CachePolicy{}, &ConfigError{Field: "cache", Message: err.Error()}
	}
	return policy, nil
}

func seconds(v int64) *uint64 {
	if v < 0 {
		return nil
	}
	return cache.Seconds(uint64(v))
}

// LoadEnvFile loads environment variables from envFile (".env" when empty).
// Variables already set in the environment win. A missing file is not an
// error; it returns false.
func LoadEnvFile(logger zerolog.Logger, envFile string) (bool, error) {
	if envFile == "" {
		envFile = ".env"
	}

	if _, err := os.Stat(envFile); os.IsNotExist(err) {
		logger.Debug().Str("path", envFile).Msg("No .env file found")
		return false, nil
	}

	if err := godotenv.Load(envFile); err != nil {
		return false, fmt.Errorf("load %s: %w", envFile, err)
	}

	logger.Debug().Str("path", envFile).Msg("Loaded .env file")
	return true, nil
}
