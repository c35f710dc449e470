package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/urfave/cli/v2"

	"github.com/Sternrassler/whtop/pkg/cache"
	"github.com/Sternrassler/whtop/pkg/config"
	"github.com/Sternrassler/whtop/pkg/logging"
	"github.com/Sternrassler/whtop/pkg/metrics"
	"github.com/Sternrassler/whtop/pkg/server"
	"github.com/Sternrassler/whtop/pkg/telemetry"
)

var version = "dev"

func main() {
	// The .env file must be loaded before flags read the environment.
	bootstrap := zerolog.New(os.Stderr).With().Timestamp().Logger()
	if _, err := config.LoadEnvFile(bootstrap, os.Getenv(config.EnvFileVar)); err != nil {
		bootstrap.Warn().Err(err).Msg("Failed to load .env file")
	}

	if err := newApp().Run(os.Args); err != nil {
		log.Fatal().Err(err).Msg("whtop failed")
	}
}

func newApp() *cli.App {
	return &cli.App{
		Name:    "whtop",
		Usage:   "serve host CPU, memory and process snapshots over HTTP",
		Version: version,
		Flags:   config.Flags(),
		Action:  run,
	}
}

func run(c *cli.Context) error {
	cfg, err := config.FromContext(c)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}

	logger := logging.Setup(logging.Config{
		Level:   logging.LogLevel(cfg.LogLevel),
		Pretty:  cfg.LogPretty,
		Service: "whtop",
		Output:  os.Stderr,
	})
	metrics.SetBuildInfo(version)

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, cleanup, err := buildServer(ctx, cfg)
	if err != nil {
		return cli.Exit(err.Error(), 2)
	}
	defer cleanup()

	logger.Info().
		Str("address", cfg.Address).
		Dur("refresh_interval", cfg.RefreshInterval()).
		Bool("serve_static", cfg.ServeStatic).
		Bool("mirror", cfg.RedisURL != "").
		Str("version", version).
		Msg("whtop configured")

	return srv.Run(ctx, cfg.Address)
}

// buildServer wires provider, cache, optional Redis mirror and HTTP server.
// The returned cleanup releases the Redis connection, if any.
func buildServer(ctx context.Context, cfg config.AppConfig) (*server.Server, func(), error) {
	policy, err := cfg.Policy()
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	var listeners []cache.RefreshListener
	checks := make(map[string]server.ReadinessCheck)

	if cfg.RedisURL != "" {
		redisClient, err := newRedisClient(cfg.RedisURL)
		if err != nil {
			return nil, nil, err
		}

		// The mirror is optional: an unreachable Redis is reported by /ready
		// and in the logs, but snapshots are still served.
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Warn().Err(err).Msg("Redis not reachable, mirror will retry on every refresh")
		}

		host, err := os.Hostname()
		if err != nil {
			host = "localhost"
		}
		mirror := cache.NewMirror(redisClient, cache.MirrorKey{Host: host},
			cache.MirrorTTL(cfg.RefreshInterval()), logging.NewLogger("mirror"))
		listeners = append(listeners, mirror)
		checks["mirror"] = mirror.Ping
		cleanup = func() { redisClient.Close() }

		log.Info().Str("key", mirror.Key()).Msg("Mirroring snapshots to Redis")
	}

	cacheLogger := logging.NewLogger("snapshot-cache")
	snapshots, err := cache.NewSnapshotCache(telemetry.NewHostProvider(logging.NewLogger("telemetry")), cache.Options{
		RefreshInterval: cfg.RefreshInterval(),
		Logger:          &cacheLogger,
		Listeners:       listeners,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	serverLogger := logging.NewLogger("server")
	srv, err := server.New(snapshots, server.Options{
		Policy:         &policy,
		RequestTimeout: cfg.RequestTimeout,
		ServeStatic:    cfg.ServeStatic,
		StaticDir:      cfg.StaticDir,
		ReadyChecks:    checks,
		Logger:         &serverLogger,
	})
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	return srv, cleanup, nil
}

// newRedisClient accepts a redis:// URL or a plain host:port.
func newRedisClient(raw string) (*redis.Client, error) {
	if strings.Contains(raw, "://") {
		opts, err := redis.ParseURL(raw)
		if err != nil {
			return nil, fmt.Errorf("parse redis URL: %w", err)
		}
		return redis.NewClient(opts), nil
	}
	return redis.NewClient(&redis.Options{Addr: raw}), nil
}
