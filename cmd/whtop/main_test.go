package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"github.com/urfave/cli/v2"

	"github.com/Sternrassler/whtop/pkg/cache"
	"github.com/Sternrassler/whtop/pkg/config"
	"github.com/Sternrassler/whtop/pkg/models"
)

// setupTestRedis starts a Redis container and returns its address.
// The test is skipped when no container runtime is available.
func setupTestRedis(t *testing.T) string {
	t.Helper()
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisC, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Skipf("Redis container not available: %v", err)
	}
	t.Cleanup(func() { redisC.Terminate(context.Background()) })

	host, err := redisC.Host(ctx)
	if err != nil {
		t.Fatalf("Failed to get container host: %v", err)
	}

	port, err := redisC.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("Failed to get container port: %v", err)
	}

	return host + ":" + port.Port()
}

func testConfig() config.AppConfig {
	cfg := config.Defaults()
	cfg.ServeStatic = false
	cfg.RefreshRateSecs = 1
	return cfg
}

func TestNewApp(t *testing.T) {
	app := newApp()
	if app.Name != "whtop" {
		t.Errorf("Expected app name whtop, got %q", app.Name)
	}

	names := make(map[string]bool)
	for _, flag := range app.Flags {
		for _, name := range flag.Names() {
			names[name] = true
		}
	}
	for _, want := range []string{config.FlagAddress, config.FlagRefreshRateSecs, config.FlagRedisURL} {
		if !names[want] {
			t.Errorf("Expected flag %q", want)
		}
	}
}

func TestRun_InvalidConfig(t *testing.T) {
	app := newApp()
	app.Writer = io.Discard
	app.ErrWriter = io.Discard
	app.ExitErrHandler = func(*cli.Context, error) {}

	err := app.Run([]string{"whtop", "--refresh-rate-secs", "-1"})
	if err == nil {
		t.Fatal("Expected error for negative refresh rate")
	}

	var exitErr cli.ExitCoder
	if !errors.As(err, &exitErr) || exitErr.ExitCode() != 2 {
		t.Errorf("Expected exit code 2, got %v", err)
	}
	if !strings.Contains(err.Error(), "refresh_rate_secs") {
		t.Errorf("Expected field name in error, got %q", err.Error())
	}
}

func TestBuildServer_InvalidPolicy(t *testing.T) {
	cfg := testConfig()
	public := true
	cfg.Cache.Private = true
	cfg.Cache.Public = &public

	if _, _, err := buildServer(context.Background(), cfg); err == nil {
		t.Error("Expected error for public+private policy")
	}
}

func TestHealthEndpoint(t *testing.T) {
	srv, cleanup, err := buildServer(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("buildServer() error = %v", err)
	}
	defer cleanup()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}
	if string(body) != "OK" {
		t.Errorf("Expected body 'OK', got %s", string(body))
	}
}

func TestMemoryEndpoint_HostProvider(t *testing.T) {
	srv, cleanup, err := buildServer(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("buildServer() error = %v", err)
	}
	defer cleanup()

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/system/memory", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if got := w.Header().Get("Cache-Control"); got != "public, max-age=1" {
		t.Errorf("Cache-Control = %q", got)
	}
	if _, ok := cache.ParseLastModified(w.Header()); !ok {
		t.Error("Expected a valid Last-Modified header")
	}

	var mem models.GetMemoryResponse
	if err := json.NewDecoder(w.Body).Decode(&mem); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if mem.Total == 0 {
		t.Error("Expected non-zero total memory")
	}
}

func TestMetricsEndpoint(t *testing.T) {
	srv, cleanup, err := buildServer(context.Background(), testConfig())
	if err != nil {
		t.Fatalf("buildServer() error = %v", err)
	}
	defer cleanup()

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	resp := w.Result()
	body, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		t.Errorf("Expected status 200, got %d", resp.StatusCode)
	}

	bodyStr := string(body)
	if !strings.Contains(bodyStr, "# HELP") || !strings.Contains(bodyStr, "# TYPE") {
		t.Error("Expected Prometheus format metrics output")
	}
	if !strings.Contains(bodyStr, "whtop_snapshot_last_refresh_timestamp_seconds") {
		t.Error("Expected metrics output to contain whtop_snapshot_last_refresh_timestamp_seconds")
	}
}

func TestNewRedisClient(t *testing.T) {
	tests := []struct {
		name     string
		raw      string
		wantAddr string
		wantDB   int
		wantErr  bool
	}{
		{name: "host and port", raw: "localhost:6379", wantAddr: "localhost:6379"},
		{name: "url with db", raw: "redis://cache:6380/3", wantAddr: "cache:6380", wantDB: 3},
		{name: "bad scheme", raw: "http://cache:6379", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, err := newRedisClient(tt.raw)
			if (err != nil) != tt.wantErr {
				t.Fatalf("newRedisClient() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			defer client.Close()
			if client.Options().Addr != tt.wantAddr {
				t.Errorf("Addr = %q, want %q", client.Options().Addr, tt.wantAddr)
			}
			if client.Options().DB != tt.wantDB {
				t.Errorf("DB = %d, want %d", client.Options().DB, tt.wantDB)
			}
		})
	}
}

func TestReadyEndpoint_WithMirror(t *testing.T) {
	addr := setupTestRedis(t)

	cfg := testConfig()
	cfg.RedisURL = addr
	srv, cleanup, err := buildServer(context.Background(), cfg)
	if err != nil {
		t.Fatalf("buildServer() error = %v", err)
	}
	defer cleanup()

	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/ready", nil))

	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}
	if !strings.Contains(w.Body.String(), `"mirror":"ok"`) {
		t.Errorf("Expected mirror check in body, got %s", w.Body.String())
	}

	redisClient := redis.NewClient(&redis.Options{Addr: addr})
	defer redisClient.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	// The mirror publishes in the background.
	var keys []string
	for ctx.Err() == nil {
		keys, err = redisClient.Keys(ctx, "whtop:snapshot:*").Result()
		if err == nil && len(keys) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(keys) != 1 {
		t.Errorf("Expected one mirrored snapshot, got %v (err=%v)", keys, err)
	}
}
