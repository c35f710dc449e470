package server

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/Sternrassler/whtop/internal/testutil"
	"github.com/Sternrassler/whtop/pkg/cache"
	"github.com/Sternrassler/whtop/pkg/models"
)

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

type testEnv struct {
	provider *testutil.CountingProvider
	clock    *testutil.Clock
	cache    *cache.SnapshotCache
	server   *Server
}

func newTestEnv(t *testing.T, interval time.Duration, opts Options) *testEnv {
	t.Helper()

	provider := testutil.NewCountingProvider()
	clock := testutil.NewClock(testEpoch)
	snapshots, err := cache.NewSnapshotCache(provider, cache.Options{
		RefreshInterval: interval,
		Now:             clock.Now,
	})
	if err != nil {
		t.Fatalf("NewSnapshotCache() error = %v", err)
	}

	logger := zerolog.Nop()
	opts.Logger = &logger
	srv, err := New(snapshots, opts)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return &testEnv{provider: provider, clock: clock, cache: snapshots, server: srv}
}

func (e *testEnv) get(t *testing.T, path string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	e.server.Handler().ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(rec.Body).Decode(&v); err != nil {
		t.Fatalf("Failed to decode body: %v", err)
	}
	return v
}

func TestNew_Validation(t *testing.T) {
	if _, err := New(nil, Options{}); err == nil {
		t.Error("Expected error for nil cache")
	}

	snapshots, _ := cache.NewSnapshotCache(testutil.NewCountingProvider(), cache.Options{})
	bad := cache.CachePolicy{Public: true, Private: true}
	if _, err := New(snapshots, Options{Policy: &bad}); !errors.Is(err, cache.ErrInvalidPolicy) {
		t.Errorf("Expected ErrInvalidPolicy, got %v", err)
	}
}

func TestStageOrder(t *testing.T) {
	env := newTestEnv(t, time.Second, Options{})
	want := []string{"real-ip", "logger", "request-id", "remote-addr", "access-log",
		"recoverer", "metrics", "cors", "compress", "timeout", "get-head"}

	got := env.server.StageNames()
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("StageNames() = %v, want %v", got, want)
	}
}

// Body and Last-Modified always come from the same snapshot.
func TestSnapshotEndpoints_HeadersMatchBody(t *testing.T) {
	env := newTestEnv(t, 2*time.Second, Options{})

	rec := env.get(t, "/api/system/memory", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if got := rec.Header().Get("Cache-Control"); got != "public, max-age=2" {
		t.Errorf("Cache-Control = %q", got)
	}
	if got := rec.Header().Get("Last-Modified"); got != "Fri, 01 Mar 2024 12:00:00 GMT" {
		t.Errorf("Last-Modified = %q", got)
	}
	if mem := decode[models.GetMemoryResponse](t, rec); mem.Total != 1 {
		t.Errorf("Expected snapshot #1, got total %d", mem.Total)
	}

	env.clock.Advance(time.Second)
	rec = env.get(t, "/api/system/memory", nil)
	if got := rec.Header().Get("Last-Modified"); got != "Fri, 01 Mar 2024 12:00:00 GMT" {
		t.Errorf("Last-Modified changed within interval: %q", got)
	}
	if mem := decode[models.GetMemoryResponse](t, rec); mem.Total != 1 {
		t.Errorf("Expected cached snapshot #1, got total %d", mem.Total)
	}

	env.clock.Advance(2 * time.Second)
	rec = env.get(t, "/api/system/memory", nil)
	if got := rec.Header().Get("Last-Modified"); got != "Fri, 01 Mar 2024 12:00:03 GMT" {
		t.Errorf("Last-Modified = %q", got)
	}
	if mem := decode[models.GetMemoryResponse](t, rec); mem.Total != 2 {
		t.Errorf("Expected snapshot #2, got total %d", mem.Total)
	}

	if env.provider.Calls() != 2 {
		t.Errorf("Expected 2 captures, got %d", env.provider.Calls())
	}
}

func TestSnapshotEndpoints_RootAliases(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})

	for _, path := range []string{"/cpu", "/memory", "/processes", "/api/system/cpu", "/api/system/processes"} {
		t.Run(path, func(t *testing.T) {
			rec := env.get(t, path, nil)
			if rec.Code != http.StatusOK {
				t.Errorf("Expected 200, got %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Errorf("Content-Type = %q", ct)
			}
		})
	}

	if env.provider.Calls() != 1 {
		t.Errorf("Expected one capture shared by all endpoints, got %d", env.provider.Calls())
	}
}

func TestCPUEndpoint(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})

	cpu := decode[models.GetCPUResponse](t, env.get(t, "/api/system/cpu", nil))
	if cpu.Global.Usage != 12.5 || cpu.Global.Frequency != 2400 {
		t.Errorf("Unexpected global sample %+v", cpu.Global)
	}
	if len(cpu.CPUs) != 2 || cpu.CPUs[1].Name != "cpu1" || cpu.CPUs[1].Usage != 15 {
		t.Errorf("Unexpected cores %+v", cpu.CPUs)
	}
}

func TestProcessesEndpoint(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})

	rec := env.get(t, "/api/system/processes", nil)
	raw := rec.Body.String()
	procs := decode[models.GetProcessesResponse](t, rec)

	if len(procs.Processes) != 3 {
		t.Fatalf("Expected 3 processes, got %d", len(procs.Processes))
	}
	wantOrder := []string{"42", "1", "7"}
	for i, pid := range wantOrder {
		if procs.Processes[i].PID != pid {
			t.Errorf("Position %d: pid %s, want %s", i, procs.Processes[i].PID, pid)
		}
	}

	initProc := procs.Processes[1]
	if initProc.ParentPID != nil {
		t.Error("Expected null parentPid for init")
	}
	if initProc.Path == nil || *initProc.Path != "/sbin/init" {
		t.Error("Expected path for init")
	}
	worker := procs.Processes[0]
	if worker.ParentPID == nil || *worker.ParentPID != "1" {
		t.Error("Expected parentPid 1 for worker")
	}
	if worker.Path != nil {
		t.Error("Expected null path for worker")
	}
	if !strings.Contains(raw, `"path":null`) || !strings.Contains(raw, `"parentPid":null`) {
		t.Errorf("Expected explicit nulls in body, got %s", raw)
	}

	// The cached snapshot keeps its original order.
	entry, _ := env.cache.Peek()
	if entry.Snapshot.Processes[0].PID != 1 {
		t.Error("Rendering reordered the shared snapshot")
	}
}

func TestSnapshotEndpoint_ProviderFailure(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	env.provider.SetError(errors.New("proc unavailable"))

	rec := env.get(t, "/api/system/cpu", nil)
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("Expected 500, got %d", rec.Code)
	}
	body := decode[models.ErrorResponse](t, rec)
	if body.Type != "internalError" {
		t.Errorf("Type = %q", body.Type)
	}
	if !strings.Contains(body.Message, "proc unavailable") {
		t.Errorf("Message = %q", body.Message)
	}
	if rec.Header().Get("Last-Modified") != "" {
		t.Error("Error responses must not carry Last-Modified")
	}
}

func TestSnapshotEndpoint_RequestTimeout(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{RequestTimeout: 20 * time.Millisecond})
	release := env.provider.Block()
	defer release()

	rec := env.get(t, "/api/system/memory", nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("Expected 503, got %d", rec.Code)
	}
	if body := decode[models.ErrorResponse](t, rec); body.Type != "unavailable" {
		t.Errorf("Type = %q", body.Type)
	}
}

func TestSnapshotEndpoint_KeepsExistingHeaders(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})

	outer := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Access-Control-Allow-Origin", "https://dash.example")
		env.server.Handler().ServeHTTP(w, r)
	})

	rec := httptest.NewRecorder()
	outer.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/memory", nil))

	if got := rec.Header().Values("Cache-Control"); len(got) != 1 || got[0] != "no-cache" {
		t.Errorf("Cache-Control = %v, want [no-cache]", got)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://dash.example" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}
	if rec.Header().Get("Last-Modified") == "" {
		t.Error("Expected Last-Modified to be added")
	}
}

func TestCustomPolicy(t *testing.T) {
	policy := cache.CachePolicy{Private: true, MaxAge: cache.Seconds(0), MustRevalidate: true}
	env := newTestEnv(t, time.Second, Options{Policy: &policy})

	rec := env.get(t, "/cpu", nil)
	if got := rec.Header().Get("Cache-Control"); got != "private, max-age=0, must-revalidate" {
		t.Errorf("Cache-Control = %q", got)
	}
}

func TestCORS(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})

	rec := env.get(t, "/cpu", http.Header{"Origin": {"https://dash.example"}})
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Errorf("Access-Control-Allow-Origin = %q", got)
	}

	req := httptest.NewRequest(http.MethodOptions, "/api/system/cpu", nil)
	req.Header.Set("Origin", "https://dash.example")
	req.Header.Set("Access-Control-Request-Method", "GET")
	pre := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(pre, req)

	if pre.Code != http.StatusNoContent {
		t.Errorf("Expected 204 for preflight, got %d", pre.Code)
	}
	if !strings.Contains(pre.Header().Get("Access-Control-Allow-Methods"), "GET") {
		t.Errorf("Allow-Methods = %q", pre.Header().Get("Access-Control-Allow-Methods"))
	}
	if env.provider.Calls() != 1 {
		t.Errorf("Preflight must not capture, got %d calls", env.provider.Calls())
	}
}

func TestCompression(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})

	rec := env.get(t, "/api/system/processes", http.Header{"Accept-Encoding": {"gzip"}})
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Expected gzip encoding, got %q", rec.Header().Get("Content-Encoding"))
	}

	zr, err := gzip.NewReader(rec.Body)
	if err != nil {
		t.Fatalf("gzip.NewReader() error = %v", err)
	}
	var procs models.GetProcessesResponse
	if err := json.NewDecoder(zr).Decode(&procs); err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if len(procs.Processes) != 3 {
		t.Errorf("Expected 3 processes, got %d", len(procs.Processes))
	}
}

func TestRequestID(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})

	rec := env.get(t, "/health", nil)
	if rec.Header().Get("X-Request-Id") == "" {
		t.Error("Expected X-Request-Id header")
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})

	rec := env.get(t, "/health", nil)
	if rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("Expected 200 OK, got %d %q", rec.Code, rec.Body.String())
	}
	if env.provider.Calls() != 0 {
		t.Error("Health must not capture")
	}
}

func TestReady(t *testing.T) {
	t.Run("ready", func(t *testing.T) {
		env := newTestEnv(t, time.Minute, Options{
			ReadyChecks: map[string]ReadinessCheck{
				"mirror": func(ctx context.Context) error { return nil },
			},
		})
		rec := env.get(t, "/ready", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		body := decode[readyResponse](t, rec)
		if body.Status != "ready" || body.Checks["mirror"] != "ok" || body.Checks["snapshot"] != "ok" {
			t.Errorf("Unexpected body %+v", body)
		}
	})

	t.Run("provider failing", func(t *testing.T) {
		env := newTestEnv(t, time.Minute, Options{})
		env.provider.SetError(errors.New("boom"))
		rec := env.get(t, "/ready", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Errorf("Expected 503, got %d", rec.Code)
		}
	})

	t.Run("does not refresh a cached snapshot", func(t *testing.T) {
		env := newTestEnv(t, time.Second, Options{})
		env.get(t, "/api/system/memory", nil)
		env.clock.Advance(5 * time.Second)

		rec := env.get(t, "/ready", nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("Expected 200, got %d", rec.Code)
		}
		body := decode[readyResponse](t, rec)
		if body.CapturedAt == nil || !body.CapturedAt.Equal(testEpoch) {
			t.Errorf("Expected captured_at %v, got %v", testEpoch, body.CapturedAt)
		}
		if env.provider.Calls() != 1 {
			t.Errorf("Expected /ready to reuse the cached snapshot, got %d captures", env.provider.Calls())
		}
	})

	t.Run("check failing", func(t *testing.T) {
		env := newTestEnv(t, time.Minute, Options{
			ReadyChecks: map[string]ReadinessCheck{
				"mirror": func(ctx context.Context) error { return errors.New("redis down") },
			},
		})
		rec := env.get(t, "/ready", nil)
		if rec.Code != http.StatusServiceUnavailable {
			t.Fatalf("Expected 503, got %d", rec.Code)
		}
		if body := decode[readyResponse](t, rec); body.Checks["mirror"] != "redis down" {
			t.Errorf("Unexpected checks %+v", body.Checks)
		}
	})
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	env.get(t, "/api/system/cpu", nil)

	rec := env.get(t, "/metrics", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	body, _ := io.ReadAll(rec.Body)
	for _, name := range []string{"whtop_http_requests_total", "whtop_snapshot_refreshes_total"} {
		if !strings.Contains(string(body), name) {
			t.Errorf("Expected %s in metrics output", name)
		}
	}
	if !strings.Contains(string(body), `route="/api/system/cpu"`) {
		t.Error("Expected route pattern label")
	}
}

func TestStaticFiles(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>whtop</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}

	env := newTestEnv(t, time.Minute, Options{ServeStatic: true, StaticDir: dir})

	tests := []struct {
		path       string
		wantStatus int
		contains   string
	}{
		{path: "/", wantStatus: http.StatusOK, contains: "whtop"},
		{path: "/assets/app.js", wantStatus: http.StatusOK, contains: "console.log"},
		{path: "/dashboard/processes", wantStatus: http.StatusOK, contains: "whtop"},
		{path: "/api/unknown", wantStatus: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			rec := env.get(t, tt.path, nil)
			if rec.Code != tt.wantStatus {
				t.Fatalf("Expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if tt.contains != "" && !strings.Contains(rec.Body.String(), tt.contains) {
				t.Errorf("Body %q does not contain %q", rec.Body.String(), tt.contains)
			}
		})
	}
}

func TestStaticDisabled(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	if rec := env.get(t, "/", nil); rec.Code != http.StatusNotFound {
		t.Errorf("Expected 404 without static serving, got %d", rec.Code)
	}
}

func TestUnknownRoutes_JSONNotFound(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "index.html"), []byte("<html>whtop</html>"), 0o644); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		opts Options
		path string
	}{
		{name: "api path without static", opts: Options{}, path: "/api/system/disk"},
		{name: "root path without static", opts: Options{}, path: "/unknown"},
		{name: "api path with static", opts: Options{ServeStatic: true, StaticDir: dir}, path: "/api/system/disk"},
		{name: "api prefix with static", opts: Options{ServeStatic: true, StaticDir: dir}, path: "/api/unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, time.Minute, tt.opts)
			rec := env.get(t, tt.path, nil)
			if rec.Code != http.StatusNotFound {
				t.Fatalf("Expected 404, got %d", rec.Code)
			}
			if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "application/json") {
				t.Errorf("Content-Type = %q, want JSON", ct)
			}
			if body := decode[models.ErrorResponse](t, rec); body.Type != models.ErrorTypeNotFound {
				t.Errorf("Type = %q, want %q", body.Type, models.ErrorTypeNotFound)
			}
			if env.provider.Calls() != 0 {
				t.Errorf("Unknown route must not capture, got %d calls", env.provider.Calls())
			}
		})
	}
}

func TestSnapshotEndpoints_Head(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})

	for _, path := range []string{"/cpu", "/api/system/memory", "/health"} {
		t.Run(path, func(t *testing.T) {
			rec := httptest.NewRecorder()
			env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, path, nil))
			if rec.Code != http.StatusOK {
				t.Fatalf("HEAD %s: expected 200, got %d", path, rec.Code)
			}
		})
	}

	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodHead, "/processes", nil))
	if rec.Header().Get("Cache-Control") != "public, max-age=60" {
		t.Errorf("Cache-Control = %q", rec.Header().Get("Cache-Control"))
	}
	if rec.Header().Get("Last-Modified") != "Fri, 01 Mar 2024 12:00:00 GMT" {
		t.Errorf("Last-Modified = %q", rec.Header().Get("Last-Modified"))
	}
}

func TestSnapshotEndpoint_MethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, time.Minute, Options{})
	rec := httptest.NewRecorder()
	env.server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/cpu", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rec.Code)
	}
}

func TestRecoverer(t *testing.T) {
	handler := recoverer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("boom")
	}))

	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("Expected 500, got %d", rec.Code)
	}
	if body := decode[models.ErrorResponse](t, rec); body.Type != "internalError" {
		t.Errorf("Type = %q", body.Type)
	}
}
