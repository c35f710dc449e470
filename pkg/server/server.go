// Package server exposes host snapshots over HTTP.
//
// Every snapshot endpoint acquires the cached snapshot exactly once and
// derives both the JSON body and the freshness headers from that one entry,
// so Last-Modified always describes the body it accompanies.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/whtop/pkg/cache"
	"github.com/Sternrassler/whtop/pkg/metrics"
	"github.com/Sternrassler/whtop/pkg/telemetry"
)

// ReadinessCheck reports whether a dependency is usable.
type ReadinessCheck func(ctx context.Context) error

// Options configures a Server.
type Options struct {
	// Policy controls the Cache-Control header. Defaults to
	// cache.DefaultPolicy of the cache's interval.
	Policy *cache.CachePolicy

	// RequestTimeout bounds how long a request waits (0 disables).
	RequestTimeout time.Duration

	// ServeStatic serves StaticDir under /assets/ and its index.html for
	// every other unknown GET path.
	ServeStatic bool
	StaticDir   string

	// ReadyChecks run on /ready after a snapshot has been acquired.
	ReadyChecks map[string]ReadinessCheck

	Logger *zerolog.Logger
}

// Server serves the whtop API.
type Server struct {
	snapshots *cache.SnapshotCache
	headers   cache.CachePolicy
	checks    map[string]ReadinessCheck
	logger    zerolog.Logger
	router    chi.Router
	stages    []Stage
}

// New creates a server in front of snapshots.
func New(snapshots *cache.SnapshotCache, opts Options) (*Server, error) {
	if snapshots == nil {
		return nil, fmt.Errorf("snapshot cache cannot be nil")
	}

	policy := cache.DefaultPolicy(snapshots.Interval())
	if opts.Policy != nil {
		policy = *opts.Policy
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	logger := log.With().Str("component", "server").Logger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	s := &Server{
		snapshots: snapshots,
		headers:   policy,
		checks:    opts.ReadyChecks,
		logger:    logger,
		stages:    Stages(logger, opts.RequestTimeout),
	}

	r := chi.NewRouter()
	for _, stage := range s.stages {
		r.Use(stage.Middleware)
	}

	snapshotRoutes := func(r chi.Router) {
		r.Get("/cpu", s.snapshotHandler(renderCPU))
		r.Get("/memory", s.snapshotHandler(renderMemory))
		r.Get("/processes", s.snapshotHandler(renderProcesses))
	}
	r.Route("/api/system", snapshotRoutes)
	r.Group(snapshotRoutes)

	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", metrics.Handler())

	if opts.ServeStatic {
		mountStatic(r, opts.StaticDir)
	} else {
		r.NotFound(notFound)
	}

	s.router = r
	return s, nil
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// StageNames lists the pipeline stages in order.
func (s *Server) StageNames() []string {
	names := make([]string, len(s.stages))
	for i, stage := range s.stages {
		names[i] = stage.Name
	}
	return names
}

// Run serves on addr until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("address", addr).Msg("Starting whtop server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}

	s.logger.Info().Msg("Shutting down whtop server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// snapshotHandler serves one view of the snapshot.
func (s *Server) snapshotHandler(render func(*telemetry.Snapshot) any) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		entry, err := s.snapshots.Acquire(r.Context())
		if err != nil {
			writeAcquireError(w, r, err)
			return
		}

		cache.BuildHeaders(s.headers, entry.CapturedAt).Apply(w.Header())
		writeJSON(w, r, http.StatusOK, render(entry.Snapshot))
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, "OK")
}

// readyResponse is the body of /ready.
type readyResponse struct {
	Status      string            `json:"status"`
	CapturedAt  *time.Time        `json:"captured_at,omitempty"`
	SnapshotAge string            `json:"snapshot_age,omitempty"`
	Checks      map[string]string `json:"checks,omitempty"`
}

// handleReady reports ready once a snapshot has been captured and every
// readiness check passes. It reports the cached snapshot without refreshing
// it; only before the first capture does it acquire one.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Cache-Control", "no-store")

	resp := readyResponse{Status: "ready", Checks: make(map[string]string)}
	status := http.StatusOK

	entry, ok := s.snapshots.Peek()
	var err error
	if !ok {
		entry, err = s.snapshots.Acquire(r.Context())
	}
	if err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Not ready: snapshot unavailable")
		resp.Status = "not_ready"
		resp.Checks["snapshot"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		capturedAt := entry.CapturedAt
		resp.CapturedAt = &capturedAt
		resp.SnapshotAge = entry.Age(time.Now()).String()
		resp.Checks["snapshot"] = "ok"
	}

	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			hlog.FromRequest(r).Warn().Err(err).Str("check", name).Msg("Not ready")
			resp.Status = "not_ready"
			resp.Checks[name] = err.Error()
			status = http.StatusServiceUnavailable
			continue
		}
		resp.Checks[name] = "ok"
	}

	writeJSON(w, r, status, resp)
}
