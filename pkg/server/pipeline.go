package server

import (
	"context"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/Sternrassler/whtop/pkg/cache"
	"github.com/Sternrassler/whtop/pkg/models"
)

// Stage is one step of the request pipeline. Each stage receives the request
// and either answers it or hands it to the next stage.
type Stage struct {
	Name       string
	Middleware func(http.Handler) http.Handler
}

// Stages returns the request pipeline in the order requests pass through it.
func Stages(logger zerolog.Logger, timeout time.Duration) []Stage {
	return []Stage{
		{Name: "real-ip", Middleware: middleware.RealIP},
		{Name: "logger", Middleware: hlog.NewHandler(logger)},
		{Name: "request-id", Middleware: hlog.RequestIDHandler("request_id", "X-Request-Id")},
		{Name: "remote-addr", Middleware: hlog.RemoteAddrHandler("ip")},
		{Name: "access-log", Middleware: accessLog},
		{Name: "recoverer", Middleware: recoverer},
		{Name: "metrics", Middleware: instrument},
		{Name: "cors", Middleware: cors},
		{Name: "compress", Middleware: middleware.Compress(5)},
		{Name: "timeout", Middleware: requestTimeout(timeout)},
		{Name: "get-head", Middleware: middleware.GetHead},
	}
}

var accessLog = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
	level := zerolog.InfoLevel
	if status >= http.StatusInternalServerError {
		level = zerolog.WarnLevel
	}
	hlog.FromRequest(r).WithLevel(level).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", status).
		Int("size", size).
		Dur("duration", duration).
		Msg("Request")
})

// recoverer turns a panic into a 500 and logs it.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}
			hlog.FromRequest(r).Error().
				Interface("panic", rec).
				Bytes("stack", debug.Stack()).
				Msg("Recovered from panic")
			writeError(w, r, http.StatusInternalServerError, models.ErrorTypeInternal, "internal server error")
		}()
		next.ServeHTTP(w, r)
	})
}

// cors allows any origin. Existing headers are kept.
func cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		cache.SetIfAbsent(h, "Access-Control-Allow-Origin", "*")
		cache.SetIfAbsent(h, "Access-Control-Expose-Headers", "Cache-Control, Last-Modified")

		if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
			cache.SetIfAbsent(h, "Access-Control-Allow-Methods", "GET, HEAD, OPTIONS")
			if reqHeaders := r.Header.Get("Access-Control-Request-Headers"); reqHeaders != "" {
				cache.SetIfAbsent(h, "Access-Control-Allow-Headers", reqHeaders)
			}
			cache.SetIfAbsent(h, "Access-Control-Max-Age", "86400")
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// requestTimeout bounds how long a request may wait. Zero disables it.
func requestTimeout(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		if d <= 0 {
			return next
		}
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx, cancel := context.WithTimeout(r.Context(), d)
			defer cancel()
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
