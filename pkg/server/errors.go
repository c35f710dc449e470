package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog/hlog"

	"github.com/Sternrassler/whtop/pkg/models"
)

// writeJSON writes v with status. Headers set before the call are kept.
func writeJSON(w http.ResponseWriter, r *http.Request, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		hlog.FromRequest(r).Warn().Err(err).Msg("Failed to write response")
	}
}

// writeError writes an error body. Errors are never cached.
func writeError(w http.ResponseWriter, r *http.Request, status int, errType, message string) {
	w.Header().Set("Cache-Control", "no-store")
	writeJSON(w, r, status, models.ErrorResponse{Type: errType, Message: message})
}

// notFound answers unknown routes with a JSON 404.
func notFound(w http.ResponseWriter, r *http.Request) {
	writeError(w, r, http.StatusNotFound, models.ErrorTypeNotFound, "no route for "+r.URL.Path)
}

// writeAcquireError maps a failed Acquire to a response: 503 when the request
// gave up waiting, 500 when the capture failed.
func writeAcquireError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		hlog.FromRequest(r).Warn().Err(err).Msg("Gave up waiting for snapshot")
		writeError(w, r, http.StatusServiceUnavailable, models.ErrorTypeUnavailable, "timed out waiting for snapshot")
		return
	}
	hlog.FromRequest(r).Error().Err(err).Msg("Snapshot unavailable")
	writeError(w, r, http.StatusInternalServerError, models.ErrorTypeInternal, err.Error())
}
