package client

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Common errors returned by the client.
var (
	// ErrTimeout is returned when a request exceeds the per-request timeout.
	ErrTimeout = errors.New("request timed out")

	// ErrDecode is returned when a response body cannot be decoded.
	ErrDecode = errors.New("decode response")
)

// ErrorClass represents a classification of request failures.
type ErrorClass string

const (
	// ErrorClassClient represents 4xx responses.
	ErrorClassClient ErrorClass = "client"

	// ErrorClassServer represents 5xx responses.
	ErrorClassServer ErrorClass = "server"

	// ErrorClassUnavailable represents 503 responses (no snapshot yet).
	ErrorClassUnavailable ErrorClass = "unavailable"

	// ErrorClassNetwork represents transport failures.
	ErrorClassNetwork ErrorClass = "network"

	// ErrorClassTimeout represents requests cut off by the per-request timeout.
	ErrorClassTimeout ErrorClass = "timeout"
)

// APIError represents a failed whtop API call with additional context.
type APIError struct {
	Endpoint   string
	StatusCode int
	ErrorClass ErrorClass
	// Type and Message are taken from the JSON error body, if any.
	Type    string
	Message string
	Err     error
}

// Error implements the error interface.
func (e *APIError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("whtop %s error on %s: %v", e.ErrorClass, e.Endpoint, e.Err)
	}
	if e.Err != nil {
		return fmt.Sprintf("whtop %s error on %s (status %d): %s: %v",
			e.ErrorClass, e.Endpoint, e.StatusCode, e.Message, e.Err)
	}
	return fmt.Sprintf("whtop %s error on %s (status %d): %s",
		e.ErrorClass, e.Endpoint, e.StatusCode, e.Message)
}

// Unwrap implements error unwrapping for errors.Is/As.
func (e *APIError) Unwrap() error {
	return e.Err
}

// classifyStatus maps an HTTP status to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 503:
		return ErrorClassUnavailable
	case status >= 500:
		return ErrorClassServer
	case status >= 400:
		return ErrorClassClient
	default:
		return ""
	}
}

// classifyTransportError distinguishes timeouts from other transport failures.
// parent is the caller's context; a deadline hit only on the per-request
// context is reported as a timeout.
func classifyTransportError(parent context.Context, err error) ErrorClass {
	if parent.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
		return ErrorClassTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() && parent.Err() == nil {
		return ErrorClassTimeout
	}
	return ErrorClassNetwork
}

// IsUnavailable reports whether err is a 503 from a server that has no
// snapshot yet.
func IsUnavailable(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.ErrorClass == ErrorClassUnavailable
}
