package client

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestAPIError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *APIError
		want string
	}{
		{
			name: "status with message",
			err:  &APIError{Endpoint: EndpointCPU, StatusCode: 500, ErrorClass: ErrorClassServer, Message: "boom"},
			want: "whtop server error on /api/system/cpu (status 500): boom",
		},
		{
			name: "status with wrapped error",
			err: &APIError{Endpoint: EndpointCPU, StatusCode: 404, ErrorClass: ErrorClassClient,
				Message: "404 Not Found", Err: errors.New("gone")},
			want: "whtop client error on /api/system/cpu (status 404): 404 Not Found: gone",
		},
		{
			name: "transport failure",
			err:  &APIError{Endpoint: EndpointMemory, ErrorClass: ErrorClassNetwork, Err: errors.New("connection refused")},
			want: "whtop network error on /api/system/memory: connection refused",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.want {
				t.Errorf("Error() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	err := &APIError{Endpoint: EndpointCPU, ErrorClass: ErrorClassTimeout, Err: fmt.Errorf("%w after 3s", ErrTimeout)}

	if !errors.Is(err, ErrTimeout) {
		t.Error("Expected errors.Is to find ErrTimeout")
	}

	wrapped := fmt.Errorf("poll: %w", err)
	var apiErr *APIError
	if !errors.As(wrapped, &apiErr) {
		t.Fatal("Expected errors.As to find *APIError")
	}
	if apiErr.ErrorClass != ErrorClassTimeout {
		t.Errorf("Expected timeout class, got %s", apiErr.ErrorClass)
	}
}

func TestClassifyStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorClass
	}{
		{200, ""},
		{400, ErrorClassClient},
		{404, ErrorClassClient},
		{500, ErrorClassServer},
		{502, ErrorClassServer},
		{503, ErrorClassUnavailable},
	}

	for _, tt := range tests {
		if got := classifyStatus(tt.status); got != tt.want {
			t.Errorf("classifyStatus(%d) = %q, want %q", tt.status, got, tt.want)
		}
	}
}

func TestClassifyTransportError(t *testing.T) {
	live := context.Background()
	cancelled, cancel := context.WithCancel(context.Background())
	cancel()

	if got := classifyTransportError(live, context.DeadlineExceeded); got != ErrorClassTimeout {
		t.Errorf("Expected timeout for per-request deadline, got %s", got)
	}
	if got := classifyTransportError(cancelled, context.DeadlineExceeded); got != ErrorClassNetwork {
		t.Errorf("Expected network when the caller gave up, got %s", got)
	}
	if got := classifyTransportError(live, errors.New("connection refused")); got != ErrorClassNetwork {
		t.Errorf("Expected network, got %s", got)
	}
}

func TestIsUnavailable(t *testing.T) {
	if !IsUnavailable(fmt.Errorf("wrap: %w", &APIError{ErrorClass: ErrorClassUnavailable})) {
		t.Error("Expected wrapped unavailable error to match")
	}
	if IsUnavailable(&APIError{ErrorClass: ErrorClassServer}) {
		t.Error("Server error must not match")
	}
	if IsUnavailable(errors.New("other")) {
		t.Error("Plain error must not match")
	}
}
