package testutil

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Sternrassler/whtop/pkg/models"
)

// MockAPIResponse defines the behavior for a mock endpoint response.
type MockAPIResponse struct {
	StatusCode int
	Body       string
	Headers    map[string]string
	Delay      time.Duration
}

// MockAPI is a configurable mock whtop server for client tests.
type MockAPI struct {
	server   *httptest.Server
	mu       sync.RWMutex
	handlers map[string]func(w http.ResponseWriter, r *http.Request)

	requestCount atomic.Int64
	inFlight     atomic.Int64
	maxInFlight  atomic.Int64
	lastModified time.Time
}

// NewMockAPI creates a new mock server serving canned cpu, memory and
// processes bodies.
func NewMockAPI() *MockAPI {
	mock := &MockAPI{
		handlers:     make(map[string]func(w http.ResponseWriter, r *http.Request)),
		lastModified: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	mock.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mock.requestCount.Add(1)
		current := mock.inFlight.Add(1)
		defer mock.inFlight.Add(-1)
		for {
			seen := mock.maxInFlight.Load()
			if current <= seen || mock.maxInFlight.CompareAndSwap(seen, current) {
				break
			}
		}

		mock.mu.RLock()
		handler, exists := mock.handlers[r.URL.Path]
		mock.mu.RUnlock()

		if exists {
			handler(w, r)
			return
		}

		mock.defaultHandler(w, r)
	}))

	return mock
}

// URL returns the mock server URL.
func (m *MockAPI) URL() string {
	return m.server.URL
}

// Close shuts down the mock server.
func (m *MockAPI) Close() {
	m.server.Close()
}

// LastModified is the Last-Modified time sent by the default handlers.
func (m *MockAPI) LastModified() time.Time {
	return m.lastModified
}

// SetHandler sets a custom handler for a specific path.
func (m *MockAPI) SetHandler(path string, handler func(w http.ResponseWriter, r *http.Request)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[path] = handler
}

// SetResponse configures a simple response for a path.
func (m *MockAPI) SetResponse(path string, resp MockAPIResponse) {
	m.SetHandler(path, func(w http.ResponseWriter, r *http.Request) {
		if resp.Delay > 0 {
			select {
			case <-time.After(resp.Delay):
			case <-r.Context().Done():
				return
			}
		}

		for key, value := range resp.Headers {
			w.Header().Set(key, value)
		}

		w.WriteHeader(resp.StatusCode)
		if resp.Body != "" {
			w.Write([]byte(resp.Body))
		}
	})
}

// RequestCount returns the number of requests made to the server.
func (m *MockAPI) RequestCount() int {
	return int(m.requestCount.Load())
}

// MaxInFlight returns the highest number of concurrent requests observed.
func (m *MockAPI) MaxInFlight() int {
	return int(m.maxInFlight.Load())
}

// defaultHandler serves the canned snapshot bodies.
func (m *MockAPI) defaultHandler(w http.ResponseWriter, r *http.Request) {
	var body any
	switch r.URL.Path {
	case "/api/system/cpu", "/cpu":
		body = models.GetCPUResponse{
			Global: models.GlobalCPUInfo{Usage: 12.5, Frequency: 2400},
			CPUs: []models.CPUInfo{
				{Name: "cpu0", GlobalCPUInfo: models.GlobalCPUInfo{Usage: 10, Frequency: 2400}},
				{Name: "cpu1", GlobalCPUInfo: models.GlobalCPUInfo{Usage: 15, Frequency: 2400}},
			},
		}
	case "/api/system/memory", "/memory":
		body = models.GetMemoryResponse{Total: 16384, Used: 8192, Free: 4096, Available: 8192}
	case "/api/system/processes", "/processes":
		parent := "1"
		body = models.GetProcessesResponse{Processes: []models.ProcessInfo{
			{PID: "42", ParentPID: &parent, Name: "worker", CPU: 3.5, Memory: 8192, VirtualMemory: 16384, RunTime: 10},
			{PID: "1", Name: "init", Memory: 1024, VirtualMemory: 4096, RunTime: 100},
		}}
	default:
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusNotFound)
		json.NewEncoder(w).Encode(models.ErrorResponse{Type: "notFound", Message: "not found"})
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=2")
	w.Header().Set("Last-Modified", m.lastModified.Format(http.TimeFormat))
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(body)
}

// NewInternalErrorResponse creates a 500 response in the server's error format.
func NewInternalErrorResponse(message string) MockAPIResponse {
	body, _ := json.Marshal(models.ErrorResponse{Type: models.ErrorTypeInternal, Message: message})
	return MockAPIResponse{
		StatusCode: http.StatusInternalServerError,
		Body:       string(body),
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}

// NewSlowResponse creates a 200 response delivered after delay.
func NewSlowResponse(delay time.Duration, body string) MockAPIResponse {
	return MockAPIResponse{
		StatusCode: http.StatusOK,
		Body:       body,
		Delay:      delay,
		Headers: map[string]string{
			"Content-Type": "application/json; charset=utf-8",
		},
	}
}
