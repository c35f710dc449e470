// Package client provides an HTTP client for the whtop API with a bounded
// number of in-flight requests and a per-request timeout.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/Sternrassler/whtop/pkg/cache"
	"github.com/Sternrassler/whtop/pkg/limit"
	"github.com/Sternrassler/whtop/pkg/models"
)

// Prometheus metrics for client operations.
var (
	clientRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whtop_client_requests_total",
		Help: "Total whtop API requests by endpoint and status",
	}, []string{"endpoint", "status"})

	clientRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "whtop_client_request_duration_seconds",
		Help:    "whtop API request duration in seconds by endpoint",
		Buckets: []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 3},
	}, []string{"endpoint"})

	clientErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "whtop_client_errors_total",
		Help: "Total whtop API errors by class",
	}, []string{"class"})
)

// API endpoints.
const (
	EndpointCPU       = "/api/system/cpu"
	EndpointMemory    = "/api/system/memory"
	EndpointProcesses = "/api/system/processes"
)

// Defaults used by DefaultConfig.
const (
	DefaultTimeout        = 3 * time.Second
	DefaultMaxConcurrency = 5
	DefaultUserAgent      = "whtop-client/1.0"
)

// maxBodySize bounds how much of a response body is read.
const maxBodySize = 16 << 20

// Client talks to a whtop server.
type Client struct {
	httpClient *http.Client
	limiter    *limit.Limiter
	config     Config
	logger     zerolog.Logger
}

// Config holds the client configuration.
type Config struct {
	// BaseURL of the whtop server, e.g. "http://localhost:8080". REQUIRED.
	BaseURL string

	// UserAgent header sent with every request.
	UserAgent string

	// Timeout bounds a single request once it holds a permit.
	Timeout time.Duration

	// MaxConcurrency is the number of requests allowed in flight at once.
	MaxConcurrency int64

	// RequestsPerSecond paces outgoing requests. Zero disables pacing.
	RequestsPerSecond float64

	// HTTPClient overrides the transport (optional).
	HTTPClient *http.Client
}

// DefaultConfig returns the default configuration for baseURL.
func DefaultConfig(baseURL string) Config {
	return Config{
		BaseURL:        baseURL,
		UserAgent:      DefaultUserAgent,
		Timeout:        DefaultTimeout,
		MaxConcurrency: DefaultMaxConcurrency,
	}
}

// Meta carries the response metadata of a successful call.
type Meta struct {
	StatusCode   int
	CacheControl string
	// LastModified is zero if the server sent none.
	LastModified time.Time
	Duration     time.Duration
}

// MaxAge returns the max-age directive of CacheControl, if present.
func (m Meta) MaxAge() (time.Duration, bool) {
	for _, directive := range strings.Split(m.CacheControl, ",") {
		name, value, found := strings.Cut(strings.TrimSpace(directive), "=")
		if !found || !strings.EqualFold(name, "max-age") {
			continue
		}
		seconds, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	return 0, false
}

// New creates a new whtop client.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Timeout < 0 {
		return nil, fmt.Errorf("timeout must be >= 0 (got %v)", cfg.Timeout)
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = DefaultUserAgent
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	logger := log.With().Str("component", "whtop-client").Logger()

	limiter, err := limit.New(limit.Config{
		MaxConcurrency:    cfg.MaxConcurrency,
		RequestsPerSecond: cfg.RequestsPerSecond,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create limiter: %w", err)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	return &Client{
		httpClient: httpClient,
		limiter:    limiter,
		config:     cfg,
		logger:     logger,
	}, nil
}

// CPU fetches the CPU panel.
func (c *Client) CPU(ctx context.Context) (*models.GetCPUResponse, Meta, error) {
	var out models.GetCPUResponse
	meta, err := c.getJSON(ctx, EndpointCPU, &out)
	if err != nil {
		return nil, meta, err
	}
	return &out, meta, nil
}

// Memory fetches the memory panel.
func (c *Client) Memory(ctx context.Context) (*models.GetMemoryResponse, Meta, error) {
	var out models.GetMemoryResponse
	meta, err := c.getJSON(ctx, EndpointMemory, &out)
	if err != nil {
		return nil, meta, err
	}
	return &out, meta, nil
}

// Processes fetches the process list, sorted by descending memory.
func (c *Client) Processes(ctx context.Context) (*models.GetProcessesResponse, Meta, error) {
	var out models.GetProcessesResponse
	meta, err := c.getJSON(ctx, EndpointProcesses, &out)
	if err != nil {
		return nil, meta, err
	}
	return &out, meta, nil
}

// getJSON performs a GET and decodes a 200 body into out.
// It holds a limiter permit for the whole call; the timeout starts once the
// permit is granted and covers reading the body.
func (c *Client) getJSON(ctx context.Context, endpoint string, out any) (Meta, error) {
	release, err := c.limiter.Acquire(ctx)
	if err != nil {
		clientRequestsTotal.WithLabelValues(endpoint, "cancelled").Inc()
		return Meta{}, err
	}
	defer release()

	reqCtx, cancel := context.WithTimeout(ctx, c.config.Timeout)
	defer cancel()

	startTime := time.Now()
	defer func() {
		clientRequestDuration.WithLabelValues(endpoint).Observe(time.Since(startTime).Seconds())
	}()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.config.BaseURL+endpoint, nil)
	if err != nil {
		return Meta{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", c.config.UserAgent)
	req.Header.Set("Accept", "application/json")

	c.logger.Debug().Str("endpoint", endpoint).Msg("Executing request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Meta{}, c.transportError(ctx, endpoint, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return Meta{}, c.transportError(ctx, endpoint, err)
	}

	meta := Meta{
		StatusCode:   resp.StatusCode,
		CacheControl: resp.Header.Get("Cache-Control"),
		Duration:     time.Since(startTime),
	}
	if lastModified, ok := cache.ParseLastModified(resp.Header); ok {
		meta.LastModified = lastModified
	}

	clientRequestsTotal.WithLabelValues(endpoint, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode != http.StatusOK {
		apiErr := &APIError{
			Endpoint:   endpoint,
			StatusCode: resp.StatusCode,
			ErrorClass: classifyStatus(resp.StatusCode),
			Message:    resp.Status,
		}
		if apiErr.ErrorClass == "" {
			apiErr.ErrorClass = ErrorClassClient
		}
		var errBody models.ErrorResponse
		if json.Unmarshal(body, &errBody) == nil && errBody.Type != "" {
			apiErr.Type = errBody.Type
			apiErr.Message = errBody.Message
		}
		clientErrorsTotal.WithLabelValues(string(apiErr.ErrorClass)).Inc()
		c.logger.Warn().
			Str("endpoint", endpoint).
			Int("status", resp.StatusCode).
			Str("error_class", string(apiErr.ErrorClass)).
			Msg("whtop request error")
		return meta, apiErr
	}

	if err := json.Unmarshal(body, out); err != nil {
		clientErrorsTotal.WithLabelValues("decode").Inc()
		return meta, fmt.Errorf("%w %s: %v", ErrDecode, endpoint, err)
	}

	return meta, nil
}

// transportError wraps a failed round trip. parent is the caller's context.
func (c *Client) transportError(parent context.Context, endpoint string, err error) error {
	class := classifyTransportError(parent, err)
	clientErrorsTotal.WithLabelValues(string(class)).Inc()
	clientRequestsTotal.WithLabelValues(endpoint, string(class)).Inc()

	if class == ErrorClassTimeout {
		c.logger.Warn().Str("endpoint", endpoint).Dur("timeout", c.config.Timeout).Msg("whtop request timed out")
		return &APIError{
			Endpoint:   endpoint,
			ErrorClass: class,
			Err:        fmt.Errorf("%w after %v", ErrTimeout, c.config.Timeout),
		}
	}

	if parent.Err() != nil {
		return parent.Err()
	}

	c.logger.Error().Err(err).Str("endpoint", endpoint).Msg("whtop request failed")
	return &APIError{Endpoint: endpoint, ErrorClass: class, Err: err}
}

// LimiterState returns the state of the client's concurrency limiter.
func (c *Client) LimiterState() limit.State {
	return c.limiter.State()
}

// BaseURL returns the server base URL.
func (c *Client) BaseURL() string {
	return c.config.BaseURL
}

// SetHTTPClient sets a custom HTTP client (for testing).
func (c *Client) SetHTTPClient(client *http.Client) {
	c.httpClient = client
}
