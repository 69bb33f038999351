package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/platinummonkey/catalog/pkg/observability"
	"github.com/platinummonkey/catalog/pkg/storage"
)

const (
	defaultTimeout     = 5 * time.Second
	defaultSlowTimeout = 15 * time.Second
)

// StatusError is returned when the backend answers with a 4xx or 5xx status
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// SlowResult is the body of a GET /slow response
type SlowResult struct {
	Message      string    `json:"message"`
	DelaySeconds float64   `json:"delay_seconds"`
	Timestamp    time.Time `json:"timestamp"`
}

// Client calls the catalog backend. Every call runs in a client span, child
// of the span held by the caller's context, whose identity is injected into
// the outbound headers.
type Client struct {
	baseURL     string
	httpClient  *http.Client
	slowTimeout time.Duration
	spans       *observability.SpanManager
	propagator  *observability.Propagator
	logger      *observability.Logger
}

// Option configures a Client
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// WithSlowTimeout bounds calls to GET /slow
func WithSlowTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		c.slowTimeout = timeout
	}
}

// New creates a backend client for baseURL, e.g. http://backend:5000
func New(baseURL string, spans *observability.SpanManager, propagator *observability.Propagator, logger *observability.Logger, opts ...Option) *Client {
	c := &Client{
		baseURL:     strings.TrimRight(baseURL, "/"),
		httpClient:  &http.Client{Timeout: defaultTimeout},
		slowTimeout: defaultSlowTimeout,
		spans:       spans,
		propagator:  propagator,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ListProducts calls GET /products
func (c *Client) ListProducts(ctx context.Context) ([]*storage.Product, error) {
	var products []*storage.Product
	if err := c.get(ctx, "call_backend_products", "/products", 0, &products); err != nil {
		return nil, err
	}
	return products, nil
}

// GetProduct calls GET /products/{id}
func (c *Client) GetProduct(ctx context.Context, id int64) (*storage.Product, error) {
	var product storage.Product
	if err := c.get(ctx, "call_backend_product", fmt.Sprintf("/products/%d", id), 0, &product); err != nil {
		return nil, err
	}
	return &product, nil
}

// Slow calls GET /slow with the longer slow timeout
func (c *Client) Slow(ctx context.Context) (*SlowResult, error) {
	var result SlowResult
	if err := c.get(ctx, "call_backend_slow", "/slow", c.slowTimeout, &result); err != nil {
		return nil, err
	}
	return &result, nil
}

// Health calls GET /health. A DEGRADED backend answers 503; that is a
// health answer, returned with a nil error and logged at INFO.
func (c *Client) Health(ctx context.Context) (*observability.HealthStatus, error) {
	var status observability.HealthStatus
	if err := c.get(ctx, "call_backend_health", "/health", 0, &status, http.StatusServiceUnavailable); err != nil {
		return nil, err
	}
	return &status, nil
}

// get calls path and decodes the body into dest. Statuses of 400 and above
// fail the call unless listed in answers.
func (c *Client) get(ctx context.Context, operation, path string, timeout time.Duration, dest interface{}, answers ...int) error {
	span := c.spans.StartChild(observability.SpanFromContext(ctx), operation)
	defer span.Finish()

	url := c.baseURL + path
	span.SetTag("span.kind", "client")
	span.SetTag("http.method", http.MethodGet)
	span.SetTag("http.url", url)

	log := c.logger.WithContext(observability.ContextWithSpan(ctx, span)).WithField("backend_url", c.baseURL)
	log.Infof("Calling backend %s", path)

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	fail := func(err error) error {
		span.SetError()
		span.LogEvent(map[string]interface{}{"event": "error", "message": err.Error()})
		log.WithError(err).Errorf("Backend call to %s failed", path)
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fail(fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Accept", "application/json")
	c.propagator.Inject(span, req.Header)

	hc := c.httpClient
	if timeout > 0 && hc.Timeout > 0 && hc.Timeout < timeout {
		copied := *hc
		copied.Timeout = timeout
		hc = &copied
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fail(fmt.Errorf("failed to call backend: %w", err))
	}
	defer resp.Body.Close()

	span.SetTag("http.status_code", resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(fmt.Errorf("failed to read response: %w", err))
	}
	if resp.StatusCode >= http.StatusBadRequest && !slices.Contains(answers, resp.StatusCode) {
		return fail(&StatusError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))})
	}
	if err := json.Unmarshal(body, dest); err != nil {
		return fail(fmt.Errorf("failed to decode response: %w", err))
	}

	log.WithField("status", resp.StatusCode).Info("Backend response received")
	return nil
}
