// Package dataforseo is the HTTP client for the DataForSEO v3 API.
package dataforseo

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff"
	"golang.org/x/time/rate"

	"serp-mcp/internal/domain"
	"serp-mcp/internal/infra/config"
	"serp-mcp/internal/infra/tracer"
)

const (
	userAgent = "serp-mcp/1.0"

	// maxResponseBytes caps how much of a response body is read.
	maxResponseBytes = 32 << 20

	// maxErrorBodyBytes bounds the body excerpt kept in transport errors.
	maxErrorBodyBytes = 512
)

// Client implements domain.APIClient over HTTP with Basic authentication.
// It is safe for concurrent use and holds no per-invocation state.
//
// When the upstream reports a non-success status, Post and Get return the
// decoded Response together with a *domain.APIError.
type Client struct {
	httpClient *http.Client
	baseURL    string
	login      string
	password   string
	limiter    *rate.Limiter
	retry      config.RetryConfig
	breaker    *breaker
	logger     *slog.Logger
}

// Option customizes a Client.
type Option func(*Client)

// WithHTTPClient replaces the pooled HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

// NewClient creates a Client from cfg. Credentials are captured once.
func NewClient(cfg config.APIConfig, logger *slog.Logger, opts ...Option) *Client {
	c := &Client{
		httpClient: NewHTTPClient(cfg),
		baseURL:    strings.TrimRight(cfg.BaseURL, "/"),
		login:      cfg.Login,
		password:   cfg.Password,
		retry:      cfg.Retry,
		logger:     logger,
	}
	if rpm := cfg.RateLimit.RequestsPerMinute; rpm > 0 {
		burst := cfg.RateLimit.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(float64(rpm)/60.0), burst)
	}
	if cfg.CircuitBreaker.Enabled {
		c.breaker = newBreaker(cfg.CircuitBreaker, logger)
	}
	if c.retry.MaxAttempts < 1 {
		c.retry.MaxAttempts = 1
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Post sends body wrapped in a single-element JSON array. It is never retried:
// task_post is not idempotent and live requests are billed.
func (c *Client) Post(ctx context.Context, path string, body any) (*domain.Response, error) {
	payload, err := json.Marshal([]any{body})
	if err != nil {
		return nil, domain.NewDomainError("Client.Post", domain.ErrInvalidInput, err.Error())
	}
	return c.do(ctx, http.MethodPost, path, payload)
}

// Get issues a GET for path. Transport failures are retried with exponential
// backoff unless ctx was marked with domain.WithNoRetry.
func (c *Client) Get(ctx context.Context, path string) (*domain.Response, error) {
	attempts := c.retry.MaxAttempts
	if domain.NoRetry(ctx) {
		attempts = 1
	}
	if attempts == 1 {
		return c.do(ctx, http.MethodGet, path, nil)
	}

	b := backoff.NewExponentialBackOff()
	if c.retry.InitialInterval > 0 {
		b.InitialInterval = c.retry.InitialInterval
	}
	if c.retry.MaxInterval > 0 {
		b.MaxInterval = c.retry.MaxInterval
	}
	b.MaxElapsedTime = 0 // attempts bound the loop, ctx bounds the time

	var (
		resp    *domain.Response
		lastErr error
		attempt int
	)
	op := func() error {
		attempt++
		resp, lastErr = c.do(ctx, http.MethodGet, path, nil)
		if lastErr != nil && retryable(lastErr) && ctx.Err() == nil {
			return lastErr
		}
		// Success or a failure another attempt cannot fix.
		return nil
	}
	notify := func(err error, wait time.Duration) {
		c.logger.Debug("retrying upstream GET",
			"path", path,
			"attempt", attempt,
			"wait", wait,
			"error", err,
		)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)
	if err := backoff.RetryNotify(op, policy, notify); err != nil {
		return nil, err
	}
	return resp, lastErr
}

// retryable reports whether a failed GET may be attempted again.
func retryable(err error) bool {
	if errors.Is(err, domain.ErrCircuitOpen) {
		return false
	}
	var he *HTTPStatusError
	if errors.As(err, &he) {
		return he.Temporary()
	}
	return errors.Is(err, domain.ErrTransport)
}

// HTTPStatusError is a transport failure caused by a non-2xx HTTP status.
type HTTPStatusError struct {
	StatusCode int
	Body       string
}

func (e *HTTPStatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("http status %d", e.StatusCode)
	}
	return fmt.Sprintf("http status %d: %s", e.StatusCode, e.Body)
}

func (e *HTTPStatusError) Unwrap() error { return domain.ErrTransport }

// Temporary reports whether the status is worth retrying.
func (e *HTTPStatusError) Temporary() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.StatusCode == http.StatusRequestTimeout ||
		e.StatusCode >= 500
}

func (c *Client) do(ctx context.Context, method, path string, payload []byte) (resp *domain.Response, err error) {
	ctx, span := tracer.StartSpan(ctx, "dataforseo."+strings.ToLower(method))
	span.SetAttributes(
		tracer.StringAttr(tracer.AttrHTTPMethod, method),
		tracer.StringAttr(tracer.AttrHTTPPath, path),
	)
	defer func() {
		if resp != nil {
			span.SetAttributes(tracer.IntAttr(tracer.AttrStatusCode, resp.StatusCode))
		}
		tracer.End(span, err)
	}()

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, fmt.Errorf("%w: rate limiter: %v", domain.ErrTransport, err)
		}
	}

	start := time.Now()
	raw, err := c.send(ctx, method, path, payload)
	if err != nil {
		return nil, err
	}

	resp, err = decodeEnvelope(raw)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}

	c.logger.Debug("upstream request",
		"method", method,
		"path", path,
		"status_code", resp.StatusCode,
		"cost", resp.Cost,
		"duration", time.Since(start),
	)

	if !resp.OK() {
		return resp, &domain.APIError{
			Op:            method,
			Path:          path,
			StatusCode:    resp.StatusCode,
			StatusMessage: resp.StatusMessage,
		}
	}
	return resp, nil
}

// send performs one HTTP exchange through the circuit breaker, when one is
// configured, and returns the body of a 2xx response.
func (c *Client) send(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	if c.breaker == nil {
		return c.exchange(ctx, method, path, payload)
	}
	return c.breaker.execute(func() ([]byte, error) {
		return c.exchange(ctx, method, path, payload)
	})
}

func (c *Client) exchange(ctx context.Context, method, path string, payload []byte) ([]byte, error) {
	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.url(path), body)
	if err != nil {
		return nil, domain.NewDomainError("Client."+method, domain.ErrInvalidInput, err.Error())
	}
	req.SetBasicAuth(c.login, c.password)
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	httpResp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s %s: %w", domain.ErrTransport, method, path, err)
	}
	defer httpResp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read %s %s: %v", domain.ErrTransport, method, path, err)
	}
	if len(raw) > maxResponseBytes {
		return nil, fmt.Errorf("%w: %s %s: response exceeds %d bytes", domain.ErrTransport, method, path, maxResponseBytes)
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s: %w", method, path, &HTTPStatusError{
			StatusCode: httpResp.StatusCode,
			Body:       excerpt(raw),
		})
	}
	return raw, nil
}

func (c *Client) url(path string) string {
	if path == "" {
		return c.baseURL
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}

func excerpt(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > maxErrorBodyBytes {
		s = s[:maxErrorBodyBytes] + "..."
	}
	return s
}

var _ domain.APIClient = (*Client)(nil)
