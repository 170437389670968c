// Package sources holds the HTTP plumbing shared by the bibliographic source
// adapters: a rate-limited JSON client and the status-to-error mapping that
// lets the resolution chain tell "source unavailable" from "nothing found".
package sources

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/turtacn/citeresolve/internal/infrastructure/monitoring/logging"
)

const (
	// DefaultTimeout bounds one HTTP exchange.
	DefaultTimeout = 10 * time.Second

	// DefaultRatePerSecond applies when no WithRateLimit option is given.
	DefaultRatePerSecond = 5.0

	// DefaultUserAgent identifies citeresolve to the source APIs.
	DefaultUserAgent = "citeresolve/1.0"

	maxBodyBytes = 8 << 20
)

// Client is a rate-limited JSON-over-HTTP client for one source.
type Client struct {
	name         string
	baseURL      string
	httpClient   *http.Client
	timeout      time.Duration
	limiter      *rate.Limiter
	userAgent    string
	apiKeyHeader string
	apiKey       string
	logger       logging.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURL sets the API root, e.g. an httptest server URL.
func WithBaseURL(u string) Option {
	return func(c *Client) { c.baseURL = strings.TrimRight(u, "/") }
}

// WithHTTPClient sets the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// WithRateLimit allows perSecond requests with the given burst. A
// non-positive rate disables limiting.
func WithRateLimit(perSecond float64, burst int) Option {
	return func(c *Client) {
		if burst < 1 {
			burst = 1
		}
		if perSecond <= 0 {
			c.limiter = rate.NewLimiter(rate.Inf, burst)
			return
		}
		c.limiter = rate.NewLimiter(rate.Limit(perSecond), burst)
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		if ua != "" {
			c.userAgent = ua
		}
	}
}

// WithAPIKey sends key in the named header on every request. An empty key
// is ignored.
func WithAPIKey(header, key string) Option {
	return func(c *Client) {
		c.apiKeyHeader = header
		c.apiKey = key
	}
}

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithLogger sets the logger.
func WithLogger(l logging.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

// NewClient builds a Client for the named source.
func NewClient(name string, opts ...Option) *Client {
	c := &Client{
		name:       name,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		limiter:    rate.NewLimiter(rate.Limit(DefaultRatePerSecond), 1),
		userAgent:  DefaultUserAgent,
		logger:     logging.NewNopLogger(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.timeout > 0 {
		hc := *c.httpClient
		hc.Timeout = c.timeout
		c.httpClient = &hc
	}
	c.logger = c.logger.With(logging.String(logging.FieldSource, name))
	return c
}

// Name returns the source name.
func (c *Client) Name() string { return c.name }

// BaseURL returns the API root.
func (c *Client) BaseURL() string { return c.baseURL }

// GetJSON issues GET baseURL+path?query and decodes the body into out.
//
// A 404 returns an error matching ErrNotFound. Every other failure
// (network, timeout, 401/403, 429, 5xx, other 4xx, undecodable body) is
// returned as a source-unavailable AppError wrapping the matching sentinel.
func (c *Client) GetJSON(ctx context.Context, path string, query url.Values, out interface{}) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return unavailable(c.name, fmt.Errorf("%w: rate limiter: %v", ErrTransport, err))
	}

	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return unavailable(c.name, fmt.Errorf("%w: build request: %v", ErrTransport, err))
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	if c.apiKey != "" && c.apiKeyHeader != "" {
		req.Header.Set(c.apiKeyHeader, c.apiKey)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Debug("source request failed", logging.String("path", path), logging.Err(err))
		return unavailable(c.name, fmt.Errorf("%w: %v", ErrTransport, err))
	}
	defer func() {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
	}()
	c.logger.Debug("source request",
		logging.String("path", path),
		logging.Int("status", resp.StatusCode),
		logging.Duration(logging.FieldLatency, time.Since(start)))

	if err := checkStatus(c.name, path, resp.StatusCode); err != nil {
		if IsNotFound(err) {
			return err
		}
		return unavailable(c.name, err)
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodyBytes)).Decode(out); err != nil {
		return unavailable(c.name, fmt.Errorf("%w: %v", ErrInvalidResponse, err))
	}
	return nil
}

func checkStatus(source, path string, status int) error {
	var kind error
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound:
		kind = ErrNotFound
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		kind = ErrAuth
	case status == http.StatusTooManyRequests:
		kind = ErrRateLimited
	case status >= 500:
		kind = ErrTransport
	default:
		kind = ErrUnexpectedStatus
	}
	return &APIError{Source: source, StatusCode: status, Path: path, kind: kind}
}
