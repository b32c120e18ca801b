package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/nao1215/driftscan/internal/model"
)

// Result is one HTTP response from the listing endpoint. A Result is
// returned for every response the server produced, including error
// statuses; a Go error is reserved for transport failures.
type Result struct {
	// Page is the page number that was requested.
	Page model.PageNumber

	// StatusCode is the HTTP response status.
	StatusCode int

	// Body is the response body, truncated to the configured limit.
	Body []byte
}

// OK reports whether the response is usable listing content.
func (r *Result) OK() bool {
	return r.StatusCode == http.StatusOK
}

// Fetcher is the page-fetch primitive. Implementations must accept any
// decimal page number, including negative values and values beyond
// int64, and forward it verbatim as a string parameter.
type Fetcher interface {
	Fetch(ctx context.Context, page model.PageNumber) (*Result, error)
}

// TransportError wraps a network-level failure that survived all retry
// attempts. It is retryable at the crawl level: the driver marks the
// page FAILED and continues, and a later retry sweep may still recover
// it.
type TransportError struct {
	// Page is the page whose fetch failed.
	Page model.PageNumber

	// Attempts is how many attempts were made.
	Attempts int

	// Err is the last underlying error.
	Err error
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	return fmt.Sprintf("fetch page %s: %v (after %d attempts)", e.Page, e.Err, e.Attempts)
}

// Unwrap returns the underlying error.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// ErrRateLimited marks responses that indicate server-side rate
// limiting. It is retryable, but unlike an ordinary transport error it
// widens the politeness interval for the remainder of the run.
var ErrRateLimited = errors.New("rate limited by server")

// Default client policy. Values mirror what kept the original scrape
// running for days against an unstable endpoint.
const (
	// DefaultMaxAttempts bounds retries per page. Exhaustion marks the
	// page FAILED; it is never fatal to the crawl.
	DefaultMaxAttempts = 3

	// DefaultBackoffBase is the first retry delay; it doubles per
	// attempt with jitter on top.
	DefaultBackoffBase = 2 * time.Second

	// DefaultDelay is the minimum interval between requests.
	DefaultDelay = 1 * time.Second

	// DefaultTimeout is the per-request timeout. No fetch ever blocks
	// indefinitely.
	DefaultTimeout = 15 * time.Second

	// DefaultMaxBodySize limits response bodies. Listing pages are
	// small; anything larger is truncated, not fatal.
	DefaultMaxBodySize = 5 * 1024 * 1024

	// maxDelay caps how far rate-limit widening can stretch the
	// politeness interval.
	maxDelay = 2 * time.Minute
)

// Client fetches listing pages over HTTP.
type Client struct {
	httpClient  *http.Client
	endpoint    string
	pageParam   string
	userAgent   string
	headers     map[string]string
	cookie      string
	maxAttempts int
	backoffBase time.Duration
	maxBodySize int64
	logger      *slog.Logger

	// mu guards the limiter interval, which widens for the remainder of
	// the run whenever the server signals rate limiting.
	mu      sync.Mutex
	limiter *rate.Limiter
	delay   time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		c.httpClient.Timeout = d
	}
}

// WithDelay sets the minimum interval between requests. The interval is
// enforced per client; adding concurrent workers never relaxes it.
func WithDelay(d time.Duration) Option {
	return func(c *Client) {
		c.delay = d
	}
}

// WithMaxAttempts sets the retry budget per page. The prober uses 1:
// boundary probes want a crisp works/fails answer, not persistence.
func WithMaxAttempts(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxAttempts = n
		}
	}
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(c *Client) {
		c.userAgent = ua
	}
}

// WithHeaders sets additional request headers from a site profile.
func WithHeaders(h map[string]string) Option {
	return func(c *Client) {
		c.headers = h
	}
}

// WithCookie sets the Cookie header from a site profile.
func WithCookie(cookie string) Option {
	return func(c *Client) {
		c.cookie = cookie
	}
}

// WithMaxBodySize sets the response body read limit.
func WithMaxBodySize(n int64) Option {
	return func(c *Client) {
		if n > 0 {
			c.maxBodySize = n
		}
	}
}

// WithPageParam sets the query parameter carrying the page number.
func WithPageParam(name string) Option {
	return func(c *Client) {
		if name != "" {
			c.pageParam = name
		}
	}
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) {
		c.logger = logger
	}
}

// WithHTTPClient replaces the underlying HTTP client. Tests use this to
// point at httptest servers with their own transports.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

// NewClient creates a Client for the given listing endpoint.
func NewClient(endpoint string, opts ...Option) (*Client, error) {
	if _, err := url.Parse(endpoint); err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}

	c := &Client{
		httpClient:  &http.Client{Timeout: DefaultTimeout},
		endpoint:    endpoint,
		pageParam:   "page",
		userAgent:   "driftscan/1.0 (+https://github.com/nao1215/driftscan)",
		maxAttempts: DefaultMaxAttempts,
		backoffBase: DefaultBackoffBase,
		maxBodySize: DefaultMaxBodySize,
		delay:       DefaultDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.delay > 0 {
		c.limiter = rate.NewLimiter(rate.Every(c.delay), 1)
	}
	return c, nil
}

// Fetch requests one page, honoring the politeness interval and retrying
// transport failures with capped exponential backoff and jitter. Any
// HTTP response is returned as a Result; only exhausted transport
// failures return an error.
func (c *Client) Fetch(ctx context.Context, page model.PageNumber) (*Result, error) {
	var lastErr error

	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		if err := c.waitTurn(ctx); err != nil {
			return nil, &TransportError{Page: page, Attempts: attempt, Err: err}
		}

		res, err := c.fetchOnce(ctx, page)
		if err == nil {
			if res.StatusCode == http.StatusTooManyRequests {
				// Widen for the rest of the run, not just this page.
				c.widen()
				lastErr = ErrRateLimited
				c.logger.Warn("rate limited", "page", page, "attempt", attempt, "delay", c.currentDelay())
			} else {
				return res, nil
			}
		} else {
			lastErr = err
			c.logger.Debug("fetch attempt failed", "page", page, "attempt", attempt, "error", err)
		}

		if ctx.Err() != nil {
			return nil, &TransportError{Page: page, Attempts: attempt, Err: ctx.Err()}
		}
		if attempt < c.maxAttempts {
			if err := c.backoff(ctx, attempt); err != nil {
				return nil, &TransportError{Page: page, Attempts: attempt, Err: err}
			}
		}
	}

	return nil, &TransportError{Page: page, Attempts: c.maxAttempts, Err: lastErr}
}

// fetchOnce performs a single HTTP round trip.
func (c *Client) fetchOnce(ctx context.Context, page model.PageNumber) (*Result, error) {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return nil, err
	}
	q := u.Query()
	q.Set(c.pageParam, string(page))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", c.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}
	if c.cookie != "" {
		req.Header.Set("Cookie", c.cookie)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return nil, err
	}

	return &Result{Page: page, StatusCode: resp.StatusCode, Body: body}, nil
}

// waitTurn blocks until the politeness interval allows the next request.
func (c *Client) waitTurn(ctx context.Context) error {
	c.mu.Lock()
	limiter := c.limiter
	c.mu.Unlock()
	if limiter == nil {
		return nil
	}
	return limiter.Wait(ctx)
}

// backoff sleeps for the capped exponential delay with jitter, or
// returns early on cancellation.
func (c *Client) backoff(ctx context.Context, attempt int) error {
	d := c.backoffBase << (attempt - 1)
	if d > maxDelay {
		d = maxDelay
	}
	// Full jitter keeps retries from synchronizing across workers.
	d += time.Duration(rand.Int64N(int64(c.backoffBase)))

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(d):
		return nil
	}
}

// widen doubles the politeness interval for the remainder of the run,
// up to maxDelay. Repeated rate-limit signals therefore widen the whole
// run's pacing, not just the current page's.
func (c *Client) widen() {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.delay * 2
	if next == 0 {
		next = DefaultDelay
	}
	if next > maxDelay {
		next = maxDelay
	}
	if next == c.delay {
		return
	}
	c.delay = next
	c.limiter = rate.NewLimiter(rate.Every(next), 1)
}

// currentDelay returns the current politeness interval.
func (c *Client) currentDelay() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.delay
}

// StatusFailure renders a non-success status the way page records store
// it, e.g. "http_404".
func StatusFailure(code int) string {
	return "http_" + strconv.Itoa(code)
}
