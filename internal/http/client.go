package http

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	logging "github.com/ipfs/go-log/v2"
	"github.com/jpillora/backoff"
	"golang.org/x/time/rate"
)

var log = logging.Logger("bdex/http")

// DefaultUserAgent identifies the client to image hosts.
const DefaultUserAgent = "bdex/1.0"

// Common errors.
var (
	ErrNotFound        = errors.New("http: resource not found")
	ErrForbidden       = errors.New("http: access forbidden")
	ErrUnauthorized    = errors.New("http: unauthorized")
	ErrTooManyRequests = errors.New("http: too many requests")
	ErrServerError     = errors.New("http: server error")
)

// Options configures the HTTP client.
type Options struct {
	// MaxIdleConnsPerHost sets the maximum idle connections per host.
	// Default: 100
	MaxIdleConnsPerHost int

	// Timeout bounds connecting and waiting for response headers. Reading the
	// body is not bounded, so slow images keep streaming.
	// Default: 30s
	Timeout time.Duration

	// RetryAttempts is the number of extra attempts for a request that fails
	// with a network error, 429 or 5xx. Block downloads rotate mirrors
	// instead, so the default is no retry.
	// Default: 0
	RetryAttempts int

	// RetryBackoff is the initial backoff duration.
	// Default: 1s
	RetryBackoff time.Duration

	// RetryMaxBackoff is the maximum backoff duration.
	// Default: 30s
	RetryMaxBackoff time.Duration

	// RateLimit caps requests per second across the client. Zero disables it.
	RateLimit float64

	// UserAgent is sent with every request.
	// Default: DefaultUserAgent
	UserAgent string
}

// DefaultOptions returns options with sensible defaults.
func DefaultOptions() Options {
	return Options{
		MaxIdleConnsPerHost: 100,
		Timeout:             30 * time.Second,
		RetryBackoff:        time.Second,
		RetryMaxBackoff:     30 * time.Second,
		UserAgent:           DefaultUserAgent,
	}
}

// Client is an HTTP client for fetching images. It is safe for concurrent use.
type Client struct {
	client  *http.Client
	limiter *rate.Limiter
	opts    Options
}

// NewClient creates a new HTTP client with the given options.
func NewClient(opts Options) *Client {
	dialer := &net.Dialer{
		Timeout:   opts.Timeout,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		MaxIdleConnsPerHost:   opts.MaxIdleConnsPerHost,
		MaxIdleConns:          opts.MaxIdleConnsPerHost * 2,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   opts.Timeout,
		ResponseHeaderTimeout: opts.Timeout,
		DisableCompression:    true, // image bytes are consumed raw
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	burst := int(opts.RateLimit)
	if burst < 1 {
		burst = 1
	}

	return &Client{
		client:  &http.Client{Transport: transport},
		limiter: rate.NewLimiter(limit, burst),
		opts:    opts,
	}
}

// Get performs a GET request and returns the response body on a 2xx status.
// The caller must close the body.
func (c *Client) Get(ctx context.Context, url string) (io.ReadCloser, error) {
	var lastErr error

	b := &backoff.Backoff{
		Min:    c.opts.RetryBackoff,
		Max:    c.opts.RetryMaxBackoff,
		Factor: 2,
		Jitter: true,
	}

	for attempt := 0; attempt <= c.opts.RetryAttempts; attempt++ {
		if attempt > 0 {
			if err := c.backoff(ctx, b.Duration()); err != nil {
				return nil, err
			}
			log.Debugw("retrying request", "url", url, "attempt", attempt, "err", lastErr)
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		if c.opts.UserAgent != "" {
			req.Header.Set("User-Agent", c.opts.UserAgent)
		}

		resp, err := c.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = err
			continue
		}

		if retryable(resp.StatusCode) {
			resp.Body.Close()
			lastErr = checkStatusCode(resp.StatusCode)
			continue
		}

		if err := checkStatusCode(resp.StatusCode); err != nil {
			resp.Body.Close()
			return nil, err
		}

		return resp.Body, nil
	}

	if c.opts.RetryAttempts == 0 {
		return nil, lastErr
	}
	return nil, fmt.Errorf("get request failed after %d attempts: %w", c.opts.RetryAttempts+1, lastErr)
}

// backoff waits for d or until ctx is done.
func (c *Client) backoff(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func retryable(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// checkStatusCode returns an appropriate error for non-success status codes.
func checkStatusCode(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusNotFound:
		return ErrNotFound
	case code == http.StatusForbidden:
		return ErrForbidden
	case code == http.StatusUnauthorized:
		return ErrUnauthorized
	case code == http.StatusTooManyRequests:
		return ErrTooManyRequests
	case code >= 500:
		return fmt.Errorf("%w: %d %s", ErrServerError, code, http.StatusText(code))
	default:
		return fmt.Errorf("unexpected status code: %d", code)
	}
}
