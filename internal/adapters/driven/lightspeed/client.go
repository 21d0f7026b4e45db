// Package lightspeed implements the POS REST client and OAuth provider for
// Lightspeed Retail style APIs.
package lightspeed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/custodia-labs/posbridge/internal/core/domain"
	"github.com/custodia-labs/posbridge/internal/core/ports/driven"
	"github.com/custodia-labs/posbridge/internal/metrics"
)

const (
	// DefaultBaseURL is the REST API root
	DefaultBaseURL = "https://api.lightspeedapp.com/API/V3"

	// MaxRetries is the total number of attempts per request
	MaxRetries = 3

	// DefaultInitialDelay is the first backoff step; attempt n waits initialDelay * 2^n
	DefaultInitialDelay = time.Second

	// DefaultOperationTimeout bounds one logical operation including retries and paging
	DefaultOperationTimeout = 60 * time.Second

	// maxErrorBody caps how much of an error response is kept
	maxErrorBody = 4 << 10
)

// Options tunes a Client. Zero values use the defaults.
type Options struct {
	BaseURL          string
	HTTPClient       *http.Client
	MaxRetries       int
	InitialDelay     time.Duration
	OperationTimeout time.Duration
	Logger           *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.BaseURL == "" {
		o.BaseURL = DefaultBaseURL
	}
	o.BaseURL = strings.TrimSuffix(o.BaseURL, "/")
	if o.HTTPClient == nil {
		o.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = MaxRetries
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = DefaultInitialDelay
	}
	if o.OperationTimeout <= 0 {
		o.OperationTimeout = DefaultOperationTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Client is a per-user view of the POS API. It is safe for concurrent use;
// every attempt passes through the shared limiter.
type Client struct {
	userID  string
	tokens  driven.TokenProvider
	limiter driven.RateLimiter
	opts    Options
	logger  *slog.Logger

	mu        sync.Mutex
	accountID string
}

// NewClient creates a client for userID.
func NewClient(userID string, tokens driven.TokenProvider, limiter driven.RateLimiter, opts Options) *Client {
	opts = opts.withDefaults()
	return &Client{
		userID:  userID,
		tokens:  tokens,
		limiter: limiter,
		opts:    opts,
		logger:  opts.Logger.With("user_id", userID),
	}
}

// operation bounds one logical call.
func (c *Client) operation(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, c.opts.OperationTimeout)
}

// backoff returns the delay before attempt+1.
func (c *Client) backoff(attempt int) time.Duration {
	return c.opts.InitialDelay * time.Duration(1<<attempt)
}

// retryAfter parses a Retry-After header in seconds.
func retryAfter(h http.Header) (time.Duration, bool) {
	v := strings.TrimSpace(h.Get("Retry-After"))
	if v == "" {
		return 0, false
	}
	secs, err := strconv.Atoi(v)
	if err != nil || secs < 0 {
		return 0, false
	}
	return time.Duration(secs) * time.Second, true
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// request performs one API call with the retry policy and decodes the body into T.
// Retries are sequential.
func request[T any](ctx context.Context, c *Client, method, endpoint string, query url.Values) (T, error) {
	var zero T

	token, ok := c.tokens.GetValidAccessToken(ctx, c.userID)
	if !ok {
		return zero, domain.ErrUnauthenticated
	}

	target := c.opts.BaseURL + endpoint
	if len(query) > 0 {
		target += "?" + query.Encode()
	}
	log := c.logger.With("endpoint", endpoint)

	var lastErr error
	for attempt := 0; attempt < c.opts.MaxRetries; attempt++ {
		if err := c.limiter.Wait(ctx); err != nil {
			return zero, fmt.Errorf("wait for rate limiter: %w", err)
		}

		body, delay, err := c.attempt(ctx, method, target, endpoint, token, attempt)
		if err == nil {
			var out T
			if err := json.Unmarshal(body, &out); err != nil {
				return zero, fmt.Errorf("decode %s: %w", endpoint, err)
			}
			return out, nil
		}
		lastErr = err

		var apiErr *domain.APIError
		if errors.As(err, &apiErr) && !apiErr.Retryable() {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}
		if attempt == c.opts.MaxRetries-1 {
			break
		}

		reason := "network"
		if apiErr != nil {
			reason = "server_error"
			if apiErr.StatusCode == http.StatusTooManyRequests {
				reason = "rate_limited"
			}
		}
		metrics.APIRetriesTotal.WithLabelValues(reason).Inc()
		log.Warn("pos api attempt failed, retrying",
			"attempt", attempt+1,
			"reason", reason,
			"delay_ms", delay.Milliseconds(),
			"error", err,
		)

		if err := sleep(ctx, delay); err != nil {
			return zero, err
		}
	}

	log.Error("pos api request failed", "attempts", c.opts.MaxRetries, "error", lastErr)
	return zero, lastErr
}

// attempt issues one HTTP call. On failure it returns the delay before the next try.
func (c *Client) attempt(ctx context.Context, method, target, endpoint, token string, attempt int) ([]byte, time.Duration, error) {
	req, err := http.NewRequestWithContext(ctx, method, target, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.opts.HTTPClient.Do(req)
	metrics.APIRequestDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.APIRequestsTotal.WithLabelValues(method, "network_error").Inc()
		return nil, c.backoff(attempt), fmt.Errorf("%s %s: %w", method, endpoint, err)
	}
	defer resp.Body.Close()
	metrics.APIRequestsTotal.WithLabelValues(method, strconv.Itoa(resp.StatusCode)).Inc()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, c.backoff(attempt), fmt.Errorf("read %s: %w", endpoint, err)
		}
		return body, 0, nil
	}

	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	apiErr := &domain.APIError{StatusCode: resp.StatusCode, Endpoint: endpoint, Body: string(body)}

	delay := c.backoff(attempt)
	if resp.StatusCode == http.StatusTooManyRequests {
		if d, ok := retryAfter(resp.Header); ok {
			delay = d
		}
		if t, ok := c.limiter.(driven.Throttler); ok {
			if err := t.BlockFor(ctx, delay); err != nil {
				c.logger.Warn("failed to propagate provider backoff", "error", err)
			}
		}
	}
	return nil, delay, apiErr
}
