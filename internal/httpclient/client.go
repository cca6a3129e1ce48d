package httpclient

import (
	"context"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"finbot/internal/config"
)

// Client is a provider-scoped HTTP client. Each upstream provider gets its
// own instance so rate limits never interfere across providers while the
// underlying transport and its connection pool are shared.
type Client struct {
	http        *http.Client
	limiter     *rate.Limiter
	provider    string
	userAgent   string
	maxRetries  int
	backoffBase time.Duration
	backoffMax  time.Duration
}

// sharedTransport is the single connection pool behind every provider
// client.
var sharedTransport *http.Transport

func transportFor(cfg config.HTTPClientConfig) *http.Transport {
	if sharedTransport == nil {
		base := http.DefaultTransport.(*http.Transport).Clone()
		base.MaxConnsPerHost = cfg.MaxConnsPerHost
		base.MaxIdleConnsPerHost = cfg.MaxConnsPerHost
		sharedTransport = base
	}
	return sharedTransport
}

// New builds the client for one provider. The per-minute budget comes from
// configuration; zero or negative disables limiting.
func New(cfg config.HTTPClientConfig, provider string) *Client {
	var limiter *rate.Limiter
	if perMin := cfg.RatePerMinute[provider]; perMin > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMin)), perMin)
	}
	return &Client{
		http: &http.Client{
			Timeout:   cfg.Timeout,
			Transport: transportFor(cfg),
		},
		limiter:     limiter,
		provider:    provider,
		userAgent:   cfg.UserAgent,
		maxRetries:  cfg.MaxRetries,
		backoffBase: cfg.BackoffBase,
		backoffMax:  cfg.BackoffMax,
	}
}

// Get performs a GET with the provider's rate limit and retry policy.
// Retries happen only on connection errors, timeouts, 429 and 5xx; any
// other status is returned to the caller for interpretation, never retried.
// The returned body is fully read and the response closed.
func (c *Client) Get(ctx context.Context, url string, header http.Header) ([]byte, int, error) {
	var lastErr error
	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			if err := c.sleep(ctx, attempt, lastErr); err != nil {
				return nil, 0, err
			}
		}
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return nil, 0, err
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("%s: build request: %w", c.provider, err)
		}
		req.Header.Set("User-Agent", c.userAgent)
		req.Header.Set("Accept", "application/json")
		for k, vs := range header {
			for _, v := range vs {
				req.Header.Set(k, v)
			}
		}

		resp, err := c.http.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			lastErr = err
			log.Printf("httpclient: %s attempt %d: %v", c.provider, attempt+1, err)
			continue
		}

		body, readErr := io.ReadAll(resp.Body)
		resp.Body.Close()
		if readErr != nil {
			lastErr = readErr
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			lastErr = &StatusError{Provider: c.provider, StatusCode: resp.StatusCode, RetryAfter: retryAfter(resp)}
			log.Printf("httpclient: %s attempt %d: status %d", c.provider, attempt+1, resp.StatusCode)
			continue
		}

		return body, resp.StatusCode, nil
	}
	return nil, 0, fmt.Errorf("%s: retries exhausted: %w", c.provider, lastErr)
}

// sleep waits out the backoff for the given attempt, honoring a 429
// Retry-After when the server sent one.
func (c *Client) sleep(ctx context.Context, attempt int, lastErr error) error {
	delay := c.backoffBase << (attempt - 1)
	if delay > c.backoffMax {
		delay = c.backoffMax
	}
	if delay <= 0 {
		delay = time.Millisecond
	}
	// Full jitter keeps synchronized workers from retrying in lockstep.
	delay = time.Duration(rand.Int63n(int64(delay)) + int64(delay)/2)

	if se, ok := lastErr.(*StatusError); ok && se.RetryAfter > delay {
		delay = se.RetryAfter
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func retryAfter(resp *http.Response) time.Duration {
	raw := resp.Header.Get("Retry-After")
	if raw == "" {
		return 0
	}
	if secs, err := strconv.Atoi(raw); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}

// StatusError is a retryable upstream status.
type StatusError struct {
	Provider   string
	StatusCode int
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: upstream status %d", e.Provider, e.StatusCode)
}
