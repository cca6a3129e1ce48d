package fetcher

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"finbot/internal/cache"
	"finbot/internal/metrics"
)

// Sentinel errors providers translate upstream responses into.
var (
	// ErrUnavailable means this source has no data for the symbol right
	// now (404, empty payload, feature not in plan). The next source is
	// tried.
	ErrUnavailable = errors.New("data unavailable from source")
	// ErrInvalidSymbol means the symbol itself is malformed or unknown.
	// No other source is tried.
	ErrInvalidSymbol = errors.New("invalid symbol")
	// ErrAuth means the API key was rejected. The source is skipped and
	// the failure logged loudly; retrying other sources still makes
	// sense.
	ErrAuth = errors.New("authentication rejected by source")
	// ErrNoAPIKey means the source is not configured. It is skipped
	// silently and no failure marker is written, so configuring the key
	// takes effect immediately.
	ErrNoAPIKey = errors.New("no API key configured for source")
	// ErrRateLimited means retries against a 429/402 were exhausted. The
	// failure marker gets a shorter TTL so the source comes back as soon
	// as its quota does.
	ErrRateLimited = errors.New("source rate limit exhausted")
)

// Source is one upstream able to produce a T for a symbol.
type Source[T any] struct {
	Name  string
	Fetch func(ctx context.Context, symbol string) (T, error)
}

// Pipeline runs the cache read-through for one data type: cached value wins,
// a negative marker skips the source, otherwise the sources are tried in
// order under a per-key fetch lock.
type Pipeline[T any] struct {
	Cache    *cache.Service
	DataType string
	Sources  []Source[T]
	// LockWait bounds how long a non-holder waits for the holder's
	// result before fetching without the lock.
	LockWait time.Duration
	// LockPoll is the cache re-read interval while waiting.
	LockPoll time.Duration
}

// Invalidate drops the cached value and any failure marker for every
// source of this data type, so the next Fetch goes upstream.
func (p *Pipeline[T]) Invalidate(ctx context.Context, symbol string, params map[string]string) {
	for _, src := range p.Sources {
		key := p.Cache.DataKey(p.DataType, src.Name, symbol, params)
		if err := p.Cache.Delete(ctx, key); err != nil {
			log.Printf("fetcher: %s: invalidate: %v", key, err)
		}
	}
}

// Fetch returns the value, the name of the source that produced it, and
// whether the value was served from cache rather than fetched upstream.
func (p *Pipeline[T]) Fetch(ctx context.Context, symbol string, params map[string]string) (T, string, bool, error) {
	var zero T
	var lastErr error

	for _, src := range p.Sources {
		key := p.Cache.DataKey(p.DataType, src.Name, symbol, params)

		var cached T
		switch p.Cache.GetJSON(ctx, key, &cached) {
		case cache.Hit:
			metrics.CacheReads.WithLabelValues(p.DataType, "hit").Inc()
			return cached, src.Name, true, nil
		case cache.Failed:
			metrics.CacheReads.WithLabelValues(p.DataType, "failed_marker").Inc()
			continue
		}
		metrics.CacheReads.WithLabelValues(p.DataType, "miss").Inc()

		val, fromHolder, err := p.fetchOne(ctx, key, src, symbol)
		if err == nil {
			return val, src.Name, fromHolder, nil
		}
		if errors.Is(err, ErrInvalidSymbol) {
			return zero, "", false, fmt.Errorf("%s: %w", symbol, ErrInvalidSymbol)
		}
		if ctx.Err() != nil {
			return zero, "", false, ctx.Err()
		}
		lastErr = err
	}

	if lastErr != nil {
		return zero, "", false, fmt.Errorf("%s %s: all sources failed: %w", p.DataType, symbol, lastErr)
	}
	return zero, "", false, fmt.Errorf("%s %s: %w", p.DataType, symbol, ErrUnavailable)
}

// fetchOne performs the locked fetch for a single source key. The bool
// reports whether the value came out of the cache, published by a
// concurrent lock holder, instead of this worker's own upstream call.
func (p *Pipeline[T]) fetchOne(ctx context.Context, key string, src Source[T], symbol string) (T, bool, error) {
	var zero T

	lock, acquired, err := p.Cache.AcquireLock(ctx, key)
	if err != nil {
		// Redis trouble; fetch anyway, the cache is best effort.
		log.Printf("fetcher: %s: lock error, fetching unlocked: %v", key, err)
	} else if !acquired {
		if val, ok := p.waitForHolder(ctx, key); ok {
			return val, true, nil
		}
		// The holder never published a result within the wait budget.
		// Proceed without the lock rather than fail the request.
		log.Printf("fetcher: %s: lock wait elapsed, fetching without lock", key)
	}
	if acquired {
		defer func() {
			if err := lock.Release(ctx); err != nil {
				log.Printf("fetcher: %s: release lock: %v", key, err)
			}
		}()
	}

	val, err := src.Fetch(ctx, symbol)
	if err != nil {
		p.recordFailure(ctx, key, src.Name, err)
		return zero, false, err
	}

	metrics.FetchTotal.WithLabelValues(p.DataType, src.Name, "ok").Inc()
	if err := p.Cache.SetJSON(ctx, key, val, p.Cache.TTLFor(p.DataType)); err != nil {
		log.Printf("fetcher: %s: cache write: %v", key, err)
	}
	return val, false, nil
}

// waitForHolder polls the cache while another worker fetches. Returns the
// published value, or ok=false when the wait budget or the context runs out
// or the holder published a failure marker.
func (p *Pipeline[T]) waitForHolder(ctx context.Context, key string) (T, bool) {
	var zero T
	wait := p.LockWait
	if wait <= 0 {
		wait = 10 * time.Second
	}
	poll := p.LockPoll
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}

	deadline := time.Now().Add(wait)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return zero, false
		case <-ticker.C:
		}
		var val T
		switch p.Cache.GetJSON(ctx, key, &val) {
		case cache.Hit:
			return val, true
		case cache.Failed:
			return zero, false
		}
	}
	return zero, false
}

func (p *Pipeline[T]) recordFailure(ctx context.Context, key, source string, err error) {
	outcome := "error"
	switch {
	case errors.Is(err, ErrNoAPIKey):
		// Unconfigured source: skip without a marker so adding the key
		// takes effect on the next request.
		metrics.FetchTotal.WithLabelValues(p.DataType, source, "no_key").Inc()
		return
	case errors.Is(err, ErrUnavailable):
		outcome = "unavailable"
	case errors.Is(err, ErrInvalidSymbol):
		outcome = "invalid"
	case errors.Is(err, ErrRateLimited):
		outcome = "rate_limited"
	case errors.Is(err, ErrAuth):
		outcome = "auth"
		log.Printf("fetcher: %s: API key rejected by %s", key, source)
	}
	metrics.FetchTotal.WithLabelValues(p.DataType, source, outcome).Inc()

	// Negative-cache everything except context cancellation so dead
	// upstreams are not hammered while the marker lives. Rate limits get
	// a shorter window than hard failures.
	if ctx.Err() == nil {
		ttl := p.Cache.FailMarkerTTL()
		if errors.Is(err, ErrRateLimited) {
			ttl /= 5
		}
		if markErr := p.Cache.MarkFailedFor(ctx, key, ttl); markErr != nil {
			log.Printf("fetcher: %s: mark failed: %v", key, markErr)
		}
	}
}
