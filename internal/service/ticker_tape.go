package service

import (
	"context"
	"log"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"finbot/internal/cache"
	"finbot/internal/domain"
	"finbot/internal/fetcher"

	"go.opentelemetry.io/otel/trace"
)

const tickerTapeKey = "ticker_tape"

// tickerTapeFanout bounds the concurrent quote fetches per refresh.
const tickerTapeFanout = 5

// TickerTape is the cached payload plus where it came from.
type TickerTape struct {
	Entries []domain.TickerTapeEntry `json:"entries"`
	Updated time.Time                `json:"updated"`
}

// TickerTapeService refreshes and serves the scrolling quote strip. The
// cached list is replaced atomically with a single write, and only when at
// least one symbol succeeded; a fully failed refresh keeps serving the
// previous list until its TTL runs out.
type TickerTapeService struct {
	tracer  trace.Tracer
	cache   *cache.Service
	quotes  *fetcher.Pipeline[domain.Quote]
	symbols []string
	ttl     time.Duration

	mu         sync.Mutex
	refreshing bool
}

func NewTickerTapeService(tracer trace.Tracer, c *cache.Service, quotes *fetcher.Pipeline[domain.Quote], symbols []string, ttl time.Duration) *TickerTapeService {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	return &TickerTapeService{
		tracer:  tracer,
		cache:   c,
		quotes:  quotes,
		symbols: symbols,
		ttl:     ttl,
	}
}

// Refresh fetches every configured symbol concurrently and replaces the
// cached list. Overlapping calls coalesce: a refresh that finds another one
// in flight returns immediately.
func (s *TickerTapeService) Refresh(ctx context.Context) error {
	s.mu.Lock()
	if s.refreshing {
		s.mu.Unlock()
		log.Println("ticker tape: refresh already in flight, skipping")
		return nil
	}
	s.refreshing = true
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.refreshing = false
		s.mu.Unlock()
	}()

	ctx, span := s.tracer.Start(ctx, "ticker-tape.refresh")
	defer span.End()

	entries := make([]*domain.TickerTapeEntry, len(s.symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(tickerTapeFanout)
	for i, symbol := range s.symbols {
		g.Go(func() error {
			q, _, _, err := s.quotes.Fetch(gctx, domain.NormalizeSymbol(symbol), nil)
			if err != nil {
				log.Printf("ticker tape: %s: %v", symbol, err)
				return nil
			}
			entries[i] = &domain.TickerTapeEntry{
				Symbol:        q.Symbol,
				Price:         q.Price,
				Change:        q.Change,
				ChangePercent: q.ChangePercent,
			}
			return nil
		})
	}
	_ = g.Wait()

	tape := TickerTape{Updated: time.Now().UTC()}
	for _, e := range entries {
		if e != nil {
			tape.Entries = append(tape.Entries, *e)
		}
	}
	if len(tape.Entries) == 0 {
		// Keep whatever the cache still holds rather than publish an
		// empty strip.
		log.Println("ticker tape: every symbol failed, keeping previous list")
		return nil
	}
	return s.cache.SetJSON(ctx, s.cache.PlainKey(tickerTapeKey), tape, s.ttl)
}

// Read returns the cached tape. The source is "cache" normally, "real_api"
// right after a forced refresh, and "empty" on a cold start before the
// first successful refresh.
func (s *TickerTapeService) Read(ctx context.Context, limit int, forceRefresh bool) ([]domain.TickerTapeEntry, string) {
	source := "cache"
	if forceRefresh {
		if err := s.Refresh(ctx); err != nil {
			log.Printf("ticker tape: forced refresh: %v", err)
		} else {
			source = "real_api"
		}
	}

	var tape TickerTape
	if s.cache.GetJSON(ctx, s.cache.PlainKey(tickerTapeKey), &tape) != cache.Hit || len(tape.Entries) == 0 {
		return []domain.TickerTapeEntry{}, "empty"
	}
	if limit > 0 && len(tape.Entries) > limit {
		tape.Entries = tape.Entries[:limit]
	}
	return tape.Entries, source
}
