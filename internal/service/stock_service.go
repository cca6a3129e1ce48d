// Package service holds the aggregation layer: fan-out over the fetch
// pipelines, news merging, the ticker tape, and the facade the AI pipeline
// reads its stock context from.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/errgroup"

	"finbot/internal/cache"
	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/indicator"

	"go.opentelemetry.io/otel/trace"
)

const (
	// softDeadline bounds the aggregate fan-out; legs still running when
	// it expires are dropped rather than failing the response.
	softDeadline = 8 * time.Second
	// hardDeadline bounds any single stock operation end to end.
	hardDeadline = 15 * time.Second

	// newsFetchLimit is the per-provider article count fetched and
	// cached; the caller's limit is applied after merging.
	newsFetchLimit = 50

	// taPeriod is the lookback used for technical analysis.
	taPeriod   = "1y"
	taInterval = "1d"
)

// ChartSource produces an OHLCV frame for one period/interval pair.
type ChartSource struct {
	Name  string
	Fetch func(ctx context.Context, symbol, period, interval string) (*domain.Frame, error)
}

// ChartPipelineBuilder adapts chart sources into the per-request pipeline
// GetChartData needs: the data type and cache key vary with the requested
// period and interval, so the pipeline is built at call time.
func ChartPipelineBuilder(c *cache.Service, sources []ChartSource, lockWait time.Duration) func(period, interval string) *fetcher.Pipeline[*domain.Frame] {
	return func(period, interval string) *fetcher.Pipeline[*domain.Frame] {
		dataType := domain.DataTypeOHLCVDaily
		if domain.IsIntradayInterval(interval) {
			dataType = domain.DataTypeOHLCVIntraday
		}
		fs := make([]fetcher.Source[*domain.Frame], len(sources))
		for i, src := range sources {
			fs[i] = fetcher.Source[*domain.Frame]{
				Name: src.Name,
				Fetch: func(ctx context.Context, symbol string) (*domain.Frame, error) {
					return src.Fetch(ctx, symbol, period, interval)
				},
			}
		}
		return &fetcher.Pipeline[*domain.Frame]{
			Cache:    c,
			DataType: dataType,
			Sources:  fs,
			LockWait: lockWait,
		}
	}
}

// Pipelines groups the per-data-type fetch pipelines the service fans out
// over. News holds one single-source pipeline per provider so each
// provider's articles cache independently and merge at read time.
type Pipelines struct {
	Quote      *fetcher.Pipeline[domain.Quote]
	Overview   *fetcher.Pipeline[*domain.CompanyOverview]
	Financials *fetcher.Pipeline[*domain.Financials]
	Earnings   *fetcher.Pipeline[[]domain.EarningsRecord]
	News       []*fetcher.Pipeline[[]domain.NewsItem]
}

// NewsPolicy tunes the merged feed: maximum article age plus optional
// sentiment and relevance floors. Nil floors keep everything.
type NewsPolicy struct {
	MaxAge       time.Duration
	MinSentiment *float64
	MinRelevance *float64
}

// StockService aggregates provider data into the response shapes the HTTP
// surface and the AI pipeline consume. No leg failure fails a request; a
// nil aggregate means every leg came back empty.
type StockService struct {
	tracer    trace.Tracer
	pipes     Pipelines
	chartPipe func(period, interval string) *fetcher.Pipeline[*domain.Frame]
	news      NewsPolicy
}

// NewStockService wires the aggregation service. chartPipe builds a
// per-request pipeline because the cache key depends on period/interval.
func NewStockService(
	tracer trace.Tracer,
	pipes Pipelines,
	chartPipe func(period, interval string) *fetcher.Pipeline[*domain.Frame],
	news NewsPolicy,
) *StockService {
	if news.MaxAge <= 0 {
		news.MaxAge = 14 * 24 * time.Hour
	}
	return &StockService{
		tracer:    tracer,
		pipes:     pipes,
		chartPipe: chartPipe,
		news:      news,
	}
}

// ErrUnknownSymbol is returned when every leg reported the symbol unknown
// or unavailable. Handlers map it to 404.
var ErrUnknownSymbol = errors.New("unknown symbol")

// GetBasicStockData returns the header payload: latest quote enriched with
// descriptive company fields. The quote is mandatory, the overview is not.
// The bool reports whether every fetched leg was served from cache.
func (s *StockService) GetBasicStockData(ctx context.Context, symbol string, forceRefresh bool) (*domain.BasicStockData, string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "stock-service.basic")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, hardDeadline)
	defer cancel()

	symbol = domain.NormalizeSymbol(symbol)
	if forceRefresh {
		s.pipes.Quote.Invalidate(ctx, symbol, nil)
		s.pipes.Overview.Invalidate(ctx, symbol, nil)
	}

	var quote domain.Quote
	var quoteSrc string
	var quoteHit bool
	var overview *domain.CompanyOverview
	overviewHit := true

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		q, src, hit, err := s.pipes.Quote.Fetch(gctx, symbol, nil)
		if err != nil {
			return err
		}
		quote, quoteSrc, quoteHit = q, src, hit
		return nil
	})
	g.Go(func() error {
		if o, _, hit, err := s.pipes.Overview.Fetch(gctx, symbol, nil); err == nil {
			overview, overviewHit = o, hit
		}
		// Overview is decoration; its absence never fails the header.
		return nil
	})
	if err := g.Wait(); err != nil {
		if errors.Is(err, fetcher.ErrInvalidSymbol) {
			return nil, "", false, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
		}
		return nil, "", false, err
	}

	basic := &domain.BasicStockData{
		Symbol:        symbol,
		Name:          quote.Name,
		Price:         quote.Price,
		Change:        quote.Change,
		ChangePercent: quote.ChangePercent,
		DayHigh:       quote.DayHigh,
		DayLow:        quote.DayLow,
		PrevClose:     quote.PrevClose,
		MarketCap:     quote.MarketCap,
		Currency:      quote.Currency,
		Exchange:      quote.Exchange,
	}
	if overview != nil {
		if basic.Name == "" {
			basic.Name = overview.Name
		}
		basic.Sector = overview.Sector
		basic.Industry = overview.Industry
		if basic.MarketCap == nil {
			basic.MarketCap = overview.MarketCap
		}
		if basic.Currency == "" {
			basic.Currency = overview.Currency
		}
		if basic.Exchange == "" {
			basic.Exchange = overview.Exchange
		}
	}
	return basic, quoteSrc, quoteHit && overviewHit, nil
}

// GetChartData returns the normalized OHLCV frame for a period/interval
// along with the serving source and whether it came from cache.
func (s *StockService) GetChartData(ctx context.Context, symbol, period, interval string, forceRefresh bool) (*domain.Frame, string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "stock-service.chart")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, hardDeadline)
	defer cancel()

	symbol = domain.NormalizeSymbol(symbol)
	if period == "" {
		period = "1y"
	}
	if interval == "" {
		interval = "1d"
	}
	if !domain.IsSupportedPeriod(period) {
		return nil, "", false, fmt.Errorf("unsupported period %q", period)
	}
	if !domain.IsSupportedInterval(interval) {
		return nil, "", false, fmt.Errorf("unsupported interval %q", interval)
	}

	pipe := s.chartPipe(period, interval)
	params := map[string]string{"period": period, "interval": interval}
	if forceRefresh {
		pipe.Invalidate(ctx, symbol, params)
	}
	frame, src, hit, err := pipe.Fetch(ctx, symbol, params)
	if err != nil {
		if errors.Is(err, fetcher.ErrInvalidSymbol) {
			return nil, "", false, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
		}
		return nil, "", false, err
	}
	return frame, src, hit, nil
}

// GetFundamentalsData returns overview, statements and earnings history.
// Legs that fail come back nil; the error is non-nil only when all fail.
// The bool reports whether every delivered leg was served from cache.
func (s *StockService) GetFundamentalsData(ctx context.Context, symbol string, forceRefresh bool) (*domain.CompanyOverview, *domain.Financials, []domain.EarningsRecord, bool, error) {
	ctx, span := s.tracer.Start(ctx, "stock-service.fundamentals")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, hardDeadline)
	defer cancel()

	symbol = domain.NormalizeSymbol(symbol)
	if forceRefresh {
		s.pipes.Overview.Invalidate(ctx, symbol, nil)
		s.pipes.Financials.Invalidate(ctx, symbol, nil)
		s.pipes.Earnings.Invalidate(ctx, symbol, nil)
	}

	var overview *domain.CompanyOverview
	var financials *domain.Financials
	var earnings []domain.EarningsRecord
	overviewHit, financialsHit, earningsHit := true, true, true

	var g errgroup.Group
	g.Go(func() error {
		if o, _, hit, err := s.pipes.Overview.Fetch(ctx, symbol, nil); err == nil {
			overview, overviewHit = o, hit
		}
		return nil
	})
	g.Go(func() error {
		if f, _, hit, err := s.pipes.Financials.Fetch(ctx, symbol, nil); err == nil {
			financials, financialsHit = f, hit
		}
		return nil
	})
	g.Go(func() error {
		if e, _, hit, err := s.pipes.Earnings.Fetch(ctx, symbol, nil); err == nil {
			earnings, earningsHit = e, hit
		}
		return nil
	})
	_ = g.Wait()

	if overview == nil && financials == nil && earnings == nil {
		return nil, nil, nil, false, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	return overview, financials, earnings, overviewHit && financialsHit && earningsHit, nil
}

// GetTechnicalAnalysisData computes indicators over the cached daily OHLCV
// history. No LLM is involved.
func (s *StockService) GetTechnicalAnalysisData(ctx context.Context, symbol string, forceRefresh bool) (*domain.TechnicalAnalysis, string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "stock-service.technical-analysis")
	defer span.End()

	frame, src, hit, err := s.GetChartData(ctx, symbol, taPeriod, taInterval, forceRefresh)
	if err != nil {
		return nil, "", false, err
	}
	ta := indicator.Compute(symbol, frame)
	if ta == nil {
		return nil, src, hit, nil
	}
	return ta, src, hit, nil
}

// GetNewsData fans out over every configured news provider and merges the
// results: dedupe by canonical URL, age filter, sort, truncate to limit.
func (s *StockService) GetNewsData(ctx context.Context, symbol string, limit int, forceRefresh bool) ([]domain.NewsItem, []string, bool, error) {
	ctx, span := s.tracer.Start(ctx, "stock-service.news")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, hardDeadline)
	defer cancel()

	symbol = domain.NormalizeSymbol(symbol)
	if limit <= 0 {
		limit = 10
	}
	params := map[string]string{"limit": fmt.Sprint(newsFetchLimit)}

	lists := make([][]domain.NewsItem, len(s.pipes.News))
	sources := make([]string, len(s.pipes.News))
	hits := make([]bool, len(s.pipes.News))
	var g errgroup.Group
	for i, pipe := range s.pipes.News {
		g.Go(func() error {
			if forceRefresh {
				pipe.Invalidate(ctx, symbol, params)
			}
			items, src, hit, err := pipe.Fetch(ctx, symbol, params)
			if err != nil {
				log.Printf("news: %s: %s", symbol, err)
				return nil
			}
			lists[i] = items
			sources[i] = src
			hits[i] = hit
			return nil
		})
	}
	_ = g.Wait()

	merged := MergeNews(lists, MergeOptions{
		MaxAge:       s.news.MaxAge,
		Limit:        limit,
		MinSentiment: s.news.MinSentiment,
		MinRelevance: s.news.MinRelevance,
	})
	var used []string
	allHit := true
	for i, src := range sources {
		if src != "" && len(lists[i]) > 0 {
			used = append(used, src)
			allHit = allHit && hits[i]
		}
	}
	if len(used) == 0 {
		allHit = false
	}
	return merged, used, allHit, nil
}

// ProcessPremiumStockData assembles the rich aggregate behind the AI
// pipeline and the premium endpoint. Legs run concurrently under the soft
// deadline; each failure leaves an explicit nil and a false entry in Legs.
// A nil response means the symbol is wholly unknown.
func (s *StockService) ProcessPremiumStockData(ctx context.Context, symbol string, forceRefresh bool) (*domain.FinBotStockResponse, error) {
	ctx, span := s.tracer.Start(ctx, "stock-service.premium")
	defer span.End()
	ctx, cancel := context.WithTimeout(ctx, softDeadline)
	defer cancel()

	symbol = domain.NormalizeSymbol(symbol)
	resp := &domain.FinBotStockResponse{
		Symbol: symbol,
		Legs:   map[string]bool{},
	}
	if forceRefresh {
		s.pipes.Quote.Invalidate(ctx, symbol, nil)
		s.pipes.Overview.Invalidate(ctx, symbol, nil)
		s.pipes.Financials.Invalidate(ctx, symbol, nil)
		s.pipes.Earnings.Invalidate(ctx, symbol, nil)
	}

	// Legs are independent; errgroup joins them but never propagates a
	// leg error, so one dead provider cannot sink the aggregate. Each
	// goroutine writes only its own field; Legs is filled in after the
	// join because the map is not safe for concurrent assignment.
	var legs struct {
		quote, overview, financials, earnings, news, technical bool
	}
	var g errgroup.Group
	g.Go(func() error {
		if q, _, _, err := s.pipes.Quote.Fetch(ctx, symbol, nil); err == nil {
			resp.Quote = &q
			legs.quote = true
		}
		return nil
	})
	g.Go(func() error {
		if o, _, _, err := s.pipes.Overview.Fetch(ctx, symbol, nil); err == nil {
			resp.CompanyOverview = o
			legs.overview = true
		}
		return nil
	})
	g.Go(func() error {
		if f, _, _, err := s.pipes.Financials.Fetch(ctx, symbol, nil); err == nil {
			resp.Financials = f
			legs.financials = true
		}
		return nil
	})
	g.Go(func() error {
		if e, _, _, err := s.pipes.Earnings.Fetch(ctx, symbol, nil); err == nil {
			resp.Earnings = e
			legs.earnings = true
		}
		return nil
	})
	g.Go(func() error {
		items, _, _, err := s.GetNewsData(ctx, symbol, 10, forceRefresh)
		if err == nil && len(items) > 0 {
			resp.News = items
			legs.news = true
		}
		return nil
	})
	g.Go(func() error {
		frame, _, _, err := s.GetChartData(ctx, symbol, taPeriod, taInterval, forceRefresh)
		if err != nil || frame.Len() == 0 {
			return nil
		}
		resp.OHLCVSummary = frame.Summary()
		if ta := indicator.Compute(symbol, frame); ta != nil {
			resp.Indicators = ta.Latest
		}
		legs.technical = true
		return nil
	})
	_ = g.Wait()

	resp.Legs["quote"] = legs.quote
	resp.Legs["company_overview"] = legs.overview
	resp.Legs["financials"] = legs.financials
	resp.Legs["earnings"] = legs.earnings
	resp.Legs["news"] = legs.news
	resp.Legs["technical_analysis"] = legs.technical

	if resp.Empty() {
		return nil, fmt.Errorf("%s: %w", symbol, ErrUnknownSymbol)
	}
	return resp, nil
}
