package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"finbot/internal/cache"
	"finbot/internal/config"
	"finbot/internal/domain"
	"finbot/internal/fetcher"
)

func testCache(t *testing.T) *cache.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return cache.NewWithClient(rdb, config.Load())
}

func pipe[T any](c *cache.Service, dataType string, sources ...fetcher.Source[T]) *fetcher.Pipeline[T] {
	return &fetcher.Pipeline[T]{Cache: c, DataType: dataType, Sources: sources}
}

func src[T any](name string, fn func() (T, error)) fetcher.Source[T] {
	return fetcher.Source[T]{
		Name:  name,
		Fetch: func(ctx context.Context, symbol string) (T, error) { return fn() },
	}
}

func ptr(v float64) *float64 { return &v }

func testService(t *testing.T, c *cache.Service, pipes Pipelines, charts []ChartSource) *StockService {
	t.Helper()
	if pipes.Quote == nil {
		pipes.Quote = pipe[domain.Quote](c, domain.DataTypeQuote)
	}
	if pipes.Overview == nil {
		pipes.Overview = pipe[*domain.CompanyOverview](c, domain.DataTypeCompanyInfo)
	}
	if pipes.Financials == nil {
		pipes.Financials = pipe[*domain.Financials](c, domain.DataTypeFinancials)
	}
	if pipes.Earnings == nil {
		pipes.Earnings = pipe[[]domain.EarningsRecord](c, domain.DataTypeEarnings)
	}
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	return NewStockService(tracer, pipes, ChartPipelineBuilder(c, charts, time.Second), NewsPolicy{MaxAge: 14 * 24 * time.Hour})
}

func TestGetBasicStockDataMergesQuoteAndOverview(t *testing.T) {
	c := testCache(t)
	pipes := Pipelines{
		Quote: pipe(c, domain.DataTypeQuote, src("eodhd", func() (domain.Quote, error) {
			return domain.Quote{Symbol: "AAPL", Price: 150, Change: 1, ChangePercent: 0.67, Currency: "USD"}, nil
		})),
		Overview: pipe(c, domain.DataTypeCompanyInfo, src("fmp", func() (*domain.CompanyOverview, error) {
			return &domain.CompanyOverview{Symbol: "AAPL", Name: "Apple Inc", Sector: "Technology", Industry: "Consumer Electronics", MarketCap: ptr(2.8e12)}, nil
		})),
	}
	svc := testService(t, c, pipes, nil)

	basic, source, hit, err := svc.GetBasicStockData(context.Background(), "aapl", false)
	if err != nil {
		t.Fatalf("basic: %v", err)
	}
	if hit {
		t.Error("cold fetch should not report a cache hit")
	}
	if source != "eodhd" {
		t.Errorf("source = %q, want eodhd", source)
	}
	if basic.Symbol != "AAPL" || basic.Price != 150 {
		t.Errorf("quote fields wrong: %+v", basic)
	}
	if basic.Name != "Apple Inc" || basic.Sector != "Technology" {
		t.Errorf("overview fields not merged: %+v", basic)
	}
	if basic.MarketCap == nil || *basic.MarketCap != 2.8e12 {
		t.Errorf("market cap should fall back to the overview")
	}
}

func TestGetBasicStockDataSurvivesOverviewFailure(t *testing.T) {
	c := testCache(t)
	pipes := Pipelines{
		Quote: pipe(c, domain.DataTypeQuote, src("eodhd", func() (domain.Quote, error) {
			return domain.Quote{Symbol: "AAPL", Price: 150}, nil
		})),
		Overview: pipe(c, domain.DataTypeCompanyInfo, src("fmp", func() (*domain.CompanyOverview, error) {
			return nil, fetcher.ErrUnavailable
		})),
	}
	svc := testService(t, c, pipes, nil)

	basic, _, _, err := svc.GetBasicStockData(context.Background(), "AAPL", false)
	if err != nil {
		t.Fatalf("overview failure must not fail the header: %v", err)
	}
	if basic.Sector != "" {
		t.Errorf("sector = %q, want empty", basic.Sector)
	}
}

func TestGetBasicStockDataUnknownSymbol(t *testing.T) {
	c := testCache(t)
	pipes := Pipelines{
		Quote: pipe(c, domain.DataTypeQuote, src("eodhd", func() (domain.Quote, error) {
			return domain.Quote{}, fetcher.ErrInvalidSymbol
		})),
	}
	svc := testService(t, c, pipes, nil)

	_, _, _, err := svc.GetBasicStockData(context.Background(), "NOPE", false)
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("err = %v, want ErrUnknownSymbol", err)
	}
}

func testChartSource(name string, bars int) ChartSource {
	return ChartSource{
		Name: name,
		Fetch: func(ctx context.Context, symbol, period, interval string) (*domain.Frame, error) {
			frame := domain.NewFrame()
			base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
			for i := 0; i < bars; i++ {
				p := 100 + float64(i)
				frame.AppendBar(domain.Bar{Timestamp: base.AddDate(0, 0, i), Open: p, High: p + 1, Low: p - 1, Close: p, AdjClose: p, Volume: 1000})
			}
			return frame, nil
		},
	}
}

func TestGetChartDataValidatesPeriodAndInterval(t *testing.T) {
	svc := testService(t, testCache(t), Pipelines{}, []ChartSource{testChartSource("yahoo", 5)})

	if _, _, _, err := svc.GetChartData(context.Background(), "AAPL", "7y", "1d", false); err == nil {
		t.Error("bad period should be rejected")
	}
	if _, _, _, err := svc.GetChartData(context.Background(), "AAPL", "1y", "7m", false); err == nil {
		t.Error("bad interval should be rejected")
	}

	frame, source, _, err := svc.GetChartData(context.Background(), "AAPL", "1mo", "1d", false)
	if err != nil {
		t.Fatalf("chart: %v", err)
	}
	if source != "yahoo" || frame.Len() != 5 {
		t.Errorf("got source=%q bars=%d", source, frame.Len())
	}
}

func TestGetChartDataCachesPerPeriodInterval(t *testing.T) {
	calls := 0
	chart := ChartSource{
		Name: "yahoo",
		Fetch: func(ctx context.Context, symbol, period, interval string) (*domain.Frame, error) {
			calls++
			return testChartSource("yahoo", 3).Fetch(ctx, symbol, period, interval)
		},
	}
	svc := testService(t, testCache(t), Pipelines{}, []ChartSource{chart})
	ctx := context.Background()

	if _, _, hit, err := svc.GetChartData(ctx, "AAPL", "1mo", "1d", false); err != nil || hit {
		t.Fatalf("cold read: hit=%v err=%v", hit, err)
	}
	if _, _, hit, err := svc.GetChartData(ctx, "AAPL", "1mo", "1d", false); err != nil || !hit {
		t.Fatalf("warm read: hit=%v err=%v", hit, err)
	}
	if calls != 1 {
		t.Errorf("upstream calls = %d, want 1 (second read cached)", calls)
	}

	// A different window is a different cache entry.
	if _, _, hit, err := svc.GetChartData(ctx, "AAPL", "3mo", "1d", false); err != nil || hit {
		t.Fatalf("new window: hit=%v err=%v", hit, err)
	}
	if calls != 2 {
		t.Errorf("upstream calls = %d, want 2", calls)
	}
}

func TestGetFundamentalsDataPartialFailure(t *testing.T) {
	c := testCache(t)
	pipes := Pipelines{
		Overview: pipe(c, domain.DataTypeCompanyInfo, src("eodhd", func() (*domain.CompanyOverview, error) {
			return &domain.CompanyOverview{Symbol: "AAPL", Name: "Apple Inc"}, nil
		})),
		Financials: pipe(c, domain.DataTypeFinancials, src("eodhd", func() (*domain.Financials, error) {
			return nil, fetcher.ErrUnavailable
		})),
		Earnings: pipe(c, domain.DataTypeEarnings, src("eodhd", func() ([]domain.EarningsRecord, error) {
			return nil, fetcher.ErrUnavailable
		})),
	}
	svc := testService(t, c, pipes, nil)

	overview, financials, earnings, _, err := svc.GetFundamentalsData(context.Background(), "AAPL", false)
	if err != nil {
		t.Fatalf("one live leg should be enough: %v", err)
	}
	if overview == nil || financials != nil || earnings != nil {
		t.Errorf("legs = (%v, %v, %v), want (overview, nil, nil)", overview, financials, earnings)
	}
}

func TestGetFundamentalsDataAllFail(t *testing.T) {
	c := testCache(t)
	fail := func() (*domain.CompanyOverview, error) { return nil, fetcher.ErrUnavailable }
	pipes := Pipelines{
		Overview: pipe(c, domain.DataTypeCompanyInfo, src("eodhd", fail)),
		Financials: pipe(c, domain.DataTypeFinancials, src("eodhd", func() (*domain.Financials, error) {
			return nil, fetcher.ErrUnavailable
		})),
		Earnings: pipe(c, domain.DataTypeEarnings, src("eodhd", func() ([]domain.EarningsRecord, error) {
			return nil, fetcher.ErrUnavailable
		})),
	}
	svc := testService(t, c, pipes, nil)

	_, _, _, _, err := svc.GetFundamentalsData(context.Background(), "AAPL", false)
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("err = %v, want ErrUnknownSymbol", err)
	}
}

func TestGetTechnicalAnalysisData(t *testing.T) {
	svc := testService(t, testCache(t), Pipelines{}, []ChartSource{testChartSource("yahoo", 250)})

	ta, source, _, err := svc.GetTechnicalAnalysisData(context.Background(), "AAPL", false)
	if err != nil {
		t.Fatalf("ta: %v", err)
	}
	if source != "yahoo" {
		t.Errorf("source = %q, want yahoo", source)
	}
	if ta == nil || len(ta.Latest) == 0 {
		t.Fatalf("expected indicators, got %+v", ta)
	}
	if _, ok := ta.Latest["sma_200"]; !ok {
		t.Error("250 bars should produce a 200-day SMA")
	}
}

func TestGetNewsDataMergesProviders(t *testing.T) {
	c := testCache(t)
	now := time.Now()
	pipes := Pipelines{
		News: []*fetcher.Pipeline[[]domain.NewsItem]{
			pipe(c, domain.DataTypeNews, src("marketaux", func() ([]domain.NewsItem, error) {
				return []domain.NewsItem{
					{Title: "shared", URL: "https://example.com/a", PublishedAt: now.Add(-time.Hour)},
					{Title: "only-ma", URL: "https://example.com/b", PublishedAt: now.Add(-2 * time.Hour)},
				}, nil
			})),
			pipe(c, domain.DataTypeNews, src("newsapi", func() ([]domain.NewsItem, error) {
				return []domain.NewsItem{
					{Title: "shared-dup", URL: "https://example.com/a?utm_source=x", PublishedAt: now.Add(-time.Hour)},
					{Title: "only-na", URL: "https://example.com/c", PublishedAt: now.Add(-30 * time.Minute)},
				}, nil
			})),
		},
	}
	svc := testService(t, c, pipes, nil)

	items, sources, _, err := svc.GetNewsData(context.Background(), "AAPL", 10, false)
	if err != nil {
		t.Fatalf("news: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("got %d items, want 3 after dedupe: %+v", len(items), items)
	}
	if items[0].Title != "only-na" {
		t.Errorf("first item = %q, want the newest", items[0].Title)
	}
	if len(sources) != 2 {
		t.Errorf("sources = %v, want both providers", sources)
	}
}

func TestGetNewsDataOneProviderDown(t *testing.T) {
	c := testCache(t)
	pipes := Pipelines{
		News: []*fetcher.Pipeline[[]domain.NewsItem]{
			pipe(c, domain.DataTypeNews, src("marketaux", func() ([]domain.NewsItem, error) {
				return nil, fetcher.ErrUnavailable
			})),
			pipe(c, domain.DataTypeNews, src("newsapi", func() ([]domain.NewsItem, error) {
				return []domain.NewsItem{{Title: "kept", URL: "https://example.com/a", PublishedAt: time.Now()}}, nil
			})),
		},
	}
	svc := testService(t, c, pipes, nil)

	items, sources, _, err := svc.GetNewsData(context.Background(), "AAPL", 10, false)
	if err != nil {
		t.Fatalf("one provider down must not fail the feed: %v", err)
	}
	if len(items) != 1 || items[0].Title != "kept" {
		t.Errorf("items = %+v", items)
	}
	if len(sources) != 1 || sources[0] != "newsapi" {
		t.Errorf("sources = %v, want [newsapi]", sources)
	}
}

func TestProcessPremiumStockDataPartialLegs(t *testing.T) {
	c := testCache(t)
	pipes := Pipelines{
		Quote: pipe(c, domain.DataTypeQuote, src("eodhd", func() (domain.Quote, error) {
			return domain.Quote{Symbol: "AAPL", Price: 150}, nil
		})),
		Overview: pipe(c, domain.DataTypeCompanyInfo, src("eodhd", func() (*domain.CompanyOverview, error) {
			return &domain.CompanyOverview{Symbol: "AAPL", Name: "Apple Inc"}, nil
		})),
		Financials: pipe(c, domain.DataTypeFinancials, src("eodhd", func() (*domain.Financials, error) {
			return nil, fetcher.ErrUnavailable
		})),
		Earnings: pipe(c, domain.DataTypeEarnings, src("eodhd", func() ([]domain.EarningsRecord, error) {
			return nil, fetcher.ErrUnavailable
		})),
		News: []*fetcher.Pipeline[[]domain.NewsItem]{
			pipe(c, domain.DataTypeNews, src("newsapi", func() ([]domain.NewsItem, error) {
				return []domain.NewsItem{{Title: "a", URL: "https://example.com/a", PublishedAt: time.Now()}}, nil
			})),
		},
	}
	svc := testService(t, c, pipes, []ChartSource{testChartSource("yahoo", 250)})

	resp, err := svc.ProcessPremiumStockData(context.Background(), "AAPL", false)
	if err != nil {
		t.Fatalf("premium: %v", err)
	}
	if resp.Quote == nil || resp.Quote.Price != 150 {
		t.Errorf("quote leg missing: %+v", resp.Quote)
	}
	if resp.Financials != nil {
		t.Error("failed leg must be an explicit nil")
	}
	if !resp.Legs["quote"] || resp.Legs["financials"] {
		t.Errorf("legs = %v", resp.Legs)
	}
	if !resp.Legs["technical_analysis"] || resp.OHLCVSummary == nil || len(resp.Indicators) == 0 {
		t.Errorf("technical leg incomplete: summary=%v indicators=%d", resp.OHLCVSummary, len(resp.Indicators))
	}
}

func TestProcessPremiumStockDataConcurrentLegs(t *testing.T) {
	c := testCache(t)
	pipes := Pipelines{
		Quote: pipe(c, domain.DataTypeQuote, src("eodhd", func() (domain.Quote, error) {
			return domain.Quote{Symbol: "AAPL", Price: 150}, nil
		})),
		Overview: pipe(c, domain.DataTypeCompanyInfo, src("eodhd", func() (*domain.CompanyOverview, error) {
			return &domain.CompanyOverview{Symbol: "AAPL", Name: "Apple Inc"}, nil
		})),
		Financials: pipe(c, domain.DataTypeFinancials, src("eodhd", func() (*domain.Financials, error) {
			return &domain.Financials{}, nil
		})),
		Earnings: pipe(c, domain.DataTypeEarnings, src("eodhd", func() ([]domain.EarningsRecord, error) {
			return []domain.EarningsRecord{{Period: time.Now(), ReportedEPS: ptr(2.1)}}, nil
		})),
		News: []*fetcher.Pipeline[[]domain.NewsItem]{
			pipe(c, domain.DataTypeNews, src("newsapi", func() ([]domain.NewsItem, error) {
				return []domain.NewsItem{{Title: "a", URL: "https://example.com/a", PublishedAt: time.Now()}}, nil
			})),
		},
	}
	svc := testService(t, c, pipes, []ChartSource{testChartSource("yahoo", 250)})

	// All six legs land at once; the Legs map must come out complete and
	// consistent on every run, with force refresh clearing every leg.
	for i := 0; i < 5; i++ {
		resp, err := svc.ProcessPremiumStockData(context.Background(), "AAPL", true)
		if err != nil {
			t.Fatalf("premium: %v", err)
		}
		if len(resp.Legs) != 6 {
			t.Fatalf("legs = %v, want all six reported", resp.Legs)
		}
		for _, leg := range []string{"quote", "company_overview", "financials", "earnings", "news", "technical_analysis"} {
			if !resp.Legs[leg] {
				t.Errorf("leg %s = false, want true", leg)
			}
		}
	}
}

func TestProcessPremiumStockDataForceRefreshAllLegs(t *testing.T) {
	c := testCache(t)
	var quoteCalls, overviewCalls, financialCalls, earningsCalls int
	pipes := Pipelines{
		Quote: pipe(c, domain.DataTypeQuote, src("eodhd", func() (domain.Quote, error) {
			quoteCalls++
			return domain.Quote{Symbol: "AAPL", Price: 150}, nil
		})),
		Overview: pipe(c, domain.DataTypeCompanyInfo, src("eodhd", func() (*domain.CompanyOverview, error) {
			overviewCalls++
			return &domain.CompanyOverview{Symbol: "AAPL", Name: "Apple Inc"}, nil
		})),
		Financials: pipe(c, domain.DataTypeFinancials, src("eodhd", func() (*domain.Financials, error) {
			financialCalls++
			return &domain.Financials{}, nil
		})),
		Earnings: pipe(c, domain.DataTypeEarnings, src("eodhd", func() ([]domain.EarningsRecord, error) {
			earningsCalls++
			return []domain.EarningsRecord{{Period: time.Now(), ReportedEPS: ptr(2.1)}}, nil
		})),
	}
	svc := testService(t, c, pipes, nil)

	if _, err := svc.ProcessPremiumStockData(context.Background(), "AAPL", false); err != nil {
		t.Fatalf("warm-up: %v", err)
	}
	if _, err := svc.ProcessPremiumStockData(context.Background(), "AAPL", true); err != nil {
		t.Fatalf("forced: %v", err)
	}
	if quoteCalls != 2 || overviewCalls != 2 || financialCalls != 2 || earningsCalls != 2 {
		t.Errorf("upstream calls = %d/%d/%d/%d, want every leg refetched",
			quoteCalls, overviewCalls, financialCalls, earningsCalls)
	}
}

func TestGetNewsDataAppliesPolicyThresholds(t *testing.T) {
	c := testCache(t)
	now := time.Now()
	pipes := Pipelines{
		News: []*fetcher.Pipeline[[]domain.NewsItem]{
			pipe(c, domain.DataTypeNews, src("marketaux", func() ([]domain.NewsItem, error) {
				return []domain.NewsItem{
					{Title: "upbeat", URL: "https://example.com/a", PublishedAt: now, Sentiment: ptr(0.6), Relevance: ptr(0.9)},
					{Title: "gloomy", URL: "https://example.com/b", PublishedAt: now, Sentiment: ptr(-0.8), Relevance: ptr(0.9)},
					{Title: "offtopic", URL: "https://example.com/c", PublishedAt: now, Sentiment: ptr(0.5), Relevance: ptr(0.1)},
					{Title: "unscored", URL: "https://example.com/d", PublishedAt: now},
				}, nil
			})),
		},
	}
	tracer := trace.NewNoopTracerProvider().Tracer("test")
	svc := NewStockService(tracer, pipes, ChartPipelineBuilder(c, nil, time.Second),
		NewsPolicy{MaxAge: 14 * 24 * time.Hour, MinSentiment: ptr(-0.5), MinRelevance: ptr(0.5)})

	items, _, _, err := svc.GetNewsData(context.Background(), "AAPL", 10, false)
	if err != nil {
		t.Fatalf("news: %v", err)
	}
	titles := make(map[string]bool, len(items))
	for _, it := range items {
		titles[it.Title] = true
	}
	if !titles["upbeat"] || !titles["unscored"] {
		t.Errorf("items = %+v, want upbeat and unscored kept", items)
	}
	if titles["gloomy"] || titles["offtopic"] {
		t.Errorf("items = %+v, below-threshold articles should drop", items)
	}
}

func TestProcessPremiumStockDataAllLegsFail(t *testing.T) {
	c := testCache(t)
	pipes := Pipelines{
		Quote: pipe(c, domain.DataTypeQuote, src("eodhd", func() (domain.Quote, error) {
			return domain.Quote{}, fetcher.ErrUnavailable
		})),
		Overview: pipe(c, domain.DataTypeCompanyInfo, src("eodhd", func() (*domain.CompanyOverview, error) {
			return nil, fetcher.ErrUnavailable
		})),
		Financials: pipe(c, domain.DataTypeFinancials, src("eodhd", func() (*domain.Financials, error) {
			return nil, fetcher.ErrUnavailable
		})),
		Earnings: pipe(c, domain.DataTypeEarnings, src("eodhd", func() ([]domain.EarningsRecord, error) {
			return nil, fetcher.ErrUnavailable
		})),
	}
	chart := ChartSource{
		Name: "yahoo",
		Fetch: func(ctx context.Context, symbol, period, interval string) (*domain.Frame, error) {
			return nil, fetcher.ErrUnavailable
		},
	}
	svc := testService(t, c, pipes, []ChartSource{chart})

	resp, err := svc.ProcessPremiumStockData(context.Background(), "NOPE", false)
	if !errors.Is(err, ErrUnknownSymbol) {
		t.Errorf("err = %v, want ErrUnknownSymbol", err)
	}
	if resp != nil {
		t.Errorf("resp = %+v, want nil", resp)
	}
}
