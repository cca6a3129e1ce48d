package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"finbot/internal/domain"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

type stubStockService struct {
	quotes map[string]*domain.BasicStockData
	news   []domain.NewsItem
	ta     *domain.TechnicalAnalysis

	lastChartPeriod   string
	lastChartInterval string
}

func (s *stubStockService) GetBasicStockData(ctx context.Context, symbol string, forceRefresh bool) (*domain.BasicStockData, string, bool, error) {
	if q, ok := s.quotes[symbol]; ok {
		copy := *q
		return &copy, "stub", false, nil
	}
	return nil, "", false, fmt.Errorf("unknown symbol: %s", symbol)
}

func (s *stubStockService) GetChartData(ctx context.Context, symbol, period, interval string, forceRefresh bool) (*domain.Frame, string, bool, error) {
	s.lastChartPeriod = period
	s.lastChartInterval = interval

	frame := domain.NewFrame()
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		p := 100 + float64(i)
		frame.AppendBar(domain.Bar{Timestamp: base.AddDate(0, 0, i), Open: p, High: p + 1, Low: p - 1, Close: p, AdjClose: p, Volume: 10})
	}
	return frame, "stub", false, nil
}

func (s *stubStockService) GetNewsData(ctx context.Context, symbol string, limit int, forceRefresh bool) ([]domain.NewsItem, []string, bool, error) {
	items := s.news
	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return append([]domain.NewsItem(nil), items...), []string{"stub"}, false, nil
}

func (s *stubStockService) GetTechnicalAnalysisData(ctx context.Context, symbol string, forceRefresh bool) (*domain.TechnicalAnalysis, string, bool, error) {
	return s.ta, "stub", false, nil
}

type stubTapeService struct {
	entries []domain.TickerTapeEntry
}

func (s *stubTapeService) Read(ctx context.Context, limit int, forceRefresh bool) ([]domain.TickerTapeEntry, string) {
	entries := s.entries
	if limit > 0 && len(entries) > limit {
		entries = entries[:limit]
	}
	return append([]domain.TickerTapeEntry(nil), entries...), "cache"
}

func testServer() (*sdkmcp.Server, *stubStockService, *stubTapeService) {
	stocks := &stubStockService{
		quotes: map[string]*domain.BasicStockData{
			"AAPL": {Symbol: "AAPL", Name: "Apple Inc", Price: 150.25, Change: 1.2, ChangePercent: 0.8, Currency: "USD"},
		},
		news: []domain.NewsItem{
			{Title: "Apple ships new thing", URL: "https://example.com/apple", Source: "Example Wire", PublishedAt: time.Unix(0, 0).UTC()},
		},
		ta: &domain.TechnicalAnalysis{
			Symbol: "AAPL",
			Latest: domain.LatestIndicators{"rsi_14": {Value: 62.5, Timestamp: time.Unix(0, 0).UTC()}},
		},
	}
	tape := &stubTapeService{
		entries: []domain.TickerTapeEntry{{Symbol: "AAPL", Price: 150.25, Change: 1.2, ChangePercent: 0.8}},
	}

	srv := NewServer(nil, stocks, tape, ServerConfig{RequestTimeout: time.Second})
	return srv, stocks, tape
}

func connectInMemory(ctx context.Context, srv *sdkmcp.Server) (*sdkmcp.ClientSession, context.CancelFunc, error) {
	clientTransport, serverTransport := sdkmcp.NewInMemoryTransports()
	runCtx, cancel := context.WithCancel(ctx)
	go func() { _ = srv.Run(runCtx, serverTransport) }()

	client := sdkmcp.NewClient(&sdkmcp.Implementation{Name: "mcp-test-client", Version: "1.0.0"}, nil)
	session, err := client.Connect(ctx, clientTransport, nil)
	if err != nil {
		cancel()
		return nil, nil, err
	}
	return session, cancel, nil
}

func decodeResourceJSON(result *sdkmcp.ReadResourceResult, out any) error {
	if len(result.Contents) == 0 {
		return nil
	}
	return json.Unmarshal([]byte(result.Contents[0].Text), out)
}
