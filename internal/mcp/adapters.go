package mcp

import (
	"context"

	"finbot/internal/domain"
)

// StockReader exposes the read operations the MCP tools surface.
type StockReader interface {
	GetBasicStockData(ctx context.Context, symbol string, forceRefresh bool) (*domain.BasicStockData, string, bool, error)
	GetChartData(ctx context.Context, symbol, period, interval string, forceRefresh bool) (*domain.Frame, string, bool, error)
	GetNewsData(ctx context.Context, symbol string, limit int, forceRefresh bool) ([]domain.NewsItem, []string, bool, error)
	GetTechnicalAnalysisData(ctx context.Context, symbol string, forceRefresh bool) (*domain.TechnicalAnalysis, string, bool, error)
}

// TapeReader exposes the cached ticker tape.
type TapeReader interface {
	Read(ctx context.Context, limit int, forceRefresh bool) ([]domain.TickerTapeEntry, string)
}
