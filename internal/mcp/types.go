package mcp

import (
	"fmt"
	"strings"
	"time"

	"finbot/internal/domain"
)

const (
	defaultNewsLimit = 10
	maxNewsLimit     = 50
	defaultBarLimit  = 100
	maxBarLimit      = 500
)

type quoteInput struct {
	Symbol string `json:"symbol" jsonschema:"ticker symbol (e.g. AAPL, MSFT)"`
}

type quoteOutput struct {
	Quote *domain.BasicStockData `json:"quote"`
}

type chartInput struct {
	Symbol   string `json:"symbol" jsonschema:"ticker symbol (e.g. AAPL, MSFT)"`
	Period   string `json:"period,omitempty" jsonschema:"lookback window: 1d, 5d, 1mo, 3mo, 6mo, 1y, 2y, 5y, 10y, max"`
	Interval string `json:"interval,omitempty" jsonschema:"bar size: 1m, 5m, 15m, 30m, 1h, 1d, 1wk, 1mo"`
	Limit    int    `json:"limit,omitempty" jsonschema:"number of most recent bars to return, max 500"`
}

type chartOutput struct {
	Symbol   string       `json:"symbol"`
	Period   string       `json:"period"`
	Interval string       `json:"interval"`
	Bars     []domain.Bar `json:"bars"`
}

type newsInput struct {
	Symbol string `json:"symbol" jsonschema:"ticker symbol (e.g. AAPL, MSFT)"`
	Limit  int    `json:"limit,omitempty" jsonschema:"number of articles to return, max 50"`
}

type newsOutput struct {
	News []domain.NewsItem `json:"news"`
}

type technicalsInput struct {
	Symbol string `json:"symbol" jsonschema:"ticker symbol (e.g. AAPL, MSFT)"`
}

type technicalsOutput struct {
	Analysis *domain.TechnicalAnalysis `json:"analysis"`
	Note     string                    `json:"note,omitempty"`
}

type tapeInput struct {
	Limit int `json:"limit,omitempty" jsonschema:"number of symbols to return"`
}

type tapeOutput struct {
	Entries []domain.TickerTapeEntry `json:"entries"`
	AsOf    time.Time                `json:"as_of"`
}

func normalizeSymbol(symbol string) (string, error) {
	symbol = domain.NormalizeSymbol(symbol)
	if symbol == "" {
		return "", fmt.Errorf("symbol is required")
	}
	if strings.ContainsAny(symbol, " /\\") {
		return "", fmt.Errorf("invalid symbol: %s", symbol)
	}
	return symbol, nil
}

func normalizePeriod(period string) (string, error) {
	period = strings.TrimSpace(period)
	if period == "" {
		return "1y", nil
	}
	if !domain.IsSupportedPeriod(period) {
		return "", fmt.Errorf("unsupported period: %s", period)
	}
	return period, nil
}

func normalizeInterval(interval string) (string, error) {
	interval = strings.TrimSpace(interval)
	if interval == "" {
		return "1d", nil
	}
	if !domain.IsSupportedInterval(interval) {
		return "", fmt.Errorf("unsupported interval: %s", interval)
	}
	return interval, nil
}

func normalizeBarLimit(limit int) int {
	if limit <= 0 {
		return defaultBarLimit
	}
	if limit > maxBarLimit {
		return maxBarLimit
	}
	return limit
}

func normalizeNewsLimit(limit int) int {
	if limit <= 0 {
		return defaultNewsLimit
	}
	if limit > maxNewsLimit {
		return maxNewsLimit
	}
	return limit
}
