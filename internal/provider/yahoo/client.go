// Package yahoo adapts the Yahoo Finance v8 chart API for quotes and OHLCV
// bars. No API key is required; the quote is derived from the chart meta
// block.
package yahoo

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"time"

	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/httpclient"
	"finbot/internal/provider"
)

const (
	Name           = "yahoo"
	DefaultBaseURL = "https://query1.finance.yahoo.com"
)

type Client struct {
	hc      *httpclient.Client
	baseURL string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

func New(hc *httpclient.Client, opts ...Option) *Client {
	c := &Client{hc: hc, baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeSymbol is the identity: Yahoo's spellings (^GSPC, EURUSD=X) are
// the canonical ones.
func NormalizeSymbol(symbol string) string {
	return domain.NormalizeSymbol(symbol)
}

type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *struct {
			Code        string `json:"code"`
			Description string `json:"description"`
		} `json:"error"`
	} `json:"chart"`
}

type chartResult struct {
	Meta struct {
		Symbol             string             `json:"symbol"`
		Currency           string             `json:"currency"`
		ExchangeName       string             `json:"exchangeName"`
		RegularMarketPrice provider.FlexFloat `json:"regularMarketPrice"`
		PreviousClose      provider.FlexFloat `json:"previousClose"`
		ChartPreviousClose provider.FlexFloat `json:"chartPreviousClose"`
		RegularMarketTime  int64              `json:"regularMarketTime"`
	} `json:"meta"`
	Timestamp  []int64 `json:"timestamp"`
	Indicators struct {
		Quote []struct {
			Open   []*float64 `json:"open"`
			High   []*float64 `json:"high"`
			Low    []*float64 `json:"low"`
			Close  []*float64 `json:"close"`
			Volume []*float64 `json:"volume"`
		} `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

func (c *Client) chart(ctx context.Context, symbol, rng, interval string) (*chartResult, error) {
	params := url.Values{}
	params.Set("range", rng)
	params.Set("interval", interval)
	params.Set("events", "div,splits")

	u := fmt.Sprintf("%s/v8/finance/chart/%s?%s", c.baseURL, url.PathEscape(NormalizeSymbol(symbol)), params.Encode())
	body, status, err := c.hc.Get(ctx, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrUnavailable, err)
	}
	if err := provider.CheckStatus(Name, status); err != nil {
		return nil, err
	}

	var resp chartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode chart: %v", fetcher.ErrUnavailable, err)
	}
	if resp.Chart.Error != nil {
		if resp.Chart.Error.Code == "Not Found" {
			return nil, fmt.Errorf("chart %s: %s: %w", symbol, resp.Chart.Error.Description, fetcher.ErrUnavailable)
		}
		return nil, fmt.Errorf("chart %s: %s: %w", symbol, resp.Chart.Error.Description, fetcher.ErrInvalidSymbol)
	}
	if len(resp.Chart.Result) == 0 {
		return nil, fmt.Errorf("chart %s: %w", symbol, fetcher.ErrUnavailable)
	}
	return &resp.Chart.Result[0], nil
}

// Quote derives a realtime quote from the chart meta block.
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	result, err := c.chart(ctx, symbol, "1d", "1d")
	if err != nil {
		return domain.Quote{}, err
	}
	meta := result.Meta
	if !meta.RegularMarketPrice.Valid() {
		return domain.Quote{}, fmt.Errorf("quote %s: no market price: %w", symbol, fetcher.ErrUnavailable)
	}

	price := float64(meta.RegularMarketPrice)
	prev := meta.PreviousClose.Or(meta.ChartPreviousClose.Or(math.NaN()))
	q := domain.Quote{
		Symbol:    domain.NormalizeSymbol(symbol),
		Price:     price,
		Currency:  meta.Currency,
		Exchange:  meta.ExchangeName,
		Timestamp: time.Now().UTC(),
	}
	if meta.RegularMarketTime > 0 {
		q.Timestamp = time.Unix(meta.RegularMarketTime, 0).UTC()
	}
	if !math.IsNaN(prev) && prev != 0 {
		q.PrevClose = &prev
		q.Change = price - prev
		q.ChangePercent = (price - prev) / prev * 100
	}

	// The day's bar fills in open/high/low/volume when present.
	if len(result.Indicators.Quote) > 0 && len(result.Timestamp) > 0 {
		bar := result.Indicators.Quote[0]
		last := len(result.Timestamp) - 1
		q.Open = cell(bar.Open, 0)
		q.DayHigh = cell(bar.High, last)
		q.DayLow = cell(bar.Low, last)
		if v := cell(bar.Volume, last); v != nil {
			vol := int64(*v)
			q.Volume = &vol
		}
	}
	return q, nil
}

// Chart fetches OHLCV bars for a period/interval pair. Period names match
// Yahoo's range parameter (1mo, 3mo, 6mo, 1y, 2y, 5y, max; 1d/5d intraday).
func (c *Client) Chart(ctx context.Context, symbol, period, interval string) (*domain.Frame, error) {
	result, err := c.chart(ctx, symbol, period, interval)
	if err != nil {
		return nil, err
	}
	if len(result.Timestamp) == 0 || len(result.Indicators.Quote) == 0 {
		return nil, fmt.Errorf("chart %s: empty series: %w", symbol, fetcher.ErrUnavailable)
	}

	bars := result.Indicators.Quote[0]
	var adj []*float64
	if len(result.Indicators.AdjClose) > 0 {
		adj = result.Indicators.AdjClose[0].AdjClose
	}

	frame := domain.NewFrame()
	for i, ts := range result.Timestamp {
		closeV := cellOr(bars.Close, i, math.NaN())
		if math.IsNaN(closeV) {
			// Yahoo pads live sessions with null bars.
			continue
		}
		frame.AppendBar(domain.Bar{
			Timestamp: time.Unix(ts, 0).UTC(),
			Open:      cellOr(bars.Open, i, math.NaN()),
			High:      cellOr(bars.High, i, math.NaN()),
			Low:       cellOr(bars.Low, i, math.NaN()),
			Close:     closeV,
			AdjClose:  cellOr(adj, i, math.NaN()),
			Volume:    cellOr(bars.Volume, i, 0),
		})
	}
	frame.Normalize()
	if frame.Len() == 0 {
		return nil, fmt.Errorf("chart %s: no valid bars: %w", symbol, fetcher.ErrUnavailable)
	}
	if result.Meta.Currency != "" {
		frame.Meta[domain.MetaCurrency] = result.Meta.Currency
	}
	return frame, nil
}

func cell(col []*float64, i int) *float64 {
	if i < 0 || i >= len(col) || col[i] == nil {
		return nil
	}
	v := *col[i]
	return &v
}

func cellOr(col []*float64, i int, def float64) float64 {
	if v := cell(col, i); v != nil {
		return *v
	}
	return def
}
