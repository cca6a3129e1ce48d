package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"time"

	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/provider"
)

type eodBar struct {
	Date          string             `json:"date"`
	Open          provider.FlexFloat `json:"open"`
	High          provider.FlexFloat `json:"high"`
	Low           provider.FlexFloat `json:"low"`
	Close         provider.FlexFloat `json:"close"`
	AdjustedClose provider.FlexFloat `json:"adjusted_close"`
	Volume        provider.FlexFloat `json:"volume"`
}

type intradayBar struct {
	Timestamp int64              `json:"timestamp"`
	Open      provider.FlexFloat `json:"open"`
	High      provider.FlexFloat `json:"high"`
	Low       provider.FlexFloat `json:"low"`
	Close     provider.FlexFloat `json:"close"`
	Volume    provider.FlexFloat `json:"volume"`
}

// Daily fetches end-of-day bars for the given date range, ascending.
func (c *Client) Daily(ctx context.Context, symbol string, from, to time.Time) (*domain.Frame, error) {
	return c.History(ctx, symbol, from, to, "d")
}

// History fetches end-of-day bars at the given aggregation period: "d"
// for daily, "w" for weekly, "m" for monthly.
func (c *Client) History(ctx context.Context, symbol string, from, to time.Time, period string) (*domain.Frame, error) {
	params := url.Values{}
	params.Set("period", period)
	params.Set("order", "a")
	if !from.IsZero() {
		params.Set("from", from.Format("2006-01-02"))
	}
	if !to.IsZero() {
		params.Set("to", to.Format("2006-01-02"))
	}

	body, err := c.get(ctx, "/eod/"+url.PathEscape(NormalizeSymbol(symbol)), params, "json")
	if err != nil {
		return nil, err
	}

	var bars []eodBar
	if err := json.Unmarshal(body, &bars); err != nil {
		return nil, fmt.Errorf("%w: decode eod bars: %v", fetcher.ErrUnavailable, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("eod %s: %w", symbol, fetcher.ErrUnavailable)
	}

	frame := domain.NewFrame()
	for _, b := range bars {
		date, err := time.Parse("2006-01-02", b.Date)
		if err != nil {
			continue
		}
		frame.AppendBar(domain.Bar{
			Timestamp: date.UTC(),
			Open:      b.Open.Or(math.NaN()),
			High:      b.High.Or(math.NaN()),
			Low:       b.Low.Or(math.NaN()),
			Close:     b.Close.Or(math.NaN()),
			AdjClose:  b.AdjustedClose.Or(math.NaN()),
			Volume:    b.Volume.Or(0),
		})
	}
	frame.Normalize()
	if frame.Len() == 0 {
		return nil, fmt.Errorf("eod %s: no valid bars: %w", symbol, fetcher.ErrUnavailable)
	}
	return frame, nil
}

// Intraday fetches intraday bars for a supported interval (1m, 5m, 1h).
func (c *Client) Intraday(ctx context.Context, symbol, interval string) (*domain.Frame, error) {
	params := url.Values{}
	params.Set("interval", interval)

	body, err := c.get(ctx, "/intraday/"+url.PathEscape(NormalizeSymbol(symbol)), params, "json")
	if err != nil {
		return nil, err
	}

	var bars []intradayBar
	if err := json.Unmarshal(body, &bars); err != nil {
		return nil, fmt.Errorf("%w: decode intraday bars: %v", fetcher.ErrUnavailable, err)
	}
	if len(bars) == 0 {
		return nil, fmt.Errorf("intraday %s: %w", symbol, fetcher.ErrUnavailable)
	}

	frame := domain.NewFrame()
	for _, b := range bars {
		if b.Timestamp <= 0 {
			continue
		}
		close := b.Close.Or(math.NaN())
		frame.AppendBar(domain.Bar{
			Timestamp: time.Unix(b.Timestamp, 0).UTC(),
			Open:      b.Open.Or(math.NaN()),
			High:      b.High.Or(math.NaN()),
			Low:       b.Low.Or(math.NaN()),
			Close:     close,
			AdjClose:  close,
			Volume:    b.Volume.Or(0),
		})
	}
	frame.Normalize()
	if frame.Len() == 0 {
		return nil, fmt.Errorf("intraday %s: no valid bars: %w", symbol, fetcher.ErrUnavailable)
	}
	return frame, nil
}
