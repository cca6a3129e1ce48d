// Package eodhd adapts the EODHD API: realtime quotes (JSON with CSV
// fallback), end-of-day and intraday bars, fundamentals and news.
package eodhd

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/httpclient"
	"finbot/internal/provider"
)

const (
	Name           = "eodhd"
	DefaultBaseURL = "https://eodhd.com/api"
)

type Client struct {
	hc      *httpclient.Client
	apiKey  string
	baseURL string
}

type Option func(*Client)

// WithBaseURL points the client at a test server.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimSuffix(baseURL, "/")
	}
}

func New(hc *httpclient.Client, apiKey string, opts ...Option) *Client {
	c := &Client{hc: hc, apiKey: apiKey, baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeSymbol maps a bare symbol to EODHD's exchange-suffixed form:
// plain equities default to .US, caret indices become .INDX, =X pairs
// become .FOREX. Already-suffixed symbols pass through.
func NormalizeSymbol(symbol string) string {
	s := domain.NormalizeSymbol(symbol)
	switch {
	case domain.IsIndexSymbol(s):
		return strings.TrimPrefix(s, "^") + ".INDX"
	case domain.IsForexSymbol(s):
		return strings.TrimSuffix(s, "=X") + ".FOREX"
	case strings.Contains(s, "."):
		return s
	default:
		return s + ".US"
	}
}

// get performs a request against one endpoint and interprets the status.
func (c *Client) get(ctx context.Context, path string, params url.Values, format string) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fetcher.ErrNoAPIKey
	}
	if params == nil {
		params = url.Values{}
	}
	params.Set("api_token", c.apiKey)
	params.Set("fmt", format)

	body, status, err := c.hc.Get(ctx, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrUnavailable, err)
	}
	if err := provider.CheckStatus(Name, status); err != nil {
		return nil, err
	}
	return body, nil
}

type realtimeResponse struct {
	Code          provider.FlexString `json:"code"`
	Timestamp     int64               `json:"timestamp"`
	Open          provider.FlexFloat  `json:"open"`
	High          provider.FlexFloat  `json:"high"`
	Low           provider.FlexFloat  `json:"low"`
	Close         provider.FlexFloat  `json:"close"`
	Volume        provider.FlexFloat  `json:"volume"`
	PreviousClose provider.FlexFloat  `json:"previousClose"`
	Change        provider.FlexFloat  `json:"change"`
	ChangePercent provider.FlexFloat  `json:"change_p"`
}

// Quote fetches the realtime quote. When the JSON endpoint returns an
// undecodable payload the CSV variant is tried before giving up; EODHD
// falls back to CSV bodies under load.
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	normalized := NormalizeSymbol(symbol)
	body, err := c.get(ctx, "/real-time/"+url.PathEscape(normalized), nil, "json")
	if err != nil {
		return domain.Quote{}, err
	}

	var resp realtimeResponse
	if jsonErr := json.Unmarshal(body, &resp); jsonErr != nil || !resp.Close.Valid() {
		csvBody, csvErr := c.get(ctx, "/real-time/"+url.PathEscape(normalized), nil, "csv")
		if csvErr != nil {
			return domain.Quote{}, csvErr
		}
		q, parseErr := parseRealtimeCSV(csvBody, symbol)
		if parseErr != nil {
			return domain.Quote{}, fmt.Errorf("%w: %v", fetcher.ErrUnavailable, parseErr)
		}
		return q, nil
	}

	return quoteFromRealtime(resp, symbol), nil
}

func quoteFromRealtime(resp realtimeResponse, symbol string) domain.Quote {
	// The payload's own code carries the exchange suffix EODHD resolved
	// the symbol to; prefer it over the caller's spelling.
	sym := domain.CleanString(string(resp.Code))
	if sym == "" {
		sym = domain.NormalizeSymbol(symbol)
	}
	q := domain.Quote{
		Symbol:        sym,
		Price:         resp.Close.Or(0),
		Change:        resp.Change.Or(0),
		ChangePercent: resp.ChangePercent.Or(0),
		Open:          resp.Open.Ptr(),
		DayHigh:       resp.High.Ptr(),
		DayLow:        resp.Low.Ptr(),
		PrevClose:     resp.PreviousClose.Ptr(),
		Timestamp:     time.Now().UTC(),
	}
	if resp.Timestamp > 0 {
		q.Timestamp = time.Unix(resp.Timestamp, 0).UTC()
	}
	if resp.Volume.Valid() {
		v := int64(float64(resp.Volume))
		q.Volume = &v
	}
	return q
}

// parseRealtimeCSV parses the CSV realtime body:
// code,timestamp,gmtoffset,open,high,low,close,volume,previousClose,change,change_p
func parseRealtimeCSV(body []byte, symbol string) (domain.Quote, error) {
	records, err := csv.NewReader(strings.NewReader(string(body))).ReadAll()
	if err != nil {
		return domain.Quote{}, fmt.Errorf("parse realtime csv: %w", err)
	}
	if len(records) < 2 {
		return domain.Quote{}, fmt.Errorf("realtime csv has no data row")
	}

	header := records[0]
	col := make(map[string]int, len(header))
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	row := records[1]
	field := func(name string) string {
		i, ok := col[name]
		if !ok || i >= len(row) {
			return ""
		}
		return row[i]
	}

	closeV, ok := domain.ParseNumber(field("close"))
	if !ok {
		return domain.Quote{}, fmt.Errorf("realtime csv: close unparseable %q", field("close"))
	}
	sym := domain.CleanString(field("code"))
	if sym == "" {
		sym = domain.NormalizeSymbol(symbol)
	}
	q := domain.Quote{
		Symbol:    sym,
		Price:     closeV,
		Open:      domain.ParseNumberPtr(field("open")),
		DayHigh:   domain.ParseNumberPtr(field("high")),
		DayLow:    domain.ParseNumberPtr(field("low")),
		PrevClose: domain.ParseNumberPtr(field("previousclose")),
		Timestamp: time.Now().UTC(),
	}
	if v, ok := domain.ParseNumber(field("change")); ok {
		q.Change = v
	}
	if v, ok := domain.ParseNumber(field("change_p")); ok {
		q.ChangePercent = v
	}
	if v, ok := domain.ParseNumber(field("volume")); ok {
		vol := int64(v)
		q.Volume = &vol
	}
	if ts, ok := domain.ParseNumber(field("timestamp")); ok && ts > 0 {
		q.Timestamp = time.Unix(int64(ts), 0).UTC()
	}
	return q, nil
}
