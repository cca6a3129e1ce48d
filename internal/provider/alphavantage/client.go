// Package alphavantage adapts Alpha Vantage: company overview and daily
// bars. Alpha Vantage signals errors inside 200 bodies ("Error Message",
// "Note", "Information"), so those are interpreted before the payload.
package alphavantage

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strings"
	"time"

	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/httpclient"
	"finbot/internal/provider"
)

const (
	Name           = "alphavantage"
	DefaultBaseURL = "https://www.alphavantage.co"
)

type Client struct {
	hc      *httpclient.Client
	apiKey  string
	baseURL string
}

type Option func(*Client)

func WithBaseURL(baseURL string) Option {
	return func(c *Client) { c.baseURL = baseURL }
}

func New(hc *httpclient.Client, apiKey string, opts ...Option) *Client {
	c := &Client{hc: hc, apiKey: apiKey, baseURL: DefaultBaseURL}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NormalizeSymbol keeps the canonical spelling; Alpha Vantage has no
// exchange suffixes for US equities.
func NormalizeSymbol(symbol string) string {
	return domain.NormalizeSymbol(symbol)
}

// envelope is the in-body error surface shared by every AV function.
type envelope struct {
	ErrorMessage string `json:"Error Message"`
	Note         string `json:"Note"`
	Information  string `json:"Information"`
}

func (c *Client) query(ctx context.Context, function, symbol string, extra url.Values) ([]byte, error) {
	if c.apiKey == "" {
		return nil, fetcher.ErrNoAPIKey
	}
	params := url.Values{}
	params.Set("function", function)
	params.Set("symbol", NormalizeSymbol(symbol))
	params.Set("apikey", c.apiKey)
	for k, vs := range extra {
		for _, v := range vs {
			params.Set(k, v)
		}
	}

	body, status, err := c.hc.Get(ctx, c.baseURL+"/query?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrUnavailable, err)
	}
	if err := provider.CheckStatus(Name, status); err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(body, &env); err == nil {
		switch {
		case env.ErrorMessage != "":
			return nil, fmt.Errorf("%s: %s: %w", function, env.ErrorMessage, fetcher.ErrInvalidSymbol)
		case env.Note != "":
			return nil, fmt.Errorf("%s: %w", function, fetcher.ErrRateLimited)
		case env.Information != "" && strings.Contains(strings.ToLower(env.Information), "rate limit"):
			return nil, fmt.Errorf("%s: %w", function, fetcher.ErrRateLimited)
		}
	}
	return body, nil
}

// Overview fetches the OVERVIEW function.
func (c *Client) Overview(ctx context.Context, symbol string) (*domain.CompanyOverview, error) {
	body, err := c.query(ctx, "OVERVIEW", symbol, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Symbol               provider.FlexString `json:"Symbol"`
		Name                 provider.FlexString `json:"Name"`
		Description          provider.FlexString `json:"Description"`
		Exchange             provider.FlexString `json:"Exchange"`
		Currency             provider.FlexString `json:"Currency"`
		Country              provider.FlexString `json:"Country"`
		Sector               provider.FlexString `json:"Sector"`
		Industry             provider.FlexString `json:"Industry"`
		OfficialSite         provider.FlexString `json:"OfficialSite"`
		MarketCapitalization provider.FlexFloat  `json:"MarketCapitalization"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode overview: %v", fetcher.ErrUnavailable, err)
	}
	if resp.Name == "" {
		return nil, fmt.Errorf("overview %s: %w", symbol, fetcher.ErrUnavailable)
	}

	return &domain.CompanyOverview{
		Symbol:      domain.NormalizeSymbol(symbol),
		Name:        resp.Name.String(),
		Sector:      titleCase(resp.Sector.String()),
		Industry:    titleCase(resp.Industry.String()),
		Country:     resp.Country.String(),
		Currency:    resp.Currency.String(),
		Exchange:    resp.Exchange.String(),
		Description: resp.Description.String(),
		WebsiteURL:  domain.NormalizeURL(resp.OfficialSite.String()),
		MarketCap:   resp.MarketCapitalization.Ptr(),
	}, nil
}

// Daily fetches TIME_SERIES_DAILY_ADJUSTED, ascending.
func (c *Client) Daily(ctx context.Context, symbol string) (*domain.Frame, error) {
	extra := url.Values{}
	extra.Set("outputsize", "full")
	body, err := c.query(ctx, "TIME_SERIES_DAILY_ADJUSTED", symbol, extra)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Series map[string]struct {
			Open     provider.FlexFloat `json:"1. open"`
			High     provider.FlexFloat `json:"2. high"`
			Low      provider.FlexFloat `json:"3. low"`
			Close    provider.FlexFloat `json:"4. close"`
			AdjClose provider.FlexFloat `json:"5. adjusted close"`
			Volume   provider.FlexFloat `json:"6. volume"`
		} `json:"Time Series (Daily)"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode daily series: %v", fetcher.ErrUnavailable, err)
	}
	if len(resp.Series) == 0 {
		return nil, fmt.Errorf("daily %s: %w", symbol, fetcher.ErrUnavailable)
	}

	frame := domain.NewFrame()
	for date, bar := range resp.Series {
		d, err := time.Parse("2006-01-02", date)
		if err != nil {
			continue
		}
		frame.AppendBar(domain.Bar{
			Timestamp: d.UTC(),
			Open:      bar.Open.Or(math.NaN()),
			High:      bar.High.Or(math.NaN()),
			Low:       bar.Low.Or(math.NaN()),
			Close:     bar.Close.Or(math.NaN()),
			AdjClose:  bar.AdjClose.Or(math.NaN()),
			Volume:    bar.Volume.Or(0),
		})
	}
	frame.Normalize()
	if frame.Len() == 0 {
		return nil, fmt.Errorf("daily %s: no valid bars: %w", symbol, fetcher.ErrUnavailable)
	}
	return frame, nil
}

// titleCase folds AV's SHOUTING sector names into readable casing.
func titleCase(s string) string {
	if s == "" || s != strings.ToUpper(s) {
		return s
	}
	words := strings.Fields(strings.ToLower(s))
	for i, w := range words {
		if len(w) > 0 && w != "and" && w != "of" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
