// Package fmp adapts Financial Modeling Prep: realtime quotes and company
// profiles.
package fmp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/httpclient"
	"finbot/internal/provider"
)

const (
	Name           = "fmp"
	DefaultBaseURL = "https://financialmodelingprep.com/api/v3"
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

// NormalizeSymbol strips the caret FMP does not use on indices and keeps
// everything else canonical.
func NormalizeSymbol(symbol string) string {
	s := domain.NormalizeSymbol(symbol)
	if domain.IsIndexSymbol(s) {
		return "^" + s[1:]
	}
	return s
}

func (c *Client) get(ctx context.Context, path string, dst any) error {
	if c.apiKey == "" {
		return fetcher.ErrNoAPIKey
	}
	params := url.Values{}
	params.Set("apikey", c.apiKey)

	body, status, err := c.hc.Get(ctx, c.baseURL+path+"?"+params.Encode(), nil)
	if err != nil {
		return fmt.Errorf("%w: %v", fetcher.ErrUnavailable, err)
	}
	if err := provider.CheckStatus(Name, status); err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("%w: decode: %v", fetcher.ErrUnavailable, err)
	}
	return nil
}

type quoteResponse struct {
	Symbol            string             `json:"symbol"`
	Name              string             `json:"name"`
	Price             provider.FlexFloat `json:"price"`
	ChangesPercentage provider.FlexFloat `json:"changesPercentage"`
	Change            provider.FlexFloat `json:"change"`
	DayLow            provider.FlexFloat `json:"dayLow"`
	DayHigh           provider.FlexFloat `json:"dayHigh"`
	MarketCap         provider.FlexFloat `json:"marketCap"`
	Volume            provider.FlexFloat `json:"volume"`
	Open              provider.FlexFloat `json:"open"`
	PreviousClose     provider.FlexFloat `json:"previousClose"`
	Exchange          string             `json:"exchange"`
	Timestamp         int64              `json:"timestamp"`
}

// Quote fetches the realtime quote.
func (c *Client) Quote(ctx context.Context, symbol string) (domain.Quote, error) {
	var resp []quoteResponse
	if err := c.get(ctx, "/quote/"+url.PathEscape(NormalizeSymbol(symbol)), &resp); err != nil {
		return domain.Quote{}, err
	}
	if len(resp) == 0 || !resp[0].Price.Valid() {
		return domain.Quote{}, fmt.Errorf("quote %s: %w", symbol, fetcher.ErrUnavailable)
	}

	r := resp[0]
	q := domain.Quote{
		Symbol:        domain.NormalizeSymbol(symbol),
		Name:          r.Name,
		Price:         float64(r.Price),
		Change:        r.Change.Or(0),
		ChangePercent: r.ChangesPercentage.Or(0),
		Open:          r.Open.Ptr(),
		DayHigh:       r.DayHigh.Ptr(),
		DayLow:        r.DayLow.Ptr(),
		PrevClose:     r.PreviousClose.Ptr(),
		MarketCap:     r.MarketCap.Ptr(),
		Exchange:      r.Exchange,
		Timestamp:     time.Now().UTC(),
	}
	if r.Volume.Valid() {
		v := int64(float64(r.Volume))
		q.Volume = &v
	}
	if r.Timestamp > 0 {
		q.Timestamp = time.Unix(r.Timestamp, 0).UTC()
	}
	return q, nil
}

type profileResponse struct {
	Symbol            string              `json:"symbol"`
	CompanyName       provider.FlexString `json:"companyName"`
	Currency          provider.FlexString `json:"currency"`
	Industry          provider.FlexString `json:"industry"`
	Sector            provider.FlexString `json:"sector"`
	Country           provider.FlexString `json:"country"`
	Website           provider.FlexString `json:"website"`
	Description       provider.FlexString `json:"description"`
	ExchangeShortName provider.FlexString `json:"exchangeShortName"`
	FullTimeEmployees provider.FlexFloat  `json:"fullTimeEmployees"`
	IPODate           provider.FlexString `json:"ipoDate"`
	MktCap            provider.FlexFloat  `json:"mktCap"`
}

// Overview fetches the company profile.
func (c *Client) Overview(ctx context.Context, symbol string) (*domain.CompanyOverview, error) {
	var resp []profileResponse
	if err := c.get(ctx, "/profile/"+url.PathEscape(NormalizeSymbol(symbol)), &resp); err != nil {
		return nil, err
	}
	if len(resp) == 0 || resp[0].CompanyName == "" {
		return nil, fmt.Errorf("profile %s: %w", symbol, fetcher.ErrUnavailable)
	}

	r := resp[0]
	ov := &domain.CompanyOverview{
		Symbol:      domain.NormalizeSymbol(symbol),
		Name:        r.CompanyName.String(),
		Sector:      r.Sector.String(),
		Industry:    r.Industry.String(),
		Country:     r.Country.String(),
		Currency:    r.Currency.String(),
		Exchange:    r.ExchangeShortName.String(),
		Description: r.Description.String(),
		WebsiteURL:  domain.NormalizeURL(r.Website.String()),
		MarketCap:   r.MktCap.Ptr(),
	}
	if r.FullTimeEmployees.Valid() {
		n := int64(float64(r.FullTimeEmployees))
		ov.Employees = &n
	}
	if d, err := time.Parse("2006-01-02", r.IPODate.String()); err == nil {
		d = d.UTC()
		ov.ListingDate = &d
	}
	return ov, nil
}
