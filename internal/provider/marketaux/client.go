// Package marketaux adapts the MarketAux news API. Articles carry per-entity
// sentiment and relevance scores; the scores for the requested symbol are
// lifted onto the normalized item.
package marketaux

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/httpclient"
	"finbot/internal/provider"
)

const (
	Name           = "marketaux"
	DefaultBaseURL = "https://api.marketaux.com/v1"
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

// NormalizeSymbol keeps the canonical spelling; MarketAux matches plain
// tickers.
func NormalizeSymbol(symbol string) string {
	return domain.NormalizeSymbol(symbol)
}

type newsResponse struct {
	Data []struct {
		Title       provider.FlexString `json:"title"`
		Description provider.FlexString `json:"description"`
		Snippet     provider.FlexString `json:"snippet"`
		URL         provider.FlexString `json:"url"`
		Source      provider.FlexString `json:"source"`
		PublishedAt string              `json:"published_at"`
		Entities    []struct {
			Symbol         string             `json:"symbol"`
			SentimentScore provider.FlexFloat `json:"sentiment_score"`
			MatchScore     provider.FlexFloat `json:"match_score"`
		} `json:"entities"`
	} `json:"data"`
	Error *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// News fetches recent articles mentioning the symbol.
func (c *Client) News(ctx context.Context, symbol string, limit int) ([]domain.NewsItem, error) {
	if c.apiKey == "" {
		return nil, fetcher.ErrNoAPIKey
	}
	if limit <= 0 {
		limit = 20
	}
	normalized := NormalizeSymbol(symbol)

	params := url.Values{}
	params.Set("symbols", normalized)
	params.Set("filter_entities", "true")
	params.Set("language", "en")
	params.Set("limit", strconv.Itoa(limit))
	params.Set("api_token", c.apiKey)

	body, status, err := c.hc.Get(ctx, c.baseURL+"/news/all?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrUnavailable, err)
	}
	if err := provider.CheckStatus(Name, status); err != nil {
		return nil, err
	}

	var resp newsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode news: %v", fetcher.ErrUnavailable, err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("news %s: %s: %w", symbol, resp.Error.Message, fetcher.ErrUnavailable)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("news %s: %w", symbol, fetcher.ErrUnavailable)
	}

	items := make([]domain.NewsItem, 0, len(resp.Data))
	for _, a := range resp.Data {
		if a.Title == "" || a.URL == "" {
			continue
		}
		publishedAt, err := time.Parse(time.RFC3339, a.PublishedAt)
		if err != nil {
			continue
		}
		summary := a.Description.String()
		if summary == "" {
			summary = a.Snippet.String()
		}
		item := domain.NewsItem{
			PublishedAt: publishedAt.UTC(),
			Title:       a.Title.String(),
			Summary:     summary,
			URL:         domain.NormalizeURL(a.URL.String()),
			Source:      a.Source.String(),
		}
		for _, e := range a.Entities {
			item.Tickers = append(item.Tickers, e.Symbol)
			if strings.EqualFold(e.Symbol, normalized) {
				item.Sentiment = e.SentimentScore.Ptr()
				item.Relevance = e.MatchScore.Ptr()
			}
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("news %s: %w", symbol, fetcher.ErrUnavailable)
	}
	return items, nil
}
