// Package newsapi adapts NewsAPI.org headlines. Articles carry no
// sentiment; the merge layer treats those fields as absent.
package newsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/httpclient"
	"finbot/internal/provider"
)

const (
	Name           = "newsapi"
	DefaultBaseURL = "https://newsapi.org/v2"
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

// NormalizeSymbol keeps the canonical spelling; NewsAPI takes free-text
// queries.
func NormalizeSymbol(symbol string) string {
	return domain.NormalizeSymbol(symbol)
}

type everythingResponse struct {
	Status   string `json:"status"`
	Code     string `json:"code"`
	Message  string `json:"message"`
	Articles []struct {
		Source struct {
			Name provider.FlexString `json:"name"`
		} `json:"source"`
		Title       provider.FlexString `json:"title"`
		Description provider.FlexString `json:"description"`
		URL         provider.FlexString `json:"url"`
		PublishedAt string              `json:"publishedAt"`
	} `json:"articles"`
}

// News queries the everything endpoint for the symbol.
func (c *Client) News(ctx context.Context, symbol string, limit int) ([]domain.NewsItem, error) {
	if c.apiKey == "" {
		return nil, fetcher.ErrNoAPIKey
	}
	if limit <= 0 {
		limit = 20
	}
	normalized := NormalizeSymbol(symbol)

	params := url.Values{}
	params.Set("q", normalized)
	params.Set("language", "en")
	params.Set("sortBy", "publishedAt")
	params.Set("pageSize", strconv.Itoa(limit))
	params.Set("apiKey", c.apiKey)

	body, status, err := c.hc.Get(ctx, c.baseURL+"/everything?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fetcher.ErrUnavailable, err)
	}
	if err := provider.CheckStatus(Name, status); err != nil {
		return nil, err
	}

	var resp everythingResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode articles: %v", fetcher.ErrUnavailable, err)
	}
	if resp.Status == "error" {
		if resp.Code == "apiKeyInvalid" || resp.Code == "apiKeyDisabled" {
			return nil, fmt.Errorf("news %s: %s: %w", symbol, resp.Message, fetcher.ErrAuth)
		}
		if resp.Code == "rateLimited" {
			return nil, fmt.Errorf("news %s: %w", symbol, fetcher.ErrRateLimited)
		}
		return nil, fmt.Errorf("news %s: %s: %w", symbol, resp.Message, fetcher.ErrUnavailable)
	}
	if len(resp.Articles) == 0 {
		return nil, fmt.Errorf("news %s: %w", symbol, fetcher.ErrUnavailable)
	}

	items := make([]domain.NewsItem, 0, len(resp.Articles))
	for _, a := range resp.Articles {
		if a.Title == "" || a.URL == "" || a.Title == "[Removed]" {
			continue
		}
		publishedAt, err := time.Parse(time.RFC3339, a.PublishedAt)
		if err != nil {
			continue
		}
		items = append(items, domain.NewsItem{
			PublishedAt: publishedAt.UTC(),
			Title:       a.Title.String(),
			Summary:     a.Description.String(),
			URL:         domain.NormalizeURL(a.URL.String()),
			Source:      a.Source.Name.String(),
			Tickers:     []string{normalized},
		})
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("news %s: %w", symbol, fetcher.ErrUnavailable)
	}
	return items, nil
}
