package eodhd

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/provider"
)

type newsResponse struct {
	Date      string              `json:"date"`
	Title     provider.FlexString `json:"title"`
	Content   provider.FlexString `json:"content"`
	Link      provider.FlexString `json:"link"`
	Symbols   []string            `json:"symbols"`
	Sentiment struct {
		Polarity provider.FlexFloat `json:"polarity"`
	} `json:"sentiment"`
}

// News fetches recent articles tagged with the symbol.
func (c *Client) News(ctx context.Context, symbol string, limit int) ([]domain.NewsItem, error) {
	if limit <= 0 {
		limit = 20
	}
	params := url.Values{}
	params.Set("s", NormalizeSymbol(symbol))
	params.Set("limit", strconv.Itoa(limit))

	body, err := c.get(ctx, "/news", params, "json")
	if err != nil {
		return nil, err
	}

	var resp []newsResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("%w: decode news: %v", fetcher.ErrUnavailable, err)
	}
	if len(resp) == 0 {
		return nil, fmt.Errorf("news %s: %w", symbol, fetcher.ErrUnavailable)
	}

	items := make([]domain.NewsItem, 0, len(resp))
	for _, a := range resp {
		if a.Title == "" || a.Link == "" {
			continue
		}
		publishedAt, err := time.Parse(time.RFC3339, a.Date)
		if err != nil {
			continue
		}
		item := domain.NewsItem{
			PublishedAt: publishedAt.UTC(),
			Title:       a.Title.String(),
			Summary:     a.Content.String(),
			URL:         domain.NormalizeURL(a.Link.String()),
			Source:      Name,
			Tickers:     a.Symbols,
			Sentiment:   a.Sentiment.Polarity.Ptr(),
		}
		items = append(items, item)
	}
	if len(items) == 0 {
		return nil, fmt.Errorf("news %s: %w", symbol, fetcher.ErrUnavailable)
	}
	return items, nil
}
