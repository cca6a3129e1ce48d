package service

import (
	"net/url"
	"sort"
	"strings"
	"time"

	"finbot/internal/domain"
)

// MergeOptions tune the news merge. Zero thresholds keep everything.
type MergeOptions struct {
	MaxAge       time.Duration
	Limit        int
	MinSentiment *float64
	MinRelevance *float64
}

// MergeNews combines per-provider article lists into one feed: duplicates
// collapse by canonical URL (first occurrence wins, provider order is the
// priority order), stale and below-threshold items drop, the rest sort
// newest first and truncate to the limit.
func MergeNews(lists [][]domain.NewsItem, opts MergeOptions) []domain.NewsItem {
	cutoff := time.Time{}
	if opts.MaxAge > 0 {
		cutoff = time.Now().Add(-opts.MaxAge)
	}

	seen := map[string]bool{}
	var merged []domain.NewsItem
	for _, list := range lists {
		for _, item := range list {
			if item.URL == "" || item.Title == "" {
				continue
			}
			if !cutoff.IsZero() && item.PublishedAt.Before(cutoff) {
				continue
			}
			key := canonicalNewsURL(item.URL)
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, item)
		}
	}

	if opts.MinSentiment != nil {
		merged = filterNews(merged, func(n domain.NewsItem) bool {
			return n.Sentiment == nil || *n.Sentiment >= *opts.MinSentiment
		})
	}
	if opts.MinRelevance != nil {
		merged = filterNews(merged, func(n domain.NewsItem) bool {
			return n.Relevance == nil || *n.Relevance >= *opts.MinRelevance
		})
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].PublishedAt.After(merged[j].PublishedAt)
	})
	if opts.Limit > 0 && len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}
	return merged
}

func filterNews(items []domain.NewsItem, keep func(domain.NewsItem) bool) []domain.NewsItem {
	out := items[:0]
	for _, n := range items {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

// canonicalNewsURL reduces a URL to its dedupe identity: lowercase scheme
// and host, no fragment, no tracking params, remaining query sorted.
func canonicalNewsURL(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Host == "" {
		return strings.ToLower(strings.TrimSpace(raw))
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	u.Fragment = ""

	q := u.Query()
	for param := range q {
		if strings.HasPrefix(strings.ToLower(param), "utm_") {
			q.Del(param)
		}
	}
	u.RawQuery = q.Encode() // Encode sorts keys
	return strings.TrimSuffix(u.String(), "/")
}

// SentimentSummary averages the scored articles in a feed.
type SentimentSummary struct {
	Overall   *float64 `json:"overall"`
	NewsCount int      `json:"news_count"`
}

// SummarizeSentiment computes the overall score for a merged feed. Items
// without a score do not dilute the average; a feed with no scored items
// has a nil overall.
func SummarizeSentiment(items []domain.NewsItem) SentimentSummary {
	summary := SentimentSummary{NewsCount: len(items)}
	var sum float64
	var scored int
	for _, n := range items {
		if n.Sentiment != nil {
			sum += *n.Sentiment
			scored++
		}
	}
	if scored > 0 {
		avg := sum / float64(scored)
		summary.Overall = &avg
	}
	return summary
}
