package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"finbot/internal/domain"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerResources(server *mcp.Server, stocks StockReader, tape TapeReader) {
	server.AddResource(&mcp.Resource{
		URI:         "market://supported-periods",
		Name:        "supported-periods",
		Description: "Chart lookback windows the service accepts",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		_ = ctx
		return jsonResource(req.Params.URI, domain.SupportedPeriods)
	})

	server.AddResource(&mcp.Resource{
		URI:         "market://supported-intervals",
		Name:        "supported-intervals",
		Description: "Chart bar sizes the service accepts",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		_ = ctx
		return jsonResource(req.Params.URI, domain.SupportedIntervals)
	})

	server.AddResource(&mcp.Resource{
		URI:         "market://ticker-tape",
		Name:        "ticker-tape",
		Description: "Cached quotes for the watched symbol list",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if tape == nil {
			return nil, fmt.Errorf("ticker tape unavailable")
		}
		entries, _ := tape.Read(ctx, 0, false)
		return jsonResource(req.Params.URI, tapeOutput{Entries: entries, AsOf: time.Now().UTC()})
	})

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "stock://quote/{symbol}",
		Name:        "quote-by-symbol",
		Description: "Latest quote and company profile for a ticker",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if stocks == nil {
			return nil, fmt.Errorf("stock service unavailable")
		}

		parsed, err := url.Parse(req.Params.URI)
		if err != nil {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}
		if parsed.Scheme != "stock" || parsed.Host != "quote" {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}

		symbol, err := normalizeSymbol(strings.Trim(strings.TrimSpace(parsed.Path), "/"))
		if err != nil {
			return nil, err
		}
		basic, _, _, err := stocks.GetBasicStockData(ctx, symbol, false)
		if err != nil {
			return nil, err
		}
		return jsonResource(req.Params.URI, quoteOutput{Quote: basic})
	})

	server.AddResourceTemplate(&mcp.ResourceTemplate{
		URITemplate: "stock://news/{symbol}{?limit}",
		Name:        "news-by-symbol",
		Description: "Recent merged news for a ticker; optional limit query param",
		MIMEType:    "application/json",
	}, func(ctx context.Context, req *mcp.ReadResourceRequest) (*mcp.ReadResourceResult, error) {
		if stocks == nil {
			return nil, fmt.Errorf("stock service unavailable")
		}

		parsed, err := url.Parse(req.Params.URI)
		if err != nil {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}
		if parsed.Scheme != "stock" || parsed.Host != "news" {
			return nil, mcp.ResourceNotFoundError(req.Params.URI)
		}

		symbol, err := normalizeSymbol(strings.Trim(strings.TrimSpace(parsed.Path), "/"))
		if err != nil {
			return nil, err
		}
		limit := defaultNewsLimit
		if rawLimit := strings.TrimSpace(parsed.Query().Get("limit")); rawLimit != "" {
			n, err := strconv.Atoi(rawLimit)
			if err != nil {
				return nil, fmt.Errorf("invalid limit: %s", rawLimit)
			}
			limit = normalizeNewsLimit(n)
		}

		items, _, _, err := stocks.GetNewsData(ctx, symbol, limit, false)
		if err != nil {
			return nil, err
		}
		return jsonResource(req.Params.URI, newsOutput{News: items})
	})
}

func jsonResource(uri string, payload any) (*mcp.ReadResourceResult, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &mcp.ReadResourceResult{
		Contents: []*mcp.ResourceContents{{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(body),
		}},
	}, nil
}
