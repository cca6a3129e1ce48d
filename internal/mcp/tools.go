package mcp

import (
	"context"
	"fmt"
	"time"

	"finbot/internal/domain"

	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func registerTools(server *mcp.Server, stocks StockReader, tape TapeReader) {
	mcp.AddTool(server, &mcp.Tool{
		Name:        "stock_get_quote",
		Description: "Get the latest quote and company profile for a ticker",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in quoteInput) (*mcp.CallToolResult, quoteOutput, error) {
		if stocks == nil {
			return nil, quoteOutput{}, fmt.Errorf("stock service unavailable")
		}
		symbol, err := normalizeSymbol(in.Symbol)
		if err != nil {
			return nil, quoteOutput{}, err
		}
		basic, _, _, err := stocks.GetBasicStockData(ctx, symbol, false)
		if err != nil {
			return nil, quoteOutput{}, err
		}
		return nil, quoteOutput{Quote: basic}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stock_get_chart",
		Description: "Get OHLCV bars for a ticker by period and interval",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in chartInput) (*mcp.CallToolResult, chartOutput, error) {
		if stocks == nil {
			return nil, chartOutput{}, fmt.Errorf("stock service unavailable")
		}
		symbol, err := normalizeSymbol(in.Symbol)
		if err != nil {
			return nil, chartOutput{}, err
		}
		period, err := normalizePeriod(in.Period)
		if err != nil {
			return nil, chartOutput{}, err
		}
		interval, err := normalizeInterval(in.Interval)
		if err != nil {
			return nil, chartOutput{}, err
		}
		limit := normalizeBarLimit(in.Limit)

		frame, _, _, err := stocks.GetChartData(ctx, symbol, period, interval, false)
		if err != nil {
			return nil, chartOutput{}, err
		}
		tail := frame.Tail(limit)
		bars := make([]domain.Bar, tail.Len())
		for i := range bars {
			bars[i] = tail.Bar(i)
		}
		return nil, chartOutput{Symbol: symbol, Period: period, Interval: interval, Bars: bars}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stock_get_news",
		Description: "Get recent news articles for a ticker, merged across providers",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in newsInput) (*mcp.CallToolResult, newsOutput, error) {
		if stocks == nil {
			return nil, newsOutput{}, fmt.Errorf("stock service unavailable")
		}
		symbol, err := normalizeSymbol(in.Symbol)
		if err != nil {
			return nil, newsOutput{}, err
		}
		items, _, _, err := stocks.GetNewsData(ctx, symbol, normalizeNewsLimit(in.Limit), false)
		if err != nil {
			return nil, newsOutput{}, err
		}
		return nil, newsOutput{News: items}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "stock_get_technicals",
		Description: "Get the computed technical indicator snapshot for a ticker",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in technicalsInput) (*mcp.CallToolResult, technicalsOutput, error) {
		if stocks == nil {
			return nil, technicalsOutput{}, fmt.Errorf("stock service unavailable")
		}
		symbol, err := normalizeSymbol(in.Symbol)
		if err != nil {
			return nil, technicalsOutput{}, err
		}
		ta, _, _, err := stocks.GetTechnicalAnalysisData(ctx, symbol, false)
		if err != nil {
			return nil, technicalsOutput{}, err
		}
		if ta == nil {
			return nil, technicalsOutput{Note: "not enough price history yet"}, nil
		}
		return nil, technicalsOutput{Analysis: ta}, nil
	})

	mcp.AddTool(server, &mcp.Tool{
		Name:        "tickertape_list",
		Description: "Get the cached ticker tape of watched symbols",
	}, func(ctx context.Context, _ *mcp.CallToolRequest, in tapeInput) (*mcp.CallToolResult, tapeOutput, error) {
		if tape == nil {
			return nil, tapeOutput{}, fmt.Errorf("ticker tape unavailable")
		}
		entries, _ := tape.Read(ctx, in.Limit, false)
		return nil, tapeOutput{Entries: entries, AsOf: time.Now().UTC()}, nil
	})
}
