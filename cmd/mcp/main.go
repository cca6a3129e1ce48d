package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"strings"
	"syscall"
	"time"

	"finbot/internal/cache"
	"finbot/internal/config"
	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/httpclient"
	mcpserver "finbot/internal/mcp"
	"finbot/internal/provider/alphavantage"
	"finbot/internal/provider/eodhd"
	"finbot/internal/provider/fmp"
	"finbot/internal/provider/marketaux"
	"finbot/internal/provider/newsapi"
	"finbot/internal/provider/yahoo"
	"finbot/internal/service"
	"finbot/pkg/tracing"

	sdkmcp "github.com/modelcontextprotocol/go-sdk/mcp"
)

const defaultMCPHTTPMaxBodyBytes int64 = 1 << 20 // 1MiB

var (
	loadConfigFunc    = config.Load
	initTracerFunc    = tracing.InitTracer
	initCacheFunc     = cache.New
	newMCPServerFunc  = mcpserver.NewServer
	newMCPHandlerFunc = mcpserver.NewHTTPTransportHandler
	runStdioFunc      = func(ctx context.Context, server *sdkmcp.Server) error {
		return server.Run(ctx, &sdkmcp.StdioTransport{})
	}
	startHTTPServerFunc  = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFn = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
	setupSignalNotify    = ossignal.Notify
	waitForSignalFunc    = func(quit <-chan os.Signal) { <-quit }
)

func main() {
	cfg := loadConfigFunc()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx, tracing.Config{
		Endpoint:    cfg.Observability.OTLPEndpoint,
		ServiceName: cfg.Observability.ServiceName + "-mcp",
	})
	if err != nil {
		log.Fatalf("failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := tp.Shutdown(context.Background()); err != nil {
			log.Printf("error shutting down tracer provider: %v", err)
		}
	}()

	c, err := initCacheFunc(ctx, cfg)
	if err != nil {
		log.Fatalf("failed to connect to redis: %v", err)
	}
	defer c.Close()

	pipes, chartSources := buildPipelines(cfg, c)
	stockService := service.NewStockService(tracer, pipes,
		service.ChartPipelineBuilder(c, chartSources, cfg.Cache.LockWait),
		service.NewsPolicy{
			MaxAge:       time.Duration(cfg.News.MaxAgeDays) * 24 * time.Hour,
			MinSentiment: cfg.News.MinSentiment,
			MinRelevance: cfg.News.MinRelevance,
		})
	tapeService := service.NewTickerTapeService(tracer, c, pipes.Quote,
		cfg.TickerTape.Symbols, 2*time.Duration(cfg.TickerTape.PollSecs)*time.Second)

	mcpSrv := newMCPServerFunc(tracer, stockService, tapeService, mcpserver.ServerConfig{
		RequestTimeout: time.Duration(cfg.MCP.TimeoutSecs) * time.Second,
	})

	switch cfg.MCP.Transport {
	case "", "stdio":
		if err := runStdioFunc(ctx, mcpSrv); err != nil {
			log.Fatalf("mcp stdio server failed: %v", err)
		}
	case "http":
		if err := runHTTPMode(cancel, cfg, mcpSrv); err != nil {
			log.Fatalf("mcp http server failed: %v", err)
		}
	default:
		log.Fatalf("unsupported MCP transport: %s", cfg.MCP.Transport)
	}
}

func runHTTPMode(cancel context.CancelFunc, cfg *config.Config, mcpSrv *sdkmcp.Server) error {
	if strings.TrimSpace(cfg.MCP.AuthToken) == "" {
		return fmt.Errorf("MCP__AUTH_TOKEN is required for the http transport")
	}

	h := newMCPHandlerFunc(mcpSrv, mcpserver.HTTPHandlerConfig{
		AuthToken:       cfg.MCP.AuthToken,
		RateLimitPerMin: 60,
		MaxBodyBytes:    defaultMCPHTTPMaxBodyBytes,
	})

	addr := net.JoinHostPort(cfg.MCP.HTTPBind, fmt.Sprintf("%d", cfg.MCP.HTTPPort))
	srv := &http.Server{Addr: addr, Handler: h}

	go func() {
		log.Printf("MCP HTTP server listening on %s", addr)
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Printf("mcp http server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFn(srv, shutdownCtx); err != nil {
		return fmt.Errorf("mcp server forced to shutdown: %w", err)
	}
	return nil
}

// buildPipelines mirrors the server binary's provider wiring for the data
// kinds the MCP tools expose.
func buildPipelines(cfg *config.Config, c *cache.Service) (service.Pipelines, []service.ChartSource) {
	yh := yahoo.New(httpclient.New(cfg.HTTPClient, "yahoo"))

	var pipes service.Pipelines
	var quoteSources []fetcher.Source[domain.Quote]
	var overviewSources []fetcher.Source[*domain.CompanyOverview]
	var financialSources []fetcher.Source[*domain.Financials]
	var earningsSources []fetcher.Source[[]domain.EarningsRecord]
	var chartSources []service.ChartSource

	if key := cfg.Keys.EODHD; key != "" {
		ed := eodhd.New(httpclient.New(cfg.HTTPClient, "eodhd"), key)
		quoteSources = append(quoteSources, fetcher.Source[domain.Quote]{Name: "eodhd", Fetch: ed.Quote})
		overviewSources = append(overviewSources, fetcher.Source[*domain.CompanyOverview]{Name: "eodhd", Fetch: ed.Overview})
		financialSources = append(financialSources, fetcher.Source[*domain.Financials]{Name: "eodhd", Fetch: ed.Financials})
		earningsSources = append(earningsSources, fetcher.Source[[]domain.EarningsRecord]{Name: "eodhd", Fetch: ed.Earnings})
		chartSources = append(chartSources, service.ChartSource{
			Name: "eodhd",
			Fetch: func(ctx context.Context, symbol, period, interval string) (*domain.Frame, error) {
				if domain.IsIntradayInterval(interval) {
					return ed.Intraday(ctx, symbol, interval)
				}
				switch interval {
				case "1d":
					return ed.History(ctx, symbol, periodStart(period), time.Now().UTC(), "d")
				case "1wk":
					return ed.History(ctx, symbol, periodStart(period), time.Now().UTC(), "w")
				case "1mo":
					return ed.History(ctx, symbol, periodStart(period), time.Now().UTC(), "m")
				}
				// EODHD has no 5d or 3mo aggregation; Yahoo serves those.
				return nil, fetcher.ErrUnavailable
			},
		})
		pipes.News = append(pipes.News, newsPipeline(c, "eodhd", ed.News))
	}
	if key := cfg.Keys.FMP; key != "" {
		fm := fmp.New(httpclient.New(cfg.HTTPClient, "fmp"), key)
		quoteSources = append(quoteSources, fetcher.Source[domain.Quote]{Name: "fmp", Fetch: fm.Quote})
		overviewSources = append(overviewSources, fetcher.Source[*domain.CompanyOverview]{Name: "fmp", Fetch: fm.Overview})
	}
	if key := cfg.Keys.AlphaVantage; key != "" {
		av := alphavantage.New(httpclient.New(cfg.HTTPClient, "alphavantage"), key)
		overviewSources = append(overviewSources, fetcher.Source[*domain.CompanyOverview]{Name: "alphavantage", Fetch: av.Overview})
	}
	if key := cfg.Keys.MarketAux; key != "" {
		ma := marketaux.New(httpclient.New(cfg.HTTPClient, "marketaux"), key)
		pipes.News = append(pipes.News, newsPipeline(c, "marketaux", ma.News))
	}
	if key := cfg.Keys.NewsAPI; key != "" {
		na := newsapi.New(httpclient.New(cfg.HTTPClient, "newsapi"), key)
		pipes.News = append(pipes.News, newsPipeline(c, "newsapi", na.News))
	}

	quoteSources = append(quoteSources, fetcher.Source[domain.Quote]{Name: "yahoo", Fetch: yh.Quote})
	chartSources = append(chartSources, service.ChartSource{Name: "yahoo", Fetch: yh.Chart})

	pipes.Quote = &fetcher.Pipeline[domain.Quote]{
		Cache: c, DataType: domain.DataTypeQuote, Sources: quoteSources, LockWait: cfg.Cache.LockWait,
	}
	pipes.Overview = &fetcher.Pipeline[*domain.CompanyOverview]{
		Cache: c, DataType: domain.DataTypeCompanyInfo, Sources: overviewSources, LockWait: cfg.Cache.LockWait,
	}
	pipes.Financials = &fetcher.Pipeline[*domain.Financials]{
		Cache: c, DataType: domain.DataTypeFinancials, Sources: financialSources, LockWait: cfg.Cache.LockWait,
	}
	pipes.Earnings = &fetcher.Pipeline[[]domain.EarningsRecord]{
		Cache: c, DataType: domain.DataTypeEarnings, Sources: earningsSources, LockWait: cfg.Cache.LockWait,
	}
	return pipes, chartSources
}

func newsPipeline(c *cache.Service, name string, fetch func(ctx context.Context, symbol string, limit int) ([]domain.NewsItem, error)) *fetcher.Pipeline[[]domain.NewsItem] {
	return &fetcher.Pipeline[[]domain.NewsItem]{
		Cache:    c,
		DataType: domain.DataTypeNews,
		Sources: []fetcher.Source[[]domain.NewsItem]{{
			Name: name,
			Fetch: func(ctx context.Context, symbol string) ([]domain.NewsItem, error) {
				return fetch(ctx, symbol, 50)
			},
		}},
	}
}

func periodStart(period string) time.Time {
	now := time.Now().UTC()
	switch period {
	case "1d":
		return now.AddDate(0, 0, -1)
	case "5d":
		return now.AddDate(0, 0, -7)
	case "1mo":
		return now.AddDate(0, -1, 0)
	case "3mo":
		return now.AddDate(0, -3, 0)
	case "6mo":
		return now.AddDate(0, -6, 0)
	case "1y":
		return now.AddDate(-1, 0, 0)
	case "2y":
		return now.AddDate(-2, 0, 0)
	case "5y":
		return now.AddDate(-5, 0, 0)
	case "10y":
		return now.AddDate(-10, 0, 0)
	default:
		return time.Time{}
	}
}
