package main

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	ossignal "os/signal"
	"syscall"
	"time"

	"finbot/internal/ai"
	"finbot/internal/bot"
	"finbot/internal/cache"
	"finbot/internal/config"
	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/handler"
	"finbot/internal/httpclient"
	"finbot/internal/job"
	"finbot/internal/metrics"
	"finbot/internal/provider/alphavantage"
	"finbot/internal/provider/eodhd"
	"finbot/internal/provider/fmp"
	"finbot/internal/provider/marketaux"
	"finbot/internal/provider/newsapi"
	"finbot/internal/provider/yahoo"
	"finbot/internal/service"
	"finbot/pkg/tracing"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	_ "finbot/docs"
)

var (
	loadConfigFunc         = config.Load
	initTracerFunc         = tracing.InitTracer
	initCacheFunc          = cache.New
	newRouterFunc          = gin.New
	startTelegramBotFunc   = bot.StartTelegramBot
	startTapePollerFunc    = func(p *job.TapePoller, ctx context.Context) { go p.Start(ctx) }
	setupSignalNotify      = ossignal.Notify
	waitForSignalFunc      = func(quit <-chan os.Signal) { <-quit }
	startHTTPServerFunc    = func(srv *http.Server) error { return srv.ListenAndServe() }
	shutdownHTTPServerFunc = func(srv *http.Server, ctx context.Context) error { return srv.Shutdown(ctx) }
)

// @title           FinBot API
// @version         1.0
// @description     Financial data aggregation and AI analysis gateway.

// @host      localhost:8000
// @BasePath  /
func main() {
	cfg := loadConfigFunc()
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	tp, tracer, err := initTracerFunc(ctx, tracing.Config{
		Endpoint:    cfg.Observability.OTLPEndpoint,
		ServiceName: cfg.Observability.ServiceName,
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

	tapePoller := job.NewTapePoller(tracer, tapeService,
		time.Duration(cfg.TickerTape.PollSecs)*time.Second)
	startTapePollerFunc(tapePoller, ctx)

	var chatPipeline *ai.Pipeline
	if cfg.Keys.OpenRouter != "" {
		chatPipeline = ai.NewPipeline(tracer, c, stockService, cfg, ai.NewCatalogue())
	}

	var advisor bot.Advisor
	if chatPipeline != nil {
		advisor = chatPipeline
	}
	digest := startTelegramBotFunc(cfg.Telegram, stockService, tapeService, advisor)
	if digest != nil {
		go digest.Run(ctx, cfg.Telegram.DigestHour)
	}

	h := handler.New(tracer, stockService, tapeService, chatPipeline, cfg.Observability.MetricsEnabled)

	r := newRouterFunc()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(otelgin.Middleware(cfg.Observability.ServiceName))
	r.Use(metrics.GinMiddleware())
	r.Use(cors.New(cors.Config{
		AllowOrigins:  cfg.Server.CORSOrigins,
		AllowMethods:  []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Request-ID"},
		ExposeHeaders: []string{"Content-Length"},
		MaxAge:        12 * time.Hour,
	}))
	h.RegisterRoutes(r)

	srv := &http.Server{
		Addr:    net.JoinHostPort(cfg.Server.Host, fmt.Sprintf("%d", cfg.Server.Port)),
		Handler: r,
	}

	go func() {
		log.Printf("HTTP server listening on %s", srv.Addr)
		if err := startHTTPServerFunc(srv); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %s\n", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	setupSignalNotify(quit, syscall.SIGINT, syscall.SIGTERM)
	waitForSignalFunc(quit)
	log.Println("Shutting down server...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := shutdownHTTPServerFunc(srv, shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown:", err)
	}

	log.Println("Server exiting")
}

// buildPipelines wires every provider whose API key is configured.
// Source order inside a pipeline is failover order; Yahoo carries no key
// and always rides last as the free fallback.
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
		chartSources = append(chartSources, service.ChartSource{
			Name: "alphavantage",
			Fetch: func(ctx context.Context, symbol, period, interval string) (*domain.Frame, error) {
				if domain.IsIntradayInterval(interval) {
					return nil, fetcher.ErrUnavailable
				}
				return av.Daily(ctx, symbol)
			},
		})
	}

	if key := cfg.Keys.MarketAux; key != "" {
		ma := marketaux.New(httpclient.New(cfg.HTTPClient, "marketaux"), key)
		pipes.News = append(pipes.News, newsPipeline(c, "marketaux", ma.News))
	}
	if key := cfg.Keys.NewsAPI; key != "" {
		na := newsapi.New(httpclient.New(cfg.HTTPClient, "newsapi"), key)
		pipes.News = append(pipes.News, newsPipeline(c, "newsapi", na.News))
	}

	// Yahoo needs no key and closes every failover chain.
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

// periodStart maps a lookback period onto a from-date for providers that
// take explicit date ranges. "max" yields the zero time, which the EODHD
// adapter omits from the query.
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
