package main

import (
	"context"
	"net/http"
	"os"
	"testing"
	"time"

	"finbot/internal/bot"
	"finbot/internal/cache"
	"finbot/internal/config"
	"finbot/internal/job"
	"finbot/pkg/tracing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

func TestMainBootstrap(t *testing.T) {
	gin.SetMode(gin.TestMode)
	restore := stubServerDeps(t)
	defer restore()

	done := make(chan struct{})
	go func() {
		main()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("main did not exit")
	}
}

func TestPeriodStart(t *testing.T) {
	if !periodStart("max").IsZero() {
		t.Fatal("max period should have no lower bound")
	}
	if periodStart("5d").IsZero() {
		t.Fatal("5d period should be bounded")
	}
	if !periodStart("6mo").After(periodStart("2y")) {
		t.Fatal("6mo should start later than 2y")
	}
}

func stubServerDeps(t *testing.T) func() {
	t.Helper()

	mr := miniredis.RunT(t)

	origLoadConfig := loadConfigFunc
	origInitTracer := initTracerFunc
	origInitCache := initCacheFunc
	origNewRouter := newRouterFunc
	origStartTelegram := startTelegramBotFunc
	origStartTapePoller := startTapePollerFunc
	origSetupSignal := setupSignalNotify
	origWait := waitForSignalFunc
	origStartHTTP := startHTTPServerFunc
	origShutdownHTTP := shutdownHTTPServerFunc

	loadConfigFunc = func() *config.Config {
		cfg := config.Load()
		cfg.Redis.Addr = mr.Addr()
		cfg.Keys.OpenRouter = ""
		cfg.Telegram.BotToken = ""
		return cfg
	}
	initTracerFunc = func(ctx context.Context, cfg tracing.Config) (*sdktrace.TracerProvider, trace.Tracer, error) {
		tp := sdktrace.NewTracerProvider()
		return tp, tp.Tracer("test"), nil
	}
	initCacheFunc = cache.New
	newRouterFunc = func(...gin.OptionFunc) *gin.Engine { return gin.New() }
	startTelegramBotFunc = func(config.TelegramConfig, bot.StockQuerier, bot.TapeReader, bot.Advisor) *bot.DigestDispatcher {
		return nil
	}
	startTapePollerFunc = func(*job.TapePoller, context.Context) {}
	setupSignalNotify = func(c chan<- os.Signal, sig ...os.Signal) {}
	waitForSignalFunc = func(<-chan os.Signal) {}
	startHTTPServerFunc = func(*http.Server) error { return http.ErrServerClosed }
	shutdownHTTPServerFunc = func(*http.Server, context.Context) error { return nil }

	return func() {
		loadConfigFunc = origLoadConfig
		initTracerFunc = origInitTracer
		initCacheFunc = origInitCache
		newRouterFunc = origNewRouter
		startTelegramBotFunc = origStartTelegram
		startTapePollerFunc = origStartTapePoller
		setupSignalNotify = origSetupSignal
		waitForSignalFunc = origWait
		startHTTPServerFunc = origStartHTTP
		shutdownHTTPServerFunc = origShutdownHTTP
	}
}
