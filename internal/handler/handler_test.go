package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/openai/openai-go/option"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel/trace"

	"finbot/internal/ai"
	"finbot/internal/cache"
	"finbot/internal/config"
	"finbot/internal/domain"
	"finbot/internal/fetcher"
	"finbot/internal/service"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func testCache(t *testing.T) *cache.Service {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })
	return cache.NewWithClient(rdb, config.Load())
}

func src[T any](name string, fn func(symbol string) (T, error)) fetcher.Source[T] {
	return fetcher.Source[T]{
		Name:  name,
		Fetch: func(ctx context.Context, symbol string) (T, error) { return fn(symbol) },
	}
}

func dailyFrame(n int) *domain.Frame {
	frame := domain.NewFrame()
	base := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		p := 100 + float64(i)
		frame.AppendBar(domain.Bar{
			Timestamp: base.AddDate(0, 0, i),
			Open:      p - 0.5,
			High:      p + 1,
			Low:       p - 1,
			Close:     p,
			AdjClose:  p,
			Volume:    1000,
		})
	}
	return frame
}

// openRouterStub speaks just enough chat-completions SSE for the client.
func openRouterStub(t *testing.T, tokens []string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		for _, tok := range tokens {
			fmt.Fprintf(w, "data: {\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", tok)
		}
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
}

// testRouter wires the full stack against miniredis and a stubbed
// OpenRouter endpoint. Quote and chart sources serve a single healthy
// symbol, AAPL; everything else reports the symbol unknown.
func testRouter(t *testing.T, tokens []string) *gin.Engine {
	t.Helper()
	c := testCache(t)
	tracer := trace.NewNoopTracerProvider().Tracer("test")

	quotes := &fetcher.Pipeline[domain.Quote]{
		Cache:    c,
		DataType: domain.DataTypeQuote,
		Sources: []fetcher.Source[domain.Quote]{src("eodhd", func(symbol string) (domain.Quote, error) {
			if symbol != "AAPL" {
				return domain.Quote{}, fetcher.ErrInvalidSymbol
			}
			return domain.Quote{Symbol: "AAPL", Price: 150.25, Change: 1.2, ChangePercent: 0.8, Currency: "USD"}, nil
		})},
	}
	pipes := service.Pipelines{
		Quote: quotes,
		Overview: &fetcher.Pipeline[*domain.CompanyOverview]{
			Cache:    c,
			DataType: domain.DataTypeCompanyInfo,
			Sources: []fetcher.Source[*domain.CompanyOverview]{src("fmp", func(symbol string) (*domain.CompanyOverview, error) {
				if symbol != "AAPL" {
					return nil, fetcher.ErrInvalidSymbol
				}
				return &domain.CompanyOverview{Symbol: "AAPL", Name: "Apple Inc", Sector: "Technology", Industry: "Consumer Electronics"}, nil
			})},
		},
		Financials: &fetcher.Pipeline[*domain.Financials]{
			Cache:    c,
			DataType: domain.DataTypeFinancials,
			Sources: []fetcher.Source[*domain.Financials]{src("fmp", func(symbol string) (*domain.Financials, error) {
				return nil, errors.New("statements endpoint down")
			})},
		},
		Earnings: &fetcher.Pipeline[[]domain.EarningsRecord]{
			Cache:    c,
			DataType: domain.DataTypeEarnings,
			Sources: []fetcher.Source[[]domain.EarningsRecord]{src("eodhd", func(symbol string) ([]domain.EarningsRecord, error) {
				return nil, errors.New("earnings endpoint down")
			})},
		},
		News: []*fetcher.Pipeline[[]domain.NewsItem]{
			{
				Cache:    c,
				DataType: domain.DataTypeNews,
				Sources: []fetcher.Source[[]domain.NewsItem]{src("marketaux", func(symbol string) ([]domain.NewsItem, error) {
					return []domain.NewsItem{{
						Title:       "Apple ships new thing",
						URL:         "https://example.com/apple",
						Source:      "Example Wire",
						PublishedAt: time.Now().UTC().Add(-2 * time.Hour),
						Sentiment:   ptr(0.4),
					}}, nil
				})},
			},
		},
	}
	charts := []service.ChartSource{{
		Name: "eodhd",
		Fetch: func(ctx context.Context, symbol, period, interval string) (*domain.Frame, error) {
			if symbol != "AAPL" {
				return nil, fetcher.ErrInvalidSymbol
			}
			frame := dailyFrame(250)
			frame.Meta[domain.MetaCurrency] = "EUR"
			return frame, nil
		},
	}}

	stocks := service.NewStockService(tracer, pipes, service.ChartPipelineBuilder(c, charts, time.Second), service.NewsPolicy{})
	tape := service.NewTickerTapeService(tracer, c, quotes, []string{"AAPL"}, time.Minute)

	server := openRouterStub(t, tokens)
	t.Cleanup(server.Close)
	cfg := config.Load()
	cfg.Keys.OpenRouter = "test-key"
	cfg.AI.BaseURL = server.URL
	chat := ai.NewPipeline(tracer, c, stocks, cfg, ai.NewCatalogue(), option.WithMaxRetries(0))

	r := gin.New()
	New(tracer, stocks, tape, chat, true).RegisterRoutes(r)
	return r
}

func ptr(v float64) *float64 { return &v }

func do(t *testing.T, r *gin.Engine, method, path, body string, header map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", w.Body.String(), err)
	}
	return out
}

func TestHealth(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodGet, "/health", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestGetStockHeader(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodGet, "/api/v1/stock/header/aapl", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	data := out["data"].(map[string]any)
	if data["symbol"] != "AAPL" || data["name"] != "Apple Inc" {
		t.Errorf("data = %v", data)
	}
	meta := out["metadata"].(map[string]any)
	if meta["symbol"] != "AAPL" || meta["source"] != "eodhd" {
		t.Errorf("metadata = %v", meta)
	}
	if meta["request_id"] == "" {
		t.Error("request_id missing")
	}
}

func TestGetStockHeaderUnknownSymbol(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodGet, "/api/v1/stock/header/NOPE", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestRequestIDPassthrough(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodGet, "/api/v1/stock/header/AAPL", "", map[string]string{"X-Request-ID": "req-42"})
	out := decode(t, w)
	meta := out["metadata"].(map[string]any)
	if meta["request_id"] != "req-42" {
		t.Errorf("request_id = %v, want req-42", meta["request_id"])
	}
}

func TestGetStockChart(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodGet, "/api/v1/stock/chart/AAPL?period=6mo&interval=1d", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	chart := out["chart_data"].(map[string]any)
	if chart["period"] != "6mo" || chart["interval"] != "1d" || chart["symbol"] != "AAPL" {
		t.Errorf("chart envelope = %v", chart)
	}
	if chart["currency"] != "EUR" {
		t.Errorf("currency = %v, want the frame's EUR", chart["currency"])
	}
	if bars := chart["ohlcv"].([]any); len(bars) != 250 {
		t.Errorf("bars = %d, want 250", len(bars))
	}
	meta := out["metadata"].(map[string]any)
	if meta["cache_hit"] != false {
		t.Errorf("cold chart cache_hit = %v, want false", meta["cache_hit"])
	}
}

func TestGetStockChartCacheHitOnRepeat(t *testing.T) {
	r := testRouter(t, nil)
	first := do(t, r, http.MethodGet, "/api/v1/stock/chart/AAPL?period=6mo&interval=1d", "", nil)
	if first.Code != http.StatusOK {
		t.Fatalf("cold status = %d", first.Code)
	}

	second := do(t, r, http.MethodGet, "/api/v1/stock/chart/AAPL?period=6mo&interval=1d", "", nil)
	if second.Code != http.StatusOK {
		t.Fatalf("warm status = %d", second.Code)
	}
	out := decode(t, second)
	meta := out["metadata"].(map[string]any)
	if meta["cache_hit"] != true {
		t.Errorf("warm chart cache_hit = %v, want true", meta["cache_hit"])
	}
	if !reflect.DeepEqual(decode(t, first)["chart_data"], out["chart_data"]) {
		t.Error("warm payload should match the cold one")
	}
}

func TestGetStockChartRejectsBadPeriod(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodGet, "/api/v1/stock/chart/AAPL?period=3sec", "", nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetStockFundamentalsPartial(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodGet, "/api/v1/stock/fundamentals/AAPL", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["overview"] == nil {
		t.Error("overview should survive the failed statement legs")
	}
	meta := out["metadata"].(map[string]any)
	if meta["data_quality"] != "partial" {
		t.Errorf("data_quality = %v, want partial", meta["data_quality"])
	}
}

func TestGetTechnicalAnalysis(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodGet, "/api/v1/stock/technical-analysis/AAPL", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	ta := out["technical_analysis"].(map[string]any)
	latest := ta["latest_indicators"].(map[string]any)
	if _, ok := latest["sma_200"]; !ok {
		t.Errorf("latest indicators = %v", latest)
	}
}

func TestGetStockNews(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodGet, "/api/v1/stock/news/AAPL?limit=5", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if news := out["news"].([]any); len(news) != 1 {
		t.Errorf("news = %v", news)
	}
	ss := out["sentiment_summary"].(map[string]any)
	if ss["news_count"].(float64) != 1 {
		t.Errorf("sentiment_summary = %v", ss)
	}
}

func TestGetTickerTape(t *testing.T) {
	r := testRouter(t, nil)

	w := do(t, r, http.MethodGet, "/api/v1/stock/ticker-tape", "", nil)
	out := decode(t, w)
	meta := out["metadata"].(map[string]any)
	if meta["data_quality"] != "empty" {
		t.Errorf("cold tape data_quality = %v", meta["data_quality"])
	}

	w = do(t, r, http.MethodGet, "/api/v1/stock/ticker-tape/?force_refresh=true", "", nil)
	out = decode(t, w)
	data := out["data"].([]any)
	if len(data) != 1 {
		t.Fatalf("tape entries = %v", data)
	}
	entry := data[0].(map[string]any)
	if entry["symbol"] != "AAPL" {
		t.Errorf("entry = %v", entry)
	}
	meta = out["metadata"].(map[string]any)
	if meta["data_source"] != "real_api" {
		t.Errorf("forced tape data_source = %v", meta["data_source"])
	}
}

func TestGetModels(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodGet, "/api/v1/ai/models", "", nil)
	out := decode(t, w)
	if models := out["models"].([]any); len(models) == 0 {
		t.Error("model catalogue empty")
	}
}

func TestSetChatModel(t *testing.T) {
	r := testRouter(t, nil)

	w := do(t, r, http.MethodPost, "/api/v1/stock/chat/model", `{"session_id":"s1","model":"openai/gpt-4o-mini"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}

	w = do(t, r, http.MethodPost, "/api/v1/stock/chat/model", `{"session_id":"s1","model":"made/up"}`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("unknown model status = %d, want 400", w.Code)
	}
}

func TestToggleDeep(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodPatch, "/api/v1/stock/chat/deep_toggle", `{"chat_id":"c1","needs_deep":true}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if out["needs_deep"] != true {
		t.Errorf("body = %v", out)
	}
}

func TestPostChat(t *testing.T) {
	r := testRouter(t, []string{"Looks ", "fine."})
	w := do(t, r, http.MethodPost, "/api/v1/stock/chat/AAPL", `{"message":"how is AAPL trading today?"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if resp := out["response"].(string); !strings.Contains(resp, "Looks fine.") {
		t.Errorf("response = %q", resp)
	}
}

func TestPostChatStreamFrames(t *testing.T) {
	r := testRouter(t, []string{"AAPL ", "is ", "up."})
	w := do(t, r, http.MethodPost, "/api/v1/stock/chat/AAPL/stream", `{"message":"how is AAPL trading today?"}`, nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: 1000\n\n") {
		t.Errorf("missing retry preamble: %q", body)
	}
	if !strings.Contains(body, `"type":"token"`) {
		t.Errorf("no token frames: %q", body)
	}
	if !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("missing terminator: %q", body)
	}
	if ct := w.Header().Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("content type = %q", ct)
	}
}

func TestPostChatStreamRejectsBadBody(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodPost, "/api/v1/stock/chat/AAPL/stream", `{"message":`, nil)
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestGetAISummaryJSON(t *testing.T) {
	r := testRouter(t, []string{"Solid ", "quarter."})
	w := do(t, r, http.MethodGet, "/api/v1/stock/ai-summary/AAPL", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	out := decode(t, w)
	if sum := out["summary"].(string); !strings.Contains(sum, "Solid quarter.") {
		t.Errorf("summary = %q", sum)
	}
	meta := out["metadata"].(map[string]any)
	if meta["cache_hit"] != false {
		t.Errorf("first call should miss the cache: %v", meta)
	}

	w = do(t, r, http.MethodGet, "/api/v1/stock/ai-summary/AAPL", "", nil)
	out = decode(t, w)
	meta = out["metadata"].(map[string]any)
	if meta["cache_hit"] != true {
		t.Errorf("second call should hit the cache: %v", meta)
	}
}

func TestGetAISummarySSE(t *testing.T) {
	r := testRouter(t, []string{"Solid ", "quarter."})
	w := do(t, r, http.MethodGet, "/api/v1/stock/ai-summary/AAPL", "", map[string]string{"Accept": "text/event-stream"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.HasPrefix(body, "retry: 1000\n\n") || !strings.HasSuffix(body, "data: [DONE]\n\n") {
		t.Errorf("not an SSE stream: %q", body)
	}
}

func TestGetAISummaryUnknownSymbol(t *testing.T) {
	r := testRouter(t, nil)
	w := do(t, r, http.MethodGet, "/api/v1/stock/ai-summary/NOPE", "", nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	r := testRouter(t, nil)
	do(t, r, http.MethodGet, "/api/v1/stock/header/AAPL", "", nil)
	w := do(t, r, http.MethodGet, "/metrics", "", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "finbot_") {
		t.Error("expected finbot metrics in exposition")
	}
}
