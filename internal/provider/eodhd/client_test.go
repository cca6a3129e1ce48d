package eodhd

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finbot/internal/config"
	"finbot/internal/fetcher"
	"finbot/internal/httpclient"
)

func testClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	hc := httpclient.New(config.HTTPClientConfig{
		Timeout:         2 * time.Second,
		MaxRetries:      1,
		BackoffBase:     time.Millisecond,
		BackoffMax:      2 * time.Millisecond,
		RatePerMinute:   map[string]int{},
		UserAgent:       "finbot-test/1.0",
		MaxConnsPerHost: 4,
	}, Name)
	return New(hc, "demo", WithBaseURL(srv.URL))
}

func TestNormalizeSymbol(t *testing.T) {
	tests := []struct{ in, want string }{
		{"aapl", "AAPL.US"},
		{"AAPL.US", "AAPL.US"},
		{"VOD.LSE", "VOD.LSE"},
		{"^GSPC", "GSPC.INDX"},
		{"EURUSD=X", "EURUSD.FOREX"},
	}
	for _, tt := range tests {
		if got := NormalizeSymbol(tt.in); got != tt.want {
			t.Errorf("NormalizeSymbol(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestQuoteJSON(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/real-time/AAPL.US" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if r.URL.Query().Get("api_token") != "demo" {
			t.Error("api_token missing")
		}
		w.Write([]byte(`{"code":"AAPL.US","timestamp":1714651200,"open":149.5,"high":151.2,"low":148.9,"close":150.0,"volume":61234567,"previousClose":149.0,"change":1.0,"change_p":0.67}`))
	}))

	q, err := c.Quote(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Symbol != "AAPL.US" || q.Price != 150.0 || q.Change != 1.0 || q.ChangePercent != 0.67 {
		t.Errorf("quote = %+v", q)
	}
	if q.Volume == nil || *q.Volume != 61234567 {
		t.Errorf("volume = %v", q.Volume)
	}
	if q.Timestamp != time.Unix(1714651200, 0).UTC() {
		t.Errorf("timestamp = %v", q.Timestamp)
	}
}

func TestQuoteCSVFallback(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fmt") == "csv" {
			w.Write([]byte("code,timestamp,gmtoffset,open,high,low,close,volume,previousClose,change,change_p\nAAPL.US,1714651200,0,149.50,151.20,148.90,150.00,61234567,149.00,1.00,0.67\n"))
			return
		}
		// JSON endpoint serves an HTML error page.
		w.Write([]byte("<html>Service degraded</html>"))
	}))

	q, err := c.Quote(context.Background(), "AAPL")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Symbol != "AAPL.US" {
		t.Errorf("symbol = %q, want the payload's AAPL.US", q.Symbol)
	}
	if q.Price != 150.0 || q.Change != 1.0 || q.ChangePercent != 0.67 {
		t.Errorf("quote = %+v", q)
	}
	if q.PrevClose == nil || *q.PrevClose != 149.0 {
		t.Errorf("prev close = %v", q.PrevClose)
	}
}

func TestQuoteCSVWithoutCodeKeepsCallerSymbol(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("fmt") == "csv" {
			w.Write([]byte("timestamp,gmtoffset,open,high,low,close,volume,previousClose,change,change_p\n1714651200,0,149.50,151.20,148.90,150.00,61234567,149.00,1.00,0.67\n"))
			return
		}
		w.Write([]byte("<html>Service degraded</html>"))
	}))

	q, err := c.Quote(context.Background(), "aapl")
	if err != nil {
		t.Fatalf("Quote: %v", err)
	}
	if q.Symbol != "AAPL" {
		t.Errorf("symbol = %q, want the normalized caller symbol", q.Symbol)
	}
}

func TestQuoteAuthRejected(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	_, err := c.Quote(context.Background(), "AAPL")
	if !errors.Is(err, fetcher.ErrAuth) {
		t.Errorf("err = %v, want ErrAuth", err)
	}
}

func TestNoAPIKey(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be made without a key")
	}))
	c.apiKey = ""
	_, err := c.Quote(context.Background(), "AAPL")
	if !errors.Is(err, fetcher.ErrNoAPIKey) {
		t.Errorf("err = %v, want ErrNoAPIKey", err)
	}
}

func TestDaily(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/eod/AAPL.US" {
			t.Errorf("path = %s", r.URL.Path)
		}
		if got := r.URL.Query().Get("period"); got != "d" {
			t.Errorf("period = %q, want d", got)
		}
		w.Write([]byte(`[
			{"date":"2024-03-01","open":100,"high":102,"low":99,"close":101,"adjusted_close":100.5,"volume":1000},
			{"date":"2024-03-04","open":101,"high":103,"low":100,"close":102,"adjusted_close":101.5,"volume":1100}
		]`))
	}))

	f, err := c.Daily(context.Background(), "AAPL", time.Time{}, time.Time{})
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if f.Len() != 2 {
		t.Fatalf("len = %d, want 2", f.Len())
	}
	if got := f.Bar(1).AdjClose; got != 101.5 {
		t.Errorf("adj close = %v, want 101.5", got)
	}
}

func TestHistoryAggregationPeriods(t *testing.T) {
	var gotPeriod string
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPeriod = r.URL.Query().Get("period")
		w.Write([]byte(`[
			{"date":"2024-03-01","open":100,"high":102,"low":99,"close":101,"adjusted_close":100.5,"volume":1000},
			{"date":"2024-03-08","open":101,"high":103,"low":100,"close":102,"adjusted_close":101.5,"volume":1100}
		]`))
	}))

	for _, period := range []string{"w", "m"} {
		f, err := c.History(context.Background(), "AAPL", time.Time{}, time.Time{}, period)
		if err != nil {
			t.Fatalf("History(%s): %v", period, err)
		}
		if gotPeriod != period {
			t.Errorf("request period = %q, want %q", gotPeriod, period)
		}
		if f.Len() != 2 {
			t.Errorf("len = %d, want 2", f.Len())
		}
	}
}

func TestDailyEmpty(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	}))
	_, err := c.Daily(context.Background(), "AAPL", time.Time{}, time.Time{})
	if !errors.Is(err, fetcher.ErrUnavailable) {
		t.Errorf("err = %v, want ErrUnavailable", err)
	}
}

func TestOverviewAndFinancials(t *testing.T) {
	payload := `{
		"General": {"Code":"AAPL","Name":"Apple Inc","Sector":"Technology","Industry":"Consumer Electronics",
			"Description":"Designs smartphones.","WebURL":"www.apple.com","CountryName":"United States",
			"CurrencyCode":"USD","Exchange":"NASDAQ","IPODate":"1980-12-12","FullTimeEmployees":161000},
		"Highlights": {"MarketCapitalization":"2.87T"},
		"Financials": {
			"Income_Statement": {
				"yearly": {"2023-09-30": {"totalRevenue":"383285000000","netIncome":"96995000000"}},
				"quarterly": {"2023-12-30": {"totalRevenue":"119575000000","netIncome":"N/A"}}
			},
			"Balance_Sheet": {"yearly": {}, "quarterly": {}},
			"Cash_Flow": {"yearly": {"2023-09-30": {"freeCashFlow":"99584000000"}}}
		},
		"Earnings": {"History": {
			"2024-02-01": {"epsActual":2.18,"epsEstimate":2.10,"surprisePercent":3.8},
			"2023-11-02": {"epsActual":1.46,"epsEstimate":1.39,"surprisePercent":5.0}
		}}
	}`
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(payload))
	}))
	ctx := context.Background()

	ov, err := c.Overview(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Overview: %v", err)
	}
	if ov.Name != "Apple Inc" || ov.Sector != "Technology" {
		t.Errorf("overview = %+v", ov)
	}
	if ov.WebsiteURL != "https://www.apple.com" {
		t.Errorf("website = %q, want scheme fix-up", ov.WebsiteURL)
	}
	if ov.MarketCap == nil || *ov.MarketCap != 2.87e12 {
		t.Errorf("market cap = %v, want 2.87T parsed", ov.MarketCap)
	}
	if ov.Employees == nil || *ov.Employees != 161000 {
		t.Errorf("employees = %v", ov.Employees)
	}

	fin, err := c.Financials(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Financials: %v", err)
	}
	if fin.Income == nil || len(fin.Income.Annual) != 1 {
		t.Fatalf("income annual = %+v", fin.Income)
	}
	rev := fin.Income.Annual[0].Metrics["totalRevenue"]
	if rev == nil || *rev != 383285000000 {
		t.Errorf("totalRevenue = %v", rev)
	}
	// "N/A" line items become nil, not errors.
	if ni := fin.Income.Quarterly[0].Metrics["netIncome"]; ni != nil {
		t.Errorf("N/A metric should be nil, got %v", *ni)
	}
	if fin.Balance != nil {
		t.Error("empty balance sheet should map to nil group")
	}

	earnings, err := c.Earnings(ctx, "AAPL")
	if err != nil {
		t.Fatalf("Earnings: %v", err)
	}
	if len(earnings) != 2 || !earnings[0].Period.After(earnings[1].Period) {
		t.Errorf("earnings order = %+v", earnings)
	}
}

func TestNews(t *testing.T) {
	c := testClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("s") != "AAPL.US" {
			t.Errorf("s = %q", r.URL.Query().Get("s"))
		}
		w.Write([]byte(`[
			{"date":"2024-03-01T12:00:00+00:00","title":"Apple ships product","content":"Details.","link":"//news.example.com/a","symbols":["AAPL.US"],"sentiment":{"polarity":0.6}},
			{"date":"2024-03-01T10:00:00+00:00","title":"","content":"","link":"https://news.example.com/b","symbols":[],"sentiment":{"polarity":0}}
		]`))
	}))

	items, err := c.News(context.Background(), "AAPL", 10)
	if err != nil {
		t.Fatalf("News: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("len = %d, want 1 (untitled dropped)", len(items))
	}
	if items[0].URL != "https://news.example.com/a" {
		t.Errorf("url = %q, want protocol-relative fix-up", items[0].URL)
	}
	if items[0].Sentiment == nil || *items[0].Sentiment != 0.6 {
		t.Errorf("sentiment = %v", items[0].Sentiment)
	}
}
