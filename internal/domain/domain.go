package domain

import (
	"strings"
	"time"
)

// Data kinds used in cache keys and provider priority lists.
const (
	DataTypeQuote         = "quote"
	DataTypeCompanyInfo   = "company_info"
	DataTypeFinancials    = "financials"
	DataTypeEarnings      = "earnings"
	DataTypeOHLCVDaily    = "ohlcv_daily"
	DataTypeOHLCVIntraday = "ohlcv_intraday"
	DataTypeNews          = "news"
	DataTypeTickerTape    = "ticker_tape"
)

// SupportedPeriods are the chart lookback windows accepted by the chart endpoint.
var SupportedPeriods = []string{"1d", "5d", "1mo", "3mo", "6mo", "1y", "2y", "5y", "10y", "max"}

// SupportedIntervals are the bar sizes accepted by the chart endpoint.
var SupportedIntervals = []string{"1m", "2m", "5m", "15m", "30m", "60m", "90m", "1h", "1d", "5d", "1wk", "1mo", "3mo"}

func IsSupportedPeriod(p string) bool {
	for _, v := range SupportedPeriods {
		if v == p {
			return true
		}
	}
	return false
}

func IsSupportedInterval(i string) bool {
	for _, v := range SupportedIntervals {
		if v == i {
			return true
		}
	}
	return false
}

// IsIntradayInterval reports whether the interval is finer than one day.
func IsIntradayInterval(i string) bool {
	switch i {
	case "1m", "2m", "5m", "15m", "30m", "60m", "90m", "1h":
		return true
	}
	return false
}

// NormalizeSymbol upper-cases and trims a raw ticker. Provider adapters apply
// their own exchange-suffix rules on top of this.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// IsIndexSymbol reports whether the symbol is an index ticker (^GSPC).
func IsIndexSymbol(symbol string) bool {
	return strings.HasPrefix(symbol, "^")
}

// IsForexSymbol reports whether the symbol is a forex pair (EURUSD=X).
func IsForexSymbol(symbol string) bool {
	return strings.Contains(symbol, "=")
}

// Quote is a normalized latest-price snapshot.
type Quote struct {
	Symbol        string    `json:"symbol"`
	Name          string    `json:"name,omitempty"`
	Price         float64   `json:"price"`
	Change        float64   `json:"change"`
	ChangePercent float64   `json:"change_percent"`
	Open          *float64  `json:"open,omitempty"`
	DayHigh       *float64  `json:"day_high,omitempty"`
	DayLow        *float64  `json:"day_low,omitempty"`
	PrevClose     *float64  `json:"prev_close,omitempty"`
	Volume        *int64    `json:"volume,omitempty"`
	MarketCap     *float64  `json:"market_cap,omitempty"`
	Currency      string    `json:"currency,omitempty"`
	Exchange      string    `json:"exchange,omitempty"`
	Timestamp     time.Time `json:"timestamp"`
}

// CompanyOverview holds descriptive company data. Any field may be absent.
type CompanyOverview struct {
	Symbol      string     `json:"symbol"`
	Name        string     `json:"name,omitempty"`
	Sector      string     `json:"sector,omitempty"`
	Industry    string     `json:"industry,omitempty"`
	Country     string     `json:"country,omitempty"`
	Currency    string     `json:"currency,omitempty"`
	Exchange    string     `json:"exchange,omitempty"`
	Description string     `json:"description,omitempty"`
	WebsiteURL  string     `json:"website_url,omitempty"`
	MarketCap   *float64   `json:"market_cap,omitempty"`
	Employees   *int64     `json:"employees,omitempty"`
	ListingDate *time.Time `json:"listing_date,omitempty"`
}

// StatementPeriod is one reporting period of a financial statement: the
// period-ending date (00:00 UTC) and a flat map of numeric metrics. A nil
// metric value means the upstream reported the line item without a number.
type StatementPeriod struct {
	PeriodEnding time.Time           `json:"period_ending"`
	Metrics      map[string]*float64 `json:"metrics"`
}

// Statement is a series of reporting periods, most recent first.
type Statement []StatementPeriod

// StatementGroup carries both cadences of one statement kind. A nil cadence
// means that statement was not available upstream; it is never inferred.
type StatementGroup struct {
	Annual    Statement `json:"annual"`
	Quarterly Statement `json:"quarterly"`
}

// Financials bundles the three statement kinds.
type Financials struct {
	Income   *StatementGroup `json:"income"`
	Balance  *StatementGroup `json:"balance"`
	Cashflow *StatementGroup `json:"cashflow"`
}

// EarningsRecord is one quarterly earnings report.
type EarningsRecord struct {
	Period          time.Time `json:"period"`
	ReportedEPS     *float64  `json:"reported_eps"`
	EstimatedEPS    *float64  `json:"estimated_eps"`
	SurprisePercent *float64  `json:"surprise_percent"`
}

// NewsItem is a normalized news article.
type NewsItem struct {
	PublishedAt time.Time `json:"published_at"`
	Title       string    `json:"title"`
	Summary     string    `json:"summary,omitempty"`
	URL         string    `json:"url"`
	Source      string    `json:"source,omitempty"`
	Tickers     []string  `json:"tickers,omitempty"`
	Sentiment   *float64  `json:"sentiment,omitempty"`
	Relevance   *float64  `json:"relevance,omitempty"`
}

// IndicatorValue is the latest value of one indicator and the bar timestamp
// it was computed from.
type IndicatorValue struct {
	Value     float64   `json:"value"`
	Timestamp time.Time `json:"timestamp"`
}

// LatestIndicators maps indicator name to its most recent value.
type LatestIndicators map[string]IndicatorValue

// PivotLevels are support/resistance levels from standard pivot analysis.
type PivotLevels struct {
	Pivot float64 `json:"pivot"`
	R1    float64 `json:"r1"`
	R2    float64 `json:"r2"`
	R3    float64 `json:"r3"`
	S1    float64 `json:"s1"`
	S2    float64 `json:"s2"`
	S3    float64 `json:"s3"`
}

// FibonacciLevels are retracement levels from the last significant swing.
type FibonacciLevels struct {
	SwingHigh float64 `json:"swing_high"`
	SwingLow  float64 `json:"swing_low"`
	IsUptrend bool    `json:"is_uptrend"`
	Level236  float64 `json:"level_236"`
	Level382  float64 `json:"level_382"`
	Level500  float64 `json:"level_500"`
	Level618  float64 `json:"level_618"`
	Level786  float64 `json:"level_786"`
}

// TechnicalAnalysis is the payload of the technical-analysis endpoint.
type TechnicalAnalysis struct {
	Symbol    string                `json:"symbol"`
	Latest    LatestIndicators      `json:"latest_indicators"`
	History   map[string][]*float64 `json:"history,omitempty"`
	Signals   []string              `json:"signals,omitempty"`
	Pivots    *PivotLevels          `json:"pivots,omitempty"`
	Fibonacci *FibonacciLevels      `json:"fibonacci,omitempty"`
	Note      string                `json:"note,omitempty"`
}

// OHLCVSummary is a compact description of a frame, used in the rich
// aggregate instead of the full bar series.
type OHLCVSummary struct {
	Bars        int       `json:"bars"`
	First       time.Time `json:"first"`
	Last        time.Time `json:"last"`
	LastClose   float64   `json:"last_close"`
	PeriodHigh  float64   `json:"period_high"`
	PeriodLow   float64   `json:"period_low"`
	TotalVolume int64     `json:"total_volume"`
}

// FinBotStockResponse is the rich aggregate assembled from several fetchers.
// It is also the grounding context for AI prompts.
type FinBotStockResponse struct {
	Symbol          string           `json:"symbol"`
	Quote           *Quote           `json:"quote"`
	CompanyOverview *CompanyOverview `json:"company_overview"`
	Financials      *Financials      `json:"financials"`
	Earnings        []EarningsRecord `json:"earnings"`
	News            []NewsItem       `json:"news"`
	Indicators      LatestIndicators `json:"latest_indicators"`
	OHLCVSummary    *OHLCVSummary    `json:"ohlcv_summary,omitempty"`
	Legs            map[string]bool  `json:"legs"`
}

// Empty reports whether every leg of the aggregate failed.
func (r *FinBotStockResponse) Empty() bool {
	if r == nil {
		return true
	}
	for _, ok := range r.Legs {
		if ok {
			return false
		}
	}
	return true
}

// BasicStockData backs the header endpoint.
type BasicStockData struct {
	Symbol        string   `json:"symbol"`
	Name          string   `json:"name,omitempty"`
	Price         float64  `json:"price"`
	Change        float64  `json:"change"`
	ChangePercent float64  `json:"change_percent"`
	DayHigh       *float64 `json:"day_high,omitempty"`
	DayLow        *float64 `json:"day_low,omitempty"`
	PrevClose     *float64 `json:"prev_close,omitempty"`
	MarketCap     *float64 `json:"market_cap,omitempty"`
	Currency      string   `json:"currency,omitempty"`
	Exchange      string   `json:"exchange,omitempty"`
	Sector        string   `json:"sector,omitempty"`
	Industry      string   `json:"industry,omitempty"`
}

// TickerTapeEntry is one symbol on the ticker tape.
type TickerTapeEntry struct {
	Symbol        string  `json:"symbol"`
	Price         float64 `json:"price"`
	Change        float64 `json:"change"`
	ChangePercent float64 `json:"change_percent"`
}

// Chat roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// ChatMessage is one turn of conversation history.
type ChatMessage struct {
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// ChatRequest is an incoming chat call: ordered history plus the question.
type ChatRequest struct {
	Message   string        `json:"message"`
	History   []ChatMessage `json:"history,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	ChatID    string        `json:"chat_id,omitempty"`
	Model     string        `json:"model,omitempty"`
}
