package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"finbot/internal/domain"
	"finbot/internal/service"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

func forceRefresh(c *gin.Context) bool {
	return c.Query("force_refresh") == "true"
}

// GetStockHeader godoc
// @Summary      Basic quote for the stock header
// @Description  Latest price, day range, company name and classification
// @Tags         stock
// @Produce      json
// @Param        symbol         path   string  true   "Ticker symbol"
// @Param        force_refresh  query  bool    false  "Bypass the cache"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/stock/header/{symbol} [get]
func (h *Handler) GetStockHeader(c *gin.Context) {
	start := time.Now()
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.stock-header")
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	basic, source, cacheHit, err := h.stocks.GetBasicStockData(ctx, symbol, forceRefresh(c))
	if err != nil {
		if errors.Is(err, service.ErrUnknownSymbol) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol: " + symbol})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	meta := newMetadata(c, symbol, start)
	meta.Source = source
	meta.CacheHit = cacheHit
	if basic.Sector == "" {
		meta.DataQuality = "partial"
	}
	c.JSON(http.StatusOK, gin.H{"metadata": meta, "data": basic})
}

type chartBar struct {
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	AdjClose  float64   `json:"adj_close"`
	Volume    int64     `json:"volume"`
}

// GetStockChart godoc
// @Summary      OHLCV chart data
// @Tags         stock
// @Produce      json
// @Param        symbol         path   string  true   "Ticker symbol"
// @Param        period         query  string  false  "Lookback window"  default(1y)
// @Param        interval       query  string  false  "Bar size"         default(1d)
// @Param        force_refresh  query  bool    false  "Bypass the cache"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/stock/chart/{symbol} [get]
func (h *Handler) GetStockChart(c *gin.Context) {
	start := time.Now()
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.stock-chart")
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	period := c.DefaultQuery("period", "1y")
	interval := c.DefaultQuery("interval", "1d")
	if !domain.IsSupportedPeriod(period) || !domain.IsSupportedInterval(interval) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unsupported period or interval"})
		return
	}

	frame, source, cacheHit, err := h.stocks.GetChartData(ctx, symbol, period, interval, forceRefresh(c))
	if err != nil {
		if errors.Is(err, service.ErrUnknownSymbol) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol: " + symbol})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	bars := make([]chartBar, frame.Len())
	for i := range bars {
		b := frame.Bar(i)
		bars[i] = chartBar{
			Timestamp: b.Timestamp,
			Open:      b.Open,
			High:      b.High,
			Low:       b.Low,
			Close:     b.Close,
			AdjClose:  b.AdjClose,
			Volume:    int64(b.Volume),
		}
	}

	currency := frame.Meta[domain.MetaCurrency]
	if currency == "" {
		currency = "USD"
	}

	meta := newMetadata(c, symbol, start)
	meta.Source = source
	meta.CacheHit = cacheHit
	c.JSON(http.StatusOK, gin.H{
		"metadata": meta,
		"chart_data": gin.H{
			"symbol":   symbol,
			"ohlcv":    bars,
			"period":   period,
			"interval": interval,
			"currency": currency,
			"timezone": "UTC",
		},
	})
}

// GetStockFundamentals godoc
// @Summary      Company overview, statements and earnings history
// @Tags         stock
// @Produce      json
// @Param        symbol         path   string  true   "Ticker symbol"
// @Param        force_refresh  query  bool    false  "Bypass the cache"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/stock/fundamentals/{symbol} [get]
func (h *Handler) GetStockFundamentals(c *gin.Context) {
	start := time.Now()
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.stock-fundamentals")
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	overview, financials, earnings, cacheHit, err := h.stocks.GetFundamentalsData(ctx, symbol, forceRefresh(c))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "no fundamentals for symbol: " + symbol})
		return
	}

	meta := newMetadata(c, symbol, start)
	meta.CacheHit = cacheHit
	if overview == nil || financials == nil || earnings == nil {
		meta.DataQuality = "partial"
	}
	c.JSON(http.StatusOK, gin.H{
		"metadata":   meta,
		"overview":   overview,
		"financials": financials,
		"earnings":   earnings,
	})
}

// GetTechnicalAnalysis godoc
// @Summary      Indicator snapshot computed from cached OHLCV
// @Tags         stock
// @Produce      json
// @Param        symbol         path   string  true   "Ticker symbol"
// @Param        force_refresh  query  bool    false  "Bypass the cache"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/stock/technical-analysis/{symbol} [get]
func (h *Handler) GetTechnicalAnalysis(c *gin.Context) {
	start := time.Now()
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.technical-analysis")
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	ta, source, cacheHit, err := h.stocks.GetTechnicalAnalysisData(ctx, symbol, forceRefresh(c))
	if err != nil {
		if errors.Is(err, service.ErrUnknownSymbol) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol: " + symbol})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	meta := newMetadata(c, symbol, start)
	meta.Source = source
	meta.CacheHit = cacheHit
	if ta == nil {
		// Thin history is a valid state, not an error.
		meta.DataQuality = "empty"
		c.JSON(http.StatusOK, gin.H{"metadata": meta, "note": "No data available"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metadata": meta, "technical_analysis": ta})
}

// GetStockNews godoc
// @Summary      Merged news feed with sentiment summary
// @Tags         stock
// @Produce      json
// @Param        symbol         path   string  true   "Ticker symbol"
// @Param        limit          query  int     false  "Max articles"  default(10)
// @Param        force_refresh  query  bool    false  "Bypass the cache"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/stock/news/{symbol} [get]
func (h *Handler) GetStockNews(c *gin.Context) {
	start := time.Now()
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.stock-news")
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))

	items, sources, cacheHit, err := h.stocks.GetNewsData(ctx, symbol, limit, forceRefresh(c))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	meta := newMetadata(c, symbol, start)
	meta.CacheHit = cacheHit
	if len(sources) > 0 {
		meta.Source = sources[0]
	}
	if len(items) == 0 {
		meta.DataQuality = "empty"
	}
	c.JSON(http.StatusOK, gin.H{
		"metadata":          meta,
		"news":              items,
		"sentiment_summary": service.SummarizeSentiment(items),
	})
}

// GetMarketNews godoc
// @Summary      Broad-market news feed
// @Tags         market
// @Produce      json
// @Param        limit  query  int  false  "Max articles"  default(10)
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/market/news [get]
func (h *Handler) GetMarketNews(c *gin.Context) {
	start := time.Now()
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.market-news")
	defer span.End()

	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "10"))
	items, _, cacheHit, err := h.stocks.GetNewsData(ctx, marketNewsProxy, limit, false)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	meta := newMetadata(c, "", start)
	meta.CacheHit = cacheHit
	c.JSON(http.StatusOK, gin.H{"metadata": meta, "news": items})
}

// marketNewsProxy is the symbol the market feed is keyed on; the broad
// index ETF attracts general market coverage on every news provider.
const marketNewsProxy = "SPY"

// tapeMetadata adds the tape's data_source tag to the shared envelope.
type tapeMetadata struct {
	metadata
	DataSource string `json:"data_source"`
}

// GetTickerTape godoc
// @Summary      Cached ticker tape quotes
// @Tags         market
// @Produce      json
// @Param        limit          query  int   false  "Max symbols"
// @Param        force_refresh  query  bool  false  "Refresh before reading"
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/stock/ticker-tape [get]
func (h *Handler) GetTickerTape(c *gin.Context) {
	start := time.Now()
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.ticker-tape")
	defer span.End()

	limit, _ := strconv.Atoi(c.Query("limit"))
	entries, source := h.tape.Read(ctx, limit, forceRefresh(c))

	meta := tapeMetadata{metadata: newMetadata(c, "", start), DataSource: source}
	switch source {
	case "empty":
		meta.DataQuality = "empty"
	case "cache":
		meta.CacheHit = true
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "data": entries, "metadata": meta})
}
