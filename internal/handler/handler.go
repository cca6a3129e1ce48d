// Package handler exposes the HTTP surface: stock data, chat, ticker tape
// and the model catalogue, all mounted under /api/v1.
package handler

import (
	"crypto/rand"
	"encoding/hex"
	"strings"
	"time"

	"finbot/internal/ai"
	"finbot/internal/metrics"
	"finbot/internal/service"

	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
	"go.opentelemetry.io/otel/trace"
)

type Handler struct {
	tracer trace.Tracer
	stocks *service.StockService
	tape   *service.TickerTapeService
	chat   *ai.Pipeline

	metricsEnabled bool
}

func New(
	tracer trace.Tracer,
	stocks *service.StockService,
	tape *service.TickerTapeService,
	chat *ai.Pipeline,
	metricsEnabled bool,
) *Handler {
	return &Handler{
		tracer:         tracer,
		stocks:         stocks,
		tape:           tape,
		chat:           chat,
		metricsEnabled: metricsEnabled,
	}
}

func (h *Handler) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", h.Health)
	r.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	if h.metricsEnabled {
		r.GET("/metrics", gin.WrapH(metrics.Handler()))
	}

	v1 := r.Group("/api/v1")
	stock := v1.Group("/stock")
	stock.GET("/header/:symbol", h.GetStockHeader)
	stock.GET("/chart/:symbol", h.GetStockChart)
	stock.GET("/fundamentals/:symbol", h.GetStockFundamentals)
	stock.GET("/technical-analysis/:symbol", h.GetTechnicalAnalysis)
	stock.GET("/news/:symbol", h.GetStockNews)
	stock.GET("/ai-summary/:symbol", h.GetAISummary)
	stock.POST("/chat/model", h.SetChatModel)
	stock.PATCH("/chat/deep_toggle", h.ToggleDeep)
	stock.POST("/chat/:ticker", h.PostChat)
	stock.POST("/chat/:ticker/stream", h.PostChatStream)
	stock.POST("/chat/:ticker/deep", h.PostChatDeep)
	stock.GET("/ticker-tape", h.GetTickerTape)
	stock.GET("/ticker-tape/", h.GetTickerTape)

	v1.GET("/market/news", h.GetMarketNews)
	v1.GET("/ai/models", h.GetModels)
}

// Health godoc
// @Summary      Liveness probe
// @Tags         system
// @Produce      json
// @Success      200  {object}  map[string]string
// @Router       /health [get]
func (h *Handler) Health(c *gin.Context) {
	c.JSON(200, gin.H{"status": "ok"})
}

// metadata is attached to every data response.
type metadata struct {
	Symbol           string `json:"symbol,omitempty"`
	Timestamp        string `json:"timestamp"`
	ProcessingTimeMS int64  `json:"processing_time_ms"`
	DataQuality      string `json:"data_quality"`
	Source           string `json:"source,omitempty"`
	RequestID        string `json:"request_id"`
	CacheHit         bool   `json:"cache_hit"`
}

func newMetadata(c *gin.Context, symbol string, start time.Time) metadata {
	return metadata{
		Symbol:           symbol,
		Timestamp:        time.Now().UTC().Format(time.RFC3339),
		ProcessingTimeMS: time.Since(start).Milliseconds(),
		DataQuality:      "full",
		RequestID:        requestID(c),
	}
}

func requestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	buf := make([]byte, 8)
	if _, err := rand.Read(buf); err != nil {
		return "unknown"
	}
	return hex.EncodeToString(buf)
}

// wantsEventStream reports whether the client negotiated SSE.
func wantsEventStream(c *gin.Context) bool {
	for _, part := range strings.Split(c.GetHeader("Accept"), ",") {
		mt, _, _ := strings.Cut(part, ";")
		if strings.TrimSpace(mt) == "text/event-stream" {
			return true
		}
	}
	return false
}
