package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"finbot/internal/ai"
	"finbot/internal/domain"
	"finbot/internal/sse"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
)

// GetAISummary godoc
// @Summary      AI-generated stock summary
// @Description  Returns the cached summary as JSON, or streams it token by
// @Description  token when the client accepts text/event-stream.
// @Tags         ai
// @Produce      json
// @Param        symbol         path    string  true   "Ticker symbol"
// @Param        force_refresh  query   bool    false  "Regenerate the summary"
// @Param        Accept         header  string  false  "text/event-stream for SSE"
// @Success      200  {object}  map[string]interface{}
// @Failure      404  {object}  map[string]string
// @Router       /api/v1/stock/ai-summary/{symbol} [get]
func (h *Handler) GetAISummary(c *gin.Context) {
	if !h.requireChat(c) {
		return
	}
	start := time.Now()
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.ai-summary")
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("symbol"))
	span.SetAttributes(attribute.String("symbol", symbol))

	text, cached, err := h.chat.Summary(ctx, symbol, forceRefresh(c))
	if err != nil {
		if errors.Is(err, ai.ErrNoContext) {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown symbol: " + symbol})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}

	if wantsEventStream(c) {
		if err := sse.StreamText(c.Writer, text); err != nil {
			span.RecordError(err)
		}
		return
	}

	meta := newMetadata(c, symbol, start)
	meta.CacheHit = cached
	meta.Source = "ai"
	c.JSON(http.StatusOK, gin.H{"metadata": meta, "summary": text})
}

// PostChat godoc
// @Summary      One-shot chat completion about a ticker
// @Tags         ai
// @Accept       json
// @Produce      json
// @Param        ticker   path  string             true  "Ticker symbol"
// @Param        request  body  domain.ChatRequest  true  "Question and history"
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/v1/stock/chat/{ticker} [post]
func (h *Handler) PostChat(c *gin.Context) {
	if !h.requireChat(c) {
		return
	}
	start := time.Now()
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.chat")
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("ticker"))
	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	text, err := h.chat.Chat(ctx, symbol, req)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"metadata": newMetadata(c, symbol, start), "response": text})
}

// PostChatStream godoc
// @Summary      Streaming chat completion about a ticker
// @Tags         ai
// @Accept       json
// @Produce      text/event-stream
// @Param        ticker   path  string             true  "Ticker symbol"
// @Param        request  body  domain.ChatRequest  true  "Question and history"
// @Success      200  {string}  string  "SSE token frames"
// @Failure      400  {object}  map[string]string
// @Router       /api/v1/stock/chat/{ticker}/stream [post]
func (h *Handler) PostChatStream(c *gin.Context) {
	h.streamChat(c, "handler.chat-stream", h.chat.ChatStream)
}

// PostChatDeep godoc
// @Summary      Deep-model chat completion about a ticker
// @Tags         ai
// @Accept       json
// @Produce      text/event-stream
// @Param        ticker   path  string             true  "Ticker symbol"
// @Param        request  body  domain.ChatRequest  true  "Question and history"
// @Success      200  {string}  string  "SSE token frames"
// @Failure      400  {object}  map[string]string
// @Router       /api/v1/stock/chat/{ticker}/deep [post]
func (h *Handler) PostChatDeep(c *gin.Context) {
	h.streamChat(c, "handler.chat-deep", h.chat.DeepStream)
}

type chatStreamFn func(ctx context.Context, symbol string, req domain.ChatRequest, emit ai.Emit) error

func (h *Handler) streamChat(c *gin.Context, spanName string, stream chatStreamFn) {
	if !h.requireChat(c) {
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), spanName)
	defer span.End()

	symbol := domain.NormalizeSymbol(c.Param("ticker"))
	span.SetAttributes(attribute.String("symbol", symbol))

	var req domain.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	w := sse.NewWriter(c.Writer)
	err := stream(ctx, symbol, req, w.Token)
	if err != nil {
		// Degraded turns already emitted an apology; landing here means
		// the client went away or the response writer broke.
		span.RecordError(err)
		return
	}
	if err := w.Done(); err != nil {
		span.RecordError(err)
	}
}

// SetChatModel godoc
// @Summary      Pin a model for a chat session
// @Tags         ai
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]string
// @Failure      400  {object}  map[string]string
// @Router       /api/v1/stock/chat/model [post]
func (h *Handler) SetChatModel(c *gin.Context) {
	if !h.requireChat(c) {
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.chat-model")
	defer span.End()

	var req struct {
		SessionID string `json:"session_id" binding:"required"`
		Model     string `json:"model" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := h.chat.SaveSessionModel(ctx, req.SessionID, req.Model); err != nil {
		if errors.Is(err, ai.ErrUnknownModel) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown model: " + req.Model})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "model": req.Model})
}

// ToggleDeep godoc
// @Summary      Flag or clear a pending deep-analysis request
// @Tags         ai
// @Accept       json
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Failure      400  {object}  map[string]string
// @Router       /api/v1/stock/chat/deep_toggle [patch]
func (h *Handler) ToggleDeep(c *gin.Context) {
	if !h.requireChat(c) {
		return
	}
	ctx, span := h.tracer.Start(c.Request.Context(), "handler.deep-toggle")
	defer span.End()

	var req struct {
		ChatID    string `json:"chat_id" binding:"required"`
		NeedsDeep bool   `json:"needs_deep"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}
	if err := h.chat.SetDeepFlag(ctx, req.ChatID, req.NeedsDeep); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "needs_deep": req.NeedsDeep})
}

// GetModels godoc
// @Summary      Available chat models
// @Tags         ai
// @Produce      json
// @Success      200  {object}  map[string]interface{}
// @Router       /api/v1/ai/models [get]
func (h *Handler) GetModels(c *gin.Context) {
	if !h.requireChat(c) {
		return
	}
	_, span := h.tracer.Start(c.Request.Context(), "handler.models")
	defer span.End()

	c.JSON(http.StatusOK, gin.H{"models": h.chat.Catalogue().List()})
}

// requireChat rejects AI endpoints when no OpenRouter key is configured.
func (h *Handler) requireChat(c *gin.Context) bool {
	if h.chat == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "AI analysis is not configured"})
		return false
	}
	return true
}
