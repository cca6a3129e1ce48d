package ai

import (
	"context"
	"errors"
	"log"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"finbot/internal/cache"
	"finbot/internal/config"
	"finbot/internal/domain"
	"finbot/internal/metrics"

	"go.opentelemetry.io/otel/trace"
)

// ErrUnknownModel is returned when a model override is not in the catalogue.
var ErrUnknownModel = errors.New("unknown model")

const (
	rapidMaxTokens = 600
	deepMaxTokens  = 2400
	rapidTemp      = 0.7
	deepTemp       = 0.4

	// streamRetries bounds reconnect attempts. Once a token has been
	// delivered the stream is never retried; the client would see the
	// answer restart.
	streamRetries = 2

	deepFlagTTL = 2 * time.Hour
)

// apologyToken is the degraded-mode answer; the stream still terminates
// with a normal [DONE] so clients need no error path.
const apologyToken = "I couldn't complete that analysis just now. Please try again in a moment."

// deepInvite is the sentinel appended after a rapid answer.
const deepInvite = "\n\n_Want more detail? Request a deep analysis for a full breakdown._"

// invalidQueryToken answers questions too short to classify.
const invalidQueryToken = "Could you give me a bit more to work with? Ask about the price, technicals, fundamentals or news."

// Emit delivers one token downstream. A non-nil error means the client is
// gone and the stream must stop.
type Emit func(token string) error

// ContextProvider supplies the grounding aggregate for prompts.
type ContextProvider interface {
	ProcessPremiumStockData(ctx context.Context, symbol string, forceRefresh bool) (*domain.FinBotStockResponse, error)
}

// Pipeline is the chat engine: classify, route, ground, render.
type Pipeline struct {
	tracer    trace.Tracer
	cache     *cache.Service
	stocks    ContextProvider
	client    openai.Client
	catalogue *Catalogue

	rapidModel     string
	deepModel      string
	maxHistory     int
	requestTimeout time.Duration
	summaryTTL     time.Duration
}

// NewPipeline wires the chat engine against an OpenRouter-compatible API.
// Extra request options are for tests pointing the client at a stub server.
func NewPipeline(tracer trace.Tracer, c *cache.Service, stocks ContextProvider, cfg *config.Config, catalogue *Catalogue, extra ...option.RequestOption) *Pipeline {
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.Keys.OpenRouter),
		option.WithBaseURL(cfg.AI.BaseURL),
	}
	opts = append(opts, extra...)
	return &Pipeline{
		tracer:         tracer,
		cache:          c,
		stocks:         stocks,
		client:         openai.NewClient(opts...),
		catalogue:      catalogue,
		rapidModel:     cfg.AI.RapidModel,
		deepModel:      cfg.AI.DeepModel,
		maxHistory:     cfg.AI.MaxHistory,
		requestTimeout: cfg.AI.RequestTimeout,
		summaryTTL:     cfg.AI.SummaryTTL,
	}
}

// Catalogue exposes the model catalogue for the models endpoint.
func (p *Pipeline) Catalogue() *Catalogue { return p.catalogue }

// SaveSessionModel persists a session's model preference.
func (p *Pipeline) SaveSessionModel(ctx context.Context, sessionID, model string) error {
	return p.catalogue.SaveSessionModel(ctx, p.cache, sessionID, model)
}

// SetDeepFlag records (or clears) a chat's request for deep analysis.
func (p *Pipeline) SetDeepFlag(ctx context.Context, chatID string, needsDeep bool) error {
	key := p.cache.PlainKey("deepflag", chatID)
	if !needsDeep {
		return p.cache.Delete(ctx, key)
	}
	return p.cache.SetJSON(ctx, key, true, deepFlagTTL)
}

// DeepRequested reports whether the chat has the deep flag set.
func (p *Pipeline) DeepRequested(ctx context.Context, chatID string) bool {
	var flag bool
	return p.cache.GetJSON(ctx, p.cache.PlainKey("deepflag", chatID), &flag) == cache.Hit && flag
}

// ChatStream runs one rapid chat turn, emitting tokens as they arrive and
// closing with the deep-analysis invite. Any step failure degrades to the
// apology token; the returned error is non-nil only when the client went
// away mid-stream.
func (p *Pipeline) ChatStream(ctx context.Context, symbol string, req domain.ChatRequest, emit Emit) error {
	ctx, span := p.tracer.Start(ctx, "ai.chat-rapid")
	defer span.End()

	cls := Classify(req.Message)
	if !cls.Valid {
		return emit(invalidQueryToken)
	}

	prompt := p.buildPrompt(ctx, symbol, cls)
	model := p.catalogue.Select(ctx, p.cache, req.Model, req.SessionID, p.rapidModel)

	err := p.render(ctx, model, "rapid", prompt, req, rapidMaxTokens, rapidTemp, emit)
	if err != nil {
		if isClientGone(ctx, err) {
			return err
		}
		log.Printf("ai: rapid render for %s: %v", symbol, err)
		return emit(apologyToken)
	}
	return emit(deepInvite)
}

// DeepStream runs the deep turn: deep template, deep model, larger budget.
func (p *Pipeline) DeepStream(ctx context.Context, symbol string, req domain.ChatRequest, emit Emit) error {
	ctx, span := p.tracer.Start(ctx, "ai.chat-deep")
	defer span.End()

	if req.ChatID != "" {
		// The flag is single-use: consume it so the next rapid turn
		// invites again.
		defer func() {
			if err := p.SetDeepFlag(context.WithoutCancel(ctx), req.ChatID, false); err != nil {
				log.Printf("ai: clear deep flag: %v", err)
			}
		}()
	}

	stock := p.fetchContext(ctx, symbol)
	prompt := BuildSystemPrompt(LoadTemplate(deepTemplate), symbol, stock, Classify(req.Message).Language)
	model := p.catalogue.Select(ctx, p.cache, req.Model, req.SessionID, p.deepModel)

	err := p.render(ctx, model, "deep", prompt, req, deepMaxTokens, deepTemp, emit)
	if err != nil {
		if isClientGone(ctx, err) {
			return err
		}
		log.Printf("ai: deep render for %s: %v", symbol, err)
		return emit(apologyToken)
	}
	return nil
}

// Chat runs a rapid turn without streaming and returns the full text.
func (p *Pipeline) Chat(ctx context.Context, symbol string, req domain.ChatRequest) (string, error) {
	var sb strings.Builder
	if err := p.ChatStream(ctx, symbol, req, func(tok string) error {
		sb.WriteString(tok)
		return nil
	}); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// Summary returns the cached rapid summary for a symbol, rendering and
// caching it on a miss.
func (p *Pipeline) Summary(ctx context.Context, symbol string, forceRefresh bool) (string, bool, error) {
	symbol = domain.NormalizeSymbol(symbol)
	key := p.cache.PlainKey("ai_summary", symbol)

	if !forceRefresh {
		var cached string
		if p.cache.GetJSON(ctx, key, &cached) == cache.Hit && cached != "" {
			return cached, true, nil
		}
	}

	stock := p.fetchContext(ctx, symbol)
	if stock.Empty() {
		return "", false, ErrNoContext
	}
	prompt := BuildSystemPrompt(LoadTemplate(kindTemplates[KindSummary]), symbol, stock, "en")
	req := domain.ChatRequest{Message: "Give me a rapid summary of " + symbol + "."}

	var sb strings.Builder
	err := p.render(ctx, p.rapidModel, "summary", prompt, req, rapidMaxTokens, rapidTemp, func(tok string) error {
		sb.WriteString(tok)
		return nil
	})
	if err != nil {
		return "", false, err
	}
	text := sb.String()
	if err := p.cache.SetJSON(ctx, key, text, p.summaryTTL); err != nil {
		log.Printf("ai: cache summary for %s: %v", symbol, err)
	}
	return text, false, nil
}

// ErrNoContext means no leg of the aggregate produced data to summarize.
var ErrNoContext = errors.New("no market data available")

func (p *Pipeline) buildPrompt(ctx context.Context, symbol string, cls Classification) string {
	name := RouteTemplate(ctx, p.cache, cls.Kind)
	return BuildSystemPrompt(LoadTemplate(name), symbol, p.fetchContext(ctx, symbol), cls.Language)
}

// fetchContext grounds the prompt; a failed aggregate degrades to an empty
// context rather than failing the chat turn.
func (p *Pipeline) fetchContext(ctx context.Context, symbol string) *domain.FinBotStockResponse {
	stock, err := p.stocks.ProcessPremiumStockData(ctx, symbol, false)
	if err != nil {
		log.Printf("ai: stock context for %s: %v", symbol, err)
		return nil
	}
	return stock
}

// render streams one completion. Reconnects happen only before the first
// token; afterwards the partial answer is already on the wire.
func (p *Pipeline) render(ctx context.Context, model, mode, systemPrompt string, req domain.ChatRequest, maxTokens int, temp float64, emit Emit) error {
	timeout := p.requestTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	metrics.AIRequests.WithLabelValues(model, mode).Inc()

	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(model),
		Messages:    p.buildMessages(systemPrompt, req),
		MaxTokens:   openai.Int(int64(maxTokens)),
		Temperature: openai.Float(temp),
	}

	start := time.Now()
	var lastErr error
	for attempt := 0; attempt <= streamRetries; attempt++ {
		emitted, err := p.streamOnce(ctx, params, model, start, emit)
		if err == nil {
			return nil
		}
		if emitted || isClientGone(ctx, err) {
			return err
		}
		lastErr = err
		log.Printf("ai: stream attempt %d (%s): %v", attempt+1, model, err)
	}
	return lastErr
}

// streamOnce reports whether any token reached the client.
func (p *Pipeline) streamOnce(ctx context.Context, params openai.ChatCompletionNewParams, model string, start time.Time, emit Emit) (bool, error) {
	stream := p.client.Chat.Completions.NewStreaming(ctx, params)
	defer stream.Close()

	emitted := false
	for stream.Next() {
		chunk := stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		delta := chunk.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		if !emitted {
			metrics.AIFirstToken.WithLabelValues(model).Observe(time.Since(start).Seconds())
			emitted = true
		}
		if err := emit(delta); err != nil {
			return emitted, err
		}
	}
	if err := stream.Err(); err != nil {
		return emitted, err
	}
	if !emitted {
		return false, errors.New("stream produced no tokens")
	}
	metrics.AITotalDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())
	return true, nil
}

func (p *Pipeline) buildMessages(systemPrompt string, req domain.ChatRequest) []openai.ChatCompletionMessageParamUnion {
	history := TrimHistory(req.History, p.maxHistory)
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(history)+2)
	messages = append(messages, openai.SystemMessage(systemPrompt))
	for _, m := range history {
		switch m.Role {
		case domain.RoleAssistant:
			messages = append(messages, openai.AssistantMessage(m.Content))
		case domain.RoleUser:
			messages = append(messages, openai.UserMessage(m.Content))
		}
	}
	return append(messages, openai.UserMessage(req.Message))
}

// isClientGone distinguishes the caller disconnecting from upstream
// trouble: the former must stop the stream, the latter degrades.
func isClientGone(ctx context.Context, err error) bool {
	return ctx.Err() != nil || errors.Is(err, context.Canceled)
}
