// Package ai implements the chat pipeline: query classification, template
// routing, prompt building, model selection and the streaming renderers.
package ai

import (
	"context"
	"log"
	"time"

	"finbot/internal/cache"
)

// ModelInfo is one catalogue entry, served by the models endpoint and used
// to validate model overrides.
type ModelInfo struct {
	ID       string  `json:"id"`
	Ctx      int     `json:"ctx"`
	PriceIn  float64 `json:"price_in"`
	PriceOut float64 `json:"price_out"`
	Strength string  `json:"strength"`
	UXHint   string  `json:"ux_hint"`
	Notes    string  `json:"notes,omitempty"`
}

// DefaultCatalogue lists the OpenRouter models the pipeline is willing to
// run. Prices are USD per million tokens.
var DefaultCatalogue = []ModelInfo{
	{
		ID:       "google/gemini-2.0-flash-001",
		Ctx:      1_000_000,
		PriceIn:  0.10,
		PriceOut: 0.40,
		Strength: "fast",
		UXHint:   "Snappy first answer",
	},
	{
		ID:       "anthropic/claude-3.7-sonnet",
		Ctx:      200_000,
		PriceIn:  3.00,
		PriceOut: 15.00,
		Strength: "deep",
		UXHint:   "Thorough analysis, slower",
	},
	{
		ID:       "openai/gpt-4o-mini",
		Ctx:      128_000,
		PriceIn:  0.15,
		PriceOut: 0.60,
		Strength: "fast",
		UXHint:   "Balanced speed and quality",
	},
	{
		ID:       "meta-llama/llama-3.3-70b-instruct",
		Ctx:      131_072,
		PriceIn:  0.12,
		PriceOut: 0.30,
		Strength: "fast",
		UXHint:   "Budget option",
		Notes:    "open weights",
	},
	{
		ID:       "deepseek/deepseek-chat",
		Ctx:      64_000,
		PriceIn:  0.27,
		PriceOut: 1.10,
		Strength: "deep",
		UXHint:   "Strong reasoning per dollar",
	},
}

// Catalogue validates model IDs and answers the models endpoint.
type Catalogue struct {
	models []ModelInfo
	index  map[string]ModelInfo
}

// NewCatalogue builds a catalogue from the default list plus any extra
// config-supplied entries.
func NewCatalogue(extra ...ModelInfo) *Catalogue {
	c := &Catalogue{index: map[string]ModelInfo{}}
	for _, m := range append(append([]ModelInfo{}, DefaultCatalogue...), extra...) {
		if _, dup := c.index[m.ID]; dup {
			continue
		}
		c.index[m.ID] = m
		c.models = append(c.models, m)
	}
	return c
}

// List returns all entries in catalogue order.
func (c *Catalogue) List() []ModelInfo {
	out := make([]ModelInfo, len(c.models))
	copy(out, c.models)
	return out
}

// Known reports whether the model ID is in the catalogue.
func (c *Catalogue) Known(id string) bool {
	_, ok := c.index[id]
	return ok
}

const sessionModelTTL = time.Hour

// sessionModelKey is the cache key for a session's model preference.
func sessionModelKey(c *cache.Service, sessionID string) string {
	return c.PlainKey("sessmodel", sessionID)
}

// Select resolves the model for a request: explicit request override, then
// the session preference, then the stage default. Unknown IDs fall through
// to the next level.
func (c *Catalogue) Select(ctx context.Context, cch *cache.Service, requested, sessionID, stageDefault string) string {
	if requested != "" {
		if c.Known(requested) {
			return requested
		}
		log.Printf("ai: unknown model %q requested, ignoring", requested)
	}
	if sessionID != "" {
		var pref string
		if cch.GetJSON(ctx, sessionModelKey(cch, sessionID), &pref) == cache.Hit && c.Known(pref) {
			return pref
		}
	}
	return stageDefault
}

// SaveSessionModel persists a session's model preference for an hour.
// Unknown models are rejected.
func (c *Catalogue) SaveSessionModel(ctx context.Context, cch *cache.Service, sessionID, model string) error {
	if !c.Known(model) {
		return ErrUnknownModel
	}
	return cch.SetJSON(ctx, sessionModelKey(cch, sessionID), model, sessionModelTTL)
}
