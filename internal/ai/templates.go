package ai

import (
	"context"
	"embed"
	"log"
	"time"

	"finbot/internal/cache"
)

//go:embed templates/*.j2
var templateFS embed.FS

const (
	defaultTemplate  = "default_rapid.j2"
	deepTemplate     = "deep.j2"
	templateRouteTTL = 60 * time.Second
)

// kindTemplates routes a query kind to its rapid template file.
var kindTemplates = map[string]string{
	KindGreeting:  "greeting_rapid.j2",
	KindSummary:   "summary_rapid.j2",
	KindIndicator: "indicator_rapid.j2",
	KindNews:      "news_rapid.j2",
	KindHybrid:    "hybrid_rapid.j2",
	KindUnknown:   defaultTemplate,
}

// RouteTemplate maps a kind to its template file name. The mapping is
// memoized in the cache so template routing shows up in cache telemetry
// and stays consistent across replicas during a rollout.
func RouteTemplate(ctx context.Context, c *cache.Service, kind string) string {
	key := c.PlainKey("tpl", kind)
	var name string
	if c.GetJSON(ctx, key, &name) == cache.Hit && name != "" {
		return name
	}

	name, ok := kindTemplates[kind]
	if !ok {
		name = defaultTemplate
	}
	if err := c.SetJSON(ctx, key, name, templateRouteTTL); err != nil {
		log.Printf("ai: memoize template route: %v", err)
	}
	return name
}

// LoadTemplate reads a bundled template. A missing file falls back to the
// default rapid template rather than failing the chat turn.
func LoadTemplate(name string) string {
	raw, err := templateFS.ReadFile("templates/" + name)
	if err != nil {
		log.Printf("ai: template %s missing, using default", name)
		raw, err = templateFS.ReadFile("templates/" + defaultTemplate)
		if err != nil {
			// The default is compiled into the binary; this is
			// unreachable short of a broken build.
			return "You are FinBot, a financial analysis assistant for {{.Symbol}}.\n\n{{.Context}}"
		}
	}
	return string(raw)
}
