// Package bot runs the Telegram front end: quote, news and technical
// analysis commands plus a conversational mode backed by the AI pipeline.
package bot

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"finbot/internal/config"
	"finbot/internal/domain"

	tele "gopkg.in/telebot.v3"
)

type StockQuerier interface {
	GetBasicStockData(ctx context.Context, symbol string, forceRefresh bool) (*domain.BasicStockData, string, bool, error)
	GetNewsData(ctx context.Context, symbol string, limit int, forceRefresh bool) ([]domain.NewsItem, []string, bool, error)
	GetTechnicalAnalysisData(ctx context.Context, symbol string, forceRefresh bool) (*domain.TechnicalAnalysis, string, bool, error)
}

type TapeReader interface {
	Read(ctx context.Context, limit int, forceRefresh bool) ([]domain.TickerTapeEntry, string)
}

type Advisor interface {
	Chat(ctx context.Context, symbol string, req domain.ChatRequest) (string, error)
}

func StartTelegramBot(cfg config.TelegramConfig, stocks StockQuerier, tape TapeReader, advisor Advisor) *DigestDispatcher {
	if cfg.BotToken == "" {
		log.Println("TELEGRAM_BOT_TOKEN not set, skipping Telegram bot startup")
		return nil
	}
	pref := tele.Settings{
		Token:  cfg.BotToken,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	}
	b, err := tele.NewBot(pref)
	if err != nil {
		log.Fatalf("failed to create Telegram bot: %v", err)
	}
	digest := NewDigestDispatcher(b, stocks, tape)
	if cfg.DigestChatID != 0 {
		digest.Subscribe(cfg.DigestChatID)
	}

	b.Handle("/ping", func(c tele.Context) error {
		return c.Send("pong")
	})

	b.Handle("/quote", func(c tele.Context) error {
		symbol, err := parseSymbolArg(c.Args())
		if err != nil {
			return c.Send("Usage: /quote AAPL")
		}
		basic, _, _, err := stocks.GetBasicStockData(context.Background(), symbol, false)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching quote for %s: %v", symbol, err))
		}
		return c.Send(formatQuote(basic))
	})

	b.Handle("/news", func(c tele.Context) error {
		symbol, err := parseSymbolArg(c.Args())
		if err != nil {
			return c.Send("Usage: /news AAPL")
		}
		items, _, _, err := stocks.GetNewsData(context.Background(), symbol, 5, false)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching news for %s: %v", symbol, err))
		}
		if len(items) == 0 {
			return c.Send("No recent news for " + symbol + ".")
		}
		return c.Send(formatNews(symbol, items))
	})

	b.Handle("/ta", func(c tele.Context) error {
		symbol, err := parseSymbolArg(c.Args())
		if err != nil {
			return c.Send("Usage: /ta AAPL")
		}
		ta, _, _, err := stocks.GetTechnicalAnalysisData(context.Background(), symbol, false)
		if err != nil {
			return c.Send(fmt.Sprintf("Error fetching analysis for %s: %v", symbol, err))
		}
		if ta == nil {
			return c.Send("Not enough price history for " + symbol + " yet.")
		}
		return c.Send(formatTechnical(ta))
	})

	b.Handle("/tape", func(c tele.Context) error {
		entries, _ := tape.Read(context.Background(), 0, false)
		if len(entries) == 0 {
			return c.Send("Ticker tape is warming up, try again shortly.")
		}
		return c.Send(formatTape(entries))
	})

	b.Handle("/digest", func(c tele.Context) error {
		chat := c.Chat()
		if chat == nil {
			return c.Send("Unable to detect chat")
		}

		mode, err := parseDigestMode(c.Args())
		if err != nil {
			return c.Send("Usage: /digest on | /digest off | /digest status")
		}
		switch mode {
		case "on":
			if digest.Subscribe(chat.ID) {
				return c.Send("Daily market digest enabled for this chat.")
			}
			return c.Send("Daily market digest is already enabled for this chat.")
		case "off":
			if digest.Unsubscribe(chat.ID) {
				return c.Send("Daily market digest disabled for this chat.")
			}
			return c.Send("Daily market digest is already disabled for this chat.")
		default:
			if digest.IsSubscribed(chat.ID) {
				return c.Send("Digest status: ON")
			}
			return c.Send("Digest status: OFF")
		}
	})

	b.Handle("/ask", func(c tele.Context) error {
		if advisor == nil {
			return c.Send("Advisor not configured. Set OPENROUTER_API_KEY to enable.")
		}
		symbol, question, err := parseAskArgs(c.Message().Payload)
		if err != nil {
			return c.Send("Usage: /ask AAPL <question>\nExample: /ask AAPL how does the chart look?")
		}
		return handleAdvisorQuery(c, advisor, symbol, question)
	})

	log.Println("Telegram bot started")
	go b.Start()
	return digest
}

func handleAdvisorQuery(c tele.Context, adv Advisor, symbol, question string) error {
	_ = c.Notify(tele.Typing)

	req := domain.ChatRequest{
		Message: question,
		ChatID:  fmt.Sprintf("tg-%d", c.Chat().ID),
	}
	reply, err := adv.Chat(context.Background(), symbol, req)
	if err != nil {
		log.Printf("advisor error for chat %d: %v", c.Chat().ID, err)
		return c.Send("Sorry, I'm having trouble right now. Try /quote or /news for raw data.")
	}

	if len(reply) > 4000 {
		reply = reply[:4000] + "\n\n[truncated]"
	}
	return c.Send(reply)
}

func parseSymbolArg(args []string) (string, error) {
	if len(args) == 0 {
		return "", fmt.Errorf("missing symbol")
	}
	symbol := domain.NormalizeSymbol(args[0])
	if symbol == "" || strings.HasPrefix(symbol, "--") {
		return "", fmt.Errorf("invalid symbol %q", args[0])
	}
	return symbol, nil
}

// parseAskArgs splits "/ask AAPL why did it drop" into the ticker and the
// question. The first token must look like a ticker.
func parseAskArgs(payload string) (string, string, error) {
	fields := strings.Fields(strings.TrimSpace(payload))
	if len(fields) < 2 {
		return "", "", fmt.Errorf("need a symbol and a question")
	}
	symbol, err := parseSymbolArg(fields[:1])
	if err != nil {
		return "", "", err
	}
	return symbol, strings.Join(fields[1:], " "), nil
}

func formatQuote(b *domain.BasicStockData) string {
	var sb strings.Builder
	name := b.Symbol
	if b.Name != "" {
		name = fmt.Sprintf("%s (%s)", b.Name, b.Symbol)
	}
	fmt.Fprintf(&sb, "%s\nPrice: %.2f %s\nChange: %+.2f (%+.2f%%)", name, b.Price, b.Currency, b.Change, b.ChangePercent)
	if b.DayLow != nil && b.DayHigh != nil {
		fmt.Fprintf(&sb, "\nDay range: %.2f - %.2f", *b.DayLow, *b.DayHigh)
	}
	return sb.String()
}

func formatNews(symbol string, items []domain.NewsItem) string {
	lines := make([]string, 0, len(items)+1)
	lines = append(lines, "Latest news for "+symbol+":")
	for _, item := range items {
		lines = append(lines, fmt.Sprintf("- %s (%s, %s)\n  %s",
			item.Title, item.Source, item.PublishedAt.UTC().Format("Jan 2"), item.URL))
	}
	return strings.Join(lines, "\n")
}

func formatTechnical(ta *domain.TechnicalAnalysis) string {
	lines := []string{ta.Symbol + " technical snapshot:"}
	for _, name := range []string{"rsi_14", "macd", "sma_50", "sma_200"} {
		if v, ok := ta.Latest[name]; ok {
			lines = append(lines, fmt.Sprintf("%s: %.2f", name, v.Value))
		}
	}
	for _, sig := range ta.Signals {
		lines = append(lines, "* "+sig)
	}
	if len(lines) == 1 {
		lines = append(lines, "no indicator data yet")
	}
	return strings.Join(lines, "\n")
}

func formatTape(entries []domain.TickerTapeEntry) string {
	lines := make([]string, 0, len(entries)+1)
	lines = append(lines, "Market tape:")
	for _, e := range entries {
		lines = append(lines, fmt.Sprintf("%s %.2f (%+.2f%%)", e.Symbol, e.Price, e.ChangePercent))
	}
	return strings.Join(lines, "\n")
}
