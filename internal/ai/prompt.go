package ai

import (
	"fmt"
	"strings"
	"text/template"

	"finbot/internal/domain"
)

// englishDirective is prepended when the question is in English, keeping
// multilingual models from drifting into other languages mid-answer.
const englishDirective = "Respond in English.\n\n"

// maxNewsInContext bounds the headlines included in the prompt.
const maxNewsInContext = 5

type promptData struct {
	Symbol  string
	Context string
}

// BuildSystemPrompt renders the template into the system prompt. A template
// that fails to parse falls back to the bundled default; the turn degrades
// rather than erroring.
func BuildSystemPrompt(templateText, symbol string, stock *domain.FinBotStockResponse, language string) string {
	data := promptData{
		Symbol:  domain.NormalizeSymbol(symbol),
		Context: ContextDigest(stock),
	}

	rendered, err := renderTemplate(templateText, data)
	if err != nil {
		rendered, err = renderTemplate(LoadTemplate(defaultTemplate), data)
		if err != nil {
			rendered = fmt.Sprintf("You are FinBot, a financial analysis assistant.\n\nMarket data for %s:\n%s", data.Symbol, data.Context)
		}
	}
	if language == "en" {
		rendered = englishDirective + rendered
	}
	return rendered
}

func renderTemplate(text string, data promptData) (string, error) {
	tpl, err := template.New("prompt").Parse(text)
	if err != nil {
		return "", err
	}
	var sb strings.Builder
	if err := tpl.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

// ContextDigest flattens the aggregate into the compact plain text the
// prompt carries. Missing legs are named so the model does not guess.
func ContextDigest(stock *domain.FinBotStockResponse) string {
	if stock.Empty() {
		return "No market data is currently available for this symbol."
	}

	var sb strings.Builder
	if q := stock.Quote; q != nil {
		fmt.Fprintf(&sb, "Price: %.2f %s (%+.2f, %+.2f%%)\n", q.Price, q.Currency, q.Change, q.ChangePercent)
		if q.DayLow != nil && q.DayHigh != nil {
			fmt.Fprintf(&sb, "Day range: %.2f - %.2f\n", *q.DayLow, *q.DayHigh)
		}
		if q.MarketCap != nil {
			fmt.Fprintf(&sb, "Market cap: %.0f\n", *q.MarketCap)
		}
	}
	if o := stock.CompanyOverview; o != nil {
		fmt.Fprintf(&sb, "Company: %s", o.Name)
		if o.Sector != "" {
			fmt.Fprintf(&sb, " | %s", o.Sector)
		}
		if o.Industry != "" {
			fmt.Fprintf(&sb, " / %s", o.Industry)
		}
		sb.WriteString("\n")
	}
	if s := stock.OHLCVSummary; s != nil {
		fmt.Fprintf(&sb, "1y range: %.2f - %.2f, last close %.2f\n", s.PeriodLow, s.PeriodHigh, s.LastClose)
	}
	if len(stock.Indicators) > 0 {
		sb.WriteString("Indicators:")
		for _, name := range []string{"rsi_14", "sma_20", "sma_50", "sma_200", "macd", "macd_signal", "bb_upper", "bb_lower"} {
			if v, ok := stock.Indicators[name]; ok {
				fmt.Fprintf(&sb, " %s=%.2f", name, v.Value)
			}
		}
		sb.WriteString("\n")
	}
	if len(stock.Earnings) > 0 {
		latest := stock.Earnings[0]
		fmt.Fprintf(&sb, "Latest earnings (%s):", latest.Period.Format("2006-01-02"))
		if latest.ReportedEPS != nil {
			fmt.Fprintf(&sb, " EPS %.2f", *latest.ReportedEPS)
		}
		if latest.EstimatedEPS != nil {
			fmt.Fprintf(&sb, " vs est %.2f", *latest.EstimatedEPS)
		}
		sb.WriteString("\n")
	}
	if len(stock.News) > 0 {
		sb.WriteString("Recent news:\n")
		for i, n := range stock.News {
			if i >= maxNewsInContext {
				break
			}
			fmt.Fprintf(&sb, "- [%s] %s", n.PublishedAt.Format("Jan 2"), n.Title)
			if n.Sentiment != nil {
				fmt.Fprintf(&sb, " (sentiment %+.2f)", *n.Sentiment)
			}
			sb.WriteString("\n")
		}
	}

	var missing []string
	for _, leg := range []string{"quote", "financials", "news", "technical_analysis"} {
		if ok, present := stock.Legs[leg]; present && !ok {
			missing = append(missing, leg)
		}
	}
	if len(missing) > 0 {
		fmt.Fprintf(&sb, "Unavailable right now: %s\n", strings.Join(missing, ", "))
	}
	return strings.TrimRight(sb.String(), "\n")
}

// TrimHistory keeps the most recent turns within the configured window.
func TrimHistory(history []domain.ChatMessage, max int) []domain.ChatMessage {
	if max <= 0 || len(history) <= max {
		return history
	}
	return history[len(history)-max:]
}
