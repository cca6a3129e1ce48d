package ai

import (
	"strings"
	"unicode"
)

// Query kinds; each routes to its own prompt template.
const (
	KindGreeting  = "greeting"
	KindSummary   = "summary"
	KindIndicator = "indicator"
	KindNews      = "news"
	KindHybrid    = "hybrid"
	KindUnknown   = "unknown"
)

// Classification is the classifier verdict for one question.
type Classification struct {
	Kind     string
	Language string
	Valid    bool
}

var greetingWords = []string{
	"hi", "hello", "hey", "good morning", "good afternoon", "good evening",
	"howdy", "yo", "greetings", "hola", "bonjour", "hallo",
}

var indicatorWords = []string{
	"rsi", "macd", "sma", "ema", "bollinger", "moving average", "indicator",
	"momentum", "oversold", "overbought", "support", "resistance", "fibonacci",
	"pivot", "technical", "crossover", "chart pattern",
}

var newsWords = []string{
	"news", "headline", "article", "announcement", "press release",
	"sentiment", "media", "report", "rumor",
}

var summaryWords = []string{
	"summary", "summarize", "overview", "analysis", "analyze", "how is",
	"what do you think", "should i buy", "should i sell", "outlook",
	"fundamental", "valuation", "earnings", "performance",
}

// Classify decides how to answer a question without calling an LLM. The
// heuristics favour precision on indicator and news vocabulary and fall
// back to summary for anything that at least mentions analysis.
func Classify(text string) Classification {
	trimmed := strings.TrimSpace(text)
	cls := Classification{
		Kind:     KindUnknown,
		Language: detectLanguage(trimmed),
		Valid:    len(trimmed) >= 5,
	}
	if !cls.Valid {
		return cls
	}

	lower := strings.ToLower(trimmed)
	indicator := containsAny(lower, indicatorWords)
	news := containsAny(lower, newsWords)

	switch {
	case indicator && news:
		cls.Kind = KindHybrid
	case indicator:
		cls.Kind = KindIndicator
	case news:
		cls.Kind = KindNews
	case isGreeting(lower):
		cls.Kind = KindGreeting
	case containsAny(lower, summaryWords):
		cls.Kind = KindSummary
	}
	return cls
}

func containsAny(lower string, words []string) bool {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return true
		}
	}
	return false
}

// isGreeting matches only when the message starts with a salutation, so
// "hi, what is the RSI" does not classify as small talk. The indicator and
// news checks run first and win anyway.
func isGreeting(lower string) bool {
	for _, w := range greetingWords {
		if lower == w || strings.HasPrefix(lower, w+" ") || strings.HasPrefix(lower, w+",") || strings.HasPrefix(lower, w+"!") {
			return true
		}
	}
	return false
}

// detectLanguage is best effort: script detection for non-Latin text, a
// small stop-word check for the common European languages, English for
// plain ASCII. Anything else is unknown.
func detectLanguage(text string) string {
	if text == "" {
		return "unknown"
	}
	// Kana wins over Han: Japanese mixes both scripts.
	var han bool
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Hiragana, r) || unicode.Is(unicode.Katakana, r):
			return "ja"
		case unicode.Is(unicode.Han, r):
			han = true
		case unicode.Is(unicode.Hangul, r):
			return "ko"
		case unicode.Is(unicode.Cyrillic, r):
			return "ru"
		case unicode.Is(unicode.Arabic, r):
			return "ar"
		}
	}
	if han {
		return "zh"
	}

	lower := " " + strings.ToLower(text) + " "
	switch {
	case containsAnyWord(lower, "el", "la", "los", "las", "es", "está", "qué", "cómo"):
		return "es"
	case containsAnyWord(lower, "der", "die", "das", "ist", "und", "wie", "für"):
		return "de"
	case containsAnyWord(lower, "le", "les", "est", "et", "quoi", "pourquoi"):
		return "fr"
	}

	for _, r := range text {
		if r > unicode.MaxASCII && unicode.IsLetter(r) {
			return "unknown"
		}
	}
	return "en"
}

func containsAnyWord(padded string, words ...string) bool {
	for _, w := range words {
		if strings.Contains(padded, " "+w+" ") {
			return true
		}
	}
	return false
}
