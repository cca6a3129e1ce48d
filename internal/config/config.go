package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"finbot/internal/domain"
)

// Env keys use an APP_ prefix with double underscores separating sections,
// e.g. APP_REDIS__ADDR or APP_API_KEYS__EODHD.
const envPrefix = "APP_"

type ServerConfig struct {
	Host        string
	Port        int
	CORSOrigins []string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type CacheConfig struct {
	KeyPrefix     string
	TTL           map[string]time.Duration
	FailMarkerTTL time.Duration
	LockTimeout   time.Duration
	LockWait      time.Duration
}

type HTTPClientConfig struct {
	Timeout         time.Duration
	MaxRetries      int
	BackoffBase     time.Duration
	BackoffMax      time.Duration
	RatePerMinute   map[string]int
	UserAgent       string
	MaxConnsPerHost int
}

type APIKeys struct {
	EODHD        string
	FMP          string
	AlphaVantage string
	MarketAux    string
	NewsAPI      string
	OpenRouter   string
}

type AIConfig struct {
	BaseURL         string
	RapidModel      string
	DeepModel       string
	ClassifierModel string
	MaxHistory      int
	RequestTimeout  time.Duration
	SummaryTTL      time.Duration
}

// NewsConfig tunes the merged feed. The floors are optional; unset means
// no filtering on that score.
type NewsConfig struct {
	MaxAgeDays   int
	MinSentiment *float64
	MinRelevance *float64
}

type TickerTapeConfig struct {
	Symbols  []string
	PollSecs int
}

type TelegramConfig struct {
	BotToken     string
	DigestChatID int64
	DigestHour   int
}

type MCPConfig struct {
	Transport   string
	HTTPBind    string
	HTTPPort    int
	AuthToken   string
	TimeoutSecs int
}

type ObservabilityConfig struct {
	OTLPEndpoint   string
	ServiceName    string
	MetricsEnabled bool
}

type Config struct {
	Server        ServerConfig
	Redis         RedisConfig
	Cache         CacheConfig
	HTTPClient    HTTPClientConfig
	Keys          APIKeys
	AI            AIConfig
	News          NewsConfig
	TickerTape    TickerTapeConfig
	Telegram      TelegramConfig
	MCP           MCPConfig
	Observability ObservabilityConfig
}

// Default cache TTLs per data type. Quotes churn, fundamentals do not.
var defaultTTLs = map[string]time.Duration{
	domain.DataTypeQuote:         5 * time.Minute,
	domain.DataTypeCompanyInfo:   24 * time.Hour,
	domain.DataTypeFinancials:    24 * time.Hour,
	domain.DataTypeEarnings:      24 * time.Hour,
	domain.DataTypeOHLCVDaily:    1 * time.Hour,
	domain.DataTypeOHLCVIntraday: 5 * time.Minute,
	domain.DataTypeNews:          30 * time.Minute,
	domain.DataTypeTickerTape:    2 * time.Minute,
}

// Load reads configuration from the environment. A .env file in the working
// directory is merged in first when present.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env file")
	}

	cfg := &Config{
		Server: ServerConfig{
			Host:        envStr("SERVER__HOST", "0.0.0.0"),
			Port:        envInt("SERVER__PORT", 8000),
			CORSOrigins: envList("SERVER__CORS_ORIGINS", []string{"*"}),
		},
		Redis: RedisConfig{
			Addr:     envStr("REDIS__ADDR", "localhost:6379"),
			Password: envStr("REDIS__PASSWORD", ""),
			DB:       envInt("REDIS__DB", 0),
		},
		Cache: CacheConfig{
			KeyPrefix:     envStr("CACHE__KEY_PREFIX", "finbot"),
			TTL:           loadTTLs(),
			FailMarkerTTL: envDur("CACHE__FAIL_MARKER_TTL", 5*time.Minute),
			LockTimeout:   envDur("CACHE__LOCK_TIMEOUT", 30*time.Second),
			LockWait:      envDur("CACHE__LOCK_WAIT", 10*time.Second),
		},
		HTTPClient: HTTPClientConfig{
			Timeout:     envDur("HTTP__TIMEOUT", 15*time.Second),
			MaxRetries:  envInt("HTTP__MAX_RETRIES", 3),
			BackoffBase: envDur("HTTP__BACKOFF_BASE", 500*time.Millisecond),
			BackoffMax:  envDur("HTTP__BACKOFF_MAX", 10*time.Second),
			RatePerMinute: map[string]int{
				"eodhd":        envInt("HTTP__RATE__EODHD", 60),
				"yahoo":        envInt("HTTP__RATE__YAHOO", 30),
				"fmp":          envInt("HTTP__RATE__FMP", 30),
				"alphavantage": envInt("HTTP__RATE__ALPHAVANTAGE", 5),
				"marketaux":    envInt("HTTP__RATE__MARKETAUX", 20),
				"newsapi":      envInt("HTTP__RATE__NEWSAPI", 20),
			},
			UserAgent:       envStr("HTTP__USER_AGENT", "finbot/1.0"),
			MaxConnsPerHost: envInt("HTTP__MAX_CONNS_PER_HOST", 32),
		},
		Keys: APIKeys{
			EODHD:        envStr("API_KEYS__EODHD", ""),
			FMP:          envStr("API_KEYS__FMP", ""),
			AlphaVantage: envStr("API_KEYS__ALPHAVANTAGE", ""),
			MarketAux:    envStr("API_KEYS__MARKETAUX", ""),
			NewsAPI:      envStr("API_KEYS__NEWSAPI", ""),
			OpenRouter:   envStr("API_KEYS__OPENROUTER", ""),
		},
		AI: AIConfig{
			BaseURL:         envStr("AI__BASE_URL", "https://openrouter.ai/api/v1"),
			RapidModel:      envStr("AI__RAPID_MODEL", "google/gemini-2.0-flash-001"),
			DeepModel:       envStr("AI__DEEP_MODEL", "anthropic/claude-3.7-sonnet"),
			ClassifierModel: envStr("AI__CLASSIFIER_MODEL", "google/gemini-2.0-flash-001"),
			MaxHistory:      envInt("AI__MAX_HISTORY", 20),
			RequestTimeout:  envDur("AI__REQUEST_TIMEOUT", 120*time.Second),
			SummaryTTL:      envDur("AI__SUMMARY_TTL", 30*time.Minute),
		},
		News: NewsConfig{
			MaxAgeDays:   envInt("NEWS__MAX_AGE_DAYS", 14),
			MinSentiment: envFloatPtr("NEWS__MIN_SENTIMENT"),
			MinRelevance: envFloatPtr("NEWS__MIN_RELEVANCE"),
		},
		TickerTape: TickerTapeConfig{
			Symbols:  envList("TICKER_TAPE__SYMBOLS", []string{"^GSPC", "^IXIC", "^DJI", "AAPL", "MSFT", "GOOGL", "AMZN", "NVDA", "TSLA", "EURUSD=X"}),
			PollSecs: envInt("TICKER_TAPE__POLL_SECS", 60),
		},
		Telegram: TelegramConfig{
			BotToken:     envStr("TELEGRAM__BOT_TOKEN", ""),
			DigestChatID: envInt64("TELEGRAM__DIGEST_CHAT_ID", 0),
			DigestHour:   envInt("TELEGRAM__DIGEST_HOUR_UTC", 7),
		},
		MCP: MCPConfig{
			Transport:   strings.ToLower(envStr("MCP__TRANSPORT", "stdio")),
			HTTPBind:    envStr("MCP__HTTP_BIND", "127.0.0.1"),
			HTTPPort:    envInt("MCP__HTTP_PORT", 8090),
			AuthToken:   envStr("MCP__AUTH_TOKEN", ""),
			TimeoutSecs: envInt("MCP__TIMEOUT_SECS", 10),
		},
		Observability: ObservabilityConfig{
			OTLPEndpoint:   envStr("OTEL__EXPORTER_ENDPOINT", ""),
			ServiceName:    envStr("OTEL__SERVICE_NAME", "finbot"),
			MetricsEnabled: envBool("METRICS__ENABLED", true),
		},
	}

	if cfg.Keys.EODHD == "" {
		log.Println("Warning: APP_API_KEYS__EODHD not set, EODHD provider disabled")
	}
	if cfg.Keys.OpenRouter == "" {
		log.Println("Warning: APP_API_KEYS__OPENROUTER not set, AI analysis disabled")
	}
	if cfg.Telegram.BotToken == "" {
		log.Println("Warning: APP_TELEGRAM__BOT_TOKEN not set, bot disabled")
	}

	return cfg
}

// Validate rejects configurations the process cannot run with. Callers are
// expected to treat an error as fatal.
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port %d", c.Server.Port)
	}
	if c.Redis.Addr == "" {
		return fmt.Errorf("redis address is required")
	}
	if c.MCP.Transport != "stdio" && c.MCP.Transport != "http" {
		return fmt.Errorf("unsupported MCP transport %q", c.MCP.Transport)
	}
	if c.HTTPClient.MaxRetries < 0 {
		return fmt.Errorf("negative retry count %d", c.HTTPClient.MaxRetries)
	}
	if c.TickerTape.PollSecs <= 0 {
		return fmt.Errorf("ticker tape poll interval must be positive")
	}
	if c.News.MaxAgeDays <= 0 {
		return fmt.Errorf("news max age must be positive")
	}
	for dt, ttl := range c.Cache.TTL {
		if ttl <= 0 {
			return fmt.Errorf("non-positive cache TTL for %s", dt)
		}
	}
	return nil
}

// ProviderKey returns the API key for the named provider, "" when unset.
func (c *Config) ProviderKey(provider string) string {
	switch provider {
	case "eodhd":
		return c.Keys.EODHD
	case "fmp":
		return c.Keys.FMP
	case "alphavantage":
		return c.Keys.AlphaVantage
	case "marketaux":
		return c.Keys.MarketAux
	case "newsapi":
		return c.Keys.NewsAPI
	}
	return ""
}

func loadTTLs() map[string]time.Duration {
	ttls := make(map[string]time.Duration, len(defaultTTLs))
	for dt, def := range defaultTTLs {
		key := "CACHE__TTL__" + strings.ToUpper(dt)
		ttls[dt] = envDur(key, def)
	}
	return ttls
}

func envStr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		log.Printf("Warning: %s%s=%q is not an integer, using %d", envPrefix, key, v, def)
	}
	return def
}

func envInt64(key string, def int64) int64 {
	if v := strings.TrimSpace(os.Getenv(envPrefix + key)); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
		log.Printf("Warning: %s%s=%q is not an integer, using %d", envPrefix, key, v, def)
	}
	return def
}

// envFloatPtr returns nil when the variable is unset, so "no threshold"
// and "threshold of zero" stay distinguishable.
func envFloatPtr(key string) *float64 {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Warning: %s%s=%q is not a number, ignoring", envPrefix, key, v)
		return nil
	}
	return &f
}

func envBool(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return def
	}
	return strings.EqualFold(v, "true") || v == "1"
}

// envDur accepts Go duration syntax ("30s") or a bare integer of seconds.
func envDur(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	log.Printf("Warning: %s%s=%q is not a duration, using %s", envPrefix, key, v, def)
	return def
}

func envList(key string, def []string) []string {
	v := strings.TrimSpace(os.Getenv(envPrefix + key))
	if v == "" {
		return def
	}
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
