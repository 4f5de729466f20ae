package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"tradeledgerv1/internal/markprice"
	"tradeledgerv1/internal/risk"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Session and capital
	SessionID     string // empty means "derive from current UTC day"
	TargetCapital float64

	// Infrastructure
	SQLitePath    string
	JournalPath   string
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
	LogLevel      string

	// Market data feed
	FeedURL        string
	FeedAPIBaseURL string // empty disables authenticated login (simfeed mode)
	FeedAPIKey     string
	FeedClientCode string
	FeedPassword   string
	FeedTOTPSecret string

	// Instruments (comma-separated, e.g. "BTCUSDT,ETHUSDT")
	Symbols string

	// Per-symbol sanity bands, "SYMBOL:MIN:MAX" comma-separated,
	// e.g. "BTCUSDT:1000:500000,ETHUSDT:50:50000"
	PriceBands string

	// Ledger lifecycle
	CapitalChangeThreshold float64
	NegligibleQty          float64

	// Mark-to-market cadence
	MarkInterval time.Duration

	// Execution
	SlippageBps float64
	FeeBps      float64
	MinNotional float64

	// Strategy
	MomentumLookback int
	MomentumMinScore float64

	// Risk
	StopATRMult         float64
	TakeATRMult         float64
	UsePercentFallback  bool
	FallbackStopPct     float64
	FallbackTakePct     float64
	MinStopDistance     float64
	MinTakeDistance     float64
	MinRewardRisk       float64
	RiskPerTradePct     float64
	PerSymbolCap        float64
	MaxPositionValuePct float64
	SessionCapPct       float64

	// Audit
	AuditWebhookURL string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		SessionID:     getEnv("SESSION_ID", ""),
		TargetCapital: getEnvFloat("TARGET_CAPITAL", 10000),

		SQLitePath:    getEnv("SQLITE_PATH", "data/ledger.db"),
		JournalPath:   getEnv("JOURNAL_PATH", "data/journal.db"),
		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		LogLevel:      getEnv("LOG_LEVEL", "info"),

		FeedURL:        getEnv("FEED_URL", "ws://localhost:9001/ws"),
		FeedAPIBaseURL: getEnv("FEED_API_BASE_URL", ""),
		FeedAPIKey:     getEnv("FEED_API_KEY", ""),
		FeedClientCode: getEnv("FEED_CLIENT_CODE", ""),
		FeedPassword:   getEnv("FEED_PASSWORD", ""),
		FeedTOTPSecret: getEnv("FEED_TOTP_SECRET", ""),

		Symbols:    getEnv("SYMBOLS", "BTCUSDT,ETHUSDT"),
		PriceBands: getEnv("PRICE_BANDS", ""),

		CapitalChangeThreshold: getEnvFloat("CAPITAL_CHANGE_THRESHOLD", 0.20),
		NegligibleQty:          getEnvFloat("NEGLIGIBLE_QTY", 1e-8),

		MarkInterval: getEnvDuration("MARK_INTERVAL", time.Minute),

		SlippageBps: getEnvFloat("SLIPPAGE_BPS", 5),
		FeeBps:      getEnvFloat("FEE_BPS", 10),
		MinNotional: getEnvFloat("MIN_NOTIONAL", 10),

		MomentumLookback: getEnvInt("MOMENTUM_LOOKBACK", 10),
		MomentumMinScore: getEnvFloat("MOMENTUM_MIN_SCORE", 0.001),

		StopATRMult:         getEnvFloat("STOP_ATR_MULT", 2.0),
		TakeATRMult:         getEnvFloat("TAKE_ATR_MULT", 3.0),
		UsePercentFallback:  getEnvBool("USE_PERCENT_FALLBACK", true),
		FallbackStopPct:     getEnvFloat("FALLBACK_STOP_PCT", 0.02),
		FallbackTakePct:     getEnvFloat("FALLBACK_TAKE_PCT", 0.04),
		MinStopDistance:     getEnvFloat("MIN_STOP_DISTANCE", 0),
		MinTakeDistance:     getEnvFloat("MIN_TAKE_DISTANCE", 0),
		MinRewardRisk:       getEnvFloat("MIN_REWARD_RISK", 0),
		RiskPerTradePct:     getEnvFloat("RISK_PER_TRADE_PCT", 0.01),
		PerSymbolCap:        getEnvFloat("PER_SYMBOL_CAP", 25000),
		MaxPositionValuePct: getEnvFloat("MAX_POSITION_VALUE_PCT", 0.25),
		SessionCapPct:       getEnvFloat("SESSION_CAP_PCT", 0.80),

		AuditWebhookURL: getEnv("AUDIT_WEBHOOK_URL", ""),
	}
}

// ParseSymbols splits the Symbols string into a clean list.
func (c *Config) ParseSymbols() []string {
	parts := strings.Split(c.Symbols, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

// ParseBands parses PriceBands into per-symbol validation bands.
// Malformed entries are skipped with a log line rather than failing startup.
func (c *Config) ParseBands() map[string]markprice.Band {
	if c.PriceBands == "" {
		return nil
	}
	bands := make(map[string]markprice.Band)
	for _, entry := range strings.Split(c.PriceBands, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			log.Printf("[config] skipping malformed price band %q", entry)
			continue
		}
		min, err1 := strconv.ParseFloat(parts[1], 64)
		max, err2 := strconv.ParseFloat(parts[2], 64)
		if err1 != nil || err2 != nil || min < 0 || max <= min {
			log.Printf("[config] skipping invalid price band %q", entry)
			continue
		}
		bands[parts[0]] = markprice.Band{Min: min, Max: max}
	}
	return bands
}

// RiskParams assembles the risk engine parameters.
func (c *Config) RiskParams() risk.Params {
	return risk.Params{
		StopATRMult:         c.StopATRMult,
		TakeATRMult:         c.TakeATRMult,
		UsePercentFallback:  c.UsePercentFallback,
		FallbackStopPct:     c.FallbackStopPct,
		FallbackTakePct:     c.FallbackTakePct,
		MinStopDistance:     c.MinStopDistance,
		MinTakeDistance:     c.MinTakeDistance,
		MinRewardRisk:       c.MinRewardRisk,
		RiskPerTradePct:     c.RiskPerTradePct,
		PerSymbolCap:        c.PerSymbolCap,
		MaxPositionValuePct: c.MaxPositionValuePct,
		SessionCapPct:       c.SessionCapPct,
	}
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("[config] invalid int for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		log.Printf("[config] invalid bool for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
