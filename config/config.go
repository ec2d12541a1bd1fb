package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"stockmetrics/internal/model"
)

// Provider names accepted by PROVIDER.
const (
	ProviderYahoo   = "yahoo"
	ProviderEODHD   = "eodhd"
	ProviderFormula = "formula"
)

// Symbol source kinds accepted by SYMBOL_SOURCE.
const (
	SourceSheet = "sheet"
	SourceFile  = "file"
	SourceSP500 = "sp500"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Inputs and outputs
	SymbolSource   string // "sheet:<name>", "file:<path>" or "sp500"
	SymbolFallback bool
	SinkSheet      string
	SQLitePath     string

	// Batch controller
	LookbackDays      int
	MaxSymbolsPerRun  int
	DelayBetween      time.Duration
	DelayOnError      time.Duration
	DelayOnRateLimit  time.Duration
	AutoContinue      bool
	RefreshMode       bool
	RunBudget         time.Duration
	ContinueAfter     time.Duration
	JobName           string
	TimestampLocation string

	// Price provider
	Provider        string
	EODHDAPIKey     string
	EODHDBaseURL    string
	EODHDRateLimit  int
	PollInterval    time.Duration
	PollMaxAttempts int

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	MetricsAddr   string
	DailySchedule string
	WebhookURL    string
	LogLevel      string
}

// Load reads configuration from environment variables with sensible defaults.
// A .env file in the working directory is loaded first when present; real
// environment variables take precedence over it.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}

	return &Config{
		SymbolSource:   getEnv("SYMBOL_SOURCE", "sheet:Symbol List"),
		SymbolFallback: getBool("SYMBOL_FALLBACK", false),
		SinkSheet:      getEnv("SINK_SHEET", "Stock Metrics"),
		SQLitePath:     getEnv("SQLITE_PATH", "data/stockmetrics.db"),

		LookbackDays:      getInt("LOOKBACK_DAYS", 365),
		MaxSymbolsPerRun:  getInt("MAX_SYMBOLS_PER_RUN", 20),
		DelayBetween:      getMillis("DELAY_BETWEEN_SYMBOLS_MS", 1000),
		DelayOnError:      getMillis("DELAY_ON_ERROR_MS", 5000),
		DelayOnRateLimit:  getMillis("DELAY_ON_RATE_LIMIT_MS", 10000),
		AutoContinue:      getBool("AUTO_CONTINUE", true),
		RefreshMode:       getBool("REFRESH_MODE", true),
		RunBudget:         time.Duration(getInt("RUN_BUDGET_SEC", 300)) * time.Second,
		ContinueAfter:     time.Duration(getInt("CONTINUE_AFTER_SEC", 60)) * time.Second,
		JobName:           getEnv("JOB_NAME", "stockmetrics-batch"),
		TimestampLocation: getEnv("TIMESTAMP_TZ", "America/New_York"),

		Provider:        strings.ToLower(getEnv("PROVIDER", ProviderYahoo)),
		EODHDAPIKey:     getEnv("EODHD_API_KEY", ""),
		EODHDBaseURL:    getEnv("EODHD_BASE_URL", "https://eodhd.com/api"),
		EODHDRateLimit:  getInt("EODHD_RATE_LIMIT", 5),
		PollInterval:    getMillis("POLL_INTERVAL_MS", 1000),
		PollMaxAttempts: getInt("POLL_MAX_ATTEMPTS", 30),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),
		DailySchedule: getEnv("DAILY_SCHEDULE", "30 16 * * 1-5"),
		WebhookURL:    getEnv("NOTIFY_WEBHOOK_URL", ""),
		LogLevel:      getEnv("LOG_LEVEL", "info"),
	}
}

// Validate checks the values the controller cannot run without.
// Every returned error wraps model.ErrConfiguration.
func (c *Config) Validate() error {
	if _, _, err := c.ParseSymbolSource(); err != nil {
		return err
	}
	if strings.TrimSpace(c.SinkSheet) == "" {
		return fmt.Errorf("%w: SINK_SHEET is empty", model.ErrConfiguration)
	}
	if c.SQLitePath == "" {
		return fmt.Errorf("%w: SQLITE_PATH is empty", model.ErrConfiguration)
	}
	if c.LookbackDays <= 0 {
		return fmt.Errorf("%w: LOOKBACK_DAYS must be positive, got %d", model.ErrConfiguration, c.LookbackDays)
	}
	if c.MaxSymbolsPerRun <= 0 {
		return fmt.Errorf("%w: MAX_SYMBOLS_PER_RUN must be positive, got %d", model.ErrConfiguration, c.MaxSymbolsPerRun)
	}
	if c.RunBudget <= 0 {
		return fmt.Errorf("%w: RUN_BUDGET_SEC must be positive", model.ErrConfiguration)
	}
	if c.JobName == "" {
		return fmt.Errorf("%w: JOB_NAME is empty", model.ErrConfiguration)
	}
	if _, err := time.LoadLocation(c.TimestampLocation); err != nil {
		return fmt.Errorf("%w: TIMESTAMP_TZ %q: %v", model.ErrConfiguration, c.TimestampLocation, err)
	}

	switch c.Provider {
	case ProviderYahoo:
	case ProviderEODHD:
		if c.EODHDAPIKey == "" {
			return fmt.Errorf("%w: EODHD_API_KEY is required for PROVIDER=eodhd", model.ErrConfiguration)
		}
	case ProviderFormula:
		if c.PollMaxAttempts <= 0 || c.PollInterval <= 0 {
			return fmt.Errorf("%w: POLL_INTERVAL_MS and POLL_MAX_ATTEMPTS must be positive", model.ErrConfiguration)
		}
	default:
		return fmt.Errorf("%w: unknown PROVIDER %q", model.ErrConfiguration, c.Provider)
	}
	return nil
}

// ParseSymbolSource splits SymbolSource into its kind and argument.
func (c *Config) ParseSymbolSource() (kind, arg string, err error) {
	kind, arg, _ = strings.Cut(strings.TrimSpace(c.SymbolSource), ":")
	kind = strings.ToLower(strings.TrimSpace(kind))
	arg = strings.TrimSpace(arg)

	switch kind {
	case SourceSheet, SourceFile:
		if arg == "" {
			return "", "", fmt.Errorf("%w: SYMBOL_SOURCE %q needs a name after %q", model.ErrConfiguration, c.SymbolSource, kind+":")
		}
	case SourceSP500:
	default:
		return "", "", fmt.Errorf("%w: unknown SYMBOL_SOURCE %q", model.ErrConfiguration, c.SymbolSource)
	}
	return kind, arg, nil
}

// Location returns the zone used for sheet timestamps.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.TimestampLocation)
	if err != nil {
		return time.Local
	}
	return loc
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid integer %s=%q, using %d", key, v, fallback)
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(strings.TrimSpace(v))
	if err != nil {
		log.Printf("[config] invalid boolean %s=%q, using %v", key, v, fallback)
		return fallback
	}
	return b
}

func getMillis(key string, fallback int) time.Duration {
	return time.Duration(getInt(key, fallback)) * time.Millisecond
}
