// Package config loads engine configuration from defaults, an optional YAML
// file, a .env file and the process environment, in that order.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/portana/ledger-engine/internal/performance"
	"github.com/portana/ledger-engine/internal/portfolio"
)

// Config is the engine configuration.
type Config struct {
	Port        string        `yaml:"port"`
	DatabaseURL string        `yaml:"database_url"`
	RedisURL    string        `yaml:"redis_url"`
	CacheTTL    time.Duration `yaml:"cache_ttl"`
	LockTTL     time.Duration `yaml:"lock_ttl"`
	LogLevel    string        `yaml:"log_level"` // debug, info, warn, error

	// Run settings
	Concurrency      int    `yaml:"concurrency"`
	QuoteConcurrency int    `yaml:"quote_concurrency"`
	YahooBaseURL     string `yaml:"yahoo_base_url"`
	PriceRefresh     bool   `yaml:"price_refresh"`

	// Metrics settings
	RiskFreeRate float64 `yaml:"risk_free_rate"`
	TradingDays  int     `yaml:"trading_days"`
	SharpeWindow int     `yaml:"sharpe_window"`
	MetricsEpoch string  `yaml:"metrics_epoch"` // YYYY-MM-DD
	FlowBasis    string  `yaml:"flow_basis"`    // securities, cash-ledger

	// Dev-mode inputs for the loader
	Data DataConfig `yaml:"data"`
}

// DataConfig lists glob patterns of normalized JSONL inputs.
type DataConfig struct {
	Accounts     []string `yaml:"accounts"`
	Transactions []string `yaml:"transactions"`
	Prices       []string `yaml:"prices"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Port:             "8080",
		CacheTTL:         30 * time.Second,
		LockTTL:          5 * time.Minute,
		LogLevel:         "info",
		Concurrency:      4,
		QuoteConcurrency: 4,
		YahooBaseURL:     "https://query2.finance.yahoo.com",
		PriceRefresh:     true,
		RiskFreeRate:     0.05,
		TradingDays:      252,
		SharpeWindow:     30,
		MetricsEpoch:     "2000-01-01",
		FlowBasis:        string(performance.BasisSecurities),
	}
}

// Load builds a Config. path names an optional YAML file; envFiles default
// to ".env" and are skipped when missing. Environment variables win.
func Load(path string, envFiles ...string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if len(envFiles) == 0 {
		envFiles = []string{".env"}
	}
	for _, f := range envFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load %s: %w", f, err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	list := func(key string, dst *[]string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = splitList(v)
		}
	}

	var errs []error
	num := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			n, err := strconv.Atoi(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			d, err := time.ParseDuration(strings.TrimSpace(v))
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	str("PORT", &c.Port)
	str("DATABASE_URL", &c.DatabaseURL)
	str("REDIS_URL", &c.RedisURL)
	dur("CACHE_TTL", &c.CacheTTL)
	dur("LOCK_TTL", &c.LockTTL)
	str("LOG_LEVEL", &c.LogLevel)
	num("CONCURRENCY", &c.Concurrency)
	num("QUOTE_CONCURRENCY", &c.QuoteConcurrency)
	str("YAHOO_BASE_URL", &c.YahooBaseURL)
	num("TRADING_DAYS", &c.TradingDays)
	num("SHARPE_WINDOW", &c.SharpeWindow)
	str("METRICS_EPOCH", &c.MetricsEpoch)
	str("FLOW_BASIS", &c.FlowBasis)
	list("DATA_ACCOUNTS", &c.Data.Accounts)
	list("DATA_TRANSACTIONS", &c.Data.Transactions)
	list("DATA_PRICES", &c.Data.Prices)

	if v, ok := os.LookupEnv("PRICE_REFRESH"); ok {
		b, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			errs = append(errs, fmt.Errorf("PRICE_REFRESH: %w", err))
		} else {
			c.PriceRefresh = b
		}
	}
	if v, ok := os.LookupEnv("RISK_FREE_RATE"); ok {
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("RISK_FREE_RATE: %w", err))
		} else {
			c.RiskFreeRate = f
		}
	}
	return errors.Join(errs...)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidationError is one invalid configuration field.
type ValidationError struct {
	Field   string
	Value   any
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s %s (value: %v)", e.Field, e.Message, e.Value)
}

// Validate checks every field and joins all failures.
func (c *Config) Validate() error {
	var errs []error
	add := func(field string, value any, msg string) {
		errs = append(errs, &ValidationError{Field: field, Value: value, Message: msg})
	}

	if c.Port == "" {
		add("port", c.Port, "is required")
	}
	if c.CacheTTL <= 0 {
		add("cache_ttl", c.CacheTTL, "must be positive")
	}
	if c.LockTTL <= 0 {
		add("lock_ttl", c.LockTTL, "must be positive")
	}
	if _, ok := logLevels[strings.ToLower(c.LogLevel)]; !ok {
		add("log_level", c.LogLevel, "must be one of debug, info, warn, error")
	}
	if c.Concurrency < 1 {
		add("concurrency", c.Concurrency, "must be at least 1")
	}
	if c.QuoteConcurrency < 1 {
		add("quote_concurrency", c.QuoteConcurrency, "must be at least 1")
	}
	if c.RiskFreeRate < 0 || c.RiskFreeRate > 1 {
		add("risk_free_rate", c.RiskFreeRate, "must be between 0 and 1")
	}
	if c.TradingDays < 1 {
		add("trading_days", c.TradingDays, "must be at least 1")
	}
	if c.SharpeWindow < 2 {
		add("sharpe_window", c.SharpeWindow, "must be at least 2")
	}
	if _, err := time.Parse(time.DateOnly, c.MetricsEpoch); err != nil {
		add("metrics_epoch", c.MetricsEpoch, "must be YYYY-MM-DD")
	}
	if _, err := performance.ParseFlowBasis(c.FlowBasis); err != nil {
		add("flow_basis", c.FlowBasis, "must be securities or cash-ledger")
	}
	return errors.Join(errs...)
}

var logLevels = map[string]slog.Level{
	"debug": slog.LevelDebug,
	"info":  slog.LevelInfo,
	"warn":  slog.LevelWarn,
	"error": slog.LevelError,
}

// SlogLevel returns the configured log level.
func (c *Config) SlogLevel() slog.Level {
	return logLevels[strings.ToLower(c.LogLevel)]
}

// ServiceOptions converts the run and metrics settings for portfolio.Service.
// The config must have passed Validate.
func (c *Config) ServiceOptions() portfolio.Options {
	basis, _ := performance.ParseFlowBasis(c.FlowBasis)
	epoch, _ := time.Parse(time.DateOnly, c.MetricsEpoch)
	return portfolio.Options{
		Concurrency: c.Concurrency,
		FlowBasis:   basis,
		Metrics: performance.Options{
			RiskFreeRate: decimal.NewFromFloat(c.RiskFreeRate),
			TradingDays:  c.TradingDays,
			SharpeWindow: c.SharpeWindow,
		},
		Epoch: epoch,
	}
}
