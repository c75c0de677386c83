package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// AdapterConfig describes one quote adapter: a URL template with a
// %s placeholder for the provider-side ticker, plus either JSON paths
// or regex patterns ordered by specificity.
type AdapterConfig struct {
	Name      string            `yaml:"name"`
	Kind      string            `yaml:"kind"` // "json" or "scrape"
	URL       string            `yaml:"url"`
	JSONPaths []string          `yaml:"json_paths"`
	Patterns  []string          `yaml:"patterns"`
	SymbolMap map[string]string `yaml:"symbol_map"`
}

// ProviderConfig describes one history provider endpoint.
type ProviderConfig struct {
	Name      string            `yaml:"name"`
	Kind      string            `yaml:"kind"` // "csv", "scrape" or "feed"
	URL       string            `yaml:"url"`
	SymbolMap map[string]string `yaml:"symbol_map"`
}

// Config holds all application configuration.
type Config struct {
	Exchange struct {
		Timezone     string `yaml:"timezone"`
		SessionOpen  string `yaml:"session_open"`  // "09:30"
		SessionClose string `yaml:"session_close"` // "15:00"
	} `yaml:"exchange"`
	Database struct {
		SQLitePath string `yaml:"sqlite_path"`
	} `yaml:"database"`
	Fetch struct {
		Timeout       time.Duration `yaml:"timeout"`
		QuoteCacheTTL time.Duration `yaml:"quote_cache_ttl"`
		Freshness     time.Duration `yaml:"freshness"`
	} `yaml:"fetch"`
	Providers struct {
		Quote   []AdapterConfig  `yaml:"quote"`
		History []ProviderConfig `yaml:"history"`
	} `yaml:"providers"`
	Schedule struct {
		RefreshCron string   `yaml:"refresh_cron"`
		Watchlist   []string `yaml:"watchlist"`
	} `yaml:"schedule"`
	Log struct {
		Level string `yaml:"level"`
	} `yaml:"log"`
	Proxy string `yaml:"proxy"`
}

// Load reads config from a YAML file, then applies environment variable
// overrides and defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Database.SQLitePath = v
	}
	if v := os.Getenv("HTTPS_PROXY"); v != "" {
		cfg.Proxy = v
	}
	if v := os.Getenv("REFRESH_CRON"); v != "" {
		cfg.Schedule.RefreshCron = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("EXCHANGE_TZ"); v != "" {
		cfg.Exchange.Timezone = v
	}

	applyDefaults(cfg)
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Exchange.Timezone == "" {
		cfg.Exchange.Timezone = "Asia/Jakarta"
	}
	if cfg.Exchange.SessionOpen == "" {
		cfg.Exchange.SessionOpen = "09:30"
	}
	if cfg.Exchange.SessionClose == "" {
		cfg.Exchange.SessionClose = "15:00"
	}
	if cfg.Database.SQLitePath == "" {
		cfg.Database.SQLitePath = "data/boursecast.db"
	}
	if cfg.Fetch.Timeout == 0 {
		cfg.Fetch.Timeout = 10 * time.Second
	}
	if cfg.Fetch.QuoteCacheTTL == 0 {
		cfg.Fetch.QuoteCacheTTL = 30 * time.Second
	}
	if cfg.Fetch.Freshness == 0 {
		cfg.Fetch.Freshness = 5 * time.Minute
	}
	if cfg.Schedule.RefreshCron == "" {
		cfg.Schedule.RefreshCron = "0 */10 9-15 * * 1-5"
	}
	if len(cfg.Schedule.Watchlist) == 0 {
		cfg.Schedule.Watchlist = []string{"IDX", "BBCA", "TLKM"}
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if len(cfg.Providers.Quote) == 0 {
		cfg.Providers.Quote = defaultQuoteAdapters()
	}
	if len(cfg.Providers.History) == 0 {
		cfg.Providers.History = defaultHistoryProviders()
	}
}

func defaultQuoteAdapters() []AdapterConfig {
	return []AdapterConfig{
		{
			Name:      "yahoo",
			Kind:      "json",
			URL:       "https://query1.finance.yahoo.com/v8/finance/chart/%s?interval=1d&range=1d",
			JSONPaths: []string{"chart.result.0.meta.regularMarketPrice", "chart.result.0.meta.previousClose"},
			SymbolMap: map[string]string{"IDX": "^JKSE"},
		},
		{
			Name: "rti",
			Kind: "json",
			URL:  "https://api.rtibusiness.example/v1/quote?ticker=%s",
			JSONPaths: []string{
				"data.last_price",
				"data.close",
			},
		},
		{
			Name: "exchange-page",
			Kind: "scrape",
			URL:  "https://www.idx-board.example/equities/%s",
			Patterns: []string{
				`data-last-price="([0-9][0-9.,]*)"`,
				`<span class="last-price">\s*([0-9][0-9.,]*)\s*</span>`,
				`"lastTradedPrice"\s*:\s*([0-9][0-9.]*)`,
			},
		},
	}
}

func defaultHistoryProviders() []ProviderConfig {
	return []ProviderConfig{
		{
			Name:      "yahoo-csv",
			Kind:      "csv",
			URL:       "https://query1.finance.yahoo.com/v7/finance/download/%s?interval=1d&range=6mo&events=history",
			SymbolMap: map[string]string{"IDX": "^JKSE"},
		},
		{
			Name: "exchange-page",
			Kind: "scrape",
			URL:  "https://www.idx-board.example/equities/%s/history",
		},
		{
			Name: "market-feed",
			Kind: "feed",
			URL:  "https://feed.rtibusiness.example/eod/%s.rss",
		},
	}
}

// Validate checks that all required fields are consistent.
func (c *Config) Validate() error {
	if _, err := time.LoadLocation(c.Exchange.Timezone); err != nil {
		return fmt.Errorf("exchange.timezone: %w", err)
	}
	if _, err := time.Parse("15:04", c.Exchange.SessionOpen); err != nil {
		return fmt.Errorf("exchange.session_open: %w", err)
	}
	if _, err := time.Parse("15:04", c.Exchange.SessionClose); err != nil {
		return fmt.Errorf("exchange.session_close: %w", err)
	}
	if c.Fetch.Timeout < time.Second || c.Fetch.Timeout > time.Minute {
		return fmt.Errorf("fetch.timeout must be between 1s and 1m, got %s", c.Fetch.Timeout)
	}
	for _, a := range c.Providers.Quote {
		if a.Kind != "json" && a.Kind != "scrape" {
			return fmt.Errorf("quote adapter %q: unknown kind %q", a.Name, a.Kind)
		}
	}
	for _, p := range c.Providers.History {
		if p.Kind != "csv" && p.Kind != "scrape" && p.Kind != "feed" {
			return fmt.Errorf("history provider %q: unknown kind %q", p.Name, p.Kind)
		}
	}
	return nil
}

// Location resolves the exchange timezone. Validate must have passed.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Exchange.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
