package config

import "strings"

// Config is the root of the candlefeed configuration.
type Config struct {
	App       AppConfig       `yaml:"app"`
	Providers ProvidersConfig `yaml:"providers"`
	Backfill  BackfillConfig  `yaml:"backfill"`
	Store     StoreConfig     `yaml:"store"`
	Live      LiveConfig      `yaml:"live"`
	Fanout    FanoutConfig    `yaml:"fanout"`
	Export    ExportConfig    `yaml:"export"`
}

type AppConfig struct {
	Env      string `yaml:"env"`
	LogLevel string `yaml:"log_level"`
	// LogFormat is text or json.
	LogFormat string `yaml:"log_format"`
	HTTPAddr string `yaml:"http_addr"`
	LogPath  string `yaml:"log_path"`
}

type ProvidersConfig struct {
	Binance BinanceConfig `yaml:"binance"`
	Yahoo   YahooConfig   `yaml:"yahoo"`
}

type BinanceConfig struct {
	Enabled            bool        `yaml:"enabled"`
	RESTBaseURL        string      `yaml:"rest_base_url"`
	APIKey             string      `yaml:"api_key"`
	APISecret          string      `yaml:"api_secret"`
	TimeoutSeconds     int         `yaml:"timeout_seconds"`
	RateLimitPerMinute int         `yaml:"rate_limit_per_minute"`
	Proxy              ProxyConfig `yaml:"proxy"`
}

type YahooConfig struct {
	Enabled            bool        `yaml:"enabled"`
	BaseURL            string      `yaml:"base_url"`
	UserAgent          string      `yaml:"user_agent"`
	EquityTimezone     string      `yaml:"equity_timezone"`
	PricePrecision     int         `yaml:"price_precision"`
	TimeoutSeconds     int         `yaml:"timeout_seconds"`
	RateLimitPerMinute int         `yaml:"rate_limit_per_minute"`
	Proxy              ProxyConfig `yaml:"proxy"`
}

type ProxyConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

func (p *ProxyConfig) normalize() {
	if p == nil {
		return
	}
	p.URL = strings.TrimSpace(p.URL)
}

// Resolve returns the proxy URL, or "" when the proxy is disabled.
func (p ProxyConfig) Resolve() string {
	if !p.Enabled {
		return ""
	}
	return strings.TrimSpace(p.URL)
}

type BackfillConfig struct {
	Period                string `yaml:"period"`
	MaxRetries            int    `yaml:"max_retries"`
	RetryInitialMillis    int    `yaml:"retry_initial_ms"`
	DropFormingBar        bool   `yaml:"drop_forming_bar"`
	FormingGraceSeconds   int    `yaml:"forming_grace_seconds"`
	MaxConcurrentJobs     int    `yaml:"max_concurrent_jobs"`
	BreakerThreshold      int    `yaml:"breaker_threshold"`
	BreakerCooldownSecond int    `yaml:"breaker_cooldown_seconds"`
}

type StoreConfig struct {
	// Driver is "file" (CSV per series) or "memory".
	Driver      string `yaml:"driver"`
	DataDir     string `yaml:"data_dir"`
	JournalPath string `yaml:"journal_path"`
	// MirrorPath enables the gorm query mirror when non-empty.
	MirrorPath string `yaml:"mirror_path"`
}

type LiveConfig struct {
	PollSeconds        int    `yaml:"poll_seconds"`
	Align              bool   `yaml:"align"`
	AlignOffsetSeconds int    `yaml:"align_offset_seconds"`
	RetryFailedWindows int    `yaml:"retry_failed_windows"`
	WatchlistPath      string `yaml:"watchlist_path"`
}

type FanoutConfig struct {
	WebhookURL            string `yaml:"webhook_url"`
	WebhookTimeoutSeconds int    `yaml:"webhook_timeout_seconds"`
	Console               bool   `yaml:"console"`
	QueueSize             int    `yaml:"queue_size"`

	Telegram TelegramConfig `yaml:"telegram"`
}

// TelegramConfig enables a chat sink that posts one message per batch.
type TelegramConfig struct {
	Enabled  bool   `yaml:"enabled"`
	BotToken string `yaml:"bot_token"`
	ChatID   string `yaml:"chat_id"`
	APIBase  string `yaml:"api_base"`
}

type ExportConfig struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
	Cron    string `yaml:"cron"`
}

// keySet tracks the field paths explicitly set in the config files.
type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

// fieldDefault describes how a single field gets its default.
type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
