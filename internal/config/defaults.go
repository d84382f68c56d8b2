package config

import (
	"strings"
)

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":8000"
	defaultBinanceREST       = "https://api.binance.com"
	defaultYahooBase         = "https://query1.finance.yahoo.com"
	defaultYahooUserAgent    = "Mozilla/5.0"
	defaultYahooTimezone     = "America/New_York"
	defaultYahooPrecision    = 6
	defaultProviderTimeout   = 15
	defaultRateLimit         = 120
	defaultBackfillPeriod    = "7d"
	defaultMaxRetries        = 4
	defaultRetryInitialMS    = 500
	defaultFormingGrace      = 2
	defaultMaxConcurrentJobs = 4
	defaultBreakerThreshold  = 5
	defaultBreakerCooldown   = 30
	defaultStoreDriver       = "file"
	defaultStoreDataDir      = "data/series"
	defaultJournalPath       = "data/journal.db"
	defaultLivePollSeconds   = 60
	defaultLiveAlignOffset   = 2
	defaultLiveRetryWindows  = 2
	defaultWebhookTimeout    = 2
	defaultQueueSize         = 256
	defaultExportDir         = "data/export"
	defaultExportCron        = "0 5 0 * * *"
)

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Providers.applyDefaults(keys)
	c.Backfill.applyDefaults(keys)
	c.Store.applyDefaults(keys)
	c.Live.applyDefaults(keys)
	c.Fanout.applyDefaults(keys)
	c.Export.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	if a == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.log_format", &a.LogFormat, "text"),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
	)
}

func (p *ProvidersConfig) applyDefaults(keys keySet) {
	if p == nil {
		return
	}
	b := &p.Binance
	y := &p.Yahoo
	b.Proxy.normalize()
	y.Proxy.normalize()
	applyFieldDefaults(keys,
		boolFieldDefault("providers.binance.enabled", &b.Enabled, true),
		stringFieldDefault("providers.binance.rest_base_url", &b.RESTBaseURL, defaultBinanceREST),
		intFieldDefault("providers.binance.timeout_seconds", &b.TimeoutSeconds, defaultProviderTimeout),
		intFieldDefault("providers.binance.rate_limit_per_minute", &b.RateLimitPerMinute, defaultRateLimit),
		boolFieldDefault("providers.yahoo.enabled", &y.Enabled, true),
		stringFieldDefault("providers.yahoo.base_url", &y.BaseURL, defaultYahooBase),
		stringFieldDefault("providers.yahoo.user_agent", &y.UserAgent, defaultYahooUserAgent),
		stringFieldDefault("providers.yahoo.equity_timezone", &y.EquityTimezone, defaultYahooTimezone),
		intFieldDefault("providers.yahoo.price_precision", &y.PricePrecision, defaultYahooPrecision),
		intFieldDefault("providers.yahoo.timeout_seconds", &y.TimeoutSeconds, defaultProviderTimeout),
		intFieldDefault("providers.yahoo.rate_limit_per_minute", &y.RateLimitPerMinute, defaultRateLimit),
	)
}

func (b *BackfillConfig) applyDefaults(keys keySet) {
	if b == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("backfill.period", &b.Period, defaultBackfillPeriod),
		intFieldDefault("backfill.max_retries", &b.MaxRetries, defaultMaxRetries),
		intFieldDefault("backfill.retry_initial_ms", &b.RetryInitialMillis, defaultRetryInitialMS),
		intFieldDefault("backfill.forming_grace_seconds", &b.FormingGraceSeconds, defaultFormingGrace),
		intFieldDefault("backfill.max_concurrent_jobs", &b.MaxConcurrentJobs, defaultMaxConcurrentJobs),
		intFieldDefault("backfill.breaker_threshold", &b.BreakerThreshold, defaultBreakerThreshold),
		intFieldDefault("backfill.breaker_cooldown_seconds", &b.BreakerCooldownSecond, defaultBreakerCooldown),
	)
}

func (s *StoreConfig) applyDefaults(keys keySet) {
	if s == nil {
		return
	}
	s.Driver = strings.ToLower(strings.TrimSpace(s.Driver))
	s.MirrorPath = strings.TrimSpace(s.MirrorPath)
	applyFieldDefaults(keys,
		stringFieldDefault("store.driver", &s.Driver, defaultStoreDriver),
		stringFieldDefault("store.data_dir", &s.DataDir, defaultStoreDataDir),
		stringFieldDefault("store.journal_path", &s.JournalPath, defaultJournalPath),
	)
}

func (l *LiveConfig) applyDefaults(keys keySet) {
	if l == nil {
		return
	}
	l.WatchlistPath = strings.TrimSpace(l.WatchlistPath)
	applyFieldDefaults(keys,
		intFieldDefault("live.poll_seconds", &l.PollSeconds, defaultLivePollSeconds),
		intFieldDefault("live.align_offset_seconds", &l.AlignOffsetSeconds, defaultLiveAlignOffset),
		intFieldDefault("live.retry_failed_windows", &l.RetryFailedWindows, defaultLiveRetryWindows),
	)
}

func (f *FanoutConfig) applyDefaults(keys keySet) {
	if f == nil {
		return
	}
	f.WebhookURL = strings.TrimSpace(f.WebhookURL)
	applyFieldDefaults(keys,
		boolFieldDefault("fanout.console", &f.Console, true),
		intFieldDefault("fanout.webhook_timeout_seconds", &f.WebhookTimeoutSeconds, defaultWebhookTimeout),
		intFieldDefault("fanout.queue_size", &f.QueueSize, defaultQueueSize),
	)
}

func (e *ExportConfig) applyDefaults(keys keySet) {
	if e == nil {
		return
	}
	applyFieldDefaults(keys,
		stringFieldDefault("export.dir", &e.Dir, defaultExportDir),
		stringFieldDefault("export.cron", &e.Cron, defaultExportCron),
	)
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key: key,
		need: func() bool {
			return target != nil && strings.TrimSpace(*target) == ""
		},
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}

// intFieldDefault applies def when the field is unset and not positive.
func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:  key,
		need: func() bool { return target != nil && *target <= 0 },
		apply: func() {
			if target != nil {
				*target = def
			}
		},
	}
}
