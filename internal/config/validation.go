package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"candlefeed/internal/period"

	"github.com/robfig/cron/v3"
)

func validate(c *Config) error {
	switch strings.ToLower(c.App.LogFormat) {
	case "text", "json":
	default:
		return fmt.Errorf("app.log_format must be text or json, got %q", c.App.LogFormat)
	}
	if err := c.Providers.validate(); err != nil {
		return err
	}
	if err := c.Backfill.validate(); err != nil {
		return err
	}
	if err := c.Store.validate(); err != nil {
		return err
	}
	if err := c.Live.validate(); err != nil {
		return err
	}
	if err := c.Fanout.validate(); err != nil {
		return err
	}
	if err := c.Export.validate(); err != nil {
		return err
	}
	return nil
}

func (p *ProvidersConfig) validate() error {
	if !p.Binance.Enabled && !p.Yahoo.Enabled {
		return fmt.Errorf("providers: at least one of binance, yahoo must be enabled")
	}
	if p.Binance.Enabled {
		if err := validateURL("providers.binance.rest_base_url", p.Binance.RESTBaseURL); err != nil {
			return err
		}
		if p.Binance.Proxy.Enabled && p.Binance.Proxy.URL == "" {
			return fmt.Errorf("providers.binance.proxy.url is required when the proxy is enabled")
		}
	}
	if p.Yahoo.Enabled {
		if err := validateURL("providers.yahoo.base_url", p.Yahoo.BaseURL); err != nil {
			return err
		}
		if _, err := time.LoadLocation(p.Yahoo.EquityTimezone); err != nil {
			return fmt.Errorf("providers.yahoo.equity_timezone: %w", err)
		}
		if p.Yahoo.Proxy.Enabled && p.Yahoo.Proxy.URL == "" {
			return fmt.Errorf("providers.yahoo.proxy.url is required when the proxy is enabled")
		}
	}
	return nil
}

func (b *BackfillConfig) validate() error {
	if _, err := period.Parse(b.Period, time.Now()); err != nil {
		return fmt.Errorf("backfill.period: %w", err)
	}
	if b.MaxRetries < 0 {
		return fmt.Errorf("backfill.max_retries must be >= 0")
	}
	if b.FormingGraceSeconds < 0 {
		return fmt.Errorf("backfill.forming_grace_seconds must be >= 0")
	}
	if b.MaxConcurrentJobs <= 0 {
		return fmt.Errorf("backfill.max_concurrent_jobs must be > 0")
	}
	return nil
}

func (s *StoreConfig) validate() error {
	switch s.Driver {
	case "file":
		if strings.TrimSpace(s.DataDir) == "" {
			return fmt.Errorf("store.data_dir is required for the file driver")
		}
	case "memory":
	default:
		return fmt.Errorf("store.driver must be file or memory, got %q", s.Driver)
	}
	if strings.TrimSpace(s.JournalPath) == "" {
		return fmt.Errorf("store.journal_path is required")
	}
	return nil
}

func (l *LiveConfig) validate() error {
	if l.PollSeconds <= 0 {
		return fmt.Errorf("live.poll_seconds must be > 0")
	}
	if l.AlignOffsetSeconds < 0 {
		return fmt.Errorf("live.align_offset_seconds must be >= 0")
	}
	if l.RetryFailedWindows < 0 {
		return fmt.Errorf("live.retry_failed_windows must be >= 0")
	}
	return nil
}

func (f *FanoutConfig) validate() error {
	if f.WebhookURL != "" {
		if err := validateURL("fanout.webhook_url", f.WebhookURL); err != nil {
			return err
		}
	}
	if f.QueueSize <= 0 {
		return fmt.Errorf("fanout.queue_size must be > 0")
	}
	if f.Telegram.Enabled {
		if strings.TrimSpace(f.Telegram.BotToken) == "" || strings.TrimSpace(f.Telegram.ChatID) == "" {
			return fmt.Errorf("fanout.telegram requires bot_token and chat_id")
		}
		if f.Telegram.APIBase != "" {
			if err := validateURL("fanout.telegram.api_base", f.Telegram.APIBase); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *ExportConfig) validate() error {
	if !e.Enabled {
		return nil
	}
	if strings.TrimSpace(e.Dir) == "" {
		return fmt.Errorf("export.dir is required when export is enabled")
	}
	parser := cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	if _, err := parser.Parse(e.Cron); err != nil {
		return fmt.Errorf("export.cron: %w", err)
	}
	return nil
}

func validateURL(field, raw string) error {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("%s must be an absolute URL, got %q", field, raw)
	}
	return nil
}
