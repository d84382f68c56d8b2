package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoad_DefaultsForEmptySections(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "app:\n  env: test\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.App.Env)
	assert.Equal(t, defaultAppHTTPAddr, cfg.App.HTTPAddr)
	assert.True(t, cfg.Providers.Binance.Enabled)
	assert.True(t, cfg.Providers.Yahoo.Enabled)
	assert.Equal(t, "7d", cfg.Backfill.Period)
	assert.Equal(t, defaultMaxRetries, cfg.Backfill.MaxRetries)
	assert.False(t, cfg.Backfill.DropFormingBar)
	assert.Equal(t, "file", cfg.Store.Driver)
	assert.Equal(t, defaultLivePollSeconds, cfg.Live.PollSeconds)
	assert.True(t, cfg.Fanout.Console)
	assert.Equal(t, defaultExportCron, cfg.Export.Cron)
}

func TestLoad_ExplicitValuesWin(t *testing.T) {
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", `
providers:
  binance:
    enabled: false
backfill:
  max_retries: 0
  drop_forming_bar: true
fanout:
  console: false
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.False(t, cfg.Providers.Binance.Enabled)
	assert.Zero(t, cfg.Backfill.MaxRetries)
	assert.True(t, cfg.Backfill.DropFormingBar)
	assert.False(t, cfg.Fanout.Console)
}

func TestLoad_IncludesMergeInOrder(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", "live:\n  poll_seconds: 30\nstore:\n  driver: memory\n")
	path := writeFile(t, dir, "config.yaml", "include:\n  - base.yaml\nlive:\n  poll_seconds: 15\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Live.PollSeconds)
	assert.Equal(t, "memory", cfg.Store.Driver)
}

func TestLoad_IncludeCycle(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include:\n  - b.yaml\n")
	path := writeFile(t, dir, "b.yaml", "include:\n  - a.yaml\n")

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv(EnvBinanceAPIKey, "key")
	t.Setenv(EnvBinanceAPISecret, "secret")
	t.Setenv(EnvWebhookURL, "http://hook.local/candles")
	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", "fanout:\n  webhook_url: http://other.local\n")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "key", cfg.Providers.Binance.APIKey)
	assert.Equal(t, "secret", cfg.Providers.Binance.APISecret)
	assert.Equal(t, "http://hook.local/candles", cfg.Fanout.WebhookURL)
}

func TestLoad_Validation(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"bad log format", "app:\n  log_format: xml\n", "app.log_format"},
		{"bad period", "backfill:\n  period: 7x\n", "backfill.period"},
		{"bad driver", "store:\n  driver: redis\n", "store.driver"},
		{"bad webhook", "fanout:\n  webhook_url: not-a-url\n", "fanout.webhook_url"},
		{"bad cron", "export:\n  enabled: true\n  cron: nonsense\n", "export.cron"},
		{"no providers", "providers:\n  binance:\n    enabled: false\n  yahoo:\n    enabled: false\n", "providers"},
		{"bad timezone", "providers:\n  yahoo:\n    equity_timezone: Mars/Olympus\n", "equity_timezone"},
		{"telegram without chat", "fanout:\n  telegram:\n    enabled: true\n    bot_token: t\n", "fanout.telegram"},
		{"proxy without url", "providers:\n  binance:\n    proxy:\n      enabled: true\n", "proxy.url"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "config.yaml", tt.body)
			_, err := Load(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestPath(t *testing.T) {
	t.Setenv(EnvConfigPath, "")
	assert.Equal(t, DefaultPath, Path(""))
	t.Setenv(EnvConfigPath, "/etc/candlefeed.yaml")
	assert.Equal(t, "/etc/candlefeed.yaml", Path(""))
	assert.Equal(t, "flag.yaml", Path(" flag.yaml "))
}

func TestProxyConfig_Resolve(t *testing.T) {
	assert.Empty(t, ProxyConfig{URL: "http://p"}.Resolve())
	assert.Equal(t, "http://p", ProxyConfig{Enabled: true, URL: " http://p "}.Resolve())
}
