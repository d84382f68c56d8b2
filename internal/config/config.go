package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const (
	EnvConfigPath       = "CANDLEFEED_CONFIG"
	EnvBinanceAPIKey    = "BINANCE_API_KEY"
	EnvBinanceAPISecret = "BINANCE_API_SECRET"
	EnvWebhookURL       = "WEBHOOK_URL"
	EnvTelegramToken    = "CANDLEFEED_TELEGRAM_TOKEN"

	DefaultPath = "configs/config.yaml"
)

// Path returns the config path from flag, then CANDLEFEED_CONFIG, then the default.
func Path(flag string) string {
	if p := strings.TrimSpace(flag); p != "" {
		return p
	}
	if p := strings.TrimSpace(os.Getenv(EnvConfigPath)); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads path and its includes, then applies env overrides, defaults and
// validation in that order.
func Load(path string) (*Config, error) {
	layers, err := readLayers(path)
	if err != nil {
		return nil, err
	}
	v := viper.New()
	v.SetConfigType("yaml")
	for _, l := range layers {
		if err := v.MergeConfigMap(l.settings); err != nil {
			return nil, fmt.Errorf("merge config %s: %w", l.path, err)
		}
	}
	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.TagName = "yaml"
		dc.WeaklyTypedInput = true
	}); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	explicit := make(keySet)
	for _, k := range v.AllKeys() {
		explicit.mark(k)
	}
	cfg.applyEnv(os.Getenv)
	cfg.applyDefaults(explicit)
	if err := validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) applyEnv(getenv func(string) string) {
	overrides := []struct {
		env string
		dst *string
	}{
		{EnvBinanceAPIKey, &c.Providers.Binance.APIKey},
		{EnvBinanceAPISecret, &c.Providers.Binance.APISecret},
		{EnvWebhookURL, &c.Fanout.WebhookURL},
		{EnvTelegramToken, &c.Fanout.Telegram.BotToken},
	}
	for _, o := range overrides {
		if v := strings.TrimSpace(getenv(o.env)); v != "" {
			*o.dst = v
		}
	}
}

// layer is one config file's own settings, before includes are merged.
type layer struct {
	path     string
	settings map[string]any
}

// readLayers returns path and everything it includes, depth first, so that
// later layers override earlier ones and the root file wins.
func readLayers(path string) ([]layer, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	r := &includeReader{done: map[string]bool{}, open: map[string]bool{}}
	if err := r.visit(abs); err != nil {
		return nil, err
	}
	return r.layers, nil
}

type includeReader struct {
	done   map[string]bool
	open   map[string]bool
	layers []layer
}

func (r *includeReader) visit(path string) error {
	path = filepath.Clean(path)
	if r.open[path] {
		return fmt.Errorf("include cycle detected: %s", path)
	}
	if r.done[path] {
		return nil
	}
	r.open[path] = true
	defer delete(r.open, path)

	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	for _, inc := range v.GetStringSlice("include") {
		inc = strings.TrimSpace(inc)
		if inc == "" {
			continue
		}
		if !filepath.IsAbs(inc) {
			inc = filepath.Join(filepath.Dir(path), inc)
		}
		if err := r.visit(inc); err != nil {
			return err
		}
	}
	settings := v.AllSettings()
	delete(settings, "include")
	r.done[path] = true
	r.layers = append(r.layers, layer{path: path, settings: settings})
	return nil
}
