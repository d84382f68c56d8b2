package gateway

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"candlefeed/internal/config"
	"candlefeed/internal/gateway/binance"
	"candlefeed/internal/gateway/yahoo"
	"candlefeed/internal/market"
)

// Registry maps provider tags to configured candle providers.
type Registry struct {
	providers map[string]market.CandleProvider
}

func NewRegistry(providers ...market.CandleProvider) *Registry {
	r := &Registry{providers: make(map[string]market.CandleProvider, len(providers))}
	for _, p := range providers {
		if p == nil {
			continue
		}
		r.providers[strings.ToLower(p.Name())] = p
	}
	return r
}

// NewRegistryFromConfig builds every enabled provider.
func NewRegistryFromConfig(cfg *config.Config) (*Registry, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	var providers []market.CandleProvider
	if b := cfg.Providers.Binance; b.Enabled {
		p, err := binance.New(binance.Config{
			RESTBaseURL: b.RESTBaseURL,
			APIKey:      b.APIKey,
			APISecret:   b.APISecret,
			HTTPTimeout: time.Duration(b.TimeoutSeconds) * time.Second,
			ProxyURL:    b.Proxy.Resolve(),
		})
		if err != nil {
			return nil, fmt.Errorf("init binance provider: %w", err)
		}
		providers = append(providers, p)
	}
	if y := cfg.Providers.Yahoo; y.Enabled {
		p, err := yahoo.New(yahoo.Config{
			BaseURL:        y.BaseURL,
			UserAgent:      y.UserAgent,
			HTTPTimeout:    time.Duration(y.TimeoutSeconds) * time.Second,
			ProxyURL:       y.Proxy.Resolve(),
			EquityTimezone: y.EquityTimezone,
			PricePrecision: y.PricePrecision,
		})
		if err != nil {
			return nil, fmt.Errorf("init yahoo provider: %w", err)
		}
		providers = append(providers, p)
	}
	return NewRegistry(providers...), nil
}

// RateLimits returns the per-minute request budget of each enabled provider.
func RateLimits(cfg *config.Config) map[string]int {
	out := make(map[string]int, 2)
	if cfg.Providers.Binance.Enabled {
		out[market.ProviderBinance] = cfg.Providers.Binance.RateLimitPerMinute
	}
	if cfg.Providers.Yahoo.Enabled {
		out[market.ProviderYahoo] = cfg.Providers.Yahoo.RateLimitPerMinute
	}
	return out
}

// Provider fails with *market.ConfigurationError for unknown or disabled tags.
func (r *Registry) Provider(name string) (market.CandleProvider, error) {
	p, ok := r.providers[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, market.NewConfigurationError("provider", name, "unknown or disabled provider")
	}
	return p, nil
}

func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.providers))
	for name := range r.providers {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Location renders a stored series in its provider's zone; unknown providers
// fall back to UTC.
func (r *Registry) Location(key market.SeriesKey) *time.Location {
	p, ok := r.providers[key.Provider]
	if !ok {
		return time.UTC
	}
	return p.Location(key.Symbol)
}
