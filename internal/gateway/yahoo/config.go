package yahoo

import (
	"strings"
	"time"
)

const (
	defaultBaseURL        = "https://query1.finance.yahoo.com"
	defaultUserAgent      = "Mozilla/5.0"
	defaultEquityTimezone = "America/New_York"
	defaultPricePrecision = 6
)

type Config struct {
	BaseURL     string
	UserAgent   string
	HTTPTimeout time.Duration
	ProxyURL    string
	// EquityTimezone renders timestamps of exchange-listed tickers; pairs
	// such as "BTC-USD" always render in UTC.
	EquityTimezone string
	// PricePrecision rounds prices to this many decimals. Negative keeps the
	// raw float.
	PricePrecision int
}

func (c *Config) withDefaults() Config {
	out := *c
	out.BaseURL = strings.TrimRight(strings.TrimSpace(out.BaseURL), "/")
	if out.BaseURL == "" {
		out.BaseURL = defaultBaseURL
	}
	if strings.TrimSpace(out.UserAgent) == "" {
		out.UserAgent = defaultUserAgent
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if strings.TrimSpace(out.EquityTimezone) == "" {
		out.EquityTimezone = defaultEquityTimezone
	}
	if out.PricePrecision == 0 {
		out.PricePrecision = defaultPricePrecision
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	return out
}
