package binance

import (
	"strings"
	"time"
)

const (
	defaultRESTBaseURL = "https://api.binance.com"
	defaultRowLimit    = 1000
)

type Config struct {
	RESTBaseURL string
	APIKey      string
	APISecret   string
	HTTPTimeout time.Duration
	ProxyURL    string
	// RowLimit caps rows per klines request; the exchange allows 1000.
	RowLimit int
}

func (c *Config) withDefaults() Config {
	out := *c
	out.RESTBaseURL = strings.TrimRight(strings.TrimSpace(out.RESTBaseURL), "/")
	if out.RESTBaseURL == "" {
		out.RESTBaseURL = defaultRESTBaseURL
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	if out.RowLimit <= 0 || out.RowLimit > defaultRowLimit {
		out.RowLimit = defaultRowLimit
	}
	out.ProxyURL = strings.TrimSpace(out.ProxyURL)
	return out
}
