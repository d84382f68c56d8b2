package symbol

import (
	"strings"

	"candlefeed/internal/market"
)

// YahooConverter renders hyphenated pairs. Plain tickers such as "AAPL" pass
// through unchanged.
type YahooConverter struct{}

func (YahooConverter) ToProvider(symbol string) string {
	s := clean(symbol)
	if s == "" {
		return ""
	}
	if sym := parseYahoo(s); sym.Base != "" {
		return sym.Yahoo()
	}
	return s
}

func (YahooConverter) FromProvider(raw string) string {
	if sym := parseYahoo(raw); sym.Base != "" {
		return sym.Internal()
	}
	return clean(raw)
}

func (YahooConverter) Provider() string {
	return market.ProviderYahoo
}

// IsPair reports whether a vendor symbol is a base-quote pair (crypto or
// FX) rather than an exchange-listed ticker.
func IsPair(raw string) bool {
	return parseYahoo(raw).Base != ""
}

var yahooStableQuotes = []string{"FDUSD", "USDT", "USDC", "BUSD", "TUSD"}

// parseYahoo only splits explicit separators or a stablecoin suffix, so
// tickers like ABNB or GBTC stay equities.
func parseYahoo(s string) Symbol {
	s = clean(s)
	if strings.ContainsAny(s, "/-_") {
		return Parse(s)
	}
	for _, quote := range yahooStableQuotes {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{Base: s[:len(s)-len(quote)], Quote: quote}
		}
	}
	return Symbol{}
}

var Yahoo = YahooConverter{}
