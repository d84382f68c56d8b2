package symbol

import (
	"strings"

	"candlefeed/internal/market"
)

// Converter maps a logical instrument to one provider's spelling and back.
type Converter interface {
	ToProvider(symbol string) string

	FromProvider(raw string) string

	Provider() string
}

type Symbol struct {
	Base  string
	Quote string
}

func (s Symbol) Internal() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + "/" + s.Quote
}

func (s Symbol) Binance() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	return s.Base + s.Quote
}

// Yahoo renders "BASE-QUOTE"; stablecoin quotes collapse to USD.
func (s Symbol) Yahoo() string {
	if s.Base == "" || s.Quote == "" {
		return ""
	}
	quote := s.Quote
	if isUSDStable(quote) {
		quote = "USD"
	}
	return s.Base + "-" + quote
}

var quoteCurrencies = []string{"USDT", "BUSD", "USDC", "TUSD", "FDUSD", "BTC", "ETH", "BNB", "EUR"}

// Parse splits "BTC/USDT", "BTC-USD", "btc_usdt" or "BTCUSDT". Unknown
// concatenated forms yield an empty Symbol.
func Parse(s string) Symbol {
	s = clean(s)
	if s == "" {
		return Symbol{}
	}
	if idx := strings.Index(s, ":"); idx >= 0 {
		s = s[:idx]
	}
	for _, sep := range []string{"/", "-", "_"} {
		if parts := strings.SplitN(s, sep, 2); len(parts) == 2 {
			base := strings.TrimSpace(parts[0])
			quote := strings.TrimSpace(parts[1])
			if base == "" || quote == "" {
				return Symbol{}
			}
			return Symbol{Base: base, Quote: quote}
		}
	}
	for _, quote := range quoteCurrencies {
		if strings.HasSuffix(s, quote) && len(s) > len(quote) {
			return Symbol{
				Base:  s[:len(s)-len(quote)],
				Quote: quote,
			}
		}
	}
	return Symbol{}
}

var converters = map[string]Converter{
	market.ProviderBinance: Binance,
	market.ProviderYahoo:   Yahoo,
}

// ConverterFor returns the converter registered for provider.
func ConverterFor(provider string) (Converter, error) {
	tag := strings.ToLower(strings.TrimSpace(provider))
	conv, ok := converters[tag]
	if !ok {
		return nil, market.NewConfigurationError("provider", provider, "unknown provider")
	}
	return conv, nil
}

// Normalize maps symbol to the provider's native spelling.
func Normalize(symbol, provider string) (string, error) {
	conv, err := ConverterFor(provider)
	if err != nil {
		return "", err
	}
	return conv.ToProvider(symbol), nil
}

func NormalizeList(symbols []string, provider string) ([]string, error) {
	conv, err := ConverterFor(provider)
	if err != nil {
		return nil, err
	}
	seen := make(map[string]struct{}, len(symbols))
	out := make([]string, 0, len(symbols))
	for _, s := range symbols {
		norm := conv.ToProvider(s)
		if norm == "" {
			continue
		}
		if _, ok := seen[norm]; ok {
			continue
		}
		seen[norm] = struct{}{}
		out = append(out, norm)
	}
	return out, nil
}

func clean(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}

func isUSDStable(quote string) bool {
	switch quote {
	case "USD", "USDT", "BUSD", "USDC", "TUSD", "FDUSD":
		return true
	}
	return false
}
