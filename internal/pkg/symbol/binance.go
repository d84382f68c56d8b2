package symbol

import (
	"strings"

	"candlefeed/internal/market"
)

// BinanceConverter renders concatenated spot symbols. USD quotes become USDT
// and a bare base asset gets USDT appended.
type BinanceConverter struct {
	DefaultQuote string
}

func (c BinanceConverter) ToProvider(symbol string) string {
	s := clean(symbol)
	if s == "" {
		return ""
	}
	quote := c.DefaultQuote
	if quote == "" {
		quote = "USDT"
	}
	sym := Parse(s)
	if sym.Base == "" {
		stripped := strings.NewReplacer("/", "", "-", "", "_", "").Replace(s)
		return stripped + quote
	}
	if sym.Quote == "USD" {
		sym.Quote = quote
	}
	return sym.Binance()
}

func (BinanceConverter) FromProvider(raw string) string {
	if sym := Parse(raw); sym.Base != "" {
		return sym.Internal()
	}
	return clean(raw)
}

func (BinanceConverter) Provider() string {
	return market.ProviderBinance
}

var Binance = BinanceConverter{DefaultQuote: "USDT"}
