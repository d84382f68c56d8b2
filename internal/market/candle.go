package market

import (
	"fmt"
	"strings"
	"time"
)

const (
	ProviderBinance = "binance"
	ProviderYahoo   = "yahoo"
)

// TimestampLayout is the on-disk and display layout for bar open times.
const TimestampLayout = "2006-01-02 15:04:05"

type Color string

const (
	ColorGreen   Color = "green"
	ColorRed     Color = "red"
	ColorNeutral Color = "neutral"
)

// Candle is one immutable OHLCV bar. A later fetch for the same timestamp
// produces a new Candle that supersedes this one.
type Candle struct {
	Symbol    string    `json:"symbol"`
	Provider  string    `json:"provider"`
	Interval  string    `json:"interval"`
	Timestamp time.Time `json:"timestamp"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	PrevClose *float64  `json:"prev_close,omitempty"`
	Color     Color     `json:"color"`
}

// Reference returns the price the color is derived from.
func (c Candle) Reference() float64 {
	if c.PrevClose != nil {
		return *c.PrevClose
	}
	return c.Open
}

func (c Candle) Valid() bool {
	if c.Open < 0 || c.High < 0 || c.Low < 0 || c.Close < 0 || c.Volume < 0 {
		return false
	}
	return c.High >= max(c.Open, c.Close) && c.Low <= min(c.Open, c.Close)
}

func (c Candle) Key() SeriesKey {
	return SeriesKey{Symbol: c.Symbol, Provider: c.Provider, Interval: c.Interval}
}

func (c Candle) TimeString(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	return c.Timestamp.In(loc).Format(TimestampLayout)
}

// ColorOf classifies close against a reference price.
func ColorOf(close, reference float64) Color {
	switch {
	case close > reference:
		return ColorGreen
	case close < reference:
		return ColorRed
	default:
		return ColorNeutral
	}
}

// SeriesKey identifies one persisted series.
type SeriesKey struct {
	Symbol   string `json:"symbol"`
	Provider string `json:"provider"`
	Interval string `json:"interval"`
}

func NewSeriesKey(symbol, provider, interval string) SeriesKey {
	return SeriesKey{
		Symbol:   strings.ToUpper(strings.TrimSpace(symbol)),
		Provider: strings.ToLower(strings.TrimSpace(provider)),
		Interval: strings.ToLower(strings.TrimSpace(interval)),
	}
}

func (k SeriesKey) String() string {
	return fmt.Sprintf("%s:%s@%s", k.Provider, k.Symbol, k.Interval)
}

func (k SeriesKey) IsZero() bool {
	return k.Symbol == "" || k.Provider == "" || k.Interval == ""
}

// FetchWindow is the half-open range [Start, End).
type FetchWindow struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

func (w FetchWindow) Empty() bool {
	return !w.Start.Before(w.End)
}

func (w FetchWindow) Duration() time.Duration {
	if w.Empty() {
		return 0
	}
	return w.End.Sub(w.Start)
}

func (w FetchWindow) Contains(ts time.Time) bool {
	return !ts.Before(w.Start) && ts.Before(w.End)
}

func (w FetchWindow) String() string {
	return fmt.Sprintf("[%s, %s)", w.Start.UTC().Format(time.RFC3339), w.End.UTC().Format(time.RFC3339))
}
