package market

import (
	"context"
	"time"
)

// RawBar is one provider row before coercion. Timestamp is the bar open.
type RawBar struct {
	Timestamp time.Time
	Open      any
	High      any
	Low       any
	Close     any
	Volume    any
}

// CandleProvider hides one data source's quirks: symbol spelling, interval
// spelling, per-request span limits and payload shape.
type CandleProvider interface {
	Name() string

	// NativeSymbol maps a logical symbol to the provider's spelling.
	NativeSymbol(symbol string) string

	// NativeInterval fails with *ConfigurationError for unsupported intervals.
	NativeInterval(iv Interval) (string, error)

	// MaxWindow is the widest span one request may cover for iv.
	MaxWindow(iv Interval) time.Duration

	// FetchRaw returns bars with open time in [start, end), ascending.
	FetchRaw(ctx context.Context, symbol string, iv Interval, start, end time.Time) ([]RawBar, error)

	// Latest returns the n most recent bars, ascending.
	Latest(ctx context.Context, symbol string, iv Interval, n int) ([]RawBar, error)

	// Location is the zone series timestamps are rendered in.
	Location(symbol string) *time.Location
}
