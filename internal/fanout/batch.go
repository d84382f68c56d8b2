// Package fanout hands merged candle batches to downstream sinks without
// ever blocking the producer.
package fanout

import (
	"context"

	"candlefeed/internal/market"
)

type Mode string

const (
	ModeLive     Mode = "live"
	ModeTrain    Mode = "train"
	ModeBackfill Mode = "backfill"
)

// Batch is the changed tail of one series after a merge, ascending.
type Batch struct {
	Key     market.SeriesKey `json:"key"`
	Candles []market.Candle  `json:"candles"`
	Mode    Mode             `json:"mode"`
}

// Newest returns the last candle of the batch.
func (b Batch) Newest() (market.Candle, bool) {
	if len(b.Candles) == 0 {
		return market.Candle{}, false
	}
	return b.Candles[len(b.Candles)-1], true
}

// Sink receives batches in publish order. Live loops never emit a candle
// older than one they already emitted for the same key; the newest bar may
// repeat with revised values.
type Sink interface {
	Name() string
	Deliver(ctx context.Context, b Batch) error
}
