package market

import (
	"time"

	"candlefeed/internal/pkg/convert"
)

// BuildInput is one raw provider record. Numeric fields accept anything
// convert.ParseFloat64 understands. A nil PrevClose means "no previous bar".
type BuildInput struct {
	Symbol    string
	Provider  string
	Interval  string
	Timestamp time.Time
	Open      any
	High      any
	Low       any
	Close     any
	Volume    any
	PrevClose any
}

// Build coerces the input into a Candle. Unparseable numbers become 0 and are
// counted in the second return value instead of failing the row.
func Build(in BuildInput) (Candle, int) {
	return build(in, time.Now)
}

func build(in BuildInput, now func() time.Time) (Candle, int) {
	coerced := 0
	num := func(v any) float64 {
		f, ok := convert.ParseFloat64(v)
		if !ok {
			coerced++
		}
		return f
	}
	c := Candle{
		Symbol:   in.Symbol,
		Provider: in.Provider,
		Interval: in.Interval,
		Open:     num(in.Open),
		High:     num(in.High),
		Low:      num(in.Low),
		Close:    num(in.Close),
		Volume:   num(in.Volume),
	}
	if in.PrevClose != nil {
		pc := num(in.PrevClose)
		c.PrevClose = &pc
	}
	if in.Timestamp.IsZero() {
		c.Timestamp = now().UTC().Truncate(time.Second)
	} else {
		c.Timestamp = in.Timestamp.UTC()
	}
	c.Color = ColorOf(c.Close, c.Reference())
	return c, coerced
}

// Builder turns consecutive raw bars of one series into candles, pairing each
// bar with the close before it. Coerced accumulates across calls.
type Builder struct {
	key     SeriesKey
	prev    *float64
	Coerced int
	now     func() time.Time
}

// NewBuilder starts a series. seed is the close of the bar before the first
// one built, or nil when unknown.
func NewBuilder(key SeriesKey, seed *float64) *Builder {
	b := &Builder{key: key, now: time.Now}
	if seed != nil {
		v := *seed
		b.prev = &v
	}
	return b
}

func (b *Builder) Next(r RawBar) Candle {
	in := BuildInput{
		Symbol:    b.key.Symbol,
		Provider:  b.key.Provider,
		Interval:  b.key.Interval,
		Timestamp: r.Timestamp,
		Open:      r.Open,
		High:      r.High,
		Low:       r.Low,
		Close:     r.Close,
		Volume:    r.Volume,
	}
	if b.prev != nil {
		in.PrevClose = *b.prev
	}
	c, n := build(in, b.now)
	b.Coerced += n
	closeVal := c.Close
	b.prev = &closeVal
	return c
}

// Prev is the close of the last bar built, or the seed.
func (b *Builder) Prev() *float64 { return b.prev }

// Reset forgets the running close, e.g. after a gap in the data.
func (b *Builder) Reset() { b.prev = nil }
