package market

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuild_ColorAgainstPrevClose(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	tests := []struct {
		name      string
		prevClose any
		close     any
		want      Color
	}{
		{name: "up", prevClose: 100.0, close: 101.0, want: ColorGreen},
		{name: "down", prevClose: 100.0, close: 99.5, want: ColorRed},
		{name: "flat", prevClose: 100.0, close: 100.0, want: ColorNeutral},
		{name: "string prices", prevClose: "100.5", close: "100.5", want: ColorNeutral},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, coerced := Build(BuildInput{
				Symbol: "BTCUSDT", Timestamp: ts,
				Open: 100.0, High: 102.0, Low: 98.0, Close: tt.close, Volume: 3.0,
				PrevClose: tt.prevClose,
			})
			assert.Zero(t, coerced)
			assert.Equal(t, tt.want, c.Color)
			require.NotNil(t, c.PrevClose)
		})
	}
}

func TestBuild_NoPrevCloseUsesIntradayDirection(t *testing.T) {
	c, _ := Build(BuildInput{Symbol: "AAPL", Timestamp: time.Unix(0, 0), Open: 10, High: 12, Low: 9, Close: 11, Volume: 5})
	assert.Nil(t, c.PrevClose)
	assert.Equal(t, ColorGreen, c.Color)
	assert.Equal(t, 10.0, c.Reference())

	c, _ = Build(BuildInput{Symbol: "AAPL", Timestamp: time.Unix(0, 0), Open: 10, High: 12, Low: 9, Close: 10, Volume: 5})
	assert.Equal(t, ColorNeutral, c.Color)
}

func TestBuild_LenientCoercionIsCounted(t *testing.T) {
	c, coerced := Build(BuildInput{
		Symbol: "X", Timestamp: time.Unix(60, 0),
		Open: "abc", High: nil, Low: 1, Close: "2.5", Volume: struct{}{},
	})
	assert.Equal(t, 3, coerced)
	assert.Equal(t, 0.0, c.Open)
	assert.Equal(t, 0.0, c.High)
	assert.Equal(t, 0.0, c.Volume)
	assert.Equal(t, 2.5, c.Close)
}

func TestBuild_DefaultTimestamp(t *testing.T) {
	fixed := time.Date(2024, 5, 6, 7, 8, 9, 987654321, time.FixedZone("CET", 3600))
	c, _ := build(BuildInput{Symbol: "X", Open: 1, High: 1, Low: 1, Close: 1}, func() time.Time { return fixed })
	assert.Equal(t, time.Date(2024, 5, 6, 6, 8, 9, 0, time.UTC), c.Timestamp)
	assert.Equal(t, "2024-05-06 06:08:09", c.TimeString(nil))
}

func TestCandle_Valid(t *testing.T) {
	ok := Candle{Open: 10, High: 12, Low: 9, Close: 11}
	assert.True(t, ok.Valid())
	assert.False(t, Candle{Open: 10, High: 10.5, Low: 9, Close: 11}.Valid())
	assert.False(t, Candle{Open: 10, High: 12, Low: 10.5, Close: 11}.Valid())
	assert.False(t, Candle{Open: 10, High: 12, Low: 9, Close: 11, Volume: -1}.Valid())
}

func TestErrorKind(t *testing.T) {
	key := NewSeriesKey("btcusdt", "Binance", "1M")
	assert.Equal(t, "binance:BTCUSDT@1m", key.String())

	assert.Equal(t, "configuration", ErrorKind(NewConfigurationError("provider", "kraken", "unknown")))
	assert.Equal(t, "insufficient_data", ErrorKind(&InsufficientDataError{Symbol: "X", Got: 1, Want: 2}))
	assert.Equal(t, "persistence", ErrorKind(&PersistenceError{Key: key, Op: "save", Err: errors.New("disk full")}))
	assert.Equal(t, "provider_request", ErrorKind(&ProviderRequestError{Provider: "binance", Err: errors.New("timeout")}))
	assert.Equal(t, "internal", ErrorKind(errors.New("boom")))
	assert.Equal(t, "", ErrorKind(nil))
}

func TestProviderRequestError_Retryable(t *testing.T) {
	assert.True(t, (&ProviderRequestError{StatusCode: 503}).Retryable())
	assert.True(t, (&ProviderRequestError{StatusCode: 429, RateLimited: true}).Retryable())
	assert.False(t, (&ProviderRequestError{StatusCode: 400}).Retryable())
	assert.False(t, (&ProviderRequestError{Err: NewConfigurationError("interval", "7m", "unsupported")}).Retryable())
	assert.True(t, (&ProviderRequestError{Err: errors.New("connection reset")}).Retryable())
}

func TestBuilder_PairsConsecutiveBars(t *testing.T) {
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	seed := 99.0
	b := NewBuilder(SeriesKey{Symbol: "BTCUSDT", Provider: "binance", Interval: "1m"}, &seed)
	seed = 0

	first := b.Next(RawBar{Timestamp: t0, Open: "100", High: "101", Low: "98", Close: "99", Volume: "1"})
	require.NotNil(t, first.PrevClose)
	assert.Equal(t, 99.0, *first.PrevClose)
	assert.Equal(t, ColorNeutral, first.Color)
	assert.Equal(t, "binance", first.Provider)

	second := b.Next(RawBar{Timestamp: t0.Add(time.Minute), Open: 99.0, High: 101.0, Low: 98.0, Close: 100.0, Volume: "n/a"})
	assert.Equal(t, 99.0, *second.PrevClose)
	assert.Equal(t, ColorGreen, second.Color)
	assert.Equal(t, 1, b.Coerced)
	assert.Equal(t, 100.0, *b.Prev())

	b.Reset()
	third := b.Next(RawBar{Timestamp: t0.Add(2 * time.Minute), Open: 101.0, High: 101.0, Low: 97.0, Close: 98.0, Volume: 1.0})
	assert.Nil(t, third.PrevClose)
	assert.Equal(t, ColorRed, third.Color)
}
