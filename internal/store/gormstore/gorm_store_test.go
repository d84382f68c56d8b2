package gormstore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"candlefeed/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testCandles(key market.SeriesKey, start time.Time, n int) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		v := float64(100 + i)
		prev := v - 1
		out[i] = market.Candle{
			Symbol: key.Symbol, Provider: key.Provider, Interval: key.Interval,
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Open:      v, High: v + 1, Low: v - 1, Close: v, Volume: 10,
			PrevClose: &prev, Color: market.ColorGreen,
		}
	}
	return out
}

func TestGormStore_UpsertRangeManifest(t *testing.T) {
	ctx := context.Background()
	s, err := NewGormStore(filepath.Join(t.TempDir(), "mirror.db"))
	require.NoError(t, err)
	defer s.Close()

	key := market.NewSeriesKey("AAPL", "yahoo", "1h")
	start := time.Date(2024, 7, 1, 13, 0, 0, 0, time.UTC)
	candles := testCandles(key, start, 5)
	require.NoError(t, s.Upsert(ctx, key, candles))

	revised := candles[4]
	revised.Close = 50
	revised.Color = market.ColorRed
	require.NoError(t, s.Upsert(ctx, key, []market.Candle{revised}))

	all, err := s.Range(ctx, key, time.Time{}, time.Time{}, 0)
	require.NoError(t, err)
	require.Len(t, all, 5)
	assert.Equal(t, candles[:4], all[:4])
	assert.Equal(t, 50.0, all[4].Close)

	window, err := s.Range(ctx, key, start.Add(time.Hour), start.Add(3*time.Hour), 0)
	require.NoError(t, err)
	assert.Len(t, window, 2)

	tail, err := s.Range(ctx, key, time.Time{}, time.Time{}, 2)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.True(t, tail[0].Timestamp.Before(tail[1].Timestamp))

	m, ok, err := s.Manifest(ctx, key)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(5), m.Rows)
	assert.Equal(t, start, m.First)
	assert.Equal(t, start.Add(4*time.Hour), m.Last)
	assert.Empty(t, m.FailedWindows)

	failed := []market.FetchWindow{{Start: start, End: start.Add(time.Hour)}}
	require.NoError(t, s.RecordFailedWindows(ctx, key, failed))
	m, _, err = s.Manifest(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, failed, m.FailedWindows)
	assert.Equal(t, int64(5), m.Rows)

	_, ok, err = s.Manifest(ctx, market.NewSeriesKey("MSFT", "yahoo", "1h"))
	require.NoError(t, err)
	assert.False(t, ok)

	list, err := s.Manifests(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
