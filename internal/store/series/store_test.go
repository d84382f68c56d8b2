package series

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"candlefeed/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSV_RoundTripInLocation(t *testing.T) {
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	key := market.NewSeriesKey("AAPL", "yahoo", "1h")
	in := []market.Candle{
		{Symbol: "AAPL", Provider: "yahoo", Interval: "1h", Timestamp: time.Date(2024, 7, 1, 13, 30, 0, 0, time.UTC),
			Open: 10, High: 11, Low: 9, Close: 10, Volume: 100, Color: market.ColorNeutral},
	}
	in = append(in, bar(1, 12))
	in[1].Symbol, in[1].Provider, in[1].Interval = "AAPL", "yahoo", "1h"

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, in, ny))
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	require.Len(t, lines, 3)
	assert.Equal(t, "timestamp,symbol,open,high,low,close,prev_close,volume,color", string(lines[0]))
	assert.Equal(t, "2024-07-01 09:30:00,AAPL,10,11,9,10,,100,neutral", string(lines[1]))

	out, err := ReadCSV(&buf, key, ny)
	require.NoError(t, err)
	assert.Equal(t, in, out)
}

func TestReadCSV_BadHeader(t *testing.T) {
	_, err := ReadCSV(bytes.NewBufferString("a,b,c,d,e,f,g,h,i\n"), market.SeriesKey{}, nil)
	assert.Error(t, err)
}

func TestFileStore_SaveLoadKeys(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)

	btc := market.NewSeriesKey("BTCUSDT", "binance", "1m")
	pair := market.NewSeriesKey("BTC-USD", "yahoo", "1d")
	missing, err := store.Load(ctx, btc)
	require.NoError(t, err)
	assert.Empty(t, missing)

	require.NoError(t, store.Save(ctx, btc, seq(0, 3)))
	require.NoError(t, store.Save(ctx, pair, seq(0, 1)))
	assert.FileExists(t, filepath.Join(store.Dir(), "binance", "BTCUSDT-1m.csv"))

	got, err := store.Load(ctx, btc)
	require.NoError(t, err)
	assert.Equal(t, seq(0, 3), got)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	assert.Equal(t, []market.SeriesKey{btc, pair}, keys)
}

func TestFileStore_AtomicRewrite(t *testing.T) {
	ctx := context.Background()
	store, err := NewFileStore(t.TempDir(), nil)
	require.NoError(t, err)
	key := market.NewSeriesKey("ETHUSDT", "binance", "5m")
	require.NoError(t, store.Save(ctx, key, seq(0, 2)))

	boom := errors.New("disk full")
	err = writeAtomic(store.Path(key), func(f *os.File) error {
		_, _ = f.WriteString("timestamp,sym")
		return boom
	})
	require.ErrorIs(t, err, boom)

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	assert.Equal(t, seq(0, 2), got)

	entries, err := os.ReadDir(filepath.Dir(store.Path(key)))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temp file must be cleaned up")
}

func TestParseFileName(t *testing.T) {
	sym, iv, ok := parseFileName("BTC-USD-1d.csv")
	require.True(t, ok)
	assert.Equal(t, "BTC-USD", sym)
	assert.Equal(t, "1d", iv)

	_, _, ok = parseFileName("README.md")
	assert.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := newMemoryStore(4)
	key := market.NewSeriesKey("BTCUSDT", "binance", "1m")
	require.NoError(t, store.Save(ctx, key, seq(0, 2)))

	got, err := store.Load(ctx, key)
	require.NoError(t, err)
	got[0].Close = -1
	again, _ := store.Load(ctx, key)
	assert.Equal(t, 100.0, again[0].Close, "Load must return a copy")

	var perr *market.PersistenceError
	assert.ErrorAs(t, store.Save(ctx, market.SeriesKey{}, nil), &perr)
}

type recordingMirror struct {
	mu    sync.Mutex
	calls [][]market.Candle
	err   error
}

func (m *recordingMirror) Upsert(_ context.Context, _ market.SeriesKey, cs []market.Candle) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, cs)
	return m.err
}

func TestHandle_MergeAndLast(t *testing.T) {
	ctx := context.Background()
	mirror := &recordingMirror{err: errors.New("mirror down")}
	m := NewMerger(NewMemoryStore(), mirror)
	h := m.Handle(market.NewSeriesKey("BTCUSDT", "binance", "1m"))

	_, ok, err := h.Last(ctx)
	require.NoError(t, err)
	assert.False(t, ok)

	res, err := h.Merge(ctx, seq(0, 3))
	require.NoError(t, err, "mirror failures are not fatal")
	assert.Equal(t, 3, res.Added)
	last, ok, err := h.Last(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, bar(2, 102).Timestamp, last.Timestamp)

	res, err = h.Merge(ctx, seq(2, 3))
	require.NoError(t, err)
	assert.True(t, res.Empty())
	assert.Len(t, mirror.calls, 1, "no-op merge does not reach the mirror")
}

func TestHandle_ConcurrentWritersSameKey(t *testing.T) {
	ctx := context.Background()
	m := NewMerger(NewMemoryStore(), nil)
	key := market.NewSeriesKey("BTCUSDT", "binance", "1m")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.Merge(ctx, key, seq(i*10, i*10+10))
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	got, err := m.Store().Load(ctx, key)
	require.NoError(t, err)
	assert.Len(t, got, 100)
}
