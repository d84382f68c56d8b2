package scheduler

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"candlefeed/internal/market"
	"candlefeed/internal/store/series"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var stamp = time.Date(2024, 5, 6, 7, 8, 9, 0, time.UTC)

func sample(key market.SeriesKey) []market.Candle {
	prev := 99.0
	return []market.Candle{
		{Symbol: key.Symbol, Provider: key.Provider, Interval: key.Interval, Timestamp: stamp.Add(-2 * time.Hour),
			Open: 100, High: 101, Low: 99, Close: 100.5, Volume: 3, Color: market.ColorGreen},
		{Symbol: key.Symbol, Provider: key.Provider, Interval: key.Interval, Timestamp: stamp.Add(-time.Hour),
			Open: 100.5, High: 101, Low: 98, Close: 99, Volume: 4, PrevClose: &prev, Color: market.ColorNeutral},
	}
}

func TestExportFileName(t *testing.T) {
	key := market.NewSeriesKey("btc-usd", "yahoo", "1h")
	assert.Equal(t, "BTC-USD-1h-yahoo-2024-05-06_07-08-09.parquet", ExportFileName(key, stamp, "parquet"))
}

func TestExporter_CSVAndParquet(t *testing.T) {
	dir := t.TempDir()
	key := market.NewSeriesKey("BTCUSDT", "binance", "1h")
	e := NewExporter(dir, series.NewMemoryStore(), nil)
	e.now = func() time.Time { return stamp }

	csvPath, err := e.ExportCSV(key, sample(key))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "binance", "BTCUSDT-1h-binance-2024-05-06_07-08-09.csv"), csvPath)
	raw, err := os.ReadFile(csvPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "2024-05-06 06:08:09,BTCUSDT,100.5,101,98,99,99,4,neutral", lines[2])

	pqPath, err := e.ExportParquet(key, sample(key))
	require.NoError(t, err)
	rows, err := parquet.ReadFile[parquetRow](pqPath)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Nil(t, rows[0].PrevClose)
	require.NotNil(t, rows[1].PrevClose)
	assert.Equal(t, 99.0, *rows[1].PrevClose)
	assert.Equal(t, stamp.Add(-time.Hour).UnixMilli(), rows[1].Timestamp)
}

type closeErrFile struct {
	bytes.Buffer
	closed bool
}

func (f *closeErrFile) Close() error {
	f.closed = true
	return errors.New("disk quota exceeded")
}

func TestExporter_CSVReportsCloseError(t *testing.T) {
	key := market.NewSeriesKey("BTCUSDT", "binance", "1h")
	e := NewExporter(t.TempDir(), series.NewMemoryStore(), nil)
	f := &closeErrFile{}
	e.create = func(string) (io.WriteCloser, error) { return f, nil }

	path, err := e.ExportCSV(key, sample(key))
	var perr *market.PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Contains(t, err.Error(), "disk quota exceeded")
	assert.Empty(t, path)
	assert.True(t, f.closed)
	assert.NotZero(t, f.Len())
}

func TestExporter_ExportAll(t *testing.T) {
	ctx := context.Background()
	store := series.NewMemoryStore()
	a := market.NewSeriesKey("BTCUSDT", "binance", "1m")
	b := market.NewSeriesKey("AAPL", "yahoo", "1d")
	require.NoError(t, store.Save(ctx, a, sample(a)))
	require.NoError(t, store.Save(ctx, b, sample(b)))
	require.NoError(t, store.Save(ctx, market.NewSeriesKey("ETHUSDT", "binance", "1m"), nil))

	e := NewExporter(t.TempDir(), store, nil)
	paths, err := e.ExportAll(ctx)
	require.NoError(t, err)
	assert.Len(t, paths, 2)
	for _, p := range paths {
		assert.FileExists(t, p)
	}
}

func TestNewExportScheduler_BadSpec(t *testing.T) {
	_, err := NewExportScheduler("not a spec", NewExporter(t.TempDir(), series.NewMemoryStore(), nil))
	assert.Error(t, err)
	_, err = NewExportScheduler("0 0 * * * *", NewExporter(t.TempDir(), series.NewMemoryStore(), nil))
	assert.NoError(t, err)
}
