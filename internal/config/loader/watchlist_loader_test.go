package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleWatchlist = `
watchlist:
  - symbols: [BTC-USD, btcusdt, ETH]
    source: binance
    interval: 60m
  - symbol: AAPL
    source: yahoo
    interval: 1d
  - symbol: DOGE
    source: kraken
    interval: 1m
  - symbol: SOL
    source: binance
    interval: 7m
`

func TestReadWatchlist_NormalizesAndSkipsInvalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleWatchlist), 0o644))

	targets, err := ReadWatchlist(path)
	require.NoError(t, err)
	assert.Equal(t, []Target{
		{Symbol: "BTCUSDT", Provider: "binance", Interval: "1h"},
		{Symbol: "ETHUSDT", Provider: "binance", Interval: "1h"},
		{Symbol: "AAPL", Provider: "yahoo", Interval: "1d"},
	}, targets)
}

func TestReadWatchlist_MissingFileIsEmpty(t *testing.T) {
	targets, err := ReadWatchlist(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, targets)
}

func TestReadWatchlist_BadYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "watchlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watchlist: [\n"), 0o644))
	_, err := ReadWatchlist(path)
	assert.Error(t, err)
}

func TestWatchlistLoader_SubscribeAndReload(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "watchlist.yaml")
	require.NoError(t, os.WriteFile(path, []byte("watchlist:\n  - symbol: BTC\n    source: binance\n    interval: 1m\n"), 0o644))

	l, err := NewWatchlistLoader(path)
	require.NoError(t, err)
	assert.Equal(t, int64(1), l.Snapshot().Version)

	got := make(chan WatchlistSnapshot, 8)
	l.Subscribe(func(s WatchlistSnapshot) { got <- s })
	first := <-got
	require.Len(t, first.Targets, 1)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- l.Run(ctx) }()

	// Give the watcher time to register before the write.
	time.Sleep(100 * time.Millisecond)
	require.NoError(t, os.WriteFile(path, []byte("watchlist:\n  - symbols: [BTC, ETH]\n    source: binance\n    interval: 1m\n"), 0o644))

	require.Eventually(t, func() bool {
		select {
		case s := <-got:
			return len(s.Targets) == 2
		default:
			return false
		}
	}, 3*time.Second, 20*time.Millisecond)

	cancel()
	assert.NoError(t, <-done)
}
