package journal

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"candlefeed/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJournal_RoundTrip(t *testing.T) {
	ctx := context.Background()
	j, err := Open(filepath.Join(t.TempDir(), "state", "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	key := market.NewSeriesKey("BTCUSDT", "binance", "1m")
	other := market.NewSeriesKey("AAPL", "yahoo", "1h")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	w1 := market.FetchWindow{Start: start, End: start.Add(time.Hour)}
	w2 := market.FetchWindow{Start: start.Add(2 * time.Hour), End: start.Add(3 * time.Hour)}

	require.NoError(t, j.RecordFailure(ctx, key, w2, "timeout"))
	require.NoError(t, j.RecordFailure(ctx, key, w1, "status=503"))
	require.NoError(t, j.RecordFailure(ctx, key, w1, "status=502"))
	require.NoError(t, j.RecordFailure(ctx, other, w1, "reset"))

	pending, err := j.Pending(ctx, key, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, w1, pending[0].Window)
	assert.Equal(t, key, pending[0].Key)
	assert.Equal(t, 2, pending[0].Attempts)
	assert.Equal(t, "status=502", pending[0].Reason)

	limited, err := j.Pending(ctx, key, 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, j.Resolve(ctx, key, w1))
	pending, err = j.Pending(ctx, key, 0)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, w2, pending[0].Window)

	all, err := j.All(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestJournal_RecordFailureCoalesces(t *testing.T) {
	ctx := context.Background()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	require.NoError(t, err)
	defer j.Close()

	key := market.NewSeriesKey("BTCUSDT", "binance", "1h")
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := start
	j.now = func() time.Time { return clock }

	// a tail that keeps failing re-reports [last, now) with a growing end
	for i := 1; i <= 3; i++ {
		clock = start.Add(time.Duration(i) * time.Hour)
		w := market.FetchWindow{Start: start, End: clock}
		require.NoError(t, j.RecordFailure(ctx, key, w, "status=503"))
	}
	// touching window folds in too
	touching := market.FetchWindow{Start: start.Add(3 * time.Hour), End: start.Add(4 * time.Hour)}
	require.NoError(t, j.RecordFailure(ctx, key, touching, "timeout"))
	// a gap keeps its own entry
	apart := market.FetchWindow{Start: start.Add(10 * time.Hour), End: start.Add(11 * time.Hour)}
	require.NoError(t, j.RecordFailure(ctx, key, apart, "timeout"))

	pending, err := j.Pending(ctx, key, 0)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, market.FetchWindow{Start: start, End: start.Add(4 * time.Hour)}, pending[0].Window)
	assert.Equal(t, 4, pending[0].Attempts)
	assert.Equal(t, "timeout", pending[0].Reason)
	assert.Equal(t, start.Add(time.Hour), pending[0].FirstSeen)
	assert.Equal(t, apart, pending[1].Window)
	assert.Equal(t, 1, pending[1].Attempts)
}
