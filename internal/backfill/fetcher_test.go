package backfill

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"candlefeed/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)

// fakeProvider serves one bar per interval with close = minutes since epoch.
// It also returns the bar at end to mimic an inclusive upstream bound.
type fakeProvider struct {
	span time.Duration

	mu       sync.Mutex
	calls    []market.FetchWindow
	failures map[int][]error
	latest   []market.RawBar
}

func (p *fakeProvider) Name() string { return "fake" }
func (p *fakeProvider) NativeSymbol(s string) string { return s }
func (p *fakeProvider) Location(string) *time.Location { return time.UTC }
func (p *fakeProvider) MaxWindow(market.Interval) time.Duration { return p.span }

func (p *fakeProvider) NativeInterval(iv market.Interval) (string, error) {
	if iv.Key == "90m" {
		return "", market.NewConfigurationError("interval", iv.Key, "unsupported")
	}
	return iv.Key, nil
}

func (p *fakeProvider) FetchRaw(_ context.Context, _ string, iv market.Interval, start, end time.Time) ([]market.RawBar, error) {
	p.mu.Lock()
	call := len(p.calls)
	p.calls = append(p.calls, market.FetchWindow{Start: start, End: end})
	if errs := p.failures[call]; len(errs) > 0 {
		p.failures[call] = errs[1:]
		p.calls = p.calls[:call]
		p.mu.Unlock()
		return nil, errs[0]
	}
	p.mu.Unlock()

	var out []market.RawBar
	for ts := iv.AlignDown(start); !ts.After(end); ts = ts.Add(iv.Duration) {
		if ts.Before(start) {
			continue
		}
		v := float64(ts.Sub(epoch) / time.Minute)
		out = append(out, market.RawBar{Timestamp: ts, Open: v - 0.5, High: v + 1, Low: v - 1, Close: v, Volume: "1"})
	}
	return out, nil
}

func (p *fakeProvider) Latest(context.Context, string, market.Interval, int) ([]market.RawBar, error) {
	return p.latest, nil
}

type providerSet map[string]market.CandleProvider

func (s providerSet) Provider(name string) (market.CandleProvider, error) {
	if p, ok := s[name]; ok {
		return p, nil
	}
	return nil, market.NewConfigurationError("provider", name, "unknown provider")
}

func newTestFetcher(p *fakeProvider) *Fetcher {
	return NewFetcher(providerSet{"fake": p}, Options{
		RateLimits:   map[string]int{"fake": 600000},
		MaxRetries:   3,
		RetryInitial: time.Millisecond,
	})
}

func TestSplit(t *testing.T) {
	w := market.FetchWindow{Start: epoch, End: epoch.Add(10 * 24 * time.Hour)}
	parts := Split(w, 7*24*time.Hour)
	require.Len(t, parts, 2)
	assert.Equal(t, w.Start, parts[0].Start)
	assert.Equal(t, parts[0].End, parts[1].Start)
	assert.Equal(t, w.End, parts[1].End)

	assert.Nil(t, Split(market.FetchWindow{Start: epoch, End: epoch}, time.Hour))
	assert.Len(t, Split(w, 0), 1)
}

func TestFetch_TenDaysOfMinutesIsTwoChunks(t *testing.T) {
	p := &fakeProvider{span: 7 * 24 * time.Hour}
	f := newTestFetcher(p)
	w := market.FetchWindow{Start: epoch, End: epoch.Add(10 * 24 * time.Hour)}

	res, err := f.Fetch(context.Background(), Request{Symbol: "BTC-USD", Provider: "fake", Interval: "1m", Window: w})
	require.NoError(t, err)
	assert.Equal(t, 2, res.Chunks)
	assert.Len(t, p.calls, 2)
	assert.Empty(t, res.Failed)
	assert.Len(t, res.Candles, 10*24*60)

	seen := make(map[time.Time]bool)
	for i, c := range res.Candles {
		require.False(t, seen[c.Timestamp], "duplicate %s", c.Timestamp)
		seen[c.Timestamp] = true
		require.True(t, w.Contains(c.Timestamp))
		if i == 0 {
			assert.Nil(t, c.PrevClose)
			continue
		}
		require.NotNil(t, c.PrevClose)
		assert.Equal(t, res.Candles[i-1].Close, *c.PrevClose, "prev_close carried across chunks")
		assert.Equal(t, market.ColorGreen, c.Color)
	}
}

func TestFetch_ChunkedEqualsUnbounded(t *testing.T) {
	w := market.FetchWindow{Start: epoch, End: epoch.Add(26 * time.Hour)}
	req := Request{Symbol: "X", Provider: "fake", Interval: "15m", Window: w}

	whole, err := newTestFetcher(&fakeProvider{span: 365 * 24 * time.Hour}).Fetch(context.Background(), req)
	require.NoError(t, err)
	for _, span := range []time.Duration{15 * time.Minute, time.Hour, 7 * time.Hour, 24 * time.Hour} {
		chunked, err := newTestFetcher(&fakeProvider{span: span}).Fetch(context.Background(), req)
		require.NoError(t, err)
		assert.Equal(t, whole.Candles, chunked.Candles, "span %s", span)
	}
}

func TestFetch_FailedChunkIsReportedNotFatal(t *testing.T) {
	p := &fakeProvider{
		span:     time.Hour,
		failures: map[int][]error{1: {&market.ProviderRequestError{Provider: "fake", StatusCode: 400, Err: errors.New("bad request")}}},
	}
	f := newTestFetcher(p)
	w := market.FetchWindow{Start: epoch, End: epoch.Add(3 * time.Hour)}

	res, err := f.Fetch(context.Background(), Request{Symbol: "X", Provider: "fake", Interval: "1m", Window: w})
	require.NoError(t, err)
	assert.Equal(t, 3, res.Chunks)
	require.Len(t, res.Failed, 1)
	assert.Equal(t, market.FetchWindow{Start: epoch.Add(time.Hour), End: epoch.Add(2 * time.Hour)}, res.Failed[0].Window)
	var reqErr *market.ProviderRequestError
	require.ErrorAs(t, res.Failed[0].Err, &reqErr)
	assert.Equal(t, 400, reqErr.StatusCode)

	require.Len(t, res.Candles, 120)
	assert.Equal(t, epoch.Add(59*time.Minute), res.Candles[59].Timestamp)
	assert.Equal(t, epoch.Add(2*time.Hour), res.Candles[60].Timestamp)
	assert.Nil(t, res.Candles[60].PrevClose, "carry resets after a gap")
}

func TestFetch_RetriesTransientErrors(t *testing.T) {
	p := &fakeProvider{
		span: time.Hour,
		failures: map[int][]error{0: {
			&market.ProviderRequestError{Provider: "fake", StatusCode: 503},
			&market.ProviderRequestError{Provider: "fake", StatusCode: 429, RateLimited: true},
		}},
	}
	res, err := newTestFetcher(p).Fetch(context.Background(), Request{Symbol: "X", Provider: "fake", Interval: "1m",
		Window: market.FetchWindow{Start: epoch, End: epoch.Add(time.Hour)}})
	require.NoError(t, err)
	assert.Empty(t, res.Failed)
	assert.Len(t, res.Candles, 60)
}

func TestFetch_EmptyWindow(t *testing.T) {
	p := &fakeProvider{span: time.Hour}
	res, err := newTestFetcher(p).Fetch(context.Background(), Request{Symbol: "X", Provider: "fake", Interval: "1m",
		Window: market.FetchWindow{Start: epoch, End: epoch}})
	require.NoError(t, err)
	assert.Zero(t, res.Chunks)
	assert.Empty(t, res.Candles)
	assert.Empty(t, p.calls)
}

func TestFetch_ConfigurationErrorsBeforeRequests(t *testing.T) {
	p := &fakeProvider{span: time.Hour}
	f := newTestFetcher(p)
	w := market.FetchWindow{Start: epoch, End: epoch.Add(time.Hour)}
	var cfgErr *market.ConfigurationError

	_, err := f.Fetch(context.Background(), Request{Symbol: "X", Provider: "kraken", Interval: "1m", Window: w})
	assert.ErrorAs(t, err, &cfgErr)
	_, err = f.Fetch(context.Background(), Request{Symbol: "X", Provider: "fake", Interval: "7m", Window: w})
	assert.ErrorAs(t, err, &cfgErr)
	_, err = f.Fetch(context.Background(), Request{Symbol: "X", Provider: "fake", Interval: "90m", Window: w})
	assert.ErrorAs(t, err, &cfgErr)
	assert.Empty(t, p.calls)
}

func TestFetch_SeedCloseAndFormingBar(t *testing.T) {
	p := &fakeProvider{span: time.Hour}
	f := newTestFetcher(p)
	f.opts.DropFormingBar = true
	f.now = func() time.Time { return epoch.Add(10*time.Minute + 30*time.Second) }
	seed := 7.0

	res, err := f.Fetch(context.Background(), Request{Symbol: "X", Provider: "fake", Interval: "1m", SeedClose: &seed,
		Window: market.FetchWindow{Start: epoch, End: epoch.Add(11 * time.Minute)}})
	require.NoError(t, err)
	require.Len(t, res.Candles, 10, "bar opened at 00:10 is still forming")
	require.NotNil(t, res.Candles[0].PrevClose)
	assert.Equal(t, 7.0, *res.Candles[0].PrevClose)
	assert.Equal(t, market.ColorRed, res.Candles[0].Color)
}

func TestChunks_Restartable(t *testing.T) {
	p := &fakeProvider{span: time.Hour}
	f := newTestFetcher(p)
	plan, err := f.Plan(Request{Symbol: "X", Provider: "fake", Interval: "5m",
		Window: market.FetchWindow{Start: epoch, End: epoch.Add(3 * time.Hour)}})
	require.NoError(t, err)
	require.Len(t, plan.Windows, 3)

	var first []market.Candle
	for ch := range f.Walk(context.Background(), plan, nil) {
		first = append(first, ch.Candles...)
		break
	}
	assert.Len(t, first, 12)

	resumed := plan.From(epoch.Add(time.Hour))
	require.Len(t, resumed.Windows, 2)
	last := first[len(first)-1].Close
	var rest []market.Candle
	for ch := range f.Walk(context.Background(), resumed, &last) {
		require.NoError(t, ch.Err)
		rest = append(rest, ch.Candles...)
	}
	whole, err := f.Run(context.Background(), plan, nil)
	require.NoError(t, err)
	assert.Equal(t, whole.Candles, append(first, rest...))
}

func TestLatest(t *testing.T) {
	p := &fakeProvider{span: time.Hour, latest: []market.RawBar{
		{Timestamp: epoch.Add(time.Minute), Open: 10, High: 12, Low: 9, Close: 9.5, Volume: 1},
		{Timestamp: epoch, Open: 9, High: 11, Low: 8, Close: 10, Volume: 1},
	}}
	f := newTestFetcher(p)
	c, err := f.Latest(context.Background(), "X", "fake", "1m")
	require.NoError(t, err)
	assert.Equal(t, epoch.Add(time.Minute), c.Timestamp)
	require.NotNil(t, c.PrevClose)
	assert.Equal(t, 10.0, *c.PrevClose)
	assert.Equal(t, market.ColorRed, c.Color)

	p.latest = p.latest[:1]
	_, err = f.Latest(context.Background(), "X", "fake", "1m")
	var insufficient *market.InsufficientDataError
	require.ErrorAs(t, err, &insufficient)
	assert.Equal(t, 1, insufficient.Got)
}
