package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"
	"time"

	"candlefeed/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func klineRow(openMs int64, o, h, l, c, v string) string {
	return fmt.Sprintf(`[%d,"%s","%s","%s","%s","%s",%d,"0",10,"0","0","0"]`, openMs, o, h, l, c, v, openMs+59999)
}

func TestProvider_FetchRaw(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(3 * time.Minute)
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v3/klines", r.URL.Path)
		q := r.URL.Query()
		gotQuery = map[string]string{
			"symbol":    q.Get("symbol"),
			"interval":  q.Get("interval"),
			"limit":     q.Get("limit"),
			"startTime": q.Get("startTime"),
			"endTime":   q.Get("endTime"),
		}
		ms := start.UnixMilli()
		fmt.Fprintf(w, "[%s,%s]",
			klineRow(ms, "100", "101", "99", "100.5", "3"),
			klineRow(ms+60000, "100.5", "102", "100", "101", "4"))
	}))
	defer srv.Close()

	p, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)

	bars, err := p.FetchRaw(context.Background(), "BTCUSDT", market.MustInterval("1m"), start, end)
	require.NoError(t, err)
	require.Len(t, bars, 2)
	assert.Equal(t, start, bars[0].Timestamp)
	assert.Equal(t, "100.5", bars[0].Close)
	assert.Equal(t, "BTCUSDT", gotQuery["symbol"])
	assert.Equal(t, "1m", gotQuery["interval"])
	assert.Equal(t, "1000", gotQuery["limit"])
	assert.Equal(t, strconv.FormatInt(start.UnixMilli(), 10), gotQuery["startTime"])
	assert.Equal(t, strconv.FormatInt(end.UnixMilli()-1, 10), gotQuery["endTime"])
}

func TestProvider_RateLimitIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"code":-1003,"msg":"Too many requests"}`)
	}))
	defer srv.Close()
	p, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Latest(context.Background(), "BTCUSDT", market.MustInterval("1m"), 2)
	var reqErr *market.ProviderRequestError
	require.True(t, errors.As(err, &reqErr))
	assert.True(t, reqErr.RateLimited)
	assert.True(t, reqErr.Retryable())
}

func TestProvider_InvalidSymbolIsPermanent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"code":-1121,"msg":"Invalid symbol."}`)
	}))
	defer srv.Close()
	p, err := New(Config{RESTBaseURL: srv.URL})
	require.NoError(t, err)

	_, err = p.Latest(context.Background(), "NOPEUSDT", market.MustInterval("1m"), 2)
	var reqErr *market.ProviderRequestError
	require.True(t, errors.As(err, &reqErr))
	assert.False(t, reqErr.Retryable())
}

func TestProvider_IntervalsAndWindow(t *testing.T) {
	p, err := New(Config{})
	require.NoError(t, err)
	assert.Equal(t, "BTCUSDT", p.NativeSymbol("BTC-USD"))
	assert.Equal(t, 1000*time.Minute, p.MaxWindow(market.MustInterval("1m")))
	assert.Equal(t, 1000*time.Hour, p.MaxWindow(market.MustInterval("1h")))

	_, err = p.NativeInterval(market.MustInterval("90m"))
	var cfgErr *market.ConfigurationError
	assert.True(t, errors.As(err, &cfgErr))
	assert.Equal(t, time.UTC, p.Location("BTCUSDT"))
}
