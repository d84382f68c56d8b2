package api

import (
	"strconv"
	"strings"
	"time"

	"candlefeed/internal/market"
	"candlefeed/internal/pkg/symbol"

	"github.com/gin-gonic/gin"
)

const (
	defaultSource   = market.ProviderYahoo
	defaultInterval = "1m"
)

// seriesQuery is the symbol/source/interval triple shared by most endpoints.
type seriesQuery struct {
	Symbol   string
	Source   string
	Interval string
}

func readSeriesQuery(c *gin.Context) seriesQuery {
	return seriesQuery{
		Symbol:   strings.TrimSpace(c.Query("symbol")),
		Source:   strings.ToLower(strings.TrimSpace(c.DefaultQuery("source", defaultSource))),
		Interval: strings.TrimSpace(c.DefaultQuery("interval", defaultInterval)),
	}
}

// key resolves the series key; unknown sources and intervals are
// configuration errors.
func (q seriesQuery) key() (market.SeriesKey, error) {
	native, err := symbol.Normalize(q.Symbol, q.Source)
	if err != nil {
		return market.SeriesKey{}, err
	}
	if native == "" {
		return market.SeriesKey{}, market.NewConfigurationError("symbol", q.Symbol, "symbol is required")
	}
	iv, err := market.ParseInterval(q.Interval)
	if err != nil {
		return market.SeriesKey{}, err
	}
	return market.NewSeriesKey(native, q.Source, iv.Key), nil
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// displaySymbol is the response key for a symbol: the provider spelling when
// it normalizes, the raw input otherwise.
func displaySymbol(raw, source string) string {
	if native, err := symbol.Normalize(raw, source); err == nil && native != "" {
		return native
	}
	return strings.ToUpper(raw)
}

// parseTime accepts RFC3339 or epoch milliseconds.
func parseTime(raw string) (time.Time, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, false
	}
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return time.UnixMilli(ms).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), true
	}
	return time.Time{}, false
}

func parseLimit(raw string, def, max int) int {
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil || n <= 0 {
		return def
	}
	if max > 0 && n > max {
		return max
	}
	return n
}
