package api

import (
	"net/http"
	"time"

	"candlefeed/internal/chart"
	"candlefeed/internal/fanout"
	"candlefeed/internal/market"
	"candlefeed/internal/store/series"

	"github.com/gin-gonic/gin"
)

const (
	defaultSeriesLimit = 0
	defaultChartLimit  = 500
	maxCandlesLimit    = 50000
)

type seriesResponse struct {
	Key     market.SeriesKey       `json:"key"`
	Total   int                    `json:"total"`
	Candles []fanout.CandlePayload `json:"candles"`
}

// handleSeries returns the persisted series, or the stored keys when no
// symbol is given.
func (r *Router) handleSeries(c *gin.Context) {
	q := readSeriesQuery(c)
	ctx := c.Request.Context()
	if q.Symbol == "" {
		keys, err := r.cfg.Series.Keys(ctx)
		if err != nil {
			writeError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"keys": keys})
		return
	}
	key, err := q.key()
	if err != nil {
		writeError(c, err)
		return
	}
	candles, err := r.cfg.Series.Load(ctx, key)
	if err != nil {
		writeError(c, err)
		return
	}
	tail := series.Tail(candles, parseLimit(c.Query("limit"), defaultSeriesLimit, maxCandlesLimit))
	c.JSON(http.StatusOK, seriesResponse{Key: key, Total: len(candles), Candles: fanout.Payloads(tail)})
}

func (r *Router) handleChart(c *gin.Context) {
	key, err := readSeriesQuery(c).key()
	if err != nil {
		writeError(c, err)
		return
	}
	candles, err := r.cfg.Series.Load(c.Request.Context(), key)
	if err != nil {
		writeError(c, err)
		return
	}
	if len(candles) == 0 {
		c.JSON(http.StatusNotFound, ErrorBody{Error: "no stored candles for " + key.String(), Kind: kindNotFound})
		return
	}
	tail := series.Tail(candles, parseLimit(c.Query("limit"), defaultChartLimit, maxCandlesLimit))
	html, err := chart.RenderHTML(chart.Input{Key: key, Candles: tail, Loc: r.cfg.Location(key)})
	if err != nil {
		writeError(c, err)
		return
	}
	c.Data(http.StatusOK, "text/html; charset=utf-8", html)
}

// handleCandles queries the mirror. from/to default to the last 24h.
func (r *Router) handleCandles(c *gin.Context) {
	key, err := readSeriesQuery(c).key()
	if err != nil {
		writeError(c, err)
		return
	}
	to, ok := parseTime(c.Query("to"))
	if !ok {
		if c.Query("to") != "" {
			badRequest(c, "to", c.Query("to"), "expected RFC3339 or epoch milliseconds")
			return
		}
		to = r.now().UTC()
	}
	from, ok := parseTime(c.Query("from"))
	if !ok {
		if c.Query("from") != "" {
			badRequest(c, "from", c.Query("from"), "expected RFC3339 or epoch milliseconds")
			return
		}
		from = to.Add(-24 * time.Hour)
	}
	if !from.Before(to) {
		badRequest(c, "from", c.Query("from"), "from must be before to")
		return
	}
	ctx := c.Request.Context()
	candles, err := r.cfg.Mirror.Range(ctx, key, from, to, parseLimit(c.Query("limit"), 0, maxCandlesLimit))
	if err != nil {
		writeError(c, err)
		return
	}
	body := gin.H{"key": key, "from": from, "to": to, "candles": fanout.Payloads(candles)}
	if manifest, found, err := r.cfg.Mirror.Manifest(ctx, key); err == nil && found {
		body["manifest"] = manifest
	}
	c.JSON(http.StatusOK, body)
}
