package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"candlefeed/internal/backfill"
	"candlefeed/internal/fanout"
	"candlefeed/internal/live"
	"candlefeed/internal/market"
	"candlefeed/internal/period"
	"candlefeed/internal/pkg/circuit"
	"candlefeed/internal/pkg/symbol"
	"candlefeed/internal/store/gormstore"
	"candlefeed/internal/store/series"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"
)

// CandleFetcher is the part of the chunked range fetcher the API calls.
type CandleFetcher interface {
	Latest(ctx context.Context, sym, provider, interval string) (market.Candle, error)
	Fetch(ctx context.Context, req backfill.Request) (backfill.Result, error)
}

type JobRunner interface {
	Submit(ctx context.Context, req backfill.JobRequest) (backfill.Job, error)
	Job(id string) (backfill.Job, bool)
	Jobs() []backfill.Job
}

type LoopControl interface {
	Start(target live.Target) (market.SeriesKey, error)
	Stop(key market.SeriesKey) bool
	Status() []live.Status
}

type SeriesReader interface {
	Load(ctx context.Context, key market.SeriesKey) ([]market.Candle, error)
	Keys(ctx context.Context) ([]market.SeriesKey, error)
}

// CandleQuery is the relational mirror.
type CandleQuery interface {
	Range(ctx context.Context, key market.SeriesKey, from, to time.Time, limit int) ([]market.Candle, error)
	Manifest(ctx context.Context, key market.SeriesKey) (gormstore.Manifest, bool, error)
}

type CSVExporter interface {
	ExportCSV(key market.SeriesKey, candles []market.Candle) (string, error)
}

type Subscriber interface {
	Subscribe(buffer int) (<-chan fanout.Batch, func())
}

// StatusSource feeds /api/status. Either func may be nil.
type StatusSource struct {
	Breakers func() []circuit.Snapshot
	Sinks    func() []fanout.SinkStats
}

type RouterConfig struct {
	Fetcher   CandleFetcher
	Jobs      JobRunner
	Loops     LoopControl
	Series    SeriesReader
	Mirror    CandleQuery
	Exporter  CSVExporter
	Publisher backfill.Publisher
	Hub       Subscriber
	Location  series.LocationFunc
	Status    StatusSource
	// TrainPeriod is the history look-back of /api/train_mode.
	TrainPeriod string
	// Concurrency bounds per-request symbol fan-out.
	Concurrency int
}

// Router holds the /api handlers.
type Router struct {
	cfg RouterConfig
	now func() time.Time
}

func NewRouter(cfg RouterConfig) (*Router, error) {
	if cfg.Fetcher == nil {
		return nil, errors.New("api router requires a fetcher")
	}
	if cfg.TrainPeriod == "" {
		cfg.TrainPeriod = period.Default
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.Location == nil {
		cfg.Location = func(market.SeriesKey) *time.Location { return time.UTC }
	}
	return &Router{cfg: cfg, now: time.Now}, nil
}

// Register mounts the routes on group. Endpoints whose dependency is nil are
// skipped.
func (r *Router) Register(group *gin.RouterGroup) {
	if group == nil {
		return
	}
	group.GET("/live", r.handleLive)
	group.GET("/train_mode", r.handleTrainMode)
	group.GET("/fetch_candle", r.handleFetchCandle)
	group.GET("/status", r.handleStatus)
	if r.cfg.Exporter != nil {
		group.GET("/csv", r.handleCSV)
	}
	if r.cfg.Jobs != nil {
		group.POST("/backfill", r.handleSubmitBackfill)
		group.GET("/backfill", r.handleListBackfill)
		group.GET("/backfill/:id", r.handleGetBackfill)
	}
	if r.cfg.Loops != nil {
		group.GET("/loops", r.handleListLoops)
		group.POST("/loops", r.handleStartLoop)
		group.DELETE("/loops", r.handleStopLoop)
	}
	if r.cfg.Series != nil {
		group.GET("/series", r.handleSeries)
		group.GET("/chart", r.handleChart)
	}
	if r.cfg.Mirror != nil {
		group.GET("/candles", r.handleCandles)
	}
	if r.cfg.Hub != nil {
		group.GET("/stream", r.handleStream)
	}
}

type trainResult struct {
	History []fanout.CandlePayload  `json:"history"`
	Live    fanout.CandlePayload    `json:"live"`
	Failed  []backfill.FailedWindow `json:"failed,omitempty"`
}

func (r *Router) handleLive(c *gin.Context) {
	source, interval, symbols, ok := r.multiQuery(c)
	if !ok {
		return
	}
	out := r.perSymbol(c.Request.Context(), symbols, source, func(ctx context.Context, sym string) (any, error) {
		candle, err := r.cfg.Fetcher.Latest(ctx, sym, source, interval)
		if err != nil {
			return nil, err
		}
		r.publish(candle, []market.Candle{candle}, fanout.ModeLive)
		return fanout.Payload(candle), nil
	})
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleTrainMode(c *gin.Context) {
	source, interval, symbols, ok := r.multiQuery(c)
	if !ok {
		return
	}
	rng, err := period.Parse(r.cfg.TrainPeriod, r.now())
	if err != nil {
		writeError(c, err)
		return
	}
	out := r.perSymbol(c.Request.Context(), symbols, source, func(ctx context.Context, sym string) (any, error) {
		res, err := r.cfg.Fetcher.Fetch(ctx, backfill.Request{Symbol: sym, Provider: source, Interval: interval, Window: rng.Window()})
		if err != nil {
			return nil, err
		}
		candle, err := r.cfg.Fetcher.Latest(ctx, sym, source, interval)
		if err != nil {
			return nil, err
		}
		tail := append([]market.Candle(nil), series.Tail(res.Candles, 5)...)
		r.publish(candle, append(tail, candle), fanout.ModeTrain)
		return trainResult{History: fanout.Payloads(res.Candles), Live: fanout.Payload(candle), Failed: res.Failed}, nil
	})
	c.JSON(http.StatusOK, out)
}

func (r *Router) handleFetchCandle(c *gin.Context) {
	q := readSeriesQuery(c)
	if q.Symbol == "" {
		badRequest(c, "symbol", "", "symbol parameter is required")
		return
	}
	candle, err := r.cfg.Fetcher.Latest(c.Request.Context(), q.Symbol, q.Source, q.Interval)
	if err != nil {
		writeError(c, err)
		return
	}
	r.publish(candle, []market.Candle{candle}, fanout.ModeLive)
	c.JSON(http.StatusOK, fanout.Payload(candle))
}

func (r *Router) handleCSV(c *gin.Context) {
	q := readSeriesQuery(c)
	if q.Symbol == "" {
		badRequest(c, "symbol", "", "symbol parameter is required")
		return
	}
	rng, err := period.Parse(c.DefaultQuery("period", period.Default), r.now())
	if err != nil {
		writeError(c, err)
		return
	}
	res, err := r.cfg.Fetcher.Fetch(c.Request.Context(), backfill.Request{Symbol: q.Symbol, Provider: q.Source, Interval: q.Interval, Window: rng.Window()})
	if err != nil {
		writeError(c, err)
		return
	}
	if res.Chunks > 0 && len(res.Failed) == res.Chunks {
		writeError(c, res.Failed[0].Err)
		return
	}
	path, err := r.cfg.Exporter.ExportCSV(res.Key, res.Candles)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status": "csv written",
		"file":   path,
		"rows":   len(res.Candles),
		"failed": res.Failed,
	})
}

func (r *Router) handleStatus(c *gin.Context) {
	body := gin.H{"time": r.now().UTC()}
	if r.cfg.Status.Breakers != nil {
		body["breakers"] = r.cfg.Status.Breakers()
	}
	if r.cfg.Status.Sinks != nil {
		body["sinks"] = r.cfg.Status.Sinks()
	}
	if r.cfg.Loops != nil {
		body["loops"] = len(r.cfg.Loops.Status())
	}
	c.JSON(http.StatusOK, body)
}

// multiQuery reads ?symbols=&source=&interval= and answers 400 itself when
// the request cannot be served at all.
func (r *Router) multiQuery(c *gin.Context) (string, string, []string, bool) {
	q := readSeriesQuery(c)
	symbols := splitSymbols(c.Query("symbols"))
	if len(symbols) == 0 {
		badRequest(c, "symbols", "", "symbols parameter is required")
		return "", "", nil, false
	}
	if _, err := symbol.ConverterFor(q.Source); err != nil {
		writeError(c, err)
		return "", "", nil, false
	}
	return q.Source, q.Interval, symbols, true
}

// perSymbol runs fn for each symbol concurrently. A failing symbol gets its
// error payload in place and never fails the others.
func (r *Router) perSymbol(ctx context.Context, symbols []string, source string, fn func(context.Context, string) (any, error)) map[string]any {
	out := make(map[string]any, len(symbols))
	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Concurrency)
	for _, sym := range symbols {
		g.Go(func() error {
			val, err := fn(gctx, sym)
			if err != nil {
				val = errorBody(err)
			}
			mu.Lock()
			out[displaySymbol(sym, source)] = val
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (r *Router) publish(newest market.Candle, candles []market.Candle, mode fanout.Mode) {
	if r.cfg.Publisher == nil {
		return
	}
	r.cfg.Publisher.Publish(fanout.Batch{
		Key:     market.NewSeriesKey(newest.Symbol, newest.Provider, newest.Interval),
		Candles: candles,
		Mode:    mode,
	})
}
