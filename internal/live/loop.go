// Package live keeps persisted series current: one tail loop per key,
// each walking COLD -> BACKFILLING -> LIVE.
package live

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"candlefeed/internal/backfill"
	"candlefeed/internal/fanout"
	"candlefeed/internal/logger"
	"candlefeed/internal/market"
	"candlefeed/internal/period"
	"candlefeed/internal/scheduler"
	"candlefeed/internal/store/journal"
	"candlefeed/internal/store/series"
)

type State string

const (
	StateCold        State = "cold"
	StateBackfilling State = "backfilling"
	StateLive        State = "live"
)

// Journal is the failed-window store loops retry from.
type Journal interface {
	backfill.Journal
	Pending(ctx context.Context, key market.SeriesKey, limit int) ([]journal.Entry, error)
}

// Target names one series to keep live.
type Target struct {
	Symbol   string `json:"symbol" yaml:"symbol"`
	Provider string `json:"provider" yaml:"provider"`
	Interval string `json:"interval" yaml:"interval"`
}

func (t Target) String() string { return t.Provider + ":" + t.Symbol + "@" + t.Interval }

type Config struct {
	Cadence scheduler.Cadence
	// AlignToBar aligns ticks to the loop's own bar close when Cadence.Align
	// is unset.
	AlignToBar         bool
	BackfillPeriod     string
	RetryFailedWindows int
}

func (c Config) withDefaults() Config {
	if c.BackfillPeriod == "" {
		c.BackfillPeriod = period.Default
	}
	if c.RetryFailedWindows < 0 {
		c.RetryFailedWindows = 0
	}
	return c
}

// Status is a loop snapshot.
type Status struct {
	Key           market.SeriesKey `json:"key"`
	Target        Target           `json:"target"`
	State         State            `json:"state"`
	Cadence       string           `json:"cadence"`
	LastTimestamp time.Time        `json:"last_timestamp,omitempty"`
	Ticks         int64            `json:"ticks"`
	Errors        int64            `json:"errors"`
	LastError     string           `json:"last_error,omitempty"`
	LastTickAt    time.Time        `json:"last_tick_at,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
}

// Loop is the tail loop of one key. Tick is not safe for concurrent use;
// Status is.
type Loop struct {
	target    Target
	plan      *backfill.Plan
	fetcher   *backfill.Fetcher
	handle    *series.Handle
	journal   Journal
	publisher backfill.Publisher
	cfg       Config
	log       *slog.Logger
	now       func() time.Time

	mu     sync.RWMutex
	status Status
}

type Deps struct {
	Fetcher   *backfill.Fetcher
	Merger    *series.Merger
	Journal   Journal
	Publisher backfill.Publisher
}

// NewLoop resolves the target; configuration errors surface here.
func NewLoop(target Target, deps Deps, cfg Config) (*Loop, error) {
	if deps.Fetcher == nil || deps.Merger == nil {
		return nil, fmt.Errorf("live: fetcher and merger are required")
	}
	plan, err := deps.Fetcher.Plan(backfill.Request{Symbol: target.Symbol, Provider: target.Provider, Interval: target.Interval})
	if err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()
	if _, err := period.Parse(cfg.BackfillPeriod, time.Now()); err != nil {
		return nil, err
	}
	if cfg.AlignToBar && cfg.Cadence.Align <= 0 {
		cfg.Cadence.Align = plan.Interval.Duration
	}
	return &Loop{
		target:    target,
		plan:      plan,
		fetcher:   deps.Fetcher,
		handle:    deps.Merger.Handle(plan.Key),
		journal:   deps.Journal,
		publisher: deps.Publisher,
		cfg:       cfg,
		log:       logger.With("key", plan.Key.String()),
		now:       time.Now,
		status: Status{
			Key:     plan.Key,
			Target:  target,
			State:   StateCold,
			Cadence: cfg.Cadence.String(),
		},
	}, nil
}

func (l *Loop) Key() market.SeriesKey { return l.plan.Key }

func (l *Loop) Status() Status {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status
}

func (l *Loop) state() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.status.State
}

func (l *Loop) setState(s State) {
	l.mu.Lock()
	prev := l.status.State
	l.status.State = s
	l.mu.Unlock()
	if prev != s {
		l.log.Info("state change", "from", prev, "to", s)
	}
}

// Run ticks until ctx ends. Tick errors are recorded, never fatal.
func (l *Loop) Run(ctx context.Context) {
	l.mu.Lock()
	l.status.StartedAt = l.now()
	l.mu.Unlock()
	for {
		_ = l.Tick(ctx)
		if !scheduler.SleepUntil(ctx, l.cfg.Cadence.Next(l.now()), l.now()) {
			return
		}
	}
}

// Tick advances the state machine by one step.
func (l *Loop) Tick(ctx context.Context) error {
	err := l.tick(ctx)
	l.mu.Lock()
	l.status.Ticks++
	l.status.LastTickAt = l.now()
	if err != nil && ctx.Err() == nil {
		l.status.Errors++
		l.status.LastError = err.Error()
	}
	l.mu.Unlock()
	if err != nil && ctx.Err() == nil {
		l.log.Warn("tick failed", "state", l.state(), "kind", market.ErrorKind(err), "err", err)
	}
	return err
}

func (l *Loop) tick(ctx context.Context) error {
	if l.state() == StateCold {
		last, ok, err := l.handle.Last(ctx)
		if err != nil {
			return err
		}
		if ok {
			l.remember(last)
			l.setState(StateLive)
		} else {
			l.setState(StateBackfilling)
		}
	}
	switch l.state() {
	case StateBackfilling:
		return l.backfill(ctx)
	case StateLive:
		if err := l.tail(ctx); err != nil {
			return err
		}
		return l.retryFailed(ctx)
	}
	return nil
}

func (l *Loop) backfill(ctx context.Context) error {
	r, err := period.Parse(l.cfg.BackfillPeriod, l.now())
	if err != nil {
		return err
	}
	res, err := l.run(ctx, r.Window(), nil)
	if err != nil {
		return err
	}
	merged, err := l.handle.Merge(ctx, res.Candles)
	if err != nil {
		return err
	}
	l.publish(merged, fanout.ModeBackfill)
	l.log.Info("backfill complete", "rows", merged.Total, "failed_windows", len(res.Failed))
	l.setState(StateLive)
	return nil
}

// tail re-fetches from the last known bar so a still-forming bar is
// superseded once it closes.
func (l *Loop) tail(ctx context.Context) error {
	last, ok, err := l.handle.Last(ctx)
	if err != nil {
		return err
	}
	if !ok {
		l.setState(StateBackfilling)
		return l.backfill(ctx)
	}
	window := market.FetchWindow{Start: last.Timestamp, End: l.now().UTC()}
	if window.Empty() {
		return nil
	}
	res, err := l.run(ctx, window, last.PrevClose)
	if err != nil {
		return err
	}
	if len(res.Candles) == 0 {
		return nil
	}
	merged, err := l.handle.Merge(ctx, res.Candles)
	if err != nil {
		return err
	}
	l.publish(merged, fanout.ModeLive)
	return nil
}

func (l *Loop) retryFailed(ctx context.Context) error {
	if l.journal == nil || l.cfg.RetryFailedWindows == 0 {
		return nil
	}
	pending, err := l.journal.Pending(ctx, l.plan.Key, l.cfg.RetryFailedWindows)
	if err != nil {
		return err
	}
	var errs []error
	for _, entry := range pending {
		if err := l.retryWindow(ctx, entry.Window); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// retryWindow refetches a journaled window. The entry is replaced by the
// sub-windows that still fail. Repaired bars older than the last emitted one
// are stored but not published, so sinks see each key in time order.
func (l *Loop) retryWindow(ctx context.Context, w market.FetchWindow) error {
	seed, err := backfill.SeedBefore(ctx, l.handle, w.Start)
	if err != nil {
		return err
	}
	res, err := l.fetch(ctx, w, seed)
	if err != nil {
		return err
	}
	merged, err := l.handle.Merge(ctx, res.Candles)
	if err != nil {
		return err
	}
	l.publish(merged.Since(l.Status().LastTimestamp), fanout.ModeBackfill)
	if err := l.journal.Resolve(ctx, l.plan.Key, w); err != nil {
		return err
	}
	l.journalFailed(ctx, res.Failed)
	if res.Partial() {
		return nil
	}
	l.log.Info("failed window recovered", "window", w.String(), "rows", len(res.Candles))
	return nil
}

// run fetches w and journals any sub-window that still failed.
func (l *Loop) run(ctx context.Context, w market.FetchWindow, seed *float64) (backfill.Result, error) {
	res, err := l.fetch(ctx, w, seed)
	if err != nil {
		return res, err
	}
	l.journalFailed(ctx, res.Failed)
	return res, nil
}

func (l *Loop) fetch(ctx context.Context, w market.FetchWindow, seed *float64) (backfill.Result, error) {
	plan := *l.plan
	plan.Window = w
	plan.Windows = backfill.Split(w, plan.Provider.MaxWindow(plan.Interval))
	return l.fetcher.Run(ctx, &plan, seed)
}

// journalFailed records failed sub-windows. The journal coalesces
// overlapping windows, so a tail failing tick after tick keeps one entry.
func (l *Loop) journalFailed(ctx context.Context, failed []backfill.FailedWindow) {
	if l.journal == nil {
		return
	}
	for _, fw := range failed {
		if err := l.journal.RecordFailure(ctx, l.plan.Key, fw.Window, fw.Reason); err != nil {
			l.log.Warn("journal failed window", "window", fw.Window.String(), "err", err)
		}
	}
}

func (l *Loop) publish(res series.MergeResult, mode fanout.Mode) {
	if res.Empty() {
		return
	}
	l.remember(res.Changed[len(res.Changed)-1])
	if l.publisher != nil {
		l.publisher.Publish(fanout.Batch{Key: l.plan.Key, Candles: res.Changed, Mode: mode})
	}
}

func (l *Loop) remember(c market.Candle) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c.Timestamp.After(l.status.LastTimestamp) {
		l.status.LastTimestamp = c.Timestamp
	}
}
