package backfill

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sort"
	"strings"
	"sync"
	"time"

	"candlefeed/internal/logger"
	"candlefeed/internal/market"
	"candlefeed/internal/pkg/circuit"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/time/rate"
)

// ProviderSource resolves a provider tag.
type ProviderSource interface {
	Provider(name string) (market.CandleProvider, error)
}

type Request struct {
	Symbol   string
	Provider string
	Interval string
	Window   market.FetchWindow
	// SeedClose is the close of the bar right before Window.Start when the
	// caller continues an existing series.
	SeedClose *float64
}

// Chunk is the outcome of one sub-window request.
type Chunk struct {
	Index   int
	Window  market.FetchWindow
	Candles []market.Candle
	Coerced int
	Err     error
}

type FailedWindow struct {
	Symbol string             `json:"symbol"`
	Window market.FetchWindow `json:"window"`
	Reason string             `json:"reason"`
	Err    error              `json:"-"`
}

type Result struct {
	Key     market.SeriesKey `json:"key"`
	Candles []market.Candle  `json:"candles"`
	Failed  []FailedWindow   `json:"failed,omitempty"`
	Chunks  int              `json:"chunks"`
	Coerced int              `json:"coerced"`
}

func (r Result) Partial() bool { return len(r.Failed) > 0 }

type Options struct {
	// RateLimits is requests per minute keyed by provider tag.
	RateLimits       map[string]int
	MaxRetries       int
	RetryInitial     time.Duration
	RetryMaxInterval time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration
	// DropFormingBar discards bars whose close time plus FormingGrace has not
	// passed yet.
	DropFormingBar bool
	FormingGrace   time.Duration
}

func (o Options) withDefaults() Options {
	if o.MaxRetries < 0 {
		o.MaxRetries = 0
	}
	if o.RetryInitial <= 0 {
		o.RetryInitial = 500 * time.Millisecond
	}
	if o.RetryMaxInterval <= 0 {
		o.RetryMaxInterval = 10 * time.Second
	}
	if o.BreakerThreshold <= 0 {
		o.BreakerThreshold = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	if o.FormingGrace < 0 {
		o.FormingGrace = 0
	}
	return o
}

const defaultRatePerMin = 120

// Fetcher is the chunked range fetcher. It is safe for concurrent use; rate
// limiters and circuit breakers are shared per provider.
type Fetcher struct {
	providers ProviderSource
	opts      Options
	now       func() time.Time

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	breakers map[string]*circuit.Breaker
}

func NewFetcher(providers ProviderSource, opts Options) *Fetcher {
	return &Fetcher{
		providers: providers,
		opts:      opts.withDefaults(),
		now:       time.Now,
		limiters:  make(map[string]*rate.Limiter),
		breakers:  make(map[string]*circuit.Breaker),
	}
}

// Plan validates the request and splits its window by the provider's span.
// Unknown providers, symbols or intervals fail here before any request.
func (f *Fetcher) Plan(req Request) (*Plan, error) {
	provider, err := f.providers.Provider(req.Provider)
	if err != nil {
		return nil, err
	}
	iv, err := market.ParseInterval(req.Interval)
	if err != nil {
		return nil, err
	}
	if _, err := provider.NativeInterval(iv); err != nil {
		return nil, err
	}
	native := provider.NativeSymbol(req.Symbol)
	if strings.TrimSpace(native) == "" {
		return nil, market.NewConfigurationError("symbol", req.Symbol, "empty symbol")
	}
	window := market.FetchWindow{Start: req.Window.Start.UTC(), End: req.Window.End.UTC()}
	return &Plan{
		Key:      market.NewSeriesKey(native, provider.Name(), iv.Key),
		Provider: provider,
		Symbol:   native,
		Interval: iv,
		Window:   window,
		Windows:  Split(window, provider.MaxWindow(iv)),
	}, nil
}

// Chunks plans req and returns its lazy chunk sequence. Planning errors are
// returned before any request is made.
func (f *Fetcher) Chunks(ctx context.Context, req Request) (iter.Seq[Chunk], error) {
	plan, err := f.Plan(req)
	if err != nil {
		return nil, err
	}
	return f.Walk(ctx, plan, req.SeedClose), nil
}

// Walk visits the plan's sub-windows in order, one request each. seed is the
// close preceding the first sub-window, or nil for a cold series. The
// sequence can be ranged over again; each pass re-requests.
func (f *Fetcher) Walk(ctx context.Context, plan *Plan, seed *float64) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		carry := seed
		for i, w := range plan.Windows {
			ch := Chunk{Index: i, Window: w}
			if err := ctx.Err(); err != nil {
				ch.Err = err
				yield(ch)
				return
			}
			rows, err := f.request(ctx, plan, w)
			if err != nil {
				ch.Err = err
				// The gap makes the previous close unknown.
				carry = nil
			} else {
				ch.Candles, ch.Coerced, carry = f.build(plan, rows, w, carry)
			}
			if !yield(ch) {
				return
			}
		}
	}
}

// Fetch drains Chunks. Failed sub-windows are collected, never fatal; only
// cancellation ends the walk early.
func (f *Fetcher) Fetch(ctx context.Context, req Request) (Result, error) {
	plan, err := f.Plan(req)
	if err != nil {
		return Result{}, err
	}
	return f.Run(ctx, plan, req.SeedClose)
}

func (f *Fetcher) Run(ctx context.Context, plan *Plan, seed *float64) (Result, error) {
	res := Result{Key: plan.Key}
	for ch := range f.Walk(ctx, plan, seed) {
		res.Chunks++
		if ch.Err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return res, ctxErr
			}
			logger.Warnf("backfill %s: window %s failed: %v", plan.Key, ch.Window, ch.Err)
			res.Failed = append(res.Failed, FailedWindow{
				Symbol: plan.Symbol,
				Window: ch.Window,
				Reason: ch.Err.Error(),
				Err:    ch.Err,
			})
			continue
		}
		res.Candles = append(res.Candles, ch.Candles...)
		res.Coerced += ch.Coerced
	}
	if res.Coerced > 0 {
		logger.Warnf("backfill %s: %d numeric fields coerced to 0", plan.Key, res.Coerced)
	}
	return res, nil
}

// Latest fetches the newest bar with the one before it as prev_close.
func (f *Fetcher) Latest(ctx context.Context, sym, providerName, interval string) (market.Candle, error) {
	plan, err := f.Plan(Request{Symbol: sym, Provider: providerName, Interval: interval})
	if err != nil {
		return market.Candle{}, err
	}
	var rows []market.RawBar
	err = f.call(ctx, plan, market.FetchWindow{}, func() error {
		var callErr error
		rows, callErr = plan.Provider.Latest(ctx, plan.Symbol, plan.Interval, 2)
		return callErr
	})
	if err != nil {
		return market.Candle{}, err
	}
	if len(rows) < 2 {
		return market.Candle{}, &market.InsufficientDataError{Symbol: plan.Symbol, Got: len(rows), Want: 2}
	}
	rows = sortRows(rows)
	if len(rows) < 2 {
		return market.Candle{}, &market.InsufficientDataError{Symbol: plan.Symbol, Got: len(rows), Want: 2}
	}
	prev, last := rows[len(rows)-2], rows[len(rows)-1]
	c, coerced := market.Build(market.BuildInput{
		Symbol:    plan.Symbol,
		Provider:  plan.Key.Provider,
		Interval:  plan.Interval.Key,
		Timestamp: last.Timestamp,
		Open:      last.Open,
		High:      last.High,
		Low:       last.Low,
		Close:     last.Close,
		Volume:    last.Volume,
		PrevClose: prev.Close,
	})
	if coerced > 0 {
		logger.Warnf("latest %s: %d numeric fields coerced to 0", plan.Key, coerced)
	}
	return c, nil
}

func (f *Fetcher) request(ctx context.Context, plan *Plan, w market.FetchWindow) ([]market.RawBar, error) {
	var rows []market.RawBar
	err := f.call(ctx, plan, w, func() error {
		var callErr error
		rows, callErr = plan.Provider.FetchRaw(ctx, plan.Symbol, plan.Interval, w.Start, w.End)
		return callErr
	})
	return rows, err
}

// call runs fn behind the provider's limiter and breaker, retrying transient
// failures with exponential backoff.
func (f *Fetcher) call(ctx context.Context, plan *Plan, w market.FetchWindow, fn func() error) error {
	name := plan.Provider.Name()
	limiter := f.limiter(name)
	breaker := f.breaker(name)
	op := func() error {
		if err := limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}
		err := breaker.Do(fn, retryable)
		if err == nil {
			return nil
		}
		if errors.Is(err, circuit.ErrOpen) || !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = f.opts.RetryInitial
	exp.MaxInterval = f.opts.RetryMaxInterval
	exp.MaxElapsedTime = 0
	bo := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(f.opts.MaxRetries)), ctx)
	notify := func(err error, wait time.Duration) {
		var reqErr *market.ProviderRequestError
		if errors.As(err, &reqErr) && reqErr.RateLimited {
			logger.Infof("%s %s: rate limited, waiting %s before retrying", name, plan.Symbol, wait)
			return
		}
		logger.Warnf("%s %s %s: request failed, waiting %s before retrying: %v", name, plan.Symbol, w, wait, err)
	}
	if err := backoff.RetryNotify(op, bo, notify); err != nil {
		return asRequestError(name, plan.Symbol, w, err)
	}
	return nil
}

// build filters rows to w, orders them and pairs each with the running close.
func (f *Fetcher) build(plan *Plan, rows []market.RawBar, w market.FetchWindow, carry *float64) ([]market.Candle, int, *float64) {
	if len(rows) == 0 {
		return nil, 0, carry
	}
	inWindow := make([]market.RawBar, 0, len(rows))
	for _, r := range rows {
		if w.Contains(r.Timestamp) {
			inWindow = append(inWindow, r)
		}
	}
	inWindow = sortRows(inWindow)
	if f.opts.DropFormingBar {
		inWindow = dropForming(inWindow, plan.Interval.Duration, f.now(), f.opts.FormingGrace)
	}
	b := market.NewBuilder(market.SeriesKey{Symbol: plan.Symbol, Provider: plan.Key.Provider, Interval: plan.Interval.Key}, carry)
	out := make([]market.Candle, 0, len(inWindow))
	for _, r := range inWindow {
		out = append(out, b.Next(r))
	}
	return out, b.Coerced, b.Prev()
}

// sortRows orders ascending and keeps the last row for a repeated timestamp.
func sortRows(rows []market.RawBar) []market.RawBar {
	sort.SliceStable(rows, func(i, j int) bool { return rows[i].Timestamp.Before(rows[j].Timestamp) })
	out := rows[:0]
	for _, r := range rows {
		if n := len(out); n > 0 && out[n-1].Timestamp.Equal(r.Timestamp) {
			out[n-1] = r
			continue
		}
		out = append(out, r)
	}
	return out
}

func dropForming(rows []market.RawBar, interval time.Duration, now time.Time, grace time.Duration) []market.RawBar {
	for len(rows) > 0 {
		last := rows[len(rows)-1]
		if now.Before(last.Timestamp.Add(interval + grace)) {
			rows = rows[:len(rows)-1]
			continue
		}
		break
	}
	return rows
}

func retryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var cfgErr *market.ConfigurationError
	if errors.As(err, &cfgErr) {
		return false
	}
	var reqErr *market.ProviderRequestError
	if errors.As(err, &reqErr) {
		return reqErr.Retryable()
	}
	return true
}

func asRequestError(provider, sym string, w market.FetchWindow, err error) error {
	var cfgErr *market.ConfigurationError
	if errors.As(err, &cfgErr) {
		return err
	}
	var reqErr *market.ProviderRequestError
	if errors.As(err, &reqErr) {
		out := *reqErr
		if out.Window.Empty() {
			out.Window = w
		}
		return &out
	}
	return &market.ProviderRequestError{
		Provider: provider,
		Symbol:   sym,
		Window:   w,
		Err:      fmt.Errorf("request: %w", err),
	}
}

func (f *Fetcher) limiter(provider string) *rate.Limiter {
	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.limiters[provider]; ok {
		return l
	}
	perMin := f.opts.RateLimits[provider]
	if perMin <= 0 {
		perMin = defaultRatePerMin
	}
	burst := perMin / 10
	if burst < 1 {
		burst = 1
	}
	l := rate.NewLimiter(rate.Limit(float64(perMin)/60.0), burst)
	f.limiters[provider] = l
	return l
}

func (f *Fetcher) breaker(provider string) *circuit.Breaker {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.breakers[provider]; ok {
		return b
	}
	b := circuit.New(provider, f.opts.BreakerThreshold, f.opts.BreakerCooldown)
	f.breakers[provider] = b
	return b
}

// Breakers reports the breaker of every provider used so far, by name.
func (f *Fetcher) Breakers() []circuit.Snapshot {
	f.mu.Lock()
	out := make([]circuit.Snapshot, 0, len(f.breakers))
	for _, b := range f.breakers {
		out = append(out, b.Snapshot())
	}
	f.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
