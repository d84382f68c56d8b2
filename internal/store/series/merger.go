package series

import (
	"context"
	"sync"

	"candlefeed/internal/logger"
	"candlefeed/internal/market"
)

// Mirror receives candles after they are durably saved.
type Mirror interface {
	Upsert(ctx context.Context, key market.SeriesKey, candles []market.Candle) error
}

const lockStripes = 64

// Merger is the single write path into a Store. Writers for the same key are
// serialized by a striped advisory lock.
type Merger struct {
	store  Store
	mirror Mirror
	locks  [lockStripes]sync.Mutex
}

func NewMerger(store Store, mirror Mirror) *Merger {
	return &Merger{store: store, mirror: mirror}
}

func (m *Merger) Store() Store { return m.store }

func (m *Merger) lockFor(key market.SeriesKey) *sync.Mutex {
	return &m.locks[hashKey(key.String())%lockStripes]
}

// Handle binds a writer to one key. The handle caches the key's last candle
// for as long as its owner keeps it.
func (m *Merger) Handle(key market.SeriesKey) *Handle {
	return &Handle{merger: m, key: key}
}

// Merge is a one-shot Handle(key).Merge.
func (m *Merger) Merge(ctx context.Context, key market.SeriesKey, incoming []market.Candle) (MergeResult, error) {
	return m.Handle(key).Merge(ctx, incoming)
}

type Handle struct {
	merger *Merger
	key    market.SeriesKey

	mu     sync.Mutex
	loaded bool
	last   *market.Candle
}

func (h *Handle) Key() market.SeriesKey { return h.key }

// Last returns the newest persisted candle, loading the series once.
func (h *Handle) Last(ctx context.Context) (market.Candle, bool, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.loaded {
		series, err := h.merger.store.Load(ctx, h.key)
		if err != nil {
			return market.Candle{}, false, err
		}
		h.remember(series)
	}
	if h.last == nil {
		return market.Candle{}, false, nil
	}
	return *h.last, true, nil
}

// Load returns the persisted series and refreshes the cache.
func (h *Handle) Load(ctx context.Context) ([]market.Candle, error) {
	series, err := h.merger.store.Load(ctx, h.key)
	if err != nil {
		return nil, err
	}
	h.mu.Lock()
	h.remember(series)
	h.mu.Unlock()
	return series, nil
}

// Merge folds incoming into the persisted series. Nothing is written when
// incoming adds or revises nothing.
func (h *Handle) Merge(ctx context.Context, incoming []market.Candle) (MergeResult, error) {
	lock := h.merger.lockFor(h.key)
	lock.Lock()
	defer lock.Unlock()

	existing, err := h.merger.store.Load(ctx, h.key)
	if err != nil {
		return MergeResult{}, err
	}
	merged, res := merge(existing, incoming)
	if res.Empty() {
		h.mu.Lock()
		h.remember(existing)
		h.mu.Unlock()
		return res, nil
	}
	if err := ctx.Err(); err != nil {
		return MergeResult{}, err
	}
	if err := h.merger.store.Save(ctx, h.key, merged); err != nil {
		return MergeResult{}, err
	}
	h.mu.Lock()
	h.remember(merged)
	h.mu.Unlock()

	if h.merger.mirror != nil {
		if err := h.merger.mirror.Upsert(ctx, h.key, res.Changed); err != nil {
			logger.Warnf("series %s: mirror upsert of %d candles failed: %v", h.key, len(res.Changed), err)
		}
	}
	return res, nil
}

func (h *Handle) remember(series []market.Candle) {
	h.loaded = true
	if len(series) == 0 {
		h.last = nil
		return
	}
	last := series[len(series)-1]
	h.last = &last
}
