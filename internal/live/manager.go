package live

import (
	"context"
	"sort"
	"sync"

	"candlefeed/internal/logger"
	"candlefeed/internal/market"
)

// Manager owns at most one loop per key, each on its own goroutine.
type Manager struct {
	deps Deps
	cfg  Config

	mu      sync.Mutex
	ctx     context.Context
	loops   map[market.SeriesKey]*running
	pending map[market.SeriesKey]*Loop
	wg      sync.WaitGroup

	syncMu  sync.Mutex
	watched map[market.SeriesKey]bool
}

type running struct {
	loop   *Loop
	cancel context.CancelFunc
	done   chan struct{}
}

func NewManager(deps Deps, cfg Config) *Manager {
	return &Manager{
		deps:    deps,
		cfg:     cfg,
		loops:   make(map[market.SeriesKey]*running),
		pending: make(map[market.SeriesKey]*Loop),
	}
}

// Start launches a loop for target unless its key already has one. Loops
// started before Run wait for it.
func (m *Manager) Start(target Target) (market.SeriesKey, error) {
	loop, err := NewLoop(target, m.deps, m.cfg)
	if err != nil {
		return market.SeriesKey{}, err
	}
	key := loop.Key()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.loops[key]; ok {
		return key, nil
	}
	if _, ok := m.pending[key]; ok {
		return key, nil
	}
	if m.ctx == nil {
		m.pending[key] = loop
		return key, nil
	}
	m.launchLocked(loop)
	return key, nil
}

func (m *Manager) launchLocked(loop *Loop) {
	ctx, cancel := context.WithCancel(m.ctx)
	r := &running{loop: loop, cancel: cancel, done: make(chan struct{})}
	m.loops[loop.Key()] = r
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer close(r.done)
		loop.Run(ctx)
	}()
	logger.Infof("live loop started: %s (%s)", loop.Key(), loop.cfg.Cadence)
}

// Stop cancels the key's loop and waits for it. It reports whether a loop
// existed.
func (m *Manager) Stop(key market.SeriesKey) bool {
	m.mu.Lock()
	if _, ok := m.pending[key]; ok {
		delete(m.pending, key)
		m.mu.Unlock()
		return true
	}
	r, ok := m.loops[key]
	if ok {
		delete(m.loops, key)
	}
	m.mu.Unlock()
	if !ok {
		return false
	}
	r.cancel()
	<-r.done
	logger.Infof("live loop stopped: %s", key)
	return true
}

// Sync applies a watchlist snapshot: new targets start, and keys present in
// the previous snapshot but absent from this one stop. Loops started through
// Start alone are left running. Targets that fail to resolve are logged and
// skipped.
func (m *Manager) Sync(targets []Target) {
	m.syncMu.Lock()
	defer m.syncMu.Unlock()

	want := make(map[market.SeriesKey]bool, len(targets))
	for _, t := range targets {
		key, err := m.Start(t)
		if err != nil {
			logger.Warnf("watchlist entry %s skipped: %v", t, err)
			continue
		}
		want[key] = true
	}
	for key := range m.watched {
		if !want[key] {
			m.Stop(key)
		}
	}
	m.watched = want
}

func (m *Manager) Keys() []market.SeriesKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]market.SeriesKey, 0, len(m.loops)+len(m.pending))
	for k := range m.loops {
		out = append(out, k)
	}
	for k := range m.pending {
		out = append(out, k)
	}
	return out
}

func (m *Manager) Status() []Status {
	m.mu.Lock()
	out := make([]Status, 0, len(m.loops)+len(m.pending))
	for _, r := range m.loops {
		out = append(out, r.loop.Status())
	}
	for _, l := range m.pending {
		out = append(out, l.Status())
	}
	m.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Key.String() < out[j].Key.String() })
	return out
}

// Run starts pending loops and blocks until ctx ends, then stops every loop.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	m.ctx = ctx
	for key, loop := range m.pending {
		delete(m.pending, key)
		m.launchLocked(loop)
	}
	m.mu.Unlock()

	<-ctx.Done()
	m.mu.Lock()
	for key, r := range m.loops {
		r.cancel()
		delete(m.loops, key)
	}
	m.mu.Unlock()
	m.wg.Wait()
	logger.Infof("live manager stopped")
	return nil
}
