// Package loader hot-reloads the live watchlist file.
package loader

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"candlefeed/internal/logger"
	"candlefeed/internal/market"
	"candlefeed/internal/pkg/symbol"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

// WatchEntry is one line of the watchlist file. Symbols and Symbol are merged.
type WatchEntry struct {
	Symbol   string   `yaml:"symbol"`
	Symbols  []string `yaml:"symbols"`
	Source   string   `yaml:"source"`
	Interval string   `yaml:"interval"`
}

// FileConfig is the watchlist file layout.
type FileConfig struct {
	Watchlist []WatchEntry `yaml:"watchlist"`
}

// Target is a normalized (provider-native symbol, provider, interval) triple.
type Target struct {
	Symbol   string
	Provider string
	Interval string
}

// WatchlistSnapshot is an immutable view of the parsed watchlist.
type WatchlistSnapshot struct {
	Version  int64
	LoadedAt time.Time
	Targets  []Target
}

type ChangeListener func(WatchlistSnapshot)

// WatchlistLoader parses the watchlist file and re-parses it on change.
type WatchlistLoader struct {
	path string

	mu        sync.RWMutex
	snapshot  WatchlistSnapshot
	listeners []ChangeListener
}

// NewWatchlistLoader reads path once. A missing file yields an empty snapshot.
func NewWatchlistLoader(path string) (*WatchlistLoader, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("watchlist loader requires path")
	}
	l := &WatchlistLoader{path: filepath.Clean(path)}
	if err := l.reload(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *WatchlistLoader) Path() string { return l.path }

func (l *WatchlistLoader) Snapshot() WatchlistSnapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return cloneSnapshot(l.snapshot)
}

// Subscribe registers fn and immediately hands it the current snapshot.
func (l *WatchlistLoader) Subscribe(fn ChangeListener) {
	if fn == nil {
		return
	}
	l.mu.Lock()
	l.listeners = append(l.listeners, fn)
	snap := cloneSnapshot(l.snapshot)
	l.mu.Unlock()
	safeCall(fn, snap)
}

// Run watches the file's directory until ctx is done. Editors that replace the
// file by rename are handled because the directory, not the inode, is watched.
func (l *WatchlistLoader) Run(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher failed: %w", err)
	}
	defer w.Close()
	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create watchlist dir failed: %w", err)
	}
	if err := w.Add(dir); err != nil {
		return fmt.Errorf("watch %s failed: %w", dir, err)
	}
	for {
		select {
		case <-ctx.Done():
			return nil
		case evt, ok := <-w.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(evt.Name) != l.path {
				continue
			}
			if !evt.Has(fsnotify.Write) && !evt.Has(fsnotify.Create) && !evt.Has(fsnotify.Rename) && !evt.Has(fsnotify.Remove) {
				continue
			}
			if err := l.reload(); err != nil {
				logger.Errorf("watchlist reload failed (%s): %v", evt.Name, err)
				continue
			}
			l.notify()
		case err, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Warnf("watchlist watcher error: %v", err)
		}
	}
}

func (l *WatchlistLoader) notify() {
	l.mu.RLock()
	snap := cloneSnapshot(l.snapshot)
	listeners := append([]ChangeListener(nil), l.listeners...)
	l.mu.RUnlock()
	for _, fn := range listeners {
		safeCall(fn, snap)
	}
}

func safeCall(fn ChangeListener, snap WatchlistSnapshot) {
	defer func() {
		if r := recover(); r != nil {
			logger.Errorf("watchlist listener panic: %v", r)
		}
	}()
	fn(snap)
}

func (l *WatchlistLoader) reload() error {
	targets, err := ReadWatchlist(l.path)
	if err != nil {
		return err
	}
	l.mu.Lock()
	l.snapshot = WatchlistSnapshot{
		Version:  l.snapshot.Version + 1,
		LoadedAt: time.Now(),
		Targets:  targets,
	}
	l.mu.Unlock()
	logger.Infof("watchlist loaded %d targets from %s", len(targets), filepath.Base(l.path))
	return nil
}

// ReadWatchlist parses path. Invalid entries are skipped with a warning so one
// typo does not stop every other loop.
func ReadWatchlist(path string) ([]Target, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read watchlist failed: %w", err)
	}
	var fileCfg FileConfig
	if err := yaml.Unmarshal(raw, &fileCfg); err != nil {
		return nil, fmt.Errorf("parse watchlist failed: %w", err)
	}
	return normalizeEntries(fileCfg.Watchlist), nil
}

func normalizeEntries(entries []WatchEntry) []Target {
	var out []Target
	seen := make(map[Target]bool)
	for i, e := range entries {
		provider := strings.ToLower(strings.TrimSpace(e.Source))
		iv, err := market.ParseInterval(e.Interval)
		if err != nil {
			logger.Warnf("watchlist entry %d skipped: %v", i, err)
			continue
		}
		syms := e.Symbols
		if strings.TrimSpace(e.Symbol) != "" {
			syms = append([]string{e.Symbol}, syms...)
		}
		native, err := symbol.NormalizeList(syms, provider)
		if err != nil {
			logger.Warnf("watchlist entry %d skipped: %v", i, err)
			continue
		}
		for _, s := range native {
			t := Target{Symbol: s, Provider: provider, Interval: iv.Key}
			if seen[t] {
				continue
			}
			seen[t] = true
			out = append(out, t)
		}
	}
	return out
}

func cloneSnapshot(s WatchlistSnapshot) WatchlistSnapshot {
	out := s
	out.Targets = append([]Target(nil), s.Targets...)
	return out
}
