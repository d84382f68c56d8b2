// Package series persists one ascending candle series per key and merges
// fresh fetches into it.
package series

import (
	"context"
	"sort"
	"sync"

	"candlefeed/internal/market"
)

// Store loads and replaces whole series.
type Store interface {
	Load(ctx context.Context, key market.SeriesKey) ([]market.Candle, error)
	Save(ctx context.Context, key market.SeriesKey, candles []market.Candle) error
	Keys(ctx context.Context) ([]market.SeriesKey, error)
}

// Tail returns the last n candles of s, or all of them when n <= 0.
func Tail(s []market.Candle, n int) []market.Candle {
	if n <= 0 || n >= len(s) {
		return s
	}
	return s[len(s)-n:]
}

// MemoryStore keeps series in sharded maps.
type MemoryStore struct {
	shards []memoryShard
}

type memoryShard struct {
	mu   sync.RWMutex
	data map[market.SeriesKey][]market.Candle
}

const defaultShardCount = 32

func NewMemoryStore() *MemoryStore {
	return newMemoryStore(defaultShardCount)
}

func newMemoryStore(shards int) *MemoryStore {
	if shards <= 0 {
		shards = 1
	}
	out := &MemoryStore{shards: make([]memoryShard, shards)}
	for i := range out.shards {
		out.shards[i] = memoryShard{data: make(map[market.SeriesKey][]market.Candle)}
	}
	return out
}

func (s *MemoryStore) shardFor(key market.SeriesKey) *memoryShard {
	return &s.shards[hashKey(key.String())%uint32(len(s.shards))]
}

func (s *MemoryStore) Load(_ context.Context, key market.SeriesKey) ([]market.Candle, error) {
	sh := s.shardFor(key)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	cur := sh.data[key]
	out := make([]market.Candle, len(cur))
	copy(out, cur)
	return out, nil
}

func (s *MemoryStore) Save(_ context.Context, key market.SeriesKey, candles []market.Candle) error {
	if key.IsZero() {
		return &market.PersistenceError{Key: key, Op: "save", Err: errEmptyKey}
	}
	dst := make([]market.Candle, len(candles))
	copy(dst, candles)
	sh := s.shardFor(key)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	sh.data[key] = dst
	return nil
}

func (s *MemoryStore) Keys(_ context.Context) ([]market.SeriesKey, error) {
	var out []market.SeriesKey
	for i := range s.shards {
		sh := &s.shards[i]
		sh.mu.RLock()
		for k := range sh.data {
			out = append(out, k)
		}
		sh.mu.RUnlock()
	}
	sortKeys(out)
	return out, nil
}

func sortKeys(keys []market.SeriesKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}

// hashKey is 32-bit FNV-1a.
func hashKey(s string) uint32 {
	const (
		offset32 = 2166136261
		prime32  = 16777619
	)
	var h uint32 = offset32
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= prime32
	}
	return h
}
