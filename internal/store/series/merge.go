package series

import (
	"sort"
	"time"

	"candlefeed/internal/market"
)

// MergeResult summarizes one merge into a persisted series.
type MergeResult struct {
	Added    int `json:"added"`
	Replaced int `json:"replaced"`
	Total    int `json:"total"`
	// Changed holds new or revised candles, ascending. Re-fetched bars that
	// are identical to the stored ones are not included.
	Changed []market.Candle `json:"-"`
}

func (r MergeResult) Empty() bool { return len(r.Changed) == 0 }

// Since keeps only the changed candles at or after t. Counts are untouched.
func (r MergeResult) Since(t time.Time) MergeResult {
	i := sort.Search(len(r.Changed), func(i int) bool { return !r.Changed[i].Timestamp.Before(t) })
	r.Changed = r.Changed[i:]
	return r
}

// Merge combines existing and incoming into one ascending series with unique
// timestamps. For a shared timestamp the incoming value wins, and within
// incoming the later element wins.
func Merge(existing, incoming []market.Candle) []market.Candle {
	out, _ := merge(existing, incoming)
	return out
}

func merge(existing, incoming []market.Candle) ([]market.Candle, MergeResult) {
	stored := dedupe(existing)
	fresh := dedupe(incoming)

	merged := make(map[int64]market.Candle, len(stored)+len(fresh))
	for k, c := range stored {
		merged[k] = c
	}
	var res MergeResult
	for k, c := range fresh {
		prior, ok := stored[k]
		switch {
		case !ok:
			res.Added++
			res.Changed = append(res.Changed, c)
		case !same(prior, c):
			res.Replaced++
			res.Changed = append(res.Changed, c)
		}
		merged[k] = c
	}
	out := make([]market.Candle, 0, len(merged))
	for _, c := range merged {
		out = append(out, c)
	}
	sortAscending(out)
	sortAscending(res.Changed)
	res.Total = len(out)
	return out, res
}

// dedupe indexes candles by timestamp, keeping the last occurrence.
func dedupe(in []market.Candle) map[int64]market.Candle {
	out := make(map[int64]market.Candle, len(in))
	for _, c := range in {
		out[c.Timestamp.UnixNano()] = c
	}
	return out
}

func sortAscending(cs []market.Candle) {
	sort.Slice(cs, func(i, j int) bool { return cs[i].Timestamp.Before(cs[j].Timestamp) })
}

func same(a, b market.Candle) bool {
	if a.Open != b.Open || a.High != b.High || a.Low != b.Low || a.Close != b.Close ||
		a.Volume != b.Volume || a.Color != b.Color || a.Symbol != b.Symbol {
		return false
	}
	switch {
	case a.PrevClose == nil && b.PrevClose == nil:
		return true
	case a.PrevClose == nil || b.PrevClose == nil:
		return false
	default:
		return *a.PrevClose == *b.PrevClose
	}
}
