package market

import (
	"sort"
	"strconv"
	"strings"
	"time"
)

// Interval is a canonical bar duration such as "1m", "4h" or "1d".
type Interval struct {
	Key      string
	Duration time.Duration
}

func (iv Interval) String() string { return iv.Key }

func (iv Interval) Minutes() int64 { return int64(iv.Duration / time.Minute) }

// Intraday reports whether bars are shorter than a day.
func (iv Interval) Intraday() bool { return iv.Duration < 24*time.Hour }

// AlignDown snaps t to the interval grid in UTC.
func (iv Interval) AlignDown(t time.Time) time.Time {
	if iv.Duration <= 0 {
		return t
	}
	return t.UTC().Truncate(iv.Duration)
}

// ExpectedBars counts grid slots inside the window.
func (iv Interval) ExpectedBars(w FetchWindow) int64 {
	if iv.Duration <= 0 || w.Empty() {
		return 0
	}
	return int64((w.Duration() + iv.Duration - 1) / iv.Duration)
}

var knownIntervals = map[string]struct{}{
	"1m": {}, "2m": {}, "3m": {}, "5m": {}, "15m": {}, "30m": {}, "90m": {},
	"1h": {}, "2h": {}, "4h": {}, "6h": {}, "8h": {}, "12h": {},
	"1d": {}, "3d": {}, "5d": {}, "1w": {},
}

// ParseInterval accepts "15m", "60m", "1h", "1d", "1w" and "1wk" and returns
// the canonical form ("60m" becomes "1h").
func ParseInterval(raw string) (Interval, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if strings.HasSuffix(s, "wk") {
		s = strings.TrimSuffix(s, "k")
	}
	if len(s) < 2 {
		return Interval{}, NewConfigurationError("interval", raw, "expected <n><m|h|d|w>")
	}
	unit := s[len(s)-1]
	n, err := strconv.Atoi(s[:len(s)-1])
	if err != nil || n <= 0 {
		return Interval{}, NewConfigurationError("interval", raw, "expected a positive count")
	}
	var d time.Duration
	switch unit {
	case 'm':
		d = time.Duration(n) * time.Minute
	case 'h':
		d = time.Duration(n) * time.Hour
	case 'd':
		d = time.Duration(n) * 24 * time.Hour
	case 'w':
		d = time.Duration(n) * 7 * 24 * time.Hour
	default:
		return Interval{}, NewConfigurationError("interval", raw, "unknown unit")
	}
	key := canonicalKey(d)
	if _, ok := knownIntervals[key]; !ok {
		return Interval{}, NewConfigurationError("interval", raw, "unsupported interval")
	}
	return Interval{Key: key, Duration: d}, nil
}

func MustInterval(raw string) Interval {
	iv, err := ParseInterval(raw)
	if err != nil {
		panic(err)
	}
	return iv
}

func canonicalKey(d time.Duration) string {
	day := 24 * time.Hour
	switch {
	case d%(7*day) == 0:
		return strconv.FormatInt(int64(d/(7*day)), 10) + "w"
	case d%day == 0:
		return strconv.FormatInt(int64(d/day), 10) + "d"
	case d%time.Hour == 0:
		return strconv.FormatInt(int64(d/time.Hour), 10) + "h"
	default:
		return strconv.FormatInt(int64(d/time.Minute), 10) + "m"
	}
}

func SupportedIntervals() []string {
	keys := make([]string, 0, len(knownIntervals))
	for k := range knownIntervals {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return MustInterval(keys[i]).Duration < MustInterval(keys[j]).Duration
	})
	return keys
}
