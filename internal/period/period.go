// Package period parses look-back strings such as "7d", "1mo", "1y", "2024"
// and "2024-2025" into concrete half-open ranges.
package period

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"candlefeed/internal/market"
)

const Default = "7d"

// Range is the half-open interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Window() market.FetchWindow {
	return market.FetchWindow{Start: r.Start, End: r.End}
}

// Parse resolves s relative to now. Relative forms end at now; calendar years
// span Jan 1 of the first year to Jan 1 after the last, capped at now.
func Parse(s string, now time.Time) (Range, error) {
	raw := s
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		s = Default
	}
	now = now.UTC()

	if from, to, ok := yearSpan(s); ok {
		if to < from {
			return Range{}, market.NewConfigurationError("period", raw, "year range is reversed")
		}
		start := time.Date(from, time.January, 1, 0, 0, 0, 0, time.UTC)
		end := time.Date(to+1, time.January, 1, 0, 0, 0, 0, time.UTC)
		if end.After(now) {
			end = now
		}
		if !start.Before(end) {
			return Range{}, market.NewConfigurationError("period", raw, "period starts in the future")
		}
		return Range{Start: start, End: end}, nil
	}

	n, unit, err := splitCount(s)
	if err != nil {
		return Range{}, market.NewConfigurationError("period", raw, err.Error())
	}
	var start time.Time
	switch unit {
	case "h":
		start = now.Add(-time.Duration(n) * time.Hour)
	case "d":
		start = now.AddDate(0, 0, -n)
	case "w", "wk":
		start = now.AddDate(0, 0, -7*n)
	case "mo":
		start = now.AddDate(0, -n, 0)
	case "y":
		start = now.AddDate(-n, 0, 0)
	default:
		return Range{}, market.NewConfigurationError("period", raw, "unknown unit "+strconv.Quote(unit))
	}
	return Range{Start: start, End: now}, nil
}

// yearSpan matches "YYYY" and "YYYY-YYYY".
func yearSpan(s string) (int, int, bool) {
	parts := strings.Split(s, "-")
	if len(parts) > 2 {
		return 0, 0, false
	}
	years := make([]int, 0, 2)
	for _, p := range parts {
		if len(p) != 4 {
			return 0, 0, false
		}
		y, err := strconv.Atoi(p)
		if err != nil {
			return 0, 0, false
		}
		years = append(years, y)
	}
	if len(years) == 1 {
		return years[0], years[0], true
	}
	return years[0], years[1], true
}

func splitCount(s string) (int, string, error) {
	i := 0
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, "", errors.New("expected <n><h|d|w|mo|y>, YYYY or YYYY-YYYY")
	}
	n, err := strconv.Atoi(s[:i])
	if err != nil || n <= 0 {
		return 0, "", errors.New("count must be positive")
	}
	unit := s[i:]
	if unit == "" {
		return 0, "", errors.New("missing unit")
	}
	return n, unit, nil
}
