package backfill

import (
	"time"

	"candlefeed/internal/market"
)

// Split cuts w into consecutive [start, end) pieces no wider than span. The
// last piece may be shorter.
func Split(w market.FetchWindow, span time.Duration) []market.FetchWindow {
	if w.Empty() {
		return nil
	}
	if span <= 0 {
		return []market.FetchWindow{w}
	}
	out := make([]market.FetchWindow, 0, int(w.Duration()/span)+1)
	for cursor := w.Start; cursor.Before(w.End); {
		next := cursor.Add(span)
		if next.After(w.End) {
			next = w.End
		}
		out = append(out, market.FetchWindow{Start: cursor, End: next})
		cursor = next
	}
	return out
}

// Plan is a resolved request: the provider, native spellings and the ordered
// sub-windows one fetch will walk.
type Plan struct {
	Key      market.SeriesKey
	Provider market.CandleProvider
	Symbol   string
	Interval market.Interval
	Window   market.FetchWindow
	Windows  []market.FetchWindow
}

// From returns a copy of the plan that resumes at the first sub-window
// starting at or after ts. Any boundary of the original plan is a valid
// resume point.
func (p *Plan) From(ts time.Time) *Plan {
	out := *p
	out.Windows = nil
	for _, w := range p.Windows {
		if !w.Start.Before(ts) {
			out.Windows = append(out.Windows, w)
		}
	}
	if len(out.Windows) > 0 {
		out.Window.Start = out.Windows[0].Start
	} else {
		out.Window.Start = out.Window.End
	}
	return &out
}
