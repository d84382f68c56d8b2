// Package scheduler times live ticks and runs the periodic series export.
package scheduler

import (
	"context"
	"time"
)

// NextAligned returns the first bar close strictly after now, plus offset.
func NextAligned(now time.Time, interval, offset time.Duration) time.Time {
	now = now.UTC()
	if interval <= 0 {
		return now.Add(offset)
	}
	if offset < 0 {
		offset = 0
	}
	nextClose := now.Truncate(interval).Add(interval)
	wakeAt := nextClose.Add(offset)
	// Still inside the offset window of the close that just passed.
	if prev := nextClose.Add(-interval).Add(offset); prev.After(now) {
		return prev
	}
	return wakeAt
}

// Cadence spaces live ticks. With Align set, ticks land Offset after each
// bar close of Align; otherwise they are Poll apart.
type Cadence struct {
	Poll   time.Duration
	Align  time.Duration
	Offset time.Duration
}

func (c Cadence) Next(now time.Time) time.Time {
	if c.Align > 0 {
		return NextAligned(now, c.Align, c.Offset)
	}
	poll := c.Poll
	if poll <= 0 {
		poll = time.Minute
	}
	return now.Add(poll)
}

func (c Cadence) String() string {
	if c.Align > 0 {
		return "aligned:" + c.Align.String() + "+" + c.Offset.String()
	}
	return "every:" + c.Poll.String()
}

// SleepUntil blocks until t or until ctx ends. It reports false on
// cancellation.
func SleepUntil(ctx context.Context, t time.Time, now time.Time) bool {
	wait := t.Sub(now)
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
