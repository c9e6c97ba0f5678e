package ohlcv

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Clock answers session-window and bar-boundary questions for a fixed local
// trading session (e.g. 09:15-15:30 in Asia/Kolkata). All methods are pure
// functions of their inputs and the session configuration, so a single Clock
// is safe to share across goroutines.
type Clock struct {
	loc      *time.Location
	openMin  int // minutes after midnight
	closeMin int
}

// NewClock builds a Clock for the given timezone name and "HH:MM" session
// bounds. Invalid configuration is a startup error, not a runtime one.
func NewClock(tz, open, close string) (*Clock, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("ohlcv: load timezone %q: %w", tz, err)
	}
	openMin, err := parseClockTime(open)
	if err != nil {
		return nil, fmt.Errorf("ohlcv: session open: %w", err)
	}
	closeMin, err := parseClockTime(close)
	if err != nil {
		return nil, fmt.Errorf("ohlcv: session close: %w", err)
	}
	if closeMin <= openMin {
		return nil, fmt.Errorf("ohlcv: session close %s must be after open %s", close, open)
	}
	return &Clock{loc: loc, openMin: openMin, closeMin: closeMin}, nil
}

func parseClockTime(s string) (int, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	hour, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	minute, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time %q out of range", s)
	}
	return hour*60 + minute, nil
}

// Location returns the session timezone.
func (c *Clock) Location() *time.Location {
	return c.loc
}

// Now returns the current wall-clock time in the session timezone.
func (c *Clock) Now() time.Time {
	return time.Now().In(c.loc)
}

// SessionBounds returns the session start and end for the calendar day of ts.
func (c *Clock) SessionBounds(ts time.Time) (time.Time, time.Time) {
	local := ts.In(c.loc)
	year, month, day := local.Date()
	midnight := time.Date(year, month, day, 0, 0, 0, 0, c.loc)
	start := midnight.Add(time.Duration(c.openMin) * time.Minute)
	end := midnight.Add(time.Duration(c.closeMin) * time.Minute)
	return start, end
}

// IsWithinSession reports whether ts lies inside the trading session,
// inclusive of both bounds.
func (c *Clock) IsWithinSession(ts time.Time) bool {
	start, end := c.SessionBounds(ts)
	local := ts.In(c.loc)
	return !local.Before(start) && !local.After(end)
}

// NextBoundary returns the smallest bar-end timestamp strictly greater than
// after. Bar ends are start + k*timeframe for k >= 1; a timestamp exactly on
// a boundary therefore maps to the boundary one timeframe later, which makes
// boundary ticks belong to the next bar.
func (c *Clock) NextBoundary(after time.Time, tf Timeframe) time.Time {
	local := after.In(c.loc)
	start, end := c.SessionBounds(local)

	if tf == Timeframe1d {
		if local.Before(end) {
			return end
		}
		_, nextEnd := c.SessionBounds(start.AddDate(0, 0, 1))
		return nextEnd
	}

	interval := tf.Duration()
	if !local.Before(end) {
		nextStart, _ := c.SessionBounds(start.AddDate(0, 0, 1))
		return nextStart.Add(interval)
	}
	if !local.After(start) {
		return start.Add(interval)
	}

	minutes := int(local.Sub(start) / time.Minute)
	next := (minutes/tf.Minutes() + 1) * tf.Minutes()
	candidate := start.Add(time.Duration(next) * time.Minute)
	if !candidate.After(local) {
		candidate = candidate.Add(interval)
	}
	return candidate
}

// AdvanceBoundary returns the bar end that follows prevEnd, rolling into the
// next session day when prevEnd + timeframe would exceed the session end.
func (c *Clock) AdvanceBoundary(prevEnd time.Time, tf Timeframe) time.Time {
	local := prevEnd.In(c.loc)
	start, end := c.SessionBounds(local)

	if tf == Timeframe1d {
		_, nextEnd := c.SessionBounds(start.AddDate(0, 0, 1))
		return nextEnd
	}

	candidate := local.Add(tf.Duration())
	if candidate.After(end) {
		nextStart, _ := c.SessionBounds(start.AddDate(0, 0, 1))
		return nextStart.Add(tf.Duration())
	}
	return candidate
}

// FloorBoundary floors ts to the most recent completed bar end for tf. Used
// by backfill to decide which historical bars are already closed.
func (c *Clock) FloorBoundary(ts time.Time, tf Timeframe) time.Time {
	local := ts.In(c.loc)
	start, end := c.SessionBounds(local)

	if tf == Timeframe1d {
		if !local.Before(start) {
			return end
		}
		_, prevEnd := c.SessionBounds(start.AddDate(0, 0, -1))
		return prevEnd
	}

	if local.Before(start) {
		_, prevEnd := c.SessionBounds(start.AddDate(0, 0, -1))
		return prevEnd
	}
	if !local.Before(end) {
		return end
	}
	minutes := int(local.Sub(start) / time.Minute)
	floored := (minutes / tf.Minutes()) * tf.Minutes()
	return start.Add(time.Duration(floored) * time.Minute)
}

// IsBoundary reports whether ts is a valid bar-end boundary for tf.
func (c *Clock) IsBoundary(ts time.Time, tf Timeframe) bool {
	local := ts.In(c.loc)
	if local.Second() != 0 || local.Nanosecond() != 0 {
		return false
	}
	start, end := c.SessionBounds(local)

	if tf == Timeframe1d {
		return local.Equal(end)
	}

	if !local.After(start) || local.After(end) {
		return false
	}
	minutes := int(local.Sub(start) / time.Minute)
	return minutes%tf.Minutes() == 0
}

// SessionEnd reports whether ts is at or past the session end of its day.
func (c *Clock) SessionEnd(ts time.Time) bool {
	_, end := c.SessionBounds(ts)
	return !ts.In(c.loc).Before(end)
}
