package ohlcv

import (
	"fmt"
	"sort"
	"time"
)

// Deriver rolls a contiguous run of base-timeframe bars into one bar of a
// higher timeframe (e.g. 3x5m -> 15m). A gap in the run discards the partial
// buffer: a derived bar is never emitted from a broken run, and a trailing
// partial buffer is never emitted at all.
type Deriver struct {
	base      Timeframe
	target    Timeframe
	groupSize int
	clock     *Clock
	buffers   map[string][]Bar
}

// DeriverOption customises Deriver construction.
type DeriverOption func(*Deriver)

// WithAlignment makes the deriver start a group only on a bar that opens a
// target-timeframe slot on the session grid, so derived ends always land on
// valid boundaries even when the process starts mid-session.
func WithAlignment(clock *Clock) DeriverOption {
	return func(d *Deriver) {
		d.clock = clock
	}
}

// NewDeriver builds a deriver from base to target timeframe. The target must
// be an exact multiple of the base.
func NewDeriver(base, target Timeframe, opts ...DeriverOption) (*Deriver, error) {
	if !base.Intraday() {
		return nil, fmt.Errorf("ohlcv: base timeframe %s must be intraday", base)
	}
	if target.Minutes() <= base.Minutes() || target.Minutes()%base.Minutes() != 0 {
		return nil, fmt.Errorf("ohlcv: cannot derive %s from %s", target, base)
	}
	d := &Deriver{
		base:      base,
		target:    target,
		groupSize: target.Minutes() / base.Minutes(),
		buffers:   make(map[string][]Bar),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d, nil
}

// GroupSize returns the number of base bars per derived bar.
func (d *Deriver) GroupSize() int {
	return d.groupSize
}

// Push feeds one completed base bar in ascending-end order and returns the
// derived bar when the group completes, or nil.
func (d *Deriver) Push(bar Bar) *Bar {
	if bar.Timeframe != d.base {
		return nil
	}

	buf := d.buffers[bar.Symbol]
	if len(buf) > 0 && !bar.End.Equal(buf[len(buf)-1].End.Add(d.base.Duration())) {
		// Gap detected; the partial group can never be completed honestly.
		buf = buf[:0]
	}
	if len(buf) == 0 && !d.opensGroup(bar.End) {
		d.buffers[bar.Symbol] = buf
		return nil
	}
	buf = append(buf, bar)

	if len(buf) < d.groupSize {
		d.buffers[bar.Symbol] = buf
		return nil
	}

	derived := combine(buf, d.target)
	d.buffers[bar.Symbol] = buf[:0]
	return &derived
}

// opensGroup reports whether a base bar ending at end is the first slot of a
// target-timeframe group on the session grid.
func (d *Deriver) opensGroup(end time.Time) bool {
	if d.clock == nil {
		return true
	}
	start, _ := d.clock.SessionBounds(end)
	minutes := int(end.In(d.clock.Location()).Sub(start) / time.Minute)
	return minutes%d.target.Minutes() == d.base.Minutes()
}

// Derive is the batch form of Push for replay and backfill paths.
func (d *Deriver) Derive(bars []Bar) []Bar {
	var out []Bar
	for _, bar := range bars {
		if derived := d.Push(bar); derived != nil {
			out = append(out, *derived)
		}
	}
	return out
}

func combine(group []Bar, tf Timeframe) Bar {
	first, last := group[0], group[len(group)-1]
	out := Bar{
		Symbol:    last.Symbol,
		Timeframe: tf,
		End:       last.End,
		Open:      first.Open,
		High:      first.High,
		Low:       first.Low,
		Close:     last.Close,
	}
	for _, b := range group {
		if b.High > out.High {
			out.High = b.High
		}
		if b.Low < out.Low {
			out.Low = b.Low
		}
		out.Volume += b.Volume
	}
	return out
}

// DailyDeriver accumulates intraday bars into one daily bar per
// (symbol, calendar day). Unlike the fixed-count deriver it re-emits the
// running daily bar on every push; paired with upsert persistence the stored
// row converges to the full-day aggregate.
type DailyDeriver struct {
	clock *Clock
	state map[string]*Bar // keyed symbol|yyyy-mm-dd
}

// NewDailyDeriver builds a daily deriver bound to the session clock; the
// daily bar end is pinned to the session end of its day.
func NewDailyDeriver(clock *Clock) *DailyDeriver {
	return &DailyDeriver{clock: clock, state: make(map[string]*Bar)}
}

// Push folds one intraday bar into its day's aggregate and returns the
// updated daily bar.
func (d *DailyDeriver) Push(bar Bar) Bar {
	local := bar.End.In(d.clock.Location())
	key := bar.Symbol + "|" + local.Format("2006-01-02")

	agg := d.state[key]
	if agg == nil {
		_, end := d.clock.SessionBounds(local)
		agg = &Bar{
			Symbol:    bar.Symbol,
			Timeframe: Timeframe1d,
			End:       end,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
		}
		d.state[key] = agg
		return *agg
	}

	if bar.High > agg.High {
		agg.High = bar.High
	}
	if bar.Low < agg.Low {
		agg.Low = bar.Low
	}
	agg.Close = bar.Close
	agg.Volume += bar.Volume
	return *agg
}

// DeriveDaily aggregates a batch of intraday bars into daily bars, one per
// (symbol, day), sorted by symbol then end.
func DeriveDaily(clock *Clock, bars []Bar) []Bar {
	d := NewDailyDeriver(clock)
	seen := make(map[string]Bar)
	for _, bar := range bars {
		daily := d.Push(bar)
		seen[daily.Symbol+"|"+daily.End.Format("2006-01-02")] = daily
	}
	out := make([]Bar, 0, len(seen))
	for _, bar := range seen {
		out = append(out, bar)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].End.Before(out[j].End)
	})
	return out
}

// Reset clears all partial buffers, e.g. at session rollover.
func (d *Deriver) Reset() {
	d.buffers = make(map[string][]Bar)
}

// Reset drops accumulated day state, typically after the session closes.
func (d *DailyDeriver) Reset() {
	d.state = make(map[string]*Bar)
}
