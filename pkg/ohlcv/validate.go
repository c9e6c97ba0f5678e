package ohlcv

import (
	"fmt"
	"math"
)

// Validator checks completed bars against the session configuration before
// they reach persistence. Checks run in a fixed order and the first failure
// wins, so callers get a stable, loggable reason per rejected bar.
type Validator struct {
	clock *Clock
}

// NewValidator builds a validator bound to the session clock.
func NewValidator(clock *Clock) *Validator {
	return &Validator{clock: clock}
}

// Validate returns nil for a well-formed bar, otherwise the first failed
// check. A rejected bar should be logged and skipped, never stored.
func (v *Validator) Validate(bar Bar) error {
	if bar.Symbol == "" {
		return fmt.Errorf("ohlcv: bar has empty symbol")
	}
	if !bar.Timeframe.Valid() {
		return fmt.Errorf("ohlcv: %s: invalid timeframe %q", bar.Symbol, bar.Timeframe)
	}
	for _, p := range []struct {
		name  string
		value float64
	}{
		{"open", bar.Open},
		{"high", bar.High},
		{"low", bar.Low},
		{"close", bar.Close},
	} {
		if p.value <= 0 || math.IsNaN(p.value) || math.IsInf(p.value, 0) {
			return fmt.Errorf("ohlcv: %s %s: %s %v out of range", bar.Symbol, bar.Timeframe, p.name, p.value)
		}
	}
	if bar.Low > bar.Open || bar.Low > bar.Close || bar.Low > bar.High {
		return fmt.Errorf("ohlcv: %s %s @ %s: low %v above open/close/high",
			bar.Symbol, bar.Timeframe, bar.End.Format("2006-01-02 15:04"), bar.Low)
	}
	if bar.High < bar.Open || bar.High < bar.Close {
		return fmt.Errorf("ohlcv: %s %s @ %s: high %v below open/close",
			bar.Symbol, bar.Timeframe, bar.End.Format("2006-01-02 15:04"), bar.High)
	}
	if bar.Volume < 0 {
		return fmt.Errorf("ohlcv: %s %s @ %s: negative volume %d",
			bar.Symbol, bar.Timeframe, bar.End.Format("2006-01-02 15:04"), bar.Volume)
	}
	if bar.End.IsZero() {
		return fmt.Errorf("ohlcv: %s %s: zero end timestamp", bar.Symbol, bar.Timeframe)
	}
	if bar.Timeframe.Intraday() && !v.clock.IsWithinSession(bar.End) {
		return fmt.Errorf("ohlcv: %s %s @ %s: end outside session",
			bar.Symbol, bar.Timeframe, bar.End.In(v.clock.Location()).Format("2006-01-02 15:04"))
	}
	if !v.clock.IsBoundary(bar.End, bar.Timeframe) {
		return fmt.Errorf("ohlcv: %s %s @ %s: end not on a %s boundary",
			bar.Symbol, bar.Timeframe, bar.End.In(v.clock.Location()).Format("2006-01-02 15:04:05"), bar.Timeframe)
	}
	return nil
}

// ValidateAll splits bars into accepted and rejected, preserving order.
// Rejections carry the bar index so callers can log the offending input.
func (v *Validator) ValidateAll(bars []Bar) (ok []Bar, rejected []error) {
	for i, bar := range bars {
		if err := v.Validate(bar); err != nil {
			rejected = append(rejected, fmt.Errorf("bar %d: %w", i, err))
			continue
		}
		ok = append(ok, bar)
	}
	return ok, rejected
}

// EnsureSortedUnique verifies a single-symbol, single-timeframe batch is
// strictly increasing by end timestamp. Replay and backfill call this before
// feeding the deriver, which assumes ordered input.
func EnsureSortedUnique(bars []Bar) error {
	if len(bars) < 2 {
		return nil
	}
	symbol, tf := bars[0].Symbol, bars[0].Timeframe
	for i := 1; i < len(bars); i++ {
		if bars[i].Symbol != symbol {
			return fmt.Errorf("ohlcv: mixed symbols in batch: %s and %s", symbol, bars[i].Symbol)
		}
		if bars[i].Timeframe != tf {
			return fmt.Errorf("ohlcv: mixed timeframes in batch: %s and %s", tf, bars[i].Timeframe)
		}
		if !bars[i].End.After(bars[i-1].End) {
			return fmt.Errorf("ohlcv: %s %s: bars not strictly increasing at index %d (%s then %s)",
				symbol, tf, i,
				bars[i-1].End.Format("2006-01-02 15:04"), bars[i].End.Format("2006-01-02 15:04"))
		}
	}
	return nil
}
