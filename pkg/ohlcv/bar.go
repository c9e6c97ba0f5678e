// Package ohlcv turns tick streams into session-aligned OHLCV bars and
// derives higher timeframes from them.
package ohlcv

import "time"

// Tick is a single trade observation delivered by a feed. Volume is a delta
// relative to the previous tick, never a cumulative counter; feeds that only
// expose running totals must difference them before calling in.
type Tick struct {
	Symbol string
	Price  float64
	Volume int64
	Time   time.Time
}

// Bar is one completed OHLCV bar. End is the exclusive upper bound of the
// bar's window, expressed in the session timezone and aligned to a boundary
// for the bar's timeframe.
type Bar struct {
	Symbol    string
	Timeframe Timeframe
	End       time.Time
	Open      float64
	High      float64
	Low       float64
	Close     float64
	Volume    int64
}
