package ohlcv

import (
	"fmt"
	"time"
)

// Timeframe identifies the fixed duration of one bar.
type Timeframe string

const (
	Timeframe5m  Timeframe = "5m"
	Timeframe15m Timeframe = "15m"
	Timeframe1h  Timeframe = "1h"
	Timeframe1d  Timeframe = "1d"
)

var timeframeMinutes = map[Timeframe]int{
	Timeframe5m:  5,
	Timeframe15m: 15,
	Timeframe1h:  60,
	Timeframe1d:  24 * 60,
}

// ParseTimeframe validates a timeframe label from configuration.
func ParseTimeframe(s string) (Timeframe, error) {
	tf := Timeframe(s)
	if _, ok := timeframeMinutes[tf]; !ok {
		return "", fmt.Errorf("ohlcv: unsupported timeframe %q", s)
	}
	return tf, nil
}

// String returns the timeframe label, e.g. "5m". Implements fmt.Stringer so
// timeframes format cleanly in keys, SQL parameters and log lines.
func (tf Timeframe) String() string {
	return string(tf)
}

// Minutes returns the timeframe length in minutes.
func (tf Timeframe) Minutes() int {
	return timeframeMinutes[tf]
}

// Duration returns the timeframe length as a time.Duration.
func (tf Timeframe) Duration() time.Duration {
	return time.Duration(tf.Minutes()) * time.Minute
}

// Intraday reports whether bars of this timeframe close inside the session.
func (tf Timeframe) Intraday() bool {
	return tf != Timeframe1d && tf != ""
}

// Valid reports whether the timeframe is one of the supported labels.
func (tf Timeframe) Valid() bool {
	_, ok := timeframeMinutes[tf]
	return ok
}
