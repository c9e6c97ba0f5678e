package ohlcv

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fiveMinBar(c *Clock, hour, minute int, o, h, l, cl float64, v int64) Bar {
	return Bar{
		Symbol:    "NIFTY",
		Timeframe: Timeframe5m,
		End:       at(c, hour, minute),
		Open:      o,
		High:      h,
		Low:       l,
		Close:     cl,
		Volume:    v,
	}
}

func TestDeriveFifteenMinuteFromFive(t *testing.T) {
	clock := newTestClock(t)
	deriver, err := NewDeriver(Timeframe5m, Timeframe15m)
	require.NoError(t, err)
	assert.Equal(t, 3, deriver.GroupSize())

	bars := []Bar{
		fiveMinBar(clock, 9, 20, 100, 110, 95, 105, 10),
		fiveMinBar(clock, 9, 25, 105, 108, 104, 107, 12),
		fiveMinBar(clock, 9, 30, 107, 113, 106, 112, 20),
	}

	derived := deriver.Derive(bars)
	require.Len(t, derived, 1)

	got := derived[0]
	assert.Equal(t, Timeframe15m, got.Timeframe)
	assert.Equal(t, at(clock, 9, 30), got.End, "derived end is the last base bar's end")
	assert.Equal(t, 100.0, got.Open)
	assert.Equal(t, 113.0, got.High)
	assert.Equal(t, 95.0, got.Low)
	assert.Equal(t, 112.0, got.Close)
	assert.Equal(t, int64(42), got.Volume)
}

func TestDeriveGapResetsBuffer(t *testing.T) {
	clock := newTestClock(t)
	deriver, err := NewDeriver(Timeframe5m, Timeframe15m)
	require.NoError(t, err)

	require.Nil(t, deriver.Push(fiveMinBar(clock, 9, 20, 100, 110, 95, 105, 10)))
	require.Nil(t, deriver.Push(fiveMinBar(clock, 9, 25, 105, 108, 104, 107, 12)))

	// 09:30 is missing: the partial run is discarded, nothing is emitted.
	require.Nil(t, deriver.Push(fiveMinBar(clock, 9, 35, 107, 113, 106, 112, 20)))
	require.Nil(t, deriver.Push(fiveMinBar(clock, 9, 40, 112, 114, 111, 113, 5)))

	derived := deriver.Push(fiveMinBar(clock, 9, 45, 113, 115, 112, 114, 7))
	require.NotNil(t, derived, "three new contiguous bars complete a group")
	assert.Equal(t, at(clock, 9, 45), derived.End)
	assert.Equal(t, 107.0, derived.Open)
	assert.Equal(t, int64(32), derived.Volume)
}

func TestDeriveTrailingPartialNotEmitted(t *testing.T) {
	clock := newTestClock(t)
	deriver, err := NewDeriver(Timeframe5m, Timeframe15m)
	require.NoError(t, err)

	derived := deriver.Derive([]Bar{
		fiveMinBar(clock, 9, 20, 100, 110, 95, 105, 10),
		fiveMinBar(clock, 9, 25, 105, 108, 104, 107, 12),
	})
	assert.Empty(t, derived, "an incomplete trailing group is never emitted")
}

func TestDeriveRejectsBadTimeframePair(t *testing.T) {
	_, err := NewDeriver(Timeframe15m, Timeframe5m)
	assert.Error(t, err, "target must be larger than base")

	_, err = NewDeriver(Timeframe1d, Timeframe15m)
	assert.Error(t, err, "base must be intraday")
}

func TestDeriveIgnoresWrongTimeframeInput(t *testing.T) {
	clock := newTestClock(t)
	deriver, err := NewDeriver(Timeframe5m, Timeframe15m)
	require.NoError(t, err)

	bar := fiveMinBar(clock, 9, 30, 100, 110, 95, 105, 10)
	bar.Timeframe = Timeframe15m
	assert.Nil(t, deriver.Push(bar), "bars of the wrong base timeframe are ignored")
}

func TestDeriveAlignmentSkipsMidGroupStart(t *testing.T) {
	clock := newTestClock(t)
	deriver, err := NewDeriver(Timeframe5m, Timeframe15m, WithAlignment(clock))
	require.NoError(t, err)

	// Start mid-group: 09:25 and 09:30 belong to the 09:15-09:30 slot, which
	// can no longer be completed. 09:35 opens the next slot.
	require.Nil(t, deriver.Push(fiveMinBar(clock, 9, 25, 105, 108, 104, 107, 12)))
	require.Nil(t, deriver.Push(fiveMinBar(clock, 9, 30, 107, 113, 106, 112, 20)))
	require.Nil(t, deriver.Push(fiveMinBar(clock, 9, 35, 112, 114, 111, 113, 5)))
	require.Nil(t, deriver.Push(fiveMinBar(clock, 9, 40, 113, 116, 112, 115, 6)))

	derived := deriver.Push(fiveMinBar(clock, 9, 45, 115, 118, 114, 117, 7))
	require.NotNil(t, derived)
	assert.Equal(t, at(clock, 9, 45), derived.End, "derived end lands on the session 15m grid")
	assert.Equal(t, 112.0, derived.Open)

	hourly, err := NewDeriver(Timeframe5m, Timeframe1h, WithAlignment(clock))
	require.NoError(t, err)
	assert.True(t, hourly.opensGroup(at(clock, 9, 20)), "first 5m bar of the day opens the first 1h group")
	assert.False(t, hourly.opensGroup(at(clock, 9, 25)))
	assert.True(t, hourly.opensGroup(at(clock, 10, 20)), "1h grid anchors to the session start")
}

func TestDerivePerSymbolBuffers(t *testing.T) {
	clock := newTestClock(t)
	deriver, err := NewDeriver(Timeframe5m, Timeframe15m)
	require.NoError(t, err)

	other := fiveMinBar(clock, 9, 20, 500, 510, 495, 505, 3)
	other.Symbol = "BANKNIFTY"

	require.Nil(t, deriver.Push(fiveMinBar(clock, 9, 20, 100, 110, 95, 105, 10)))
	require.Nil(t, deriver.Push(other))
	require.Nil(t, deriver.Push(fiveMinBar(clock, 9, 25, 105, 108, 104, 107, 12)))

	derived := deriver.Push(fiveMinBar(clock, 9, 30, 107, 113, 106, 112, 20))
	require.NotNil(t, derived, "one symbol completing must not depend on the other")
	assert.Equal(t, "NIFTY", derived.Symbol)
}

func TestDailyDeriver(t *testing.T) {
	clock := newTestClock(t)
	daily := NewDailyDeriver(clock)

	first := daily.Push(fiveMinBar(clock, 9, 20, 100, 110, 95, 105, 10))
	assert.Equal(t, Timeframe1d, first.Timeframe)
	assert.Equal(t, at(clock, 15, 30), first.End, "daily end pins to the session end")
	assert.Equal(t, 100.0, first.Open)

	updated := daily.Push(fiveMinBar(clock, 9, 25, 105, 120, 104, 118, 12))
	assert.Equal(t, 100.0, updated.Open, "open stays the day's first open")
	assert.Equal(t, 120.0, updated.High)
	assert.Equal(t, 95.0, updated.Low)
	assert.Equal(t, 118.0, updated.Close)
	assert.Equal(t, int64(22), updated.Volume)

	nextDay := fiveMinBar(clock, 9, 20, 130, 131, 129, 130, 4)
	nextDay.End = nextDay.End.AddDate(0, 0, 1)
	rolled := daily.Push(nextDay)
	assert.Equal(t, 130.0, rolled.Open, "a new calendar day starts a fresh aggregate")
	assert.Equal(t, at(clock, 15, 30).AddDate(0, 0, 1), rolled.End)
}

func TestDeriveDailyBatch(t *testing.T) {
	clock := newTestClock(t)

	bars := []Bar{
		fiveMinBar(clock, 9, 20, 100, 110, 95, 105, 10),
		fiveMinBar(clock, 9, 25, 105, 120, 104, 118, 12),
		fiveMinBar(clock, 9, 30, 118, 119, 110, 111, 20),
	}
	out := DeriveDaily(clock, bars)
	require.Len(t, out, 1)
	assert.Equal(t, 100.0, out[0].Open)
	assert.Equal(t, 120.0, out[0].High)
	assert.Equal(t, 95.0, out[0].Low)
	assert.Equal(t, 111.0, out[0].Close)
	assert.Equal(t, int64(42), out[0].Volume)
	assert.Equal(t, at(clock, 15, 30), out[0].End)
}

func TestDeriverReset(t *testing.T) {
	clock := newTestClock(t)
	deriver, err := NewDeriver(Timeframe5m, Timeframe15m)
	require.NoError(t, err)

	require.Nil(t, deriver.Push(fiveMinBar(clock, 9, 20, 100, 110, 95, 105, 10)))
	require.Nil(t, deriver.Push(fiveMinBar(clock, 9, 25, 105, 108, 104, 107, 12)))
	deriver.Reset()

	assert.Nil(t, deriver.Push(fiveMinBar(clock, 9, 30, 107, 113, 106, 112, 20)),
		"reset discards the partial buffer")
}
