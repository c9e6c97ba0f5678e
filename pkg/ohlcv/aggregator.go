package ohlcv

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
)

// barState is the open bar for one symbol. Invariant: low <= open, close <= high.
type barState struct {
	end    time.Time
	open   float64
	high   float64
	low    float64
	close  float64
	volume int64
}

// Aggregator consumes ticks for a fixed symbol set and emits completed bars
// on demand. It owns all per-symbol state; OnTick and FlushDue serialize on
// one mutex, so the tick-delivery goroutine and the flush job can call in
// concurrently without coordination.
type Aggregator struct {
	mu      sync.Mutex
	clock   *Clock
	tf      Timeframe
	symbols map[string]struct{}
	state   map[string]*barState
	pending []Bar
}

// NewAggregator builds an aggregator for the given intraday base timeframe
// and symbol universe. Ticks for symbols outside the universe are dropped.
func NewAggregator(clock *Clock, tf Timeframe, symbols []string) *Aggregator {
	set := make(map[string]struct{}, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return &Aggregator{
		clock:   clock,
		tf:      tf,
		symbols: set,
		state:   make(map[string]*barState, len(symbols)),
	}
}

// OnTick folds one tick into the open bar for its symbol, creating the bar
// lazily when none is open. A tick at or past the open bar's end closes that
// bar into the pending queue first, so a tick exactly on a boundary always
// lands in the next bar. Non-positive or non-finite prices and unknown
// symbols are dropped without error; negative volume deltas count as zero.
func (a *Aggregator) OnTick(symbol string, price float64, volume int64, ts time.Time) {
	if price <= 0 || math.IsNaN(price) || math.IsInf(price, 0) {
		logx.Debugf("ohlcv: dropping tick symbol=%s price=%v", symbol, price)
		return
	}
	if _, ok := a.symbols[symbol]; !ok {
		logx.Debugf("ohlcv: dropping tick for unknown symbol %s", symbol)
		return
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	st := a.state[symbol]
	for st != nil && !ts.Before(st.end) {
		a.pending = append(a.pending, snapshotBar(symbol, a.tf, st))
		if a.clock.SessionEnd(st.end) {
			st = nil
			break
		}
		next := a.clock.AdvanceBoundary(st.end, a.tf)
		if ts.Before(next) {
			// The tick belongs to the bar ending at next; seed from the
			// tick below rather than carrying the previous close.
			st = nil
			break
		}
		st = &barState{end: next, open: st.close, high: st.close, low: st.close, close: st.close}
	}
	if st == nil {
		st = &barState{
			end:   a.clock.NextBoundary(ts, a.tf),
			open:  price,
			high:  price,
			low:   price,
			close: price,
		}
	}
	a.state[symbol] = st

	if price > st.high {
		st.high = price
	}
	if price < st.low {
		st.low = price
	}
	st.close = price
	if volume > 0 {
		st.volume += volume
	}
}

func snapshotBar(symbol string, tf Timeframe, st *barState) Bar {
	return Bar{
		Symbol:    symbol,
		Timeframe: tf,
		End:       st.end,
		Open:      st.open,
		High:      st.high,
		Low:       st.low,
		Close:     st.close,
		Volume:    st.volume,
	}
}

// FlushDue emits every bar already closed by a boundary tick plus every open
// bar whose end is at or before now. When the flusher has been delayed across
// several boundaries the gap is backfilled with flat carry-forward bars
// (O=H=L=C=previous close, V=0) so downstream consumers always see a
// contiguous run. State whose bar ends at the session close is cleared
// instead of rolled; the next session starts from a fresh tick. Calling again
// with the same now emits nothing.
func (a *Aggregator) FlushDue(now time.Time) []Bar {
	a.mu.Lock()
	defer a.mu.Unlock()

	completed := a.pending
	a.pending = nil
	for symbol, st := range a.state {
		for st != nil && !now.Before(st.end) {
			completed = append(completed, snapshotBar(symbol, a.tf, st))

			if a.clock.SessionEnd(st.end) {
				st = nil
			} else {
				st = &barState{
					end:   a.clock.AdvanceBoundary(st.end, a.tf),
					open:  st.close,
					high:  st.close,
					low:   st.close,
					close: st.close,
				}
			}
			a.state[symbol] = st
		}
		if st == nil {
			delete(a.state, symbol)
		}
	}

	sort.Slice(completed, func(i, j int) bool {
		if completed[i].Symbol != completed[j].Symbol {
			return completed[i].Symbol < completed[j].Symbol
		}
		return completed[i].End.Before(completed[j].End)
	})
	return completed
}

// OpenBars reports how many symbols currently hold an open bar. Used by the
// daemon for shutdown logging.
func (a *Aggregator) OpenBars() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.state)
}
