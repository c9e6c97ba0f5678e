package ingest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"marketspine/pkg/indicators"
	"marketspine/pkg/market"
	"marketspine/pkg/ohlcv"
)

// ContextJob assembles a compact market-state document for downstream
// consumers and caches it. It runs around the clock so the last session's
// state stays warm overnight.
type ContextJob struct {
	provider market.Provider
	bars     BarStore
	store    SnapshotStore
	clock    *ohlcv.Clock
	base     ohlcv.Timeframe
	symbols  []string
	now      func() time.Time
}

// ContextOption customises a ContextJob.
type ContextOption func(*ContextJob)

// WithContextNow overrides the wall clock, for tests.
func WithContextNow(fn func() time.Time) ContextOption {
	return func(j *ContextJob) {
		if fn != nil {
			j.now = fn
		}
	}
}

func NewContextJob(provider market.Provider, bars BarStore, store SnapshotStore, clock *ohlcv.Clock, base ohlcv.Timeframe, symbols []string, opts ...ContextOption) *ContextJob {
	j := &ContextJob{
		provider: provider,
		bars:     bars,
		store:    store,
		clock:    clock,
		base:     base,
		symbols:  symbols,
		now:      clock.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// minIndicatorBars is what the slow MACD leg plus its signal line need
// before the last value is meaningful.
const minIndicatorBars = 35

func (j *ContextJob) Run(ctx context.Context) error {
	now := j.now()
	doc := ContextDocument{
		GeneratedAt: now,
		InSession:   j.clock.IsWithinSession(now),
		Bars:        make(map[string]ohlcv.Bar, len(j.symbols)),
		Indicators:  make(map[string]IndicatorPack, len(j.symbols)),
	}

	// Live prices only when the provider has a cheap LTP endpoint.
	if ltp, ok := j.provider.(market.LTPProvider); ok {
		prices, err := ltp.FetchLTP(ctx, j.symbols)
		if err != nil {
			return fmt.Errorf("ingest: fetch ltp: %w", err)
		}
		doc.LTP = prices
		j.store.SaveLTP(ctx, prices)
	}

	for _, symbol := range j.symbols {
		bar, err := j.bars.LatestBar(ctx, symbol, j.base)
		if err != nil {
			logx.WithContext(ctx).Debugf("ingest: no latest bar for %s yet: %v", symbol, err)
			continue
		}
		doc.Bars[symbol] = *bar

		// Reach back two sessions so early-morning runs still have data.
		recent, err := j.bars.BarsBetween(ctx, symbol, j.base, now.Add(-48*time.Hour), now)
		if err != nil {
			logx.WithContext(ctx).Errorf("ingest: recent bars for %s: %v", symbol, err)
			continue
		}
		if pack, ok := indicatorPack(recent); ok {
			doc.Indicators[symbol] = pack
		}
	}

	j.store.SaveContext(ctx, doc)
	return nil
}

func indicatorPack(bars []ohlcv.Bar) (IndicatorPack, bool) {
	if len(bars) < minIndicatorBars {
		return IndicatorPack{}, false
	}
	closes := indicators.Closes(bars)
	ema := indicators.EMA(closes, 20)
	rsi := indicators.RSI(closes, 14)
	macd, signal, hist := indicators.MACD(closes)
	atr := indicators.ATR(bars, 14)
	vwap := indicators.VWAP(bars)

	last := len(bars) - 1
	pack := IndicatorPack{
		EMA20:    ema[last],
		RSI14:    rsi[last],
		MACD:     macd[last],
		MACDSig:  signal[last],
		MACDHist: hist[last],
		ATR14:    atr[last],
		VWAP:     vwap[last],
	}
	for _, v := range []float64{pack.EMA20, pack.RSI14, pack.MACD, pack.MACDSig, pack.MACDHist, pack.ATR14, pack.VWAP} {
		if math.IsNaN(v) {
			return IndicatorPack{}, false
		}
	}
	return pack, true
}
