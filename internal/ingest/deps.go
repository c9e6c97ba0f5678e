// Package ingest holds the scheduled jobs that pull market data from
// providers, run it through the bar pipeline, and hand it to storage.
package ingest

import (
	"context"
	"time"

	"marketspine/pkg/market"
	"marketspine/pkg/ohlcv"
)

// BarStore is the slice of storage the bar jobs need.
type BarStore interface {
	SaveBars(ctx context.Context, bars []ohlcv.Bar) error
	LatestBar(ctx context.Context, symbol string, tf ohlcv.Timeframe) (*ohlcv.Bar, error)
	BarsBetween(ctx context.Context, symbol string, tf ohlcv.Timeframe, from, to time.Time) ([]ohlcv.Bar, error)
}

// SnapshotStore is the slice of storage the snapshot jobs need.
type SnapshotStore interface {
	SaveFutOI(ctx context.Context, rows []market.FutOIRow) error
	SaveOptionChain(ctx context.Context, rows []market.OptionRow) error
	SaveBreadth(ctx context.Context, row market.BreadthRow) error
	SaveVIX(ctx context.Context, row market.VIXRow) error
	SaveLTP(ctx context.Context, prices map[string]float64)
	SaveContext(ctx context.Context, doc any)
}

// IndicatorPack is the per-symbol technical snapshot included in the
// context document once enough bars have accumulated.
type IndicatorPack struct {
	EMA20    float64 `json:"ema20"`
	RSI14    float64 `json:"rsi14"`
	MACD     float64 `json:"macd"`
	MACDSig  float64 `json:"macd_signal"`
	MACDHist float64 `json:"macd_hist"`
	ATR14    float64 `json:"atr14"`
	VWAP     float64 `json:"vwap"`
}

// ContextDocument is the assembled market state snapshot cached for
// downstream consumers.
type ContextDocument struct {
	GeneratedAt time.Time                `json:"generated_at"`
	InSession   bool                     `json:"in_session"`
	LTP         map[string]float64       `json:"ltp,omitempty"`
	Bars        map[string]ohlcv.Bar     `json:"bars,omitempty"`
	Indicators  map[string]IndicatorPack `json:"indicators,omitempty"`
}
