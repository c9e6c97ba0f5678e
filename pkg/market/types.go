// Package market defines the exchange-agnostic market data contract consumed
// by the ingestion jobs, plus the provider registry that configuration binds
// concrete implementations through.
package market

import "time"

// OptionSide distinguishes calls from puts using exchange notation.
type OptionSide string

const (
	SideCall OptionSide = "CE"
	SidePut  OptionSide = "PE"
)

// FutOIRow is one futures open-interest observation. BaselineTag marks rows
// that should also refresh the day's baseline (e.g. "open", "prev_close").
type FutOIRow struct {
	Symbol      string
	Time        time.Time
	Price       float64
	OI          int64
	BaselineTag string
}

// OptionRow is one leg of an option chain snapshot. Greeks and interest
// fields are nil when the upstream feed does not supply them.
type OptionRow struct {
	Underlying string
	Time       time.Time
	Expiry     string // YYYY-MM-DD
	Strike     float64
	Side       OptionSide
	LTP        float64
	IV         *float64
	OI         *int64
	DOI        *int64
	Volume     *int64
	Delta      *float64
	Gamma      *float64
	Theta      *float64
	Vega       *float64
}

// BreadthRow is a market-wide advance/decline snapshot.
type BreadthRow struct {
	Time      time.Time
	Advances  int
	Declines  int
	Unchanged int
}

// VIXRow is one volatility-index reading.
type VIXRow struct {
	Time  time.Time
	Value float64
}
