package market

import (
	"context"
	"time"

	"marketspine/pkg/ohlcv"
)

// Provider exposes the market data endpoints the ingestion jobs consume.
// FetchOHLCV returns completed base-timeframe bars; a zero since means "as
// far back as the upstream allows".
type Provider interface {
	FetchOHLCV(ctx context.Context, symbols []string, tf ohlcv.Timeframe, since time.Time) ([]ohlcv.Bar, error)
	FetchFutOI(ctx context.Context, symbols []string) ([]FutOIRow, error)
	FetchOptionChain(ctx context.Context, underlying string) ([]OptionRow, error)
	FetchBreadth(ctx context.Context) (BreadthRow, error)
	FetchVIX(ctx context.Context) (VIXRow, error)
}

// LTPProvider is an optional capability for providers with a cheap
// last-traded-price endpoint. Callers resolve it with a type assertion on a
// Provider rather than probing for method presence.
type LTPProvider interface {
	FetchLTP(ctx context.Context, symbols []string) (map[string]float64, error)
}
