// Package mock provides a deterministic offline market provider for
// development and tests. Values are seeded per symbol so repeated calls in
// one process produce stable shapes without any network access.
package mock

import (
	"context"
	"hash/fnv"
	"math"
	"math/rand"
	"strings"
	"time"

	"marketspine/pkg/market"
	"marketspine/pkg/ohlcv"
)

// Provider synthesizes plausible market data in the session timezone.
type Provider struct {
	loc *time.Location
	now func() time.Time
}

// Option customises the mock provider.
type Option func(*Provider)

// WithNow overrides the wall clock, letting tests pin the emitted window.
func WithNow(now func() time.Time) Option {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

// NewProvider builds a mock provider emitting timestamps in tz.
func NewProvider(tz string, opts ...Option) (*Provider, error) {
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, err
	}
	p := &Provider{loc: loc, now: time.Now}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

func init() {
	market.RegisterProvider("mock", func(name string, cfg *market.ProviderConfig) (market.Provider, error) {
		return NewProvider("Asia/Kolkata")
	})
}

func (p *Provider) rng(key string) *rand.Rand {
	h := fnv.New64a()
	h.Write([]byte(key))
	return rand.New(rand.NewSource(int64(h.Sum64())))
}

func basePrice(symbol string) float64 {
	upper := strings.ToUpper(symbol)
	switch {
	case strings.Contains(upper, "BANK"):
		return 43500
	case strings.Contains(upper, "FIN"):
		return 19000
	default:
		return 22500
	}
}

// FetchOHLCV emits six synthetic bars per symbol ending one step before now.
func (p *Provider) FetchOHLCV(ctx context.Context, symbols []string, tf ohlcv.Timeframe, since time.Time) ([]ohlcv.Bar, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	step := tf.Duration()
	now := p.now().In(p.loc).Truncate(time.Minute)

	var bars []ohlcv.Bar
	for _, symbol := range symbols {
		rng := p.rng("ohlcv:" + symbol + ":" + string(tf))
		base := basePrice(symbol)
		first := len(bars)

		end := now.Truncate(step)
		for i := 0; i < 6; i++ {
			if !since.IsZero() && !end.After(since) {
				break
			}
			drift := math.Sin(float64(end.Unix())/3600) * 15
			open := base + drift + (rng.Float64()*40 - 20)
			high := open + math.Abs(rng.NormFloat64()*2+6)
			low := open - math.Abs(rng.NormFloat64()*2+6)
			close := low + (high-low)*rng.Float64()
			volume := int64(math.Abs(rng.NormFloat64()*250_000 + 1_500_000))

			bars = append(bars, ohlcv.Bar{
				Symbol:    symbol,
				Timeframe: tf,
				End:       end,
				Open:      open,
				High:      high,
				Low:       low,
				Close:     close,
				Volume:    volume,
			})
			end = end.Add(-step)
		}

		// Oldest first within each symbol.
		for i, j := first, len(bars)-1; i < j; i, j = i+1, j-1 {
			bars[i], bars[j] = bars[j], bars[i]
		}
	}
	return bars, nil
}

// FetchFutOI emits one open-interest row per symbol.
func (p *Provider) FetchFutOI(ctx context.Context, symbols []string) ([]market.FutOIRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := p.now().In(p.loc)
	rows := make([]market.FutOIRow, 0, len(symbols))
	for _, symbol := range symbols {
		rng := p.rng("futoi:" + symbol)
		rows = append(rows, market.FutOIRow{
			Symbol: symbol,
			Time:   now,
			Price:  basePrice(symbol) * (1 + rng.Float64()*0.01),
			OI:     int64(5_000_000 + rng.Intn(2_000_000)),
		})
	}
	return rows, nil
}

// FetchOptionChain emits a small chain of strikes around the base price.
func (p *Provider) FetchOptionChain(ctx context.Context, underlying string) ([]market.OptionRow, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now := p.now().In(p.loc)
	rng := p.rng("options:" + underlying)
	base := basePrice(underlying)
	atm := math.Round(base/100) * 100
	expiry := now.AddDate(0, 0, (4-int(now.Weekday())+7)%7).Format("2006-01-02")

	var rows []market.OptionRow
	for offset := -2; offset <= 2; offset++ {
		strike := atm + float64(offset)*100
		for _, side := range []market.OptionSide{market.SideCall, market.SidePut} {
			intrinsic := base - strike
			if side == market.SidePut {
				intrinsic = strike - base
			}
			ltp := math.Max(intrinsic, 0) + 40 + rng.Float64()*30
			iv := 12 + rng.Float64()*8
			oi := int64(200_000 + rng.Intn(400_000))
			doi := int64(rng.Intn(40_000) - 20_000)
			volume := int64(rng.Intn(800_000))
			rows = append(rows, market.OptionRow{
				Underlying: underlying,
				Time:       now,
				Expiry:     expiry,
				Strike:     strike,
				Side:       side,
				LTP:        ltp,
				IV:         &iv,
				OI:         &oi,
				DOI:        &doi,
				Volume:     &volume,
			})
		}
	}
	return rows, nil
}

// FetchBreadth emits a plausible advance/decline split over 2000 issues.
func (p *Provider) FetchBreadth(ctx context.Context) (market.BreadthRow, error) {
	if err := ctx.Err(); err != nil {
		return market.BreadthRow{}, err
	}
	now := p.now().In(p.loc)
	rng := p.rng("breadth:" + now.Format("2006-01-02"))
	adv := 800 + rng.Intn(600)
	dec := 2000 - adv - rng.Intn(100)
	return market.BreadthRow{
		Time:      now,
		Advances:  adv,
		Declines:  dec,
		Unchanged: 2000 - adv - dec,
	}, nil
}

// FetchVIX emits a value in the low-to-mid teens.
func (p *Provider) FetchVIX(ctx context.Context) (market.VIXRow, error) {
	if err := ctx.Err(); err != nil {
		return market.VIXRow{}, err
	}
	now := p.now().In(p.loc)
	rng := p.rng("vix:" + now.Format("2006-01-02"))
	return market.VIXRow{Time: now, Value: 11 + rng.Float64()*6}, nil
}

// FetchLTP emits a stable price per symbol near its base.
func (p *Provider) FetchLTP(ctx context.Context, symbols []string) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(symbols))
	for _, symbol := range symbols {
		rng := p.rng("ltp:" + symbol)
		out[symbol] = basePrice(symbol) * (1 + rng.Float64()*0.002)
	}
	return out, nil
}
