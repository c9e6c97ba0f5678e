package feed

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"time"

	"marketspine/pkg/ohlcv"
)

func stubBasePrice(symbol string) float64 {
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

// runStub emits a deterministic slow random walk per symbol. Volumes are
// already deltas, no differencing needed.
func (f *Feed) runStub(ctx context.Context, out chan<- ohlcv.Tick) error {
	ticker := time.NewTicker(f.pollInterval)
	defer ticker.Stop()

	var step int64
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ts := <-ticker.C:
			step++
			for _, symbol := range f.snapshotSymbols() {
				h := fnv.New64a()
				h.Write([]byte(symbol))
				phase := float64(h.Sum64()%360) * math.Pi / 180

				base := stubBasePrice(symbol)
				price := base + math.Sin(float64(step)/10+phase)*base*0.001
				tick := ohlcv.Tick{
					Symbol: symbol,
					Price:  price,
					Volume: 100 + step%37,
					Time:   ts,
				}
				select {
				case out <- tick:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
		}
	}
}
