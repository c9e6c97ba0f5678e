package ingest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"marketspine/pkg/market"
	"marketspine/pkg/ohlcv"
)

// Backfiller replays historical base bars from a provider into storage and
// rebuilds every derived timeframe from them. Upsert semantics make the
// whole operation safe to repeat over an already-filled window.
type Backfiller struct {
	provider market.Provider
	store    BarStore
	clock    *ohlcv.Clock
	base     ohlcv.Timeframe
	targets  []ohlcv.Timeframe
}

func NewBackfiller(provider market.Provider, store BarStore, clock *ohlcv.Clock, base ohlcv.Timeframe, targets []ohlcv.Timeframe) *Backfiller {
	return &Backfiller{
		provider: provider,
		store:    store,
		clock:    clock,
		base:     base,
		targets:  targets,
	}
}

// SinceFromStore returns the most conservative resume point: the earliest
// latest-stored base bar end across symbols. Zero when any symbol has no
// stored bars yet, so the provider decides how far back to go.
func (b *Backfiller) SinceFromStore(ctx context.Context, symbols []string) time.Time {
	var since time.Time
	for _, symbol := range symbols {
		bar, err := b.store.LatestBar(ctx, symbol, b.base)
		if err != nil {
			return time.Time{}
		}
		if since.IsZero() || bar.End.Before(since) {
			since = bar.End
		}
	}
	return since
}

// Run fetches bars newer than since for each symbol and persists base plus
// derived rows. It returns the number of bars written.
func (b *Backfiller) Run(ctx context.Context, symbols []string, since time.Time) (int, error) {
	fetched, err := b.provider.FetchOHLCV(ctx, symbols, b.base, since)
	if err != nil {
		return 0, fmt.Errorf("ingest: backfill fetch: %w", err)
	}
	if len(fetched) == 0 {
		return 0, nil
	}

	validator := ohlcv.NewValidator(b.clock)
	accepted, rejected := validator.ValidateAll(fetched)
	for _, err := range rejected {
		logx.WithContext(ctx).Errorf("ingest: backfill dropped bar: %v", err)
	}
	if len(accepted) == 0 {
		return 0, nil
	}

	bySymbol := make(map[string][]ohlcv.Bar)
	for _, bar := range accepted {
		bySymbol[bar.Symbol] = append(bySymbol[bar.Symbol], bar)
	}

	written := 0
	for symbol, bars := range bySymbol {
		sort.Slice(bars, func(i, j int) bool { return bars[i].End.Before(bars[j].End) })
		if err := ohlcv.EnsureSortedUnique(bars); err != nil {
			return written, fmt.Errorf("ingest: backfill %s: %w", symbol, err)
		}
		if err := b.store.SaveBars(ctx, bars); err != nil {
			return written, fmt.Errorf("ingest: backfill save %s: %w", symbol, err)
		}
		written += len(bars)

		for _, target := range b.targets {
			deriver, err := ohlcv.NewDeriver(b.base, target, ohlcv.WithAlignment(b.clock))
			if err != nil {
				return written, fmt.Errorf("ingest: backfill deriver %s->%s: %w", b.base, target, err)
			}
			derived, derivedRejects := validator.ValidateAll(deriver.Derive(bars))
			for _, err := range derivedRejects {
				logx.WithContext(ctx).Errorf("ingest: backfill dropped derived %s bar: %v", target, err)
			}
			if len(derived) == 0 {
				continue
			}
			if err := b.store.SaveBars(ctx, derived); err != nil {
				return written, fmt.Errorf("ingest: backfill save %s %s: %w", symbol, target, err)
			}
			written += len(derived)
		}

		daily, dailyRejects := validator.ValidateAll(ohlcv.DeriveDaily(b.clock, bars))
		for _, err := range dailyRejects {
			logx.WithContext(ctx).Errorf("ingest: backfill dropped daily bar: %v", err)
		}
		if len(daily) > 0 {
			if err := b.store.SaveBars(ctx, daily); err != nil {
				return written, fmt.Errorf("ingest: backfill save %s daily: %w", symbol, err)
			}
			written += len(daily)
		}
	}
	logx.WithContext(ctx).Infof("ingest: backfill wrote %d bars across %d symbols", written, len(bySymbol))
	return written, nil
}
