package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"marketspine/pkg/market"
	"marketspine/pkg/ohlcv"
)

// FutOIJob snapshots futures open interest for the configured universe.
// The first snapshot of a session is tagged as that day's baseline.
type FutOIJob struct {
	provider market.Provider
	store    SnapshotStore
	clock    *ohlcv.Clock
	symbols  []string
	now      func() time.Time

	baselineDay string
}

// FutOIOption customises a FutOIJob.
type FutOIOption func(*FutOIJob)

// WithFutOINow overrides the wall clock, for tests.
func WithFutOINow(fn func() time.Time) FutOIOption {
	return func(j *FutOIJob) {
		if fn != nil {
			j.now = fn
		}
	}
}

func NewFutOIJob(provider market.Provider, store SnapshotStore, clock *ohlcv.Clock, symbols []string, opts ...FutOIOption) *FutOIJob {
	j := &FutOIJob{provider: provider, store: store, clock: clock, symbols: symbols, now: clock.Now}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

func (j *FutOIJob) Run(ctx context.Context) error {
	rows, err := j.provider.FetchFutOI(ctx, j.symbols)
	if err != nil {
		return fmt.Errorf("ingest: fetch fut oi: %w", err)
	}
	if len(rows) == 0 {
		return nil
	}
	// The first in-session snapshot of each day seeds the OI baseline.
	now := j.now()
	day := now.Format("2006-01-02")
	if j.baselineDay != day && j.clock.IsWithinSession(now) {
		for i := range rows {
			rows[i].BaselineTag = "open"
		}
		j.baselineDay = day
	}
	return j.store.SaveFutOI(ctx, rows)
}

// OptionsJob snapshots the option chain for each configured underlying.
type OptionsJob struct {
	provider    market.Provider
	store       SnapshotStore
	underlyings []string
}

func NewOptionsJob(provider market.Provider, store SnapshotStore, underlyings []string) *OptionsJob {
	return &OptionsJob{provider: provider, store: store, underlyings: underlyings}
}

func (j *OptionsJob) Run(ctx context.Context) error {
	for _, underlying := range j.underlyings {
		rows, err := j.provider.FetchOptionChain(ctx, underlying)
		if err != nil {
			return fmt.Errorf("ingest: fetch option chain %s: %w", underlying, err)
		}
		if len(rows) == 0 {
			logx.WithContext(ctx).Infof("ingest: empty option chain for %s", underlying)
			continue
		}
		if err := j.store.SaveOptionChain(ctx, rows); err != nil {
			return fmt.Errorf("ingest: save option chain %s: %w", underlying, err)
		}
	}
	return nil
}

// BreadthJob snapshots market-wide advance/decline counts.
type BreadthJob struct {
	provider market.Provider
	store    SnapshotStore
}

func NewBreadthJob(provider market.Provider, store SnapshotStore) *BreadthJob {
	return &BreadthJob{provider: provider, store: store}
}

func (j *BreadthJob) Run(ctx context.Context) error {
	row, err := j.provider.FetchBreadth(ctx)
	if err != nil {
		return fmt.Errorf("ingest: fetch breadth: %w", err)
	}
	return j.store.SaveBreadth(ctx, row)
}

// VIXJob snapshots the volatility index.
type VIXJob struct {
	provider market.Provider
	store    SnapshotStore
}

func NewVIXJob(provider market.Provider, store SnapshotStore) *VIXJob {
	return &VIXJob{provider: provider, store: store}
}

func (j *VIXJob) Run(ctx context.Context) error {
	row, err := j.provider.FetchVIX(ctx)
	if err != nil {
		return fmt.Errorf("ingest: fetch vix: %w", err)
	}
	return j.store.SaveVIX(ctx, row)
}
