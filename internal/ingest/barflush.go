package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/zeromicro/go-zero/core/logx"

	"marketspine/pkg/ohlcv"
)

// BarFlusher drains completed bars from the live aggregator, validates
// them, persists them, and rolls them up into the derived timeframes.
type BarFlusher struct {
	clock     *ohlcv.Clock
	agg       *ohlcv.Aggregator
	validator *ohlcv.Validator
	store     BarStore
	derivers  []*ohlcv.Deriver
	daily     *ohlcv.DailyDeriver
	now       func() time.Time
}

// FlushOption customises a BarFlusher.
type FlushOption func(*BarFlusher)

// WithFlushNow overrides the wall clock, for tests.
func WithFlushNow(fn func() time.Time) FlushOption {
	return func(f *BarFlusher) {
		if fn != nil {
			f.now = fn
		}
	}
}

// NewBarFlusher builds the flush pipeline. targets lists the intraday
// timeframes derived from base; a daily rollup is always maintained.
func NewBarFlusher(clock *ohlcv.Clock, agg *ohlcv.Aggregator, store BarStore, base ohlcv.Timeframe, targets []ohlcv.Timeframe, opts ...FlushOption) (*BarFlusher, error) {
	if clock == nil || agg == nil || store == nil {
		return nil, fmt.Errorf("ingest: bar flusher needs clock, aggregator and store")
	}
	derivers := make([]*ohlcv.Deriver, 0, len(targets))
	for _, target := range targets {
		d, err := ohlcv.NewDeriver(base, target, ohlcv.WithAlignment(clock))
		if err != nil {
			return nil, fmt.Errorf("ingest: deriver %s->%s: %w", base, target, err)
		}
		derivers = append(derivers, d)
	}
	f := &BarFlusher{
		clock:     clock,
		agg:       agg,
		validator: ohlcv.NewValidator(clock),
		store:     store,
		derivers:  derivers,
		daily:     ohlcv.NewDailyDeriver(clock),
		now:       clock.Now,
	}
	for _, opt := range opts {
		opt(f)
	}
	return f, nil
}

// Run flushes everything due as of now. Safe to call on any cadence;
// flushing with nothing due is a no-op.
func (f *BarFlusher) Run(ctx context.Context) error {
	completed := f.agg.FlushDue(f.now())
	if len(completed) == 0 {
		return nil
	}

	accepted, err := f.saveValidated(ctx, completed, "base")
	if err != nil {
		return err
	}
	if len(accepted) == 0 {
		return nil
	}

	derived := make([]ohlcv.Bar, 0, len(accepted))
	for _, bar := range accepted {
		for _, d := range f.derivers {
			if out := d.Push(bar); out != nil {
				derived = append(derived, *out)
			}
		}
		derived = append(derived, f.daily.Push(bar))
	}
	savedDerived, err := f.saveValidated(ctx, derived, "derived")
	if err != nil {
		return err
	}
	logx.WithContext(ctx).Infof("ingest: flushed %d base bars, %d derived", len(accepted), len(savedDerived))
	return nil
}

// saveValidated validates a batch, logs and drops rejects, persists the rest
// and returns what was stored. Derived bars pass through here too; a deriver
// bug must not reach storage just because its inputs were clean.
func (f *BarFlusher) saveValidated(ctx context.Context, bars []ohlcv.Bar, stage string) ([]ohlcv.Bar, error) {
	accepted, rejected := f.validator.ValidateAll(bars)
	for _, err := range rejected {
		logx.WithContext(ctx).Errorf("ingest: dropped %s bar: %v", stage, err)
	}
	if len(accepted) == 0 {
		return nil, nil
	}
	if err := f.store.SaveBars(ctx, accepted); err != nil {
		return nil, fmt.Errorf("ingest: save %s bars: %w", stage, err)
	}
	return accepted, nil
}
