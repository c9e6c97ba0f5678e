package ingest

import (
	"context"
	"errors"
	"testing"
	"time"

	"marketspine/pkg/market"
	"marketspine/pkg/ohlcv"
)

func newTestClock(t *testing.T) *ohlcv.Clock {
	t.Helper()
	clock, err := ohlcv.NewClock("Asia/Kolkata", "09:15", "15:30")
	if err != nil {
		t.Fatalf("NewClock: %v", err)
	}
	return clock
}

func at(c *ohlcv.Clock, hour, minute int) time.Time {
	return time.Date(2026, 1, 5, hour, minute, 0, 0, c.Location())
}

type fakeStore struct {
	barBatches [][]ohlcv.Bar
	latest     map[string]ohlcv.Bar

	futOI   [][]market.FutOIRow
	options [][]market.OptionRow
	breadth []market.BreadthRow
	vix     []market.VIXRow
	ltp     []map[string]float64
	docs    []any
}

func newFakeStore() *fakeStore {
	return &fakeStore{latest: make(map[string]ohlcv.Bar)}
}

func (s *fakeStore) SaveBars(ctx context.Context, bars []ohlcv.Bar) error {
	s.barBatches = append(s.barBatches, bars)
	for _, bar := range bars {
		key := bar.Symbol + "|" + bar.Timeframe.String()
		if prev, ok := s.latest[key]; !ok || bar.End.After(prev.End) {
			s.latest[key] = bar
		}
	}
	return nil
}

func (s *fakeStore) LatestBar(ctx context.Context, symbol string, tf ohlcv.Timeframe) (*ohlcv.Bar, error) {
	bar, ok := s.latest[symbol+"|"+tf.String()]
	if !ok {
		return nil, errors.New("not found")
	}
	return &bar, nil
}

func (s *fakeStore) BarsBetween(ctx context.Context, symbol string, tf ohlcv.Timeframe, from, to time.Time) ([]ohlcv.Bar, error) {
	var out []ohlcv.Bar
	for _, batch := range s.barBatches {
		for _, bar := range batch {
			if bar.Symbol != symbol || bar.Timeframe != tf {
				continue
			}
			if bar.End.After(from) && !bar.End.After(to) {
				out = append(out, bar)
			}
		}
	}
	return out, nil
}

func (s *fakeStore) SaveFutOI(ctx context.Context, rows []market.FutOIRow) error {
	s.futOI = append(s.futOI, rows)
	return nil
}

func (s *fakeStore) SaveOptionChain(ctx context.Context, rows []market.OptionRow) error {
	s.options = append(s.options, rows)
	return nil
}

func (s *fakeStore) SaveBreadth(ctx context.Context, row market.BreadthRow) error {
	s.breadth = append(s.breadth, row)
	return nil
}

func (s *fakeStore) SaveVIX(ctx context.Context, row market.VIXRow) error {
	s.vix = append(s.vix, row)
	return nil
}

func (s *fakeStore) SaveLTP(ctx context.Context, prices map[string]float64) {
	s.ltp = append(s.ltp, prices)
}

func (s *fakeStore) SaveContext(ctx context.Context, doc any) {
	s.docs = append(s.docs, doc)
}

type fakeProvider struct {
	bars    []ohlcv.Bar
	futOI   []market.FutOIRow
	chain   []market.OptionRow
	breadth market.BreadthRow
	vix     market.VIXRow
	prices  map[string]float64
	err     error
}

func (p *fakeProvider) FetchOHLCV(ctx context.Context, symbols []string, tf ohlcv.Timeframe, since time.Time) ([]ohlcv.Bar, error) {
	return p.bars, p.err
}

func (p *fakeProvider) FetchFutOI(ctx context.Context, symbols []string) ([]market.FutOIRow, error) {
	return p.futOI, p.err
}

func (p *fakeProvider) FetchOptionChain(ctx context.Context, underlying string) ([]market.OptionRow, error) {
	return p.chain, p.err
}

func (p *fakeProvider) FetchBreadth(ctx context.Context) (market.BreadthRow, error) {
	return p.breadth, p.err
}

func (p *fakeProvider) FetchVIX(ctx context.Context) (market.VIXRow, error) {
	return p.vix, p.err
}

func (p *fakeProvider) FetchLTP(ctx context.Context, symbols []string) (map[string]float64, error) {
	return p.prices, p.err
}

func validBars(c *ohlcv.Clock) []ohlcv.Bar {
	return []ohlcv.Bar{
		{Symbol: "NIFTY 50", Timeframe: ohlcv.Timeframe5m, End: at(c, 9, 20), Open: 100, High: 105, Low: 99, Close: 104, Volume: 10},
		{Symbol: "NIFTY 50", Timeframe: ohlcv.Timeframe5m, End: at(c, 9, 25), Open: 104, High: 108, Low: 103, Close: 107, Volume: 8},
		{Symbol: "NIFTY 50", Timeframe: ohlcv.Timeframe5m, End: at(c, 9, 30), Open: 107, High: 110, Low: 106, Close: 109, Volume: 12},
	}
}

func TestBarFlusherFlushesAndDerives(t *testing.T) {
	clock := newTestClock(t)
	agg := ohlcv.NewAggregator(clock, ohlcv.Timeframe5m, []string{"NIFTY 50"})
	store := newFakeStore()

	flusher, err := NewBarFlusher(clock, agg, store, ohlcv.Timeframe5m,
		[]ohlcv.Timeframe{ohlcv.Timeframe15m},
		WithFlushNow(func() time.Time { return at(clock, 9, 30) }))
	if err != nil {
		t.Fatalf("NewBarFlusher: %v", err)
	}

	agg.OnTick("NIFTY 50", 100, 10, at(clock, 9, 16))
	agg.OnTick("NIFTY 50", 105, 5, at(clock, 9, 18))
	agg.OnTick("NIFTY 50", 104, 7, at(clock, 9, 21))
	agg.OnTick("NIFTY 50", 110, 3, at(clock, 9, 26))

	if err := flusher.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.barBatches) != 2 {
		t.Fatalf("expected base + derived batches, got %d", len(store.barBatches))
	}
	base := store.barBatches[0]
	if len(base) != 3 {
		t.Fatalf("expected 3 base bars, got %d", len(base))
	}

	derived := store.barBatches[1]
	var fifteens, dailies int
	for _, bar := range derived {
		switch bar.Timeframe {
		case ohlcv.Timeframe15m:
			fifteens++
			if !bar.End.Equal(at(clock, 9, 30)) {
				t.Fatalf("15m bar end: %s", bar.End)
			}
			if bar.Open != 100 || bar.Volume != 25 {
				t.Fatalf("15m rollup wrong: %+v", bar)
			}
		case ohlcv.Timeframe1d:
			dailies++
			if !bar.End.Equal(at(clock, 15, 30)) {
				t.Fatalf("daily bar end: %s", bar.End)
			}
		default:
			t.Fatalf("unexpected derived timeframe %s", bar.Timeframe)
		}
	}
	if fifteens != 1 {
		t.Fatalf("expected one 15m bar, got %d", fifteens)
	}
	if dailies != 3 {
		t.Fatalf("expected a daily re-emit per base bar, got %d", dailies)
	}
}

func TestBarFlusherNothingDue(t *testing.T) {
	clock := newTestClock(t)
	agg := ohlcv.NewAggregator(clock, ohlcv.Timeframe5m, []string{"NIFTY 50"})
	store := newFakeStore()

	flusher, err := NewBarFlusher(clock, agg, store, ohlcv.Timeframe5m, nil,
		WithFlushNow(func() time.Time { return at(clock, 9, 17) }))
	if err != nil {
		t.Fatalf("NewBarFlusher: %v", err)
	}
	agg.OnTick("NIFTY 50", 100, 10, at(clock, 9, 16))
	if err := flusher.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.barBatches) != 0 {
		t.Fatalf("nothing should flush before the first boundary")
	}
}

func TestBarFlusherValidatesDerivedBeforeSave(t *testing.T) {
	clock := newTestClock(t)
	store := newFakeStore()
	agg := ohlcv.NewAggregator(clock, ohlcv.Timeframe5m, []string{"NIFTY 50"})
	flusher, err := NewBarFlusher(clock, agg, store, ohlcv.Timeframe5m, []ohlcv.Timeframe{ohlcv.Timeframe15m})
	if err != nil {
		t.Fatalf("NewBarFlusher: %v", err)
	}

	good := ohlcv.Bar{Symbol: "NIFTY 50", Timeframe: ohlcv.Timeframe15m, End: at(clock, 9, 30), Open: 100, High: 102, Low: 99, Close: 101, Volume: 25}
	badRange := good
	badRange.High = 90 // below open
	offGrid := good
	offGrid.End = at(clock, 9, 32)

	saved, err := flusher.saveValidated(context.Background(), []ohlcv.Bar{good, badRange, offGrid}, "derived")
	if err != nil {
		t.Fatalf("saveValidated: %v", err)
	}
	if len(saved) != 1 || !saved[0].End.Equal(good.End) {
		t.Fatalf("expected only the well-formed bar to survive, got %+v", saved)
	}
	if len(store.barBatches) != 1 || len(store.barBatches[0]) != 1 {
		t.Fatalf("store received %+v", store.barBatches)
	}

	saved, err = flusher.saveValidated(context.Background(), []ohlcv.Bar{badRange}, "derived")
	if err != nil || len(saved) != 0 {
		t.Fatalf("all-invalid batch should save nothing: saved=%v err=%v", saved, err)
	}
	if len(store.barBatches) != 1 {
		t.Fatalf("rejected batch must not reach the store")
	}
}

func TestFutOIJobTagsBaselineOnce(t *testing.T) {
	clock := newTestClock(t)
	provider := &fakeProvider{futOI: []market.FutOIRow{
		{Symbol: "NIFTY 50", Time: time.Now(), Price: 22500, OI: 1_000_000},
	}}
	store := newFakeStore()
	job := NewFutOIJob(provider, store, clock, []string{"NIFTY 50"},
		WithFutOINow(func() time.Time { return at(clock, 9, 16) }))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("first run: %v", err)
	}
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("second run: %v", err)
	}
	if len(store.futOI) != 2 {
		t.Fatalf("expected 2 snapshots, got %d", len(store.futOI))
	}
	if store.futOI[0][0].BaselineTag != "open" {
		t.Fatalf("first snapshot of the day should carry the baseline tag")
	}
	if store.futOI[1][0].BaselineTag != "" {
		t.Fatalf("later snapshots must not re-tag the baseline")
	}
}

func TestFutOIJobSkipsBaselineOutOfSession(t *testing.T) {
	clock := newTestClock(t)
	provider := &fakeProvider{futOI: []market.FutOIRow{
		{Symbol: "NIFTY 50", Time: time.Now(), Price: 22500, OI: 1_000_000},
	}}
	store := newFakeStore()
	job := NewFutOIJob(provider, store, clock, []string{"NIFTY 50"},
		WithFutOINow(func() time.Time { return at(clock, 8, 0) }))

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if store.futOI[0][0].BaselineTag != "" {
		t.Fatal("pre-open snapshots must not seed the baseline")
	}
}

func TestOptionsJobPerUnderlying(t *testing.T) {
	provider := &fakeProvider{chain: []market.OptionRow{
		{Underlying: "NIFTY 50", Time: time.Now(), Expiry: "2026-01-08", Strike: 22500, Side: market.SideCall, LTP: 120},
	}}
	store := newFakeStore()
	job := NewOptionsJob(provider, store, []string{"NIFTY 50", "NIFTY BANK"})

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(store.options) != 2 {
		t.Fatalf("expected a save per underlying, got %d", len(store.options))
	}
}

func TestSnapshotJobsPropagateErrors(t *testing.T) {
	provider := &fakeProvider{err: errors.New("gateway down")}
	store := newFakeStore()

	if err := NewBreadthJob(provider, store).Run(context.Background()); err == nil {
		t.Fatal("breadth job should surface fetch errors")
	}
	if err := NewVIXJob(provider, store).Run(context.Background()); err == nil {
		t.Fatal("vix job should surface fetch errors")
	}
	if len(store.breadth) != 0 || len(store.vix) != 0 {
		t.Fatal("failed fetches must not reach storage")
	}
}

func TestContextJobAssemblesDocument(t *testing.T) {
	clock := newTestClock(t)
	provider := &fakeProvider{prices: map[string]float64{"NIFTY 50": 22510.5}}
	store := newFakeStore()
	bars := validBars(clock)
	if err := store.SaveBars(context.Background(), bars); err != nil {
		t.Fatalf("seed bars: %v", err)
	}
	store.barBatches = nil

	job := NewContextJob(provider, store, store, clock, ohlcv.Timeframe5m, []string{"NIFTY 50", "NIFTY BANK"},
		WithContextNow(func() time.Time { return at(clock, 11, 0) }))
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(store.docs) != 1 {
		t.Fatalf("expected one context document, got %d", len(store.docs))
	}
	doc, ok := store.docs[0].(ContextDocument)
	if !ok {
		t.Fatalf("unexpected document type %T", store.docs[0])
	}
	if doc.LTP["NIFTY 50"] != 22510.5 {
		t.Fatalf("ltp missing from document: %+v", doc.LTP)
	}
	if _, ok := doc.Bars["NIFTY 50"]; !ok {
		t.Fatalf("latest bar missing from document")
	}
	if _, ok := doc.Bars["NIFTY BANK"]; ok {
		t.Fatalf("symbols without bars should be omitted")
	}
	if len(store.ltp) != 1 {
		t.Fatalf("ltp should also be cached, got %d writes", len(store.ltp))
	}
}

func TestContextJobComputesIndicators(t *testing.T) {
	clock := newTestClock(t)
	provider := &fakeProvider{prices: map[string]float64{"NIFTY 50": 22510.5}}
	store := newFakeStore()

	// 40 contiguous five-minute bars starting at the first boundary.
	var bars []ohlcv.Bar
	end := at(clock, 9, 20)
	price := 100.0
	for i := 0; i < 40; i++ {
		price += float64(i%5) - 2
		bars = append(bars, ohlcv.Bar{
			Symbol: "NIFTY 50", Timeframe: ohlcv.Timeframe5m, End: end,
			Open: price, High: price + 2, Low: price - 2, Close: price + 1, Volume: 1000,
		})
		end = end.Add(5 * time.Minute)
	}
	if err := store.SaveBars(context.Background(), bars); err != nil {
		t.Fatalf("seed bars: %v", err)
	}

	job := NewContextJob(provider, store, store, clock, ohlcv.Timeframe5m, []string{"NIFTY 50"},
		WithContextNow(func() time.Time { return at(clock, 13, 0) }))
	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	doc := store.docs[0].(ContextDocument)
	pack, ok := doc.Indicators["NIFTY 50"]
	if !ok {
		t.Fatal("indicator pack missing with 40 bars available")
	}
	if pack.RSI14 <= 0 || pack.RSI14 > 100 {
		t.Fatalf("rsi out of range: %f", pack.RSI14)
	}
	if pack.VWAP <= 0 || pack.ATR14 <= 0 {
		t.Fatalf("vwap/atr should be positive: %+v", pack)
	}
}

func TestBackfillerWritesBaseAndDerived(t *testing.T) {
	clock := newTestClock(t)
	provider := &fakeProvider{bars: validBars(clock)}
	store := newFakeStore()

	backfiller := NewBackfiller(provider, store, clock, ohlcv.Timeframe5m, []ohlcv.Timeframe{ohlcv.Timeframe15m})
	written, err := backfiller.Run(context.Background(), []string{"NIFTY 50"}, time.Time{})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// 3 base + 1 fifteen-minute + 1 daily.
	if written != 5 {
		t.Fatalf("expected 5 bars written, got %d", written)
	}

	if bar, err := store.LatestBar(context.Background(), "NIFTY 50", ohlcv.Timeframe15m); err != nil {
		t.Fatalf("derived 15m bar missing: %v", err)
	} else if bar.Close != 109 || bar.Volume != 30 {
		t.Fatalf("15m rollup wrong: %+v", bar)
	}
	if bar, err := store.LatestBar(context.Background(), "NIFTY 50", ohlcv.Timeframe1d); err != nil {
		t.Fatalf("daily bar missing: %v", err)
	} else if !bar.End.Equal(at(clock, 15, 30)) {
		t.Fatalf("daily end wrong: %s", bar.End)
	}
}

func TestBackfillerSinceFromStore(t *testing.T) {
	clock := newTestClock(t)
	store := newFakeStore()
	backfiller := NewBackfiller(&fakeProvider{}, store, clock, ohlcv.Timeframe5m, nil)

	if err := store.SaveBars(context.Background(), validBars(clock)); err != nil {
		t.Fatalf("seed bars: %v", err)
	}

	// A symbol without stored bars forces a full backfill.
	if since := backfiller.SinceFromStore(context.Background(), []string{"NIFTY 50", "NIFTY BANK"}); !since.IsZero() {
		t.Fatalf("expected zero since, got %s", since)
	}

	bank := []ohlcv.Bar{{Symbol: "NIFTY BANK", Timeframe: ohlcv.Timeframe5m, End: at(clock, 9, 25), Open: 100, High: 101, Low: 99, Close: 100, Volume: 1}}
	if err := store.SaveBars(context.Background(), bank); err != nil {
		t.Fatalf("seed bank bar: %v", err)
	}
	since := backfiller.SinceFromStore(context.Background(), []string{"NIFTY 50", "NIFTY BANK"})
	if !since.Equal(at(clock, 9, 25)) {
		t.Fatalf("expected earliest latest end 09:25, got %s", since)
	}
}

func TestBackfillerFetchError(t *testing.T) {
	clock := newTestClock(t)
	provider := &fakeProvider{err: errors.New("gateway down")}
	store := newFakeStore()

	backfiller := NewBackfiller(provider, store, clock, ohlcv.Timeframe5m, nil)
	if _, err := backfiller.Run(context.Background(), []string{"NIFTY 50"}, time.Time{}); err == nil {
		t.Fatal("fetch errors must propagate")
	}
	if len(store.barBatches) != 0 {
		t.Fatal("nothing should be written on fetch failure")
	}
}
