package store

import (
	"context"
	"testing"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cachekeys "marketspine/internal/cache"
	"marketspine/internal/config"
	"marketspine/internal/model"
	"marketspine/pkg/market"
	"marketspine/pkg/ohlcv"
)

type fakeBarsModel struct {
	model.BarsModel
	upserts [][]*model.Bars
	latest  *model.Bars
}

func (f *fakeBarsModel) UpsertBatch(ctx context.Context, rows []*model.Bars) error {
	f.upserts = append(f.upserts, rows)
	return nil
}

func (f *fakeBarsModel) FindLatest(ctx context.Context, symbol, timeframe string) (*model.Bars, error) {
	if f.latest == nil {
		return nil, model.ErrNotFound
	}
	return f.latest, nil
}

type fakeFutOiModel struct {
	model.FutOiModel
	inserts   []*model.FutOi
	baselines []*model.FutOiBaseline
}

func (f *fakeFutOiModel) Insert(ctx context.Context, row *model.FutOi) error {
	f.inserts = append(f.inserts, row)
	return nil
}

func (f *fakeFutOiModel) UpsertBaseline(ctx context.Context, row *model.FutOiBaseline) error {
	f.baselines = append(f.baselines, row)
	return nil
}

type fakeOptionModel struct {
	model.OptionChainModel
	batches [][]*model.OptionChain
}

func (f *fakeOptionModel) UpsertBatch(ctx context.Context, rows []*model.OptionChain) error {
	f.batches = append(f.batches, rows)
	return nil
}

func testConn() sqlx.SqlConn {
	// Lazy connection; none of the fakes touch it.
	return sqlx.NewSqlConn("pgx", "postgres://localhost:5432/ignored")
}

func testTTL() cachekeys.TTLSet {
	return cachekeys.NewTTLSet(config.CacheTTL{Short: 10, Medium: 60, Long: 300})
}

func TestSaveBarsMapsRows(t *testing.T) {
	bars := &fakeBarsModel{}
	svc := NewService(Config{SQLConn: testConn(), BarsModel: bars, TTL: testTTL()})

	end := time.Date(2026, 1, 5, 9, 20, 0, 0, time.UTC)
	input := []ohlcv.Bar{
		{Symbol: "NIFTY 50", Timeframe: ohlcv.Timeframe5m, End: end, Open: 100, High: 105, Low: 99, Close: 104, Volume: 42},
		{Symbol: "NIFTY 50", Timeframe: ohlcv.Timeframe5m, End: end.Add(5 * time.Minute), Open: 104, High: 106, Low: 103, Close: 105, Volume: 7},
	}
	if err := svc.SaveBars(context.Background(), input); err != nil {
		t.Fatalf("SaveBars: %v", err)
	}
	if len(bars.upserts) != 1 {
		t.Fatalf("expected one batch, got %d", len(bars.upserts))
	}
	rows := bars.upserts[0]
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
	if rows[0].Timeframe != "5m" || rows[0].Volume != 42 {
		t.Fatalf("row mapping wrong: %+v", rows[0])
	}
	if !rows[1].EndTs.Equal(end.Add(5 * time.Minute).UTC()) {
		t.Fatalf("end ts mapping wrong: %s", rows[1].EndTs)
	}
}

func TestSaveBarsEmptyIsNoop(t *testing.T) {
	bars := &fakeBarsModel{}
	svc := NewService(Config{SQLConn: testConn(), BarsModel: bars, TTL: testTTL()})
	if err := svc.SaveBars(context.Background(), nil); err != nil {
		t.Fatalf("SaveBars(nil): %v", err)
	}
	if len(bars.upserts) != 0 {
		t.Fatalf("unexpected upsert for empty batch")
	}
}

func TestLatestBarFallsBackToDatabase(t *testing.T) {
	bars := &fakeBarsModel{latest: &model.Bars{
		Symbol: "NIFTY 50", Timeframe: "5m",
		EndTs: time.Date(2026, 1, 5, 9, 25, 0, 0, time.UTC),
		Open:  100, High: 101, Low: 99, Close: 100.5, Volume: 10,
	}}
	svc := NewService(Config{SQLConn: testConn(), BarsModel: bars, TTL: testTTL()})

	bar, err := svc.LatestBar(context.Background(), "NIFTY 50", ohlcv.Timeframe5m)
	if err != nil {
		t.Fatalf("LatestBar: %v", err)
	}
	if bar.Timeframe != ohlcv.Timeframe5m || bar.Close != 100.5 {
		t.Fatalf("bar conversion wrong: %+v", bar)
	}
}

func TestLatestBarNotFound(t *testing.T) {
	svc := NewService(Config{SQLConn: testConn(), BarsModel: &fakeBarsModel{}, TTL: testTTL()})
	if _, err := svc.LatestBar(context.Background(), "NIFTY 50", ohlcv.Timeframe5m); err != model.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveFutOIBaseline(t *testing.T) {
	futoi := &fakeFutOiModel{}
	svc := NewService(Config{SQLConn: testConn(), FutOiModel: futoi, TTL: testTTL()})

	ts := time.Date(2026, 1, 5, 9, 16, 0, 0, time.UTC)
	rows := []market.FutOIRow{
		{Symbol: "NIFTY 50", Time: ts, Price: 22500, OI: 1_200_000, BaselineTag: "open"},
		{Symbol: "NIFTY BANK", Time: ts, Price: 43500, OI: 900_000},
	}
	if err := svc.SaveFutOI(context.Background(), rows); err != nil {
		t.Fatalf("SaveFutOI: %v", err)
	}
	if len(futoi.inserts) != 2 {
		t.Fatalf("expected 2 inserts, got %d", len(futoi.inserts))
	}
	if len(futoi.baselines) != 1 {
		t.Fatalf("only tagged rows should touch the baseline, got %d", len(futoi.baselines))
	}
	if futoi.baselines[0].Symbol != "NIFTY 50" || futoi.baselines[0].Tag != "open" {
		t.Fatalf("baseline mapping wrong: %+v", futoi.baselines[0])
	}
}

func TestSaveOptionChainMapsNullables(t *testing.T) {
	options := &fakeOptionModel{}
	svc := NewService(Config{SQLConn: testConn(), OptionModel: options, TTL: testTTL()})

	iv := 14.2
	oi := int64(5000)
	rows := []market.OptionRow{
		{Underlying: "NIFTY 50", Time: time.Now(), Expiry: "2026-01-08", Strike: 22500, Side: market.SideCall, LTP: 120.5, IV: &iv, OI: &oi},
		{Underlying: "NIFTY 50", Time: time.Now(), Expiry: "2026-01-08", Strike: 22500, Side: market.SidePut, LTP: 98.0},
	}
	if err := svc.SaveOptionChain(context.Background(), rows); err != nil {
		t.Fatalf("SaveOptionChain: %v", err)
	}
	if len(options.batches) != 1 || len(options.batches[0]) != 2 {
		t.Fatalf("expected one batch of 2, got %+v", options.batches)
	}
	call := options.batches[0][0]
	if !call.Iv.Valid || call.Iv.Float64 != 14.2 || !call.Oi.Valid {
		t.Fatalf("call nullable mapping wrong: %+v", call)
	}
	put := options.batches[0][1]
	if put.Iv.Valid || put.Side != "PE" {
		t.Fatalf("put nullable mapping wrong: %+v", put)
	}
}

func TestNilServiceIsSafe(t *testing.T) {
	var svc *Service
	if err := svc.SaveBars(context.Background(), []ohlcv.Bar{{Symbol: "X"}}); err != nil {
		t.Fatalf("nil service SaveBars: %v", err)
	}
	if err := svc.SaveBreadth(context.Background(), market.BreadthRow{}); err != nil {
		t.Fatalf("nil service SaveBreadth: %v", err)
	}
	svc.SaveLTP(context.Background(), map[string]float64{"NIFTY 50": 22500})
}
