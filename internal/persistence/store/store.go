package store

import (
	"context"
	"database/sql"
	"strings"
	"time"

	"github.com/zeromicro/go-zero/core/logx"
	gocache "github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"

	cachekeys "marketspine/internal/cache"
	"marketspine/internal/model"
	"marketspine/pkg/market"
	"marketspine/pkg/ohlcv"
)

const defaultCacheTTL = time.Minute

// Service persists bars and market snapshots to Postgres and mirrors the
// hot rows into Redis. All write paths are idempotent so jobs can replay a
// window after a crash without corrupting stored data.
type Service struct {
	sqlConn      sqlx.SqlConn
	barsModel    model.BarsModel
	futOiModel   model.FutOiModel
	optionModel  model.OptionChainModel
	breadthModel model.BreadthModel
	vixModel     model.VixModel
	cache        gocache.Cache
	ttl          cachekeys.TTLSet
}

// Config enumerates dependencies required to persist ingestion output.
type Config struct {
	SQLConn      sqlx.SqlConn
	BarsModel    model.BarsModel
	FutOiModel   model.FutOiModel
	OptionModel  model.OptionChainModel
	BreadthModel model.BreadthModel
	VixModel     model.VixModel
	Cache        gocache.Cache
	TTL          cachekeys.TTLSet
}

// NewService wires a persistence service. Returns nil when the SQL
// connection is missing so callers can treat storage as optional.
func NewService(cfg Config) *Service {
	if cfg.SQLConn == nil {
		return nil
	}
	return &Service{
		sqlConn:      cfg.SQLConn,
		barsModel:    cfg.BarsModel,
		futOiModel:   cfg.FutOiModel,
		optionModel:  cfg.OptionModel,
		breadthModel: cfg.BreadthModel,
		vixModel:     cfg.VixModel,
		cache:        cfg.Cache,
		ttl:          cfg.TTL,
	}
}

// SaveBars upserts completed bars and refreshes the latest-bar cache for
// each (symbol, timeframe) present in the batch.
func (s *Service) SaveBars(ctx context.Context, bars []ohlcv.Bar) error {
	if s == nil || s.barsModel == nil || len(bars) == 0 {
		return nil
	}
	rows := make([]*model.Bars, 0, len(bars))
	latest := make(map[string]ohlcv.Bar, len(bars))
	for _, bar := range bars {
		rows = append(rows, &model.Bars{
			Symbol:    bar.Symbol,
			Timeframe: bar.Timeframe.String(),
			EndTs:     bar.End,
			Open:      bar.Open,
			High:      bar.High,
			Low:       bar.Low,
			Close:     bar.Close,
			Volume:    bar.Volume,
		})
		key := bar.Symbol + "|" + bar.Timeframe.String()
		if prev, ok := latest[key]; !ok || bar.End.After(prev.End) {
			latest[key] = bar
		}
	}
	if err := s.barsModel.UpsertBatch(ctx, rows); err != nil {
		return err
	}
	for _, bar := range latest {
		s.cacheLatestBar(ctx, bar)
	}
	return nil
}

// LatestBar reads the newest completed bar, preferring the cache.
func (s *Service) LatestBar(ctx context.Context, symbol string, tf ohlcv.Timeframe) (*ohlcv.Bar, error) {
	if s == nil || s.barsModel == nil {
		return nil, model.ErrNotFound
	}
	if s.cache != nil {
		var bar ohlcv.Bar
		err := s.cache.GetCtx(ctx, cachekeys.LatestBarKey(symbol, tf), &bar)
		if err == nil && bar.Symbol != "" {
			return &bar, nil
		}
		if err != nil && !s.cache.IsNotFound(err) {
			logx.WithContext(ctx).Errorf("store: latest bar cache read symbol=%s tf=%s err=%v", symbol, tf, err)
		}
	}
	row, err := s.barsModel.FindLatest(ctx, symbol, tf.String())
	if err != nil {
		return nil, err
	}
	bar := barFromRow(row)
	s.cacheLatestBar(ctx, bar)
	return &bar, nil
}

// BarsBetween returns stored bars with from < end <= to in ascending order.
func (s *Service) BarsBetween(ctx context.Context, symbol string, tf ohlcv.Timeframe, from, to time.Time) ([]ohlcv.Bar, error) {
	if s == nil || s.barsModel == nil {
		return nil, nil
	}
	rows, err := s.barsModel.FindRange(ctx, symbol, tf.String(), from, to)
	if err != nil {
		return nil, err
	}
	bars := make([]ohlcv.Bar, 0, len(rows))
	for _, row := range rows {
		bars = append(bars, barFromRow(row))
	}
	return bars, nil
}

// SaveFutOI records futures open-interest snapshots. Rows carrying a
// baseline tag also advance the per-symbol session baseline.
func (s *Service) SaveFutOI(ctx context.Context, rows []market.FutOIRow) error {
	if s == nil || s.futOiModel == nil || len(rows) == 0 {
		return nil
	}
	for _, row := range rows {
		if strings.TrimSpace(row.Symbol) == "" {
			continue
		}
		rec := &model.FutOi{
			Symbol: row.Symbol,
			Ts:     row.Time,
			Price:  row.Price,
			Oi:     row.OI,
		}
		if tag := strings.TrimSpace(row.BaselineTag); tag != "" {
			rec.BaselineTag = sql.NullString{String: tag, Valid: true}
		}
		if err := s.futOiModel.Insert(ctx, rec); err != nil {
			return err
		}
		if rec.BaselineTag.Valid {
			baseline := &model.FutOiBaseline{
				Symbol: row.Symbol,
				Ts:     row.Time,
				Oi:     row.OI,
				Tag:    rec.BaselineTag.String,
			}
			if err := s.futOiModel.UpsertBaseline(ctx, baseline); err != nil {
				return err
			}
		}
		s.cacheJSON(ctx, cachekeys.FutOIKey(row.Symbol), row, cachekeys.FutOITTL(s.ttl))
	}
	return nil
}

// SaveOptionChain upserts one chain snapshot and caches it per underlying.
func (s *Service) SaveOptionChain(ctx context.Context, rows []market.OptionRow) error {
	if s == nil || s.optionModel == nil || len(rows) == 0 {
		return nil
	}
	recs := make([]*model.OptionChain, 0, len(rows))
	byUnderlying := make(map[string][]market.OptionRow)
	for _, row := range rows {
		if strings.TrimSpace(row.Underlying) == "" {
			continue
		}
		recs = append(recs, optionRowToModel(row))
		byUnderlying[row.Underlying] = append(byUnderlying[row.Underlying], row)
	}
	if err := s.optionModel.UpsertBatch(ctx, recs); err != nil {
		return err
	}
	for underlying, chain := range byUnderlying {
		s.cacheJSON(ctx, cachekeys.OptionChainKey(underlying), chain, cachekeys.OptionChainTTL(s.ttl))
	}
	return nil
}

// SaveBreadth upserts one breadth reading.
func (s *Service) SaveBreadth(ctx context.Context, row market.BreadthRow) error {
	if s == nil || s.breadthModel == nil {
		return nil
	}
	err := s.breadthModel.Upsert(ctx, &model.Breadth{
		Ts:        row.Time,
		Advances:  int64(row.Advances),
		Declines:  int64(row.Declines),
		Unchanged: int64(row.Unchanged),
	})
	if err != nil {
		return err
	}
	s.cacheJSON(ctx, cachekeys.BreadthKey(), row, cachekeys.BreadthTTL(s.ttl))
	return nil
}

// SaveVIX upserts one VIX reading.
func (s *Service) SaveVIX(ctx context.Context, row market.VIXRow) error {
	if s == nil || s.vixModel == nil {
		return nil
	}
	if err := s.vixModel.Upsert(ctx, &model.Vix{Ts: row.Time, Value: row.Value}); err != nil {
		return err
	}
	s.cacheJSON(ctx, cachekeys.VIXKey(), row, cachekeys.VIXTTL(s.ttl))
	return nil
}

// SaveLTP mirrors last traded prices to Redis only; they are transient.
func (s *Service) SaveLTP(ctx context.Context, prices map[string]float64) {
	if s == nil || s.cache == nil {
		return
	}
	for symbol, price := range prices {
		s.cacheJSON(ctx, cachekeys.LTPKey(symbol), price, cachekeys.LTPTTL(s.ttl))
	}
}

// SaveContext mirrors the assembled context document to Redis only.
func (s *Service) SaveContext(ctx context.Context, doc any) {
	if s == nil || s.cache == nil {
		return
	}
	s.cacheJSON(ctx, cachekeys.ContextKey(), doc, cachekeys.ContextTTL(s.ttl))
}

func (s *Service) cacheLatestBar(ctx context.Context, bar ohlcv.Bar) {
	s.cacheJSON(ctx, cachekeys.LatestBarKey(bar.Symbol, bar.Timeframe), bar, cachekeys.LatestBarTTL(s.ttl))
}

func (s *Service) cacheJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	if s.cache == nil {
		return
	}
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	if err := s.cache.SetWithExpireCtx(ctx, key, value, ttl); err != nil {
		logx.WithContext(ctx).Errorf("store: set cache key=%s err=%v", key, err)
	}
}

func barFromRow(row *model.Bars) ohlcv.Bar {
	tf, _ := ohlcv.ParseTimeframe(row.Timeframe)
	return ohlcv.Bar{
		Symbol:    row.Symbol,
		Timeframe: tf,
		End:       row.EndTs,
		Open:      row.Open,
		High:      row.High,
		Low:       row.Low,
		Close:     row.Close,
		Volume:    row.Volume,
	}
}

func optionRowToModel(row market.OptionRow) *model.OptionChain {
	rec := &model.OptionChain{
		Underlying: row.Underlying,
		Ts:         row.Time,
		Expiry:     row.Expiry,
		Strike:     row.Strike,
		Side:       string(row.Side),
		Ltp:        row.LTP,
	}
	rec.Iv = nullFloat(row.IV)
	rec.Oi = nullInt(row.OI)
	rec.Doi = nullInt(row.DOI)
	rec.Volume = nullInt(row.Volume)
	rec.Delta = nullFloat(row.Delta)
	rec.Gamma = nullFloat(row.Gamma)
	rec.Theta = nullFloat(row.Theta)
	rec.Vega = nullFloat(row.Vega)
	return rec
}

func nullFloat(v *float64) sql.NullFloat64 {
	if v == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *v, Valid: true}
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}
