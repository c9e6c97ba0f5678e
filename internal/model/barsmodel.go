package model

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ BarsModel = (*defaultBarsModel)(nil)

type (
	// BarsModel persists completed OHLCV bars. Writes are idempotent upserts
	// keyed by (symbol, timeframe, end_ts) so re-running an ingestion window
	// converges instead of duplicating rows.
	BarsModel interface {
		Upsert(ctx context.Context, row *Bars) error
		UpsertBatch(ctx context.Context, rows []*Bars) error
		FindRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]*Bars, error)
		FindLatest(ctx context.Context, symbol, timeframe string) (*Bars, error)
	}

	defaultBarsModel struct {
		conn sqlx.SqlConn
	}

	Bars struct {
		Symbol    string    `db:"symbol"`
		Timeframe string    `db:"timeframe"`
		EndTs     time.Time `db:"end_ts"`
		Open      float64   `db:"open"`
		High      float64   `db:"high"`
		Low       float64   `db:"low"`
		Close     float64   `db:"close"`
		Volume    int64     `db:"volume"`
	}
)

// NewBarsModel returns a model for the bars table.
func NewBarsModel(conn sqlx.SqlConn) BarsModel {
	return &defaultBarsModel{conn: conn}
}

const upsertBarQuery = `
INSERT INTO public.bars (symbol, timeframe, end_ts, open, high, low, close, volume, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
ON CONFLICT (symbol, timeframe, end_ts) DO UPDATE SET
    open = EXCLUDED.open,
    high = EXCLUDED.high,
    low = EXCLUDED.low,
    close = EXCLUDED.close,
    volume = EXCLUDED.volume,
    updated_at = NOW();`

func (m *defaultBarsModel) Upsert(ctx context.Context, row *Bars) error {
	_, err := m.conn.ExecCtx(ctx, upsertBarQuery,
		row.Symbol, row.Timeframe, row.EndTs.UTC(),
		row.Open, row.High, row.Low, row.Close, row.Volume)
	return err
}

// UpsertBatch writes all rows in one transaction so a partially applied
// flush never becomes visible.
func (m *defaultBarsModel) UpsertBatch(ctx context.Context, rows []*Bars) error {
	if len(rows) == 0 {
		return nil
	}
	return m.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		for _, row := range rows {
			if _, err := session.ExecCtx(ctx, upsertBarQuery,
				row.Symbol, row.Timeframe, row.EndTs.UTC(),
				row.Open, row.High, row.Low, row.Close, row.Volume); err != nil {
				return err
			}
		}
		return nil
	})
}

// FindRange returns bars with from < end_ts <= to in ascending end order.
func (m *defaultBarsModel) FindRange(ctx context.Context, symbol, timeframe string, from, to time.Time) ([]*Bars, error) {
	query := `
SELECT symbol, timeframe, end_ts, open, high, low, close, volume
FROM public.bars
WHERE symbol = $1 AND timeframe = $2 AND end_ts > $3 AND end_ts <= $4
ORDER BY end_ts ASC`
	var rows []*Bars
	err := m.conn.QueryRowsCtx(ctx, &rows, query, symbol, timeframe, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultBarsModel) FindLatest(ctx context.Context, symbol, timeframe string) (*Bars, error) {
	query := `
SELECT symbol, timeframe, end_ts, open, high, low, close, volume
FROM public.bars
WHERE symbol = $1 AND timeframe = $2
ORDER BY end_ts DESC
LIMIT 1`
	var row Bars
	err := m.conn.QueryRowCtx(ctx, &row, query, symbol, timeframe)
	switch err {
	case nil:
		return &row, nil
	case sqlx.ErrNotFound:
		return nil, ErrNotFound
	default:
		return nil, err
	}
}
