package model

import (
	"context"
	"database/sql"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ FutOiModel = (*defaultFutOiModel)(nil)

type (
	// FutOiModel stores futures open-interest snapshots plus a per-symbol
	// session baseline row used to compute OI change intraday.
	FutOiModel interface {
		Insert(ctx context.Context, row *FutOi) error
		FindLatest(ctx context.Context, symbol string) (*FutOi, error)
		UpsertBaseline(ctx context.Context, row *FutOiBaseline) error
		FindBaseline(ctx context.Context, symbol string) (*FutOiBaseline, error)
	}

	defaultFutOiModel struct {
		conn sqlx.SqlConn
	}

	FutOi struct {
		Symbol      string         `db:"symbol"`
		Ts          time.Time      `db:"ts"`
		Price       float64        `db:"price"`
		Oi          int64          `db:"oi"`
		BaselineTag sql.NullString `db:"baseline_tag"`
	}

	FutOiBaseline struct {
		Symbol string    `db:"symbol"`
		Ts     time.Time `db:"ts"`
		Oi     int64     `db:"oi"`
		Tag    string    `db:"tag"`
	}
)

// NewFutOiModel returns a model for the fut_oi tables.
func NewFutOiModel(conn sqlx.SqlConn) FutOiModel {
	return &defaultFutOiModel{conn: conn}
}

// Insert records one snapshot. A duplicate (symbol, ts) means the job
// replayed an interval it already covered; the unique violation is swallowed
// so replays stay idempotent without rewriting the stored row.
func (m *defaultFutOiModel) Insert(ctx context.Context, row *FutOi) error {
	query := `
INSERT INTO public.fut_oi (symbol, ts, price, oi, baseline_tag, created_at)
VALUES ($1, $2, $3, $4, $5, NOW());`
	_, err := m.conn.ExecCtx(ctx, query, row.Symbol, row.Ts.UTC(), row.Price, row.Oi, row.BaselineTag)
	if IsUniqueViolation(err) {
		return nil
	}
	return err
}

func (m *defaultFutOiModel) FindLatest(ctx context.Context, symbol string) (*FutOi, error) {
	query := `
SELECT symbol, ts, price, oi, baseline_tag
FROM public.fut_oi
WHERE symbol = $1
ORDER BY ts DESC
LIMIT 1`
	var row FutOi
	err := m.conn.QueryRowCtx(ctx, &row, query, symbol)
	switch err {
	case nil:
		return &row, nil
	case sqlx.ErrNotFound:
		return nil, ErrNotFound
	default:
		return nil, err
	}
}

// UpsertBaseline advances the baseline only for newer snapshots, so replays
// of stale data cannot move it backwards.
func (m *defaultFutOiModel) UpsertBaseline(ctx context.Context, row *FutOiBaseline) error {
	query := `
INSERT INTO public.fut_oi_baseline (symbol, ts, oi, tag, updated_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (symbol) DO UPDATE SET
    ts = EXCLUDED.ts,
    oi = EXCLUDED.oi,
    tag = EXCLUDED.tag,
    updated_at = NOW()
WHERE public.fut_oi_baseline.ts < EXCLUDED.ts;`
	_, err := m.conn.ExecCtx(ctx, query, row.Symbol, row.Ts.UTC(), row.Oi, row.Tag)
	return err
}

func (m *defaultFutOiModel) FindBaseline(ctx context.Context, symbol string) (*FutOiBaseline, error) {
	query := `
SELECT symbol, ts, oi, tag
FROM public.fut_oi_baseline
WHERE symbol = $1`
	var row FutOiBaseline
	err := m.conn.QueryRowCtx(ctx, &row, query, symbol)
	switch err {
	case nil:
		return &row, nil
	case sqlx.ErrNotFound:
		return nil, ErrNotFound
	default:
		return nil, err
	}
}
