package model

import (
	"context"
	"database/sql"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ OptionChainModel = (*defaultOptionChainModel)(nil)

type (
	// OptionChainModel stores option chain snapshots keyed by
	// (underlying, ts, expiry, strike, side).
	OptionChainModel interface {
		UpsertBatch(ctx context.Context, rows []*OptionChain) error
		FindSnapshot(ctx context.Context, underlying string, ts time.Time) ([]*OptionChain, error)
		FindLatestTs(ctx context.Context, underlying string) (time.Time, error)
	}

	defaultOptionChainModel struct {
		conn sqlx.SqlConn
	}

	OptionChain struct {
		Underlying string          `db:"underlying"`
		Ts         time.Time       `db:"ts"`
		Expiry     string          `db:"expiry"`
		Strike     float64         `db:"strike"`
		Side       string          `db:"side"`
		Ltp        float64         `db:"ltp"`
		Iv         sql.NullFloat64 `db:"iv"`
		Oi         sql.NullInt64   `db:"oi"`
		Doi        sql.NullInt64   `db:"doi"`
		Volume     sql.NullInt64   `db:"volume"`
		Delta      sql.NullFloat64 `db:"delta"`
		Gamma      sql.NullFloat64 `db:"gamma"`
		Theta      sql.NullFloat64 `db:"theta"`
		Vega       sql.NullFloat64 `db:"vega"`
	}
)

// NewOptionChainModel returns a model for the option_chain table.
func NewOptionChainModel(conn sqlx.SqlConn) OptionChainModel {
	return &defaultOptionChainModel{conn: conn}
}

const upsertOptionRowQuery = `
INSERT INTO public.option_chain (
    underlying, ts, expiry, strike, side, ltp,
    iv, oi, doi, volume, delta, gamma, theta, vega, created_at
) VALUES (
    $1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, NOW()
)
ON CONFLICT (underlying, ts, expiry, strike, side) DO UPDATE SET
    ltp = EXCLUDED.ltp,
    iv = EXCLUDED.iv,
    oi = EXCLUDED.oi,
    doi = EXCLUDED.doi,
    volume = EXCLUDED.volume,
    delta = EXCLUDED.delta,
    gamma = EXCLUDED.gamma,
    theta = EXCLUDED.theta,
    vega = EXCLUDED.vega;`

func (m *defaultOptionChainModel) UpsertBatch(ctx context.Context, rows []*OptionChain) error {
	if len(rows) == 0 {
		return nil
	}
	return m.conn.TransactCtx(ctx, func(ctx context.Context, session sqlx.Session) error {
		for _, row := range rows {
			if _, err := session.ExecCtx(ctx, upsertOptionRowQuery,
				row.Underlying, row.Ts.UTC(), row.Expiry, row.Strike, row.Side, row.Ltp,
				row.Iv, row.Oi, row.Doi, row.Volume,
				row.Delta, row.Gamma, row.Theta, row.Vega); err != nil {
				return err
			}
		}
		return nil
	})
}

func (m *defaultOptionChainModel) FindSnapshot(ctx context.Context, underlying string, ts time.Time) ([]*OptionChain, error) {
	query := `
SELECT underlying, ts, expiry, strike, side, ltp, iv, oi, doi, volume, delta, gamma, theta, vega
FROM public.option_chain
WHERE underlying = $1 AND ts = $2
ORDER BY expiry ASC, strike ASC, side ASC`
	var rows []*OptionChain
	err := m.conn.QueryRowsCtx(ctx, &rows, query, underlying, ts.UTC())
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (m *defaultOptionChainModel) FindLatestTs(ctx context.Context, underlying string) (time.Time, error) {
	query := `
SELECT ts
FROM public.option_chain
WHERE underlying = $1
ORDER BY ts DESC
LIMIT 1`
	var ts time.Time
	err := m.conn.QueryRowCtx(ctx, &ts, query, underlying)
	switch err {
	case nil:
		return ts, nil
	case sqlx.ErrNotFound:
		return time.Time{}, ErrNotFound
	default:
		return time.Time{}, err
	}
}
