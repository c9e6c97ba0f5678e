package model

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ VixModel = (*defaultVixModel)(nil)

type (
	// VixModel stores India VIX readings keyed by timestamp.
	VixModel interface {
		Upsert(ctx context.Context, row *Vix) error
		FindLatest(ctx context.Context) (*Vix, error)
	}

	defaultVixModel struct {
		conn sqlx.SqlConn
	}

	Vix struct {
		Ts    time.Time `db:"ts"`
		Value float64   `db:"value"`
	}
)

// NewVixModel returns a model for the vix table.
func NewVixModel(conn sqlx.SqlConn) VixModel {
	return &defaultVixModel{conn: conn}
}

func (m *defaultVixModel) Upsert(ctx context.Context, row *Vix) error {
	query := `
INSERT INTO public.vix (ts, value, created_at)
VALUES ($1, $2, NOW())
ON CONFLICT (ts) DO UPDATE SET
    value = EXCLUDED.value;`
	_, err := m.conn.ExecCtx(ctx, query, row.Ts.UTC(), row.Value)
	return err
}

func (m *defaultVixModel) FindLatest(ctx context.Context) (*Vix, error) {
	query := `
SELECT ts, value
FROM public.vix
ORDER BY ts DESC
LIMIT 1`
	var row Vix
	err := m.conn.QueryRowCtx(ctx, &row, query)
	switch err {
	case nil:
		return &row, nil
	case sqlx.ErrNotFound:
		return nil, ErrNotFound
	default:
		return nil, err
	}
}
