package model

import (
	"context"
	"time"

	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

var _ BreadthModel = (*defaultBreadthModel)(nil)

type (
	// BreadthModel stores market breadth snapshots keyed by timestamp.
	BreadthModel interface {
		Upsert(ctx context.Context, row *Breadth) error
		FindLatest(ctx context.Context) (*Breadth, error)
	}

	defaultBreadthModel struct {
		conn sqlx.SqlConn
	}

	Breadth struct {
		Ts        time.Time `db:"ts"`
		Advances  int64     `db:"advances"`
		Declines  int64     `db:"declines"`
		Unchanged int64     `db:"unchanged"`
	}
)

// NewBreadthModel returns a model for the breadth table.
func NewBreadthModel(conn sqlx.SqlConn) BreadthModel {
	return &defaultBreadthModel{conn: conn}
}

func (m *defaultBreadthModel) Upsert(ctx context.Context, row *Breadth) error {
	query := `
INSERT INTO public.breadth (ts, advances, declines, unchanged, created_at)
VALUES ($1, $2, $3, $4, NOW())
ON CONFLICT (ts) DO UPDATE SET
    advances = EXCLUDED.advances,
    declines = EXCLUDED.declines,
    unchanged = EXCLUDED.unchanged;`
	_, err := m.conn.ExecCtx(ctx, query, row.Ts.UTC(), row.Advances, row.Declines, row.Unchanged)
	return err
}

func (m *defaultBreadthModel) FindLatest(ctx context.Context) (*Breadth, error) {
	query := `
SELECT ts, advances, declines, unchanged
FROM public.breadth
ORDER BY ts DESC
LIMIT 1`
	var row Breadth
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
