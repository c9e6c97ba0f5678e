package model

import (
	"errors"

	"github.com/lib/pq"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
)

// ErrNotFound is returned when a lookup matches no rows.
var ErrNotFound = sqlx.ErrNotFound

// IsUniqueViolation reports whether err is a Postgres duplicate-key error,
// unwrapping as needed. Snapshot inserts treat it as a replay, not a failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pq.Error
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
