package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// retryPolicy re-runs a conditional update when the backend reports a
// transient conflict rather than a real outcome. Backoff is jittered
// exponential starting at baseDelay.
type retryPolicy struct {
	retries   int
	baseDelay time.Duration
	retriable func(error) bool
}

var (
	pgUpdateRetry     = retryPolicy{retries: 3, baseDelay: 10 * time.Millisecond, retriable: pgConflict}
	sqliteUpdateRetry = retryPolicy{retries: 5, baseDelay: 5 * time.Millisecond, retriable: sqliteBusy}
)

// pgConflict matches serialization_failure and deadlock_detected.
func pgConflict(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// sqliteBusy matches SQLITE_BUSY and SQLITE_LOCKED, including their
// extended codes, which can outlast busy_timeout under WAL checkpoints.
func sqliteBusy(err error) bool {
	var sqErr *sqlite.Error
	if !errors.As(err, &sqErr) {
		return false
	}
	switch sqErr.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

func (p retryPolicy) do(ctx context.Context, fn func() error) error {
	delay := p.baseDelay
	var err error
	for attempt := range p.retries + 1 {
		err = fn()
		if err == nil || !p.retriable(err) || attempt == p.retries {
			return err
		}
		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
	return err
}
