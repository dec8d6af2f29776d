package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
)

func TestRetryPolicyRetriesConflicts(t *testing.T) {
	p := retryPolicy{retries: 3, baseDelay: time.Millisecond, retriable: pgConflict}

	calls := 0
	err := p.do(context.Background(), func() error {
		calls++
		if calls < 3 {
			return fmt.Errorf("update: %w", &pgconn.PgError{Code: "40001"})
		}
		return nil
	})
	assert.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyGivesUp(t *testing.T) {
	p := retryPolicy{retries: 2, baseDelay: time.Millisecond, retriable: pgConflict}

	calls := 0
	err := p.do(context.Background(), func() error {
		calls++
		return &pgconn.PgError{Code: "40P01"}
	})
	assert.True(t, pgConflict(err))
	assert.Equal(t, 3, calls)
}

func TestRetryPolicyStopsOnOtherErrors(t *testing.T) {
	p := retryPolicy{retries: 3, baseDelay: time.Millisecond, retriable: pgConflict}
	boom := errors.New("boom")

	calls := 0
	err := p.do(context.Background(), func() error {
		calls++
		return boom
	})
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, calls)
	assert.False(t, pgConflict(&pgconn.PgError{Code: "23505"}))
	assert.False(t, sqliteBusy(boom))
}

func TestRetryPolicyHonoursContext(t *testing.T) {
	p := retryPolicy{retries: 5, baseDelay: time.Hour, retriable: pgConflict}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := p.do(ctx, func() error { return &pgconn.PgError{Code: "40001"} })
	assert.ErrorIs(t, err, context.Canceled)
}
