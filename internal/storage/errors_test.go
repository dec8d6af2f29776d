package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ctrlsys/ctrlsys/internal/model"
)

func TestWrapTagsUnavailable(t *testing.T) {
	for name, err := range map[string]error{
		"conn done":         sql.ErrConnDone,
		"database closed":   errors.New("sql: database is closed"),
		"deadline exceeded": fmt.Errorf("query: %w", context.DeadlineExceeded),
	} {
		t.Run(name, func(t *testing.T) {
			wrapped := wrap("get timer", err)
			assert.ErrorIs(t, wrapped, model.ErrUnavailable)
			assert.ErrorIs(t, wrapped, err)
		})
	}

	assert.NotErrorIs(t, wrap("get timer", sql.ErrNoRows), model.ErrUnavailable)
	assert.NotErrorIs(t, wrap("create timer", errors.New("UNIQUE constraint failed")), model.ErrUnavailable)
}
