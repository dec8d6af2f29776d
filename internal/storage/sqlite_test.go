package storage_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/storage"
	"github.com/ctrlsys/ctrlsys/internal/testutil"
	"github.com/ctrlsys/ctrlsys/migrations"
)

func TestSQLiteLockedDatabaseIsUnavailable(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "timers.db")

	s, err := storage.OpenSQLite(ctx, path, storage.Options{SQLiteBusyTimeout: 50 * time.Millisecond}, testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { s.Close(ctx) })
	require.NoError(t, s.RunMigrations(ctx, migrations.SQLite()))

	other, err := sql.Open("sqlite", path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = other.Close() })
	conn, err := other.Conn(ctx)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	_, err = conn.ExecContext(ctx, "BEGIN EXCLUSIVE")
	require.NoError(t, err)

	_, err = s.CreateTimer(ctx, model.NewTimer{Name: "tea", DurationSeconds: 60}, time.Now())
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnavailable)

	_, err = conn.ExecContext(ctx, "ROLLBACK")
	require.NoError(t, err)
	_, err = s.CreateTimer(ctx, model.NewTimer{Name: "tea", DurationSeconds: 60}, time.Now())
	assert.NoError(t, err)
}

func TestSQLiteClosedStoreIsUnavailable(t *testing.T) {
	ctx := context.Background()
	s, err := testutil.NewSQLiteStore(ctx, storage.Options{}, testutil.TestLogger())
	require.NoError(t, err)
	s.Close(ctx)

	_, err = s.GetTimer(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrUnavailable)
	assert.NotErrorIs(t, err, model.ErrNotFound)

	assert.ErrorIs(t, s.Ping(ctx), model.ErrUnavailable)
}
