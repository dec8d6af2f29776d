package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/ctrlsys/ctrlsys/internal/model"
)

// SQLiteStore is a single-node TimerStore backed by an SQLite file.
// Timestamps are stored as Unix nanoseconds and labels as JSON text. The
// pool is limited to one connection, so every UPDATE is serialized and the
// conditional WHERE clauses are sufficient for compare-and-set.
type SQLiteStore struct {
	db     *sql.DB
	opts   Options
	logger *slog.Logger
}

var _ TimerStore = (*SQLiteStore)(nil)

// OpenSQLite opens (creating if needed) the database at path. Use ":memory:"
// for a private in-process database.
func OpenSQLite(ctx context.Context, path string, opts Options, logger *slog.Logger) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("%s?_pragma=busy_timeout(%d)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)",
		path, opts.busyTimeout().Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetConnMaxIdleTime(0)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("storage: ping sqlite: %w", err)
	}
	return &SQLiteStore{db: db, opts: opts, logger: logger}, nil
}

// RunMigrations applies the SQLite migrations in migrationsFS.
func (s *SQLiteStore) RunMigrations(ctx context.Context, migrationsFS fs.FS) error {
	return runMigrations(ctx, sqliteMigrations{s}, migrationsFS, s.logger)
}

type sqliteMigrations struct{ s *SQLiteStore }

func (m sqliteMigrations) ensureMigrationsTable(ctx context.Context) error {
	_, err := m.s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version TEXT PRIMARY KEY,
			applied_at INTEGER NOT NULL
		)
	`)
	return err
}

func (m sqliteMigrations) appliedMigrations(ctx context.Context) (map[string]bool, error) {
	rows, err := m.s.db.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

func (m sqliteMigrations) applyMigration(ctx context.Context, name, content string) error {
	tx, err := m.s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, content); err != nil {
		return err
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT OR IGNORE INTO schema_migrations (version, applied_at) VALUES (?, ?)`,
		name, time.Now().UnixNano(),
	); err != nil {
		return err
	}
	return tx.Commit()
}

const sqliteTimerColumns = `id, name, duration_seconds, status, labels, created_by,
	created_at, started_at, expires_at, completed_at`

func toNanos(t time.Time) int64 { return t.UTC().UnixNano() }

func fromNanos(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := time.Unix(0, n.Int64).UTC()
	return &t
}

func encodeLabels(labels map[string]string) (string, error) {
	if labels == nil {
		labels = map[string]string{}
	}
	b, err := json.Marshal(labels)
	if err != nil {
		return "", fmt.Errorf("storage: encode labels: %w", err)
	}
	return string(b), nil
}

func decodeLabels(raw string) (map[string]string, error) {
	labels := map[string]string{}
	if raw == "" {
		return labels, nil
	}
	if err := json.Unmarshal([]byte(raw), &labels); err != nil {
		return nil, fmt.Errorf("storage: decode labels: %w", err)
	}
	return labels, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteTimer(row rowScanner) (model.Timer, error) {
	var (
		t                             model.Timer
		id, status, labels            string
		created                       int64
		started, expires, completedAt sql.NullInt64
	)
	if err := row.Scan(&id, &t.Name, &t.DurationSeconds, &status, &labels, &t.CreatedBy,
		&created, &started, &expires, &completedAt); err != nil {
		return model.Timer{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return model.Timer{}, fmt.Errorf("storage: parse timer id %q: %w", id, err)
	}
	t.ID = parsed
	t.Status = model.TimerStatus(status)
	if t.Labels, err = decodeLabels(labels); err != nil {
		return model.Timer{}, err
	}
	t.CreatedAt = time.Unix(0, created).UTC()
	t.StartedAt = fromNanos(started)
	t.ExpiresAt = fromNanos(expires)
	t.CompletedAt = fromNanos(completedAt)
	return t, nil
}

func (s *SQLiteStore) CreateTimer(ctx context.Context, nt model.NewTimer, now time.Time) (model.Timer, error) {
	t := newTimer(nt, now)
	labels, err := encodeLabels(t.Labels)
	if err != nil {
		return model.Timer{}, err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO timers (id, name, duration_seconds, status, labels, created_by, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID.String(), t.Name, t.DurationSeconds, string(t.Status), labels, t.CreatedBy, toNanos(t.CreatedAt),
	)
	if err != nil {
		return model.Timer{}, wrap("create timer", err)
	}
	return t, nil
}

func (s *SQLiteStore) GetTimer(ctx context.Context, id uuid.UUID) (model.Timer, error) {
	t, err := scanSQLiteTimer(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteTimerColumns+` FROM timers WHERE id = ?`, id.String()))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.Timer{}, ErrNotFound
		}
		return model.Timer{}, wrap("get timer", err)
	}
	return t, nil
}

func (s *SQLiteStore) ListTimers(ctx context.Context, now time.Time) ([]model.Timer, error) {
	cutoff := toNanos(now.Add(-s.opts.retention()))
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteTimerColumns+` FROM timers
		 WHERE status IN ('pending', 'running')
		    OR COALESCE(completed_at, created_at) >= ?
		 ORDER BY
		    CASE status
		        WHEN 'running' THEN 1
		        WHEN 'pending' THEN 2
		        WHEN 'completed' THEN 3
		        WHEN 'cancelled' THEN 4
		    END,
		    created_at DESC`,
		cutoff,
	)
	if err != nil {
		return nil, wrap("list timers", err)
	}
	return s.collect(rows, "list timers")
}

func (s *SQLiteStore) collect(rows *sql.Rows, op string) ([]model.Timer, error) {
	defer func() { _ = rows.Close() }()
	timers := []model.Timer{}
	for rows.Next() {
		t, err := scanSQLiteTimer(rows)
		if err != nil {
			return nil, wrap(op, err)
		}
		timers = append(timers, t)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap(op, err)
	}
	return timers, nil
}

func (s *SQLiteStore) StartTimer(ctx context.Context, id uuid.UUID, now time.Time) (model.Timer, bool, error) {
	started := toNanos(now)
	var t model.Timer
	err := sqliteUpdateRetry.do(ctx, func() error {
		var err error
		t, err = scanSQLiteTimer(s.db.QueryRowContext(ctx,
			`UPDATE timers
			 SET status = 'running',
			     started_at = ?1,
			     expires_at = ?1 + duration_seconds * 1000000000
			 WHERE id = ?2 AND status = 'pending'
			 RETURNING `+sqliteTimerColumns,
			started, id.String(),
		))
		return err
	})
	switch {
	case err == nil:
		return t, true, nil
	case errors.Is(err, sql.ErrNoRows):
		current, gerr := s.GetTimer(ctx, id)
		return current, false, gerr
	default:
		return model.Timer{}, false, wrap("start timer", err)
	}
}

func (s *SQLiteStore) CancelTimer(ctx context.Context, id uuid.UUID, now time.Time) (model.Timer, bool, error) {
	var t model.Timer
	err := sqliteUpdateRetry.do(ctx, func() error {
		var err error
		t, err = scanSQLiteTimer(s.db.QueryRowContext(ctx,
			`UPDATE timers
			 SET status = 'cancelled', completed_at = ?
			 WHERE id = ? AND status IN ('pending', 'running')
			 RETURNING `+sqliteTimerColumns,
			toNanos(now), id.String(),
		))
		return err
	})
	switch {
	case err == nil:
		return t, true, nil
	case errors.Is(err, sql.ErrNoRows):
		current, gerr := s.GetTimer(ctx, id)
		if gerr != nil {
			return model.Timer{}, false, gerr
		}
		return cancelConflict(current)
	default:
		return model.Timer{}, false, wrap("cancel timer", err)
	}
}

func (s *SQLiteStore) SweepExpired(ctx context.Context, now time.Time) ([]model.Timer, error) {
	rows, err := s.db.QueryContext(ctx,
		`UPDATE timers
		 SET status = 'completed', completed_at = ?1
		 WHERE status = 'running' AND expires_at <= ?1
		 RETURNING `+sqliteTimerColumns,
		toNanos(now),
	)
	if err != nil {
		return nil, wrap("sweep expired", err)
	}
	return s.collect(rows, "sweep expired")
}

func (s *SQLiteStore) DeleteTimer(ctx context.Context, id uuid.UUID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM timers WHERE id = ?`, id.String())
	if err != nil {
		return wrap("delete timer", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return wrap("delete timer", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLiteStore) RecordJobReport(ctx context.Context, r model.JobReport) (bool, error) {
	labels, err := encodeLabels(r.Labels)
	if err != nil {
		return false, err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO timer_job_reports
		    (timer_id, name, labels, created_by, duration_seconds, total_duration_seconds,
		     job_created_at, completed_at, received_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (timer_id) DO NOTHING`,
		r.TimerID, r.Name, labels, r.CreatedBy, r.DurationSeconds, r.TotalDurationSeconds,
		toNanos(r.JobCreatedAt), toNanos(r.CompletedAt), toNanos(r.ReceivedAt),
	)
	if err != nil {
		return false, wrap("record job report", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, wrap("record job report", err)
	}
	return n == 1, nil
}

func (s *SQLiteStore) GetJobReport(ctx context.Context, timerID string) (model.JobReport, error) {
	var (
		r                               model.JobReport
		labels                          string
		jobCreated, completed, received int64
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT timer_id, name, labels, created_by, duration_seconds, total_duration_seconds,
		        job_created_at, completed_at, received_at
		 FROM timer_job_reports WHERE timer_id = ?`, timerID,
	).Scan(&r.TimerID, &r.Name, &labels, &r.CreatedBy, &r.DurationSeconds, &r.TotalDurationSeconds,
		&jobCreated, &completed, &received)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.JobReport{}, ErrNotFound
		}
		return model.JobReport{}, wrap("get job report", err)
	}
	if r.Labels, err = decodeLabels(labels); err != nil {
		return model.JobReport{}, err
	}
	r.JobCreatedAt = time.Unix(0, jobCreated).UTC()
	r.CompletedAt = time.Unix(0, completed).UTC()
	r.ReceivedAt = time.Unix(0, received).UTC()
	return r, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return wrap("ping", err)
	}
	return nil
}

func (s *SQLiteStore) Close(context.Context) {
	if err := s.db.Close(); err != nil {
		s.logger.Warn("storage: close sqlite", "error", err)
	}
}
