package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ctrlsys/ctrlsys/internal/model"
)

const timerColumns = `id, name, duration_seconds, status, labels, created_by,
	created_at, started_at, expires_at, completed_at`

func scanTimer(row pgx.Row) (model.Timer, error) {
	var t model.Timer
	err := row.Scan(
		&t.ID, &t.Name, &t.DurationSeconds, &t.Status, &t.Labels, &t.CreatedBy,
		&t.CreatedAt, &t.StartedAt, &t.ExpiresAt, &t.CompletedAt,
	)
	if t.Labels == nil {
		t.Labels = map[string]string{}
	}
	return t, err
}

func collectTimers(rows pgx.Rows) ([]model.Timer, error) {
	defer rows.Close()
	timers := []model.Timer{}
	for rows.Next() {
		t, err := scanTimer(rows)
		if err != nil {
			return nil, err
		}
		timers = append(timers, t)
	}
	return timers, rows.Err()
}

// CreateTimer inserts a new pending timer and returns it.
func (db *DB) CreateTimer(ctx context.Context, nt model.NewTimer, now time.Time) (model.Timer, error) {
	t := newTimer(nt, now)
	_, err := db.pool.Exec(ctx,
		`INSERT INTO timers (id, name, duration_seconds, status, labels, created_by, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Name, t.DurationSeconds, string(t.Status), t.Labels, t.CreatedBy, t.CreatedAt,
	)
	if err != nil {
		return model.Timer{}, wrap("create timer", err)
	}
	return t, nil
}

// GetTimer retrieves a timer by ID.
func (db *DB) GetTimer(ctx context.Context, id uuid.UUID) (model.Timer, error) {
	t, err := scanTimer(db.pool.QueryRow(ctx,
		`SELECT `+timerColumns+` FROM timers WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.Timer{}, ErrNotFound
		}
		return model.Timer{}, wrap("get timer", err)
	}
	return t, nil
}

// ListTimers returns active timers plus terminal timers inside the retention window.
func (db *DB) ListTimers(ctx context.Context, now time.Time) ([]model.Timer, error) {
	cutoff := now.Add(-db.opts.retention())
	rows, err := db.pool.Query(ctx,
		`SELECT `+timerColumns+` FROM timers
		 WHERE status IN ('pending', 'running')
		    OR COALESCE(completed_at, created_at) >= $1
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
	timers, err := collectTimers(rows)
	if err != nil {
		return nil, wrap("scan timers", err)
	}
	return timers, nil
}

// StartTimer transitions a pending timer to running. The UPDATE is guarded
// by status = 'pending', so exactly one concurrent caller wins.
func (db *DB) StartTimer(ctx context.Context, id uuid.UUID, now time.Time) (model.Timer, bool, error) {
	var (
		t       model.Timer
		started bool
	)
	err := pgUpdateRetry.do(ctx, func() error {
		var err error
		t, err = scanTimer(db.pool.QueryRow(ctx,
			`UPDATE timers
			 SET status = 'running',
			     started_at = $2,
			     expires_at = $2::timestamptz + make_interval(secs => duration_seconds)
			 WHERE id = $1 AND status = 'pending'
			 RETURNING `+timerColumns,
			id, now.UTC(),
		))
		if err == nil {
			started = true
		}
		return err
	})
	switch {
	case err == nil:
		return t, started, nil
	case errors.Is(err, pgx.ErrNoRows):
		current, gerr := db.GetTimer(ctx, id)
		return current, false, gerr
	default:
		return model.Timer{}, false, wrap("start timer", err)
	}
}

// CancelTimer transitions a pending or running timer to cancelled.
func (db *DB) CancelTimer(ctx context.Context, id uuid.UUID, now time.Time) (model.Timer, bool, error) {
	var t model.Timer
	err := pgUpdateRetry.do(ctx, func() error {
		var err error
		t, err = scanTimer(db.pool.QueryRow(ctx,
			`UPDATE timers
			 SET status = 'cancelled', completed_at = $2
			 WHERE id = $1 AND status IN ('pending', 'running')
			 RETURNING `+timerColumns,
			id, now.UTC(),
		))
		return err
	})
	switch {
	case err == nil:
		return t, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		current, gerr := db.GetTimer(ctx, id)
		if gerr != nil {
			return model.Timer{}, false, gerr
		}
		return cancelConflict(current)
	default:
		return model.Timer{}, false, wrap("cancel timer", err)
	}
}

// SweepExpired completes all running timers whose deadline has passed.
// Row locks taken by the UPDATE make concurrent sweeps disjoint: a second
// sweep blocked on a row re-checks status = 'running' and skips it.
func (db *DB) SweepExpired(ctx context.Context, now time.Time) ([]model.Timer, error) {
	rows, err := db.pool.Query(ctx,
		`UPDATE timers
		 SET status = 'completed', completed_at = $1
		 WHERE status = 'running' AND expires_at <= $1
		 RETURNING `+timerColumns,
		now.UTC(),
	)
	if err != nil {
		return nil, wrap("sweep expired", err)
	}
	timers, err := collectTimers(rows)
	if err != nil {
		return nil, wrap("sweep expired", err)
	}
	return timers, nil
}

// DeleteTimer removes a timer row.
func (db *DB) DeleteTimer(ctx context.Context, id uuid.UUID) error {
	tag, err := db.pool.Exec(ctx, `DELETE FROM timers WHERE id = $1`, id)
	if err != nil {
		return wrap("delete timer", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// RecordJobReport inserts a job completion report, ignoring duplicates.
func (db *DB) RecordJobReport(ctx context.Context, r model.JobReport) (bool, error) {
	if r.Labels == nil {
		r.Labels = map[string]string{}
	}
	tag, err := db.pool.Exec(ctx,
		`INSERT INTO timer_job_reports
		    (timer_id, name, labels, created_by, duration_seconds, total_duration_seconds,
		     job_created_at, completed_at, received_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 ON CONFLICT (timer_id) DO NOTHING`,
		r.TimerID, r.Name, r.Labels, r.CreatedBy, r.DurationSeconds, r.TotalDurationSeconds,
		r.JobCreatedAt.UTC(), r.CompletedAt.UTC(), r.ReceivedAt.UTC(),
	)
	if err != nil {
		return false, wrap("record job report", err)
	}
	return tag.RowsAffected() == 1, nil
}

// GetJobReport returns the stored report for timerID.
func (db *DB) GetJobReport(ctx context.Context, timerID string) (model.JobReport, error) {
	var r model.JobReport
	err := db.pool.QueryRow(ctx,
		`SELECT timer_id, name, labels, created_by, duration_seconds, total_duration_seconds,
		        job_created_at, completed_at, received_at
		 FROM timer_job_reports WHERE timer_id = $1`, timerID,
	).Scan(
		&r.TimerID, &r.Name, &r.Labels, &r.CreatedBy, &r.DurationSeconds, &r.TotalDurationSeconds,
		&r.JobCreatedAt, &r.CompletedAt, &r.ReceivedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return model.JobReport{}, ErrNotFound
		}
		return model.JobReport{}, wrap("get job report", err)
	}
	return r, nil
}
