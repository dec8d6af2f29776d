package storage

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/ctrlsys/ctrlsys/internal/model"
)

// DefaultListRetention hides terminal timers older than this from ListTimers.
const DefaultListRetention = 24 * time.Hour

// TimerStore is the persistence contract for shared-mode timers. Every
// mutation is a conditional update on the current status, so concurrent
// callers never observe a double transition.
type TimerStore interface {
	// CreateTimer allocates an id and persists the timer as pending.
	CreateTimer(ctx context.Context, nt model.NewTimer, now time.Time) (model.Timer, error)

	// GetTimer returns the timer or model.ErrNotFound. Terminal timers are
	// returned regardless of age.
	GetTimer(ctx context.Context, id uuid.UUID) (model.Timer, error)

	// ListTimers returns timers ordered running, pending, completed,
	// cancelled, then created_at descending. Terminal timers whose terminal
	// time is older than the retention window are omitted.
	ListTimers(ctx context.Context, now time.Time) ([]model.Timer, error)

	// StartTimer moves a pending timer to running, setting started_at and
	// expires_at. The bool is true only for the call that performed the
	// transition; other callers get the current entity unchanged.
	StartTimer(ctx context.Context, id uuid.UUID, now time.Time) (model.Timer, bool, error)

	// CancelTimer moves a pending or running timer to cancelled. The bool is
	// true only for the call that performed the transition; cancelling a
	// cancelled timer returns it unchanged with false. Cancelling a completed
	// timer fails with a *model.TransitionError. started_at is left as is, so
	// a cancelled timer with a start time was running when cancelled.
	CancelTimer(ctx context.Context, id uuid.UUID, now time.Time) (model.Timer, bool, error)

	// SweepExpired completes every running timer with expires_at <= now and
	// returns exactly the timers it transitioned.
	SweepExpired(ctx context.Context, now time.Time) ([]model.Timer, error)

	// DeleteTimer removes the timer permanently.
	DeleteTimer(ctx context.Context, id uuid.UUID) error

	// RecordJobReport stores a standalone job completion report. The bool is
	// false when a report for the same timer id already exists.
	RecordJobReport(ctx context.Context, r model.JobReport) (bool, error)

	// GetJobReport returns a stored report or model.ErrNotFound.
	GetJobReport(ctx context.Context, timerID string) (model.JobReport, error)

	Ping(ctx context.Context) error
	Close(ctx context.Context)
}

// Options tune store behaviour shared by all backends.
type Options struct {
	ListRetention time.Duration
	// SQLiteBusyTimeout is how long SQLite waits on a locked database
	// before failing with SQLITE_BUSY.
	SQLiteBusyTimeout time.Duration
}

// DefaultSQLiteBusyTimeout applies when Options.SQLiteBusyTimeout is unset.
const DefaultSQLiteBusyTimeout = 5 * time.Second

func (o Options) busyTimeout() time.Duration {
	if o.SQLiteBusyTimeout <= 0 {
		return DefaultSQLiteBusyTimeout
	}
	return o.SQLiteBusyTimeout
}

func (o Options) retention() time.Duration {
	if o.ListRetention <= 0 {
		return DefaultListRetention
	}
	return o.ListRetention
}

// newTimer builds the pending entity every backend inserts.
func newTimer(nt model.NewTimer, now time.Time) model.Timer {
	labels := nt.Labels
	if labels == nil {
		labels = map[string]string{}
	}
	return model.Timer{
		ID:              uuid.New(),
		Name:            nt.Name,
		DurationSeconds: nt.DurationSeconds,
		Status:          model.TimerStatusPending,
		Labels:          labels,
		CreatedBy:       nt.CreatedBy,
		CreatedAt:       now.UTC(),
	}
}

// cancelConflict classifies a cancel that matched no pending/running row.
func cancelConflict(current model.Timer) (model.Timer, bool, error) {
	if current.Status == model.TimerStatusCancelled {
		return current, false, nil
	}
	return model.Timer{}, false, model.CheckTransition(current.Status, model.TimerStatusCancelled)
}
