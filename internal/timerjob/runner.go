package timerjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ctrlsys/ctrlsys/internal/hub"
	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/rpc/timerv1"
)

// OverrunLimit is how far past its duration a job may run before it is
// declared failed.
const OverrunLimit = 30 * time.Second

// ErrOverrun is returned when a job exceeds its duration by OverrunLimit.
var ErrOverrun = errors.New("timerjob: timer exceeded maximum duration by 30 seconds")

// Runner drives the job's state machine on a fixed tick.
type Runner struct {
	cell     *Cell
	updates  *hub.Hub[timerv1.StreamTimerResponse]
	reporter Reporter
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

// NewRunner creates a Runner. interval is the tick and update period.
func NewRunner(cell *Cell, updates *hub.Hub[timerv1.StreamTimerResponse], reporter Reporter, interval time.Duration, logger *slog.Logger) *Runner {
	return &Runner{
		cell:     cell,
		updates:  updates,
		reporter: reporter,
		interval: interval,
		now:      time.Now,
		logger:   logger,
	}
}

// Run ticks until the job is terminal or ctx is cancelled. It returns nil
// only after the completion report was acknowledged. Cancellation leaves the
// state as it was.
func (r *Runner) Run(ctx context.Context) error {
	st := r.cell.Snapshot()
	log := r.logger.With("timer_id", st.Metadata.TimerID)
	log.Info("starting timer", "name", st.Metadata.Name, "duration_seconds", st.Metadata.DurationSeconds)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for ticks := 1; ; ticks++ {
		select {
		case <-ctx.Done():
			log.Info("timer stopped", "state", r.cell.Snapshot().State.String())
			return ctx.Err()
		case <-ticker.C:
		}

		now := r.now()
		st, changed := r.cell.Advance(now)
		// Completed goes out only once the report is acknowledged.
		if st.State != model.JobStateCompleted {
			r.updates.Publish(updateFor(st, now))
		}

		if changed || ticks%10 == 0 {
			log.Debug("timer progress",
				"state", st.State.String(),
				"elapsed_seconds", st.ElapsedSeconds(now),
				"remaining_seconds", st.RemainingSeconds(now))
		}

		switch {
		case st.State == model.JobStateCompleted:
			log.Info("timer completed", "elapsed_seconds", st.ElapsedSeconds(now))
			if err := r.reporter.ReportCompletion(ctx, st); err != nil {
				r.fail(log, fmt.Sprintf("failed to report completion: %v", err))
				return err
			}
			r.updates.Publish(updateFor(r.cell.MarkReported(), now))
			return nil
		case st.State == model.JobStateFailed:
			return fmt.Errorf("timerjob: %s", st.ErrorMessage)
		case st.Elapsed(now) > st.Duration+OverrunLimit:
			r.fail(log, ErrOverrun.Error())
			return ErrOverrun
		}
	}
}

func (r *Runner) fail(log *slog.Logger, msg string) {
	now := r.now()
	st := r.cell.MarkFailed(now, msg)
	log.Error("timer failed", "error", msg)
	u := updateFor(st, now)
	u.RemainingSeconds = 0
	r.updates.Publish(u)
}

func updateFor(st Status, now time.Time) timerv1.StreamTimerResponse {
	return timerv1.StreamTimerResponse{
		TimerID:          st.Metadata.TimerID,
		State:            timerv1.StateFromJob(st.State),
		ElapsedSeconds:   st.ElapsedSeconds(now),
		RemainingSeconds: st.RemainingSeconds(now),
		Timestamp:        now.Unix(),
	}
}
