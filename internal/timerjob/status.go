// Package timerjob runs a single timer as its own process. The timer tracks
// its own elapsed time, serves its state over gRPC and, once it completes,
// reports to the control plane exactly once.
package timerjob

import (
	"fmt"
	"maps"
	"sync"
	"time"

	"github.com/ctrlsys/ctrlsys/internal/config"
	"github.com/ctrlsys/ctrlsys/internal/model"
)

// StartingGrace is how long a job stays in Starting before Running.
const StartingGrace = 100 * time.Millisecond

// Metadata describes the timer a job runs. It never changes after creation.
type Metadata struct {
	TimerID         string
	Name            string
	Labels          map[string]string
	DurationSeconds int64
	CreatedAt       time.Time
	CreatedBy       string
}

// Status is a point-in-time view of the job. StartedAt carries a monotonic
// clock reading, so elapsed time is immune to wall-clock jumps.
type Status struct {
	Metadata     Metadata
	State        model.JobState
	StartedAt    time.Time
	CompletedAt  time.Time // zero until terminal
	Duration     time.Duration
	ErrorMessage string // only set when failed
	Reported     bool   // completion acknowledged by the control plane
}

// NewStatus creates a Starting status from the job configuration.
func NewStatus(cfg config.Job, now time.Time) Status {
	return Status{
		Metadata: Metadata{
			TimerID:         cfg.TimerID,
			Name:            cfg.Name,
			Labels:          maps.Clone(cfg.Labels),
			DurationSeconds: int64(cfg.DurationSeconds),
			CreatedAt:       now,
			CreatedBy:       cfg.CreatedBy,
		},
		State:     model.JobStateStarting,
		StartedAt: now,
		Duration:  time.Duration(cfg.DurationSeconds) * time.Second,
	}
}

// Elapsed is the time since start, frozen once the job is terminal.
func (s Status) Elapsed(now time.Time) time.Duration {
	if !s.CompletedAt.IsZero() {
		now = s.CompletedAt
	}
	if d := now.Sub(s.StartedAt); d > 0 {
		return d
	}
	return 0
}

// Remaining is never negative.
func (s Status) Remaining(now time.Time) time.Duration {
	return max(s.Duration-s.Elapsed(now), 0)
}

func (s Status) ElapsedSeconds(now time.Time) int64 {
	return int64(s.Elapsed(now) / time.Second)
}

func (s Status) RemainingSeconds(now time.Time) int64 {
	return int64(s.Remaining(now) / time.Second)
}

// CompletionPercentage is the completed fraction in [0, 1].
func (s Status) CompletionPercentage(now time.Time) float64 {
	if s.Duration <= 0 {
		return 1
	}
	return min(s.Elapsed(now).Seconds()/s.Duration.Seconds(), 1)
}

// Summary renders a one-line human description of the job.
func (s Status) Summary(now time.Time) string {
	name := s.Metadata.Name
	elapsed := s.ElapsedSeconds(now)
	switch s.State {
	case model.JobStateStarting:
		return fmt.Sprintf("Timer '%s' starting...", name)
	case model.JobStateRunning:
		return fmt.Sprintf("Timer '%s' running: %ds elapsed, %ds remaining (%d%%)",
			name, elapsed, s.RemainingSeconds(now), int(s.CompletionPercentage(now)*100))
	case model.JobStateCompleted:
		return fmt.Sprintf("Timer '%s' completed after %ds", name, elapsed)
	case model.JobStateFailed:
		msg := s.ErrorMessage
		if msg == "" {
			msg = "unknown error"
		}
		return fmt.Sprintf("Timer '%s' failed after %ds: %s", name, elapsed, msg)
	}
	return fmt.Sprintf("Timer '%s' in unknown state", name)
}

// Final reports whether the status will not change again: failed, or
// completed with the completion acknowledged.
func (s Status) Final() bool {
	switch s.State {
	case model.JobStateFailed:
		return true
	case model.JobStateCompleted:
		return s.Reported
	}
	return false
}

// advance moves Starting to Running after the grace period and Running to
// Completed once the duration has elapsed. It reports whether the state changed.
func (s *Status) advance(now time.Time) bool {
	switch s.State {
	case model.JobStateStarting:
		if s.Elapsed(now) > StartingGrace {
			s.State = model.JobStateRunning
			return true
		}
	case model.JobStateRunning:
		if s.Elapsed(now) >= s.Duration {
			s.State = model.JobStateCompleted
			s.CompletedAt = now
			return true
		}
	}
	return false
}

// Cell holds the job status. The runner is the only writer; gRPC handlers
// take read snapshots.
type Cell struct {
	mu sync.RWMutex
	st Status
}

func NewCell(st Status) *Cell {
	return &Cell{st: st}
}

// Snapshot returns a copy of the current status.
func (c *Cell) Snapshot() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.st
}

// Advance applies one tick and returns the resulting status.
func (c *Cell) Advance(now time.Time) (Status, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	changed := c.st.advance(now)
	return c.st, changed
}

// MarkReported records that the control plane acknowledged completion.
func (c *Cell) MarkReported() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.State == model.JobStateCompleted {
		c.st.Reported = true
	}
	return c.st
}

// MarkFailed moves the job to Failed. A completed job may still fail if its
// completion could not be confirmed; a failed job keeps its first error.
func (c *Cell) MarkFailed(now time.Time, msg string) Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.st.State == model.JobStateFailed {
		return c.st
	}
	c.st.State = model.JobStateFailed
	c.st.ErrorMessage = msg
	if c.st.CompletedAt.IsZero() {
		c.st.CompletedAt = now
	}
	return c.st
}
