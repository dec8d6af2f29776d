// Package model defines the core domain types for ctrlsys.
//
// Shared-mode timers (TimerStatus) and standalone timer jobs (JobState) use
// two distinct state vocabularies. Both satisfy Lifecycle so callers can ask
// whether a state is terminal without caring which vocabulary it comes from.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Duration bounds for a timer, in seconds.
const (
	MinDurationSeconds = 1
	MaxDurationSeconds = 86400
	MaxTimerNameLen    = 200
)

// Lifecycle is the predicate set shared by both timer state vocabularies.
type Lifecycle interface {
	IsTerminal() bool
	IsActive() bool
	String() string
}

// TimerStatus is the lifecycle state of a shared-mode timer.
type TimerStatus string

const (
	TimerStatusPending   TimerStatus = "pending"
	TimerStatusRunning   TimerStatus = "running"
	TimerStatusCompleted TimerStatus = "completed"
	TimerStatusCancelled TimerStatus = "cancelled"
)

// IsTerminal reports whether no further transition is permitted.
func (s TimerStatus) IsTerminal() bool {
	return s == TimerStatusCompleted || s == TimerStatusCancelled
}

// IsActive reports whether the timer is pending or running.
func (s TimerStatus) IsActive() bool {
	return s == TimerStatusPending || s == TimerStatusRunning
}

func (s TimerStatus) String() string { return string(s) }

// Valid reports whether s is one of the known statuses.
func (s TimerStatus) Valid() bool {
	switch s {
	case TimerStatusPending, TimerStatusRunning, TimerStatusCompleted, TimerStatusCancelled:
		return true
	}
	return false
}

// ListPriority orders statuses for listing: running first, then pending,
// completed, cancelled.
func (s TimerStatus) ListPriority() int {
	switch s {
	case TimerStatusRunning:
		return 1
	case TimerStatusPending:
		return 2
	case TimerStatusCompleted:
		return 3
	case TimerStatusCancelled:
		return 4
	}
	return 5
}

// transitions is the shared-mode transition graph.
var transitions = map[TimerStatus][]TimerStatus{
	TimerStatusPending: {TimerStatusRunning, TimerStatusCancelled},
	TimerStatusRunning: {TimerStatusCompleted, TimerStatusCancelled},
}

// CheckTransition returns nil if from→to is an edge of the transition graph,
// otherwise a *TransitionError.
func CheckTransition(from, to TimerStatus) error {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return nil
		}
	}
	return &TransitionError{From: from.String(), To: to.String(), terminal: from.IsTerminal()}
}

// Timer is a shared-mode timer as persisted by the store.
type Timer struct {
	ID              uuid.UUID         `json:"id"`
	Name            string            `json:"name"`
	DurationSeconds int               `json:"duration_seconds"`
	Status          TimerStatus       `json:"status"`
	Labels          map[string]string `json:"labels"`
	CreatedBy       string            `json:"created_by,omitempty"`
	CreatedAt       time.Time         `json:"created_at"`
	StartedAt       *time.Time        `json:"started_at,omitempty"`
	ExpiresAt       *time.Time        `json:"expires_at,omitempty"`
	CompletedAt     *time.Time        `json:"completed_at,omitempty"`
}

// NewTimer is the input to TimerStore.CreateTimer. Fields are validated by
// the service before reaching the store.
type NewTimer struct {
	Name            string
	DurationSeconds int
	Labels          map[string]string
	CreatedBy       string
}

// Duration returns the configured duration.
func (t Timer) Duration() time.Duration {
	return time.Duration(t.DurationSeconds) * time.Second
}

// RemainingSeconds returns max(0, expires_at - now) rounded down, or nil if
// the timer never started. Terminal timers report 0 once completed; a
// cancelled timer keeps whatever was left at cancellation time.
func (t Timer) RemainingSeconds(now time.Time) *int {
	if t.ExpiresAt == nil {
		return nil
	}
	ref := now
	if t.Status == TimerStatusCancelled && t.CompletedAt != nil {
		ref = *t.CompletedAt
	}
	if t.Status == TimerStatusCompleted {
		zero := 0
		return &zero
	}
	rem := int(t.ExpiresAt.Sub(ref) / time.Second)
	if rem < 0 {
		rem = 0
	}
	return &rem
}

// ElapsedSeconds returns time since start, capped at the configured duration.
func (t Timer) ElapsedSeconds(now time.Time) int {
	if t.StartedAt == nil {
		return 0
	}
	end := now
	if t.CompletedAt != nil {
		end = *t.CompletedAt
	}
	el := int(end.Sub(*t.StartedAt) / time.Second)
	switch {
	case el < 0:
		return 0
	case el > t.DurationSeconds:
		return t.DurationSeconds
	}
	return el
}

// TerminalAt returns when the timer reached a terminal state, falling back to
// created_at for rows written before completed_at was tracked.
func (t Timer) TerminalAt() time.Time {
	if t.CompletedAt != nil {
		return *t.CompletedAt
	}
	return t.CreatedAt
}

// Visible reports whether the timer belongs in the default listing: active
// timers always, terminal timers only within the retention window.
func (t Timer) Visible(now time.Time, retention time.Duration) bool {
	if !t.Status.IsTerminal() {
		return true
	}
	return !t.TerminalAt().Before(now.Add(-retention))
}

// TimerResponse is the API representation of a timer with derived fields.
type TimerResponse struct {
	Timer
	RemainingSeconds *int `json:"remaining_seconds"`
	ElapsedSeconds   int  `json:"elapsed_seconds"`
}

// NewTimerResponse computes derived fields against now.
func NewTimerResponse(t Timer, now time.Time) TimerResponse {
	return TimerResponse{
		Timer:            t,
		RemainingSeconds: t.RemainingSeconds(now),
		ElapsedSeconds:   t.ElapsedSeconds(now),
	}
}

// EventKind distinguishes a synthesized snapshot from a live transition.
type EventKind string

const (
	EventSnapshot   EventKind = "snapshot"
	EventTransition EventKind = "transition"
)

// TimerEvent is published to the broadcast hub whenever a timer changes state.
type TimerEvent struct {
	Kind       EventKind   `json:"kind"`
	TimerID    uuid.UUID   `json:"timer_id"`
	From       TimerStatus `json:"from,omitempty"`
	Timer      Timer       `json:"timer"`
	OccurredAt time.Time   `json:"occurred_at"`
}
