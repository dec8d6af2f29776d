// Package timerv1 is the wire contract shared by standalone timer jobs and the
// control plane: message types, gRPC service descriptors and clients.
//
// Messages travel as JSON through a registered codec, so there is no
// generated code. Timestamps are unix seconds.
package timerv1

import "github.com/ctrlsys/ctrlsys/internal/model"

// TimerState mirrors model.JobState on the wire.
type TimerState int32

const (
	TimerStateUnspecified TimerState = 0
	TimerStateStarting    TimerState = 1
	TimerStateRunning     TimerState = 2
	TimerStateCompleted   TimerState = 3
	TimerStateFailed      TimerState = 4
)

// StateFromJob converts a job state to its wire value.
func StateFromJob(s model.JobState) TimerState {
	return TimerState(s)
}

// Job converts the wire value back to a job state. Unknown values map to
// JobStateUnspecified.
func (s TimerState) Job() model.JobState {
	if s < TimerStateStarting || s > TimerStateFailed {
		return model.JobStateUnspecified
	}
	return model.JobState(s)
}

func (s TimerState) String() string { return s.Job().String() }

type TimerMetadata struct {
	TimerID         string            `json:"timer_id"`
	Name            string            `json:"name"`
	Labels          map[string]string `json:"labels,omitempty"`
	DurationSeconds int64             `json:"duration_seconds"`
	CreatedAt       int64             `json:"created_at"`
	CreatedBy       string            `json:"created_by"`
}

type CheckTimerRequest struct {
	TimerID string `json:"timer_id"`
}

type CheckTimerResponse struct {
	TimerID              string         `json:"timer_id"`
	Metadata             *TimerMetadata `json:"metadata,omitempty"`
	State                TimerState     `json:"state"`
	ElapsedSeconds       int64          `json:"elapsed_seconds"`
	RemainingSeconds     int64          `json:"remaining_seconds"`
	CompletionPercentage float64        `json:"completion_percentage"`
	Summary              string         `json:"summary,omitempty"`
	ErrorMessage         string         `json:"error_message,omitempty"`
}

type StreamTimerRequest struct {
	TimerID string `json:"timer_id"`
}

// StreamTimerResponse is one update on a StreamTimer stream.
type StreamTimerResponse struct {
	TimerID          string     `json:"timer_id"`
	State            TimerState `json:"state"`
	ElapsedSeconds   int64      `json:"elapsed_seconds"`
	RemainingSeconds int64      `json:"remaining_seconds"`
	Timestamp        int64      `json:"timestamp"`
}

type ReportTimerCompleteRequest struct {
	TimerID              string         `json:"timer_id"`
	Metadata             *TimerMetadata `json:"metadata,omitempty"`
	TotalDurationSeconds int64          `json:"total_duration_seconds"`
	CompletedAt          int64          `json:"completed_at"`
}

type ReportTimerCompleteResponse struct {
	Acknowledged bool   `json:"acknowledged"`
	Message      string `json:"message,omitempty"`
}
