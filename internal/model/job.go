package model

import "time"

// JobState is the lifecycle state of a standalone timer job. It is a separate
// vocabulary from TimerStatus: Failed records a fault, never user intent.
type JobState int

const (
	JobStateUnspecified JobState = iota
	JobStateStarting
	JobStateRunning
	JobStateCompleted
	JobStateFailed
)

// IsTerminal reports whether the job has finished, successfully or not.
func (s JobState) IsTerminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// IsActive reports whether the job is still starting or running.
func (s JobState) IsActive() bool {
	return s == JobStateStarting || s == JobStateRunning
}

func (s JobState) String() string {
	switch s {
	case JobStateStarting:
		return "starting"
	case JobStateRunning:
		return "running"
	case JobStateCompleted:
		return "completed"
	case JobStateFailed:
		return "failed"
	}
	return "unspecified"
}

var (
	_ Lifecycle = TimerStatus("")
	_ Lifecycle = JobState(0)
)

// JobReport is the control plane's record of a standalone job that reported
// completion.
type JobReport struct {
	TimerID              string            `json:"timer_id"`
	Name                 string            `json:"name"`
	Labels               map[string]string `json:"labels"`
	CreatedBy            string            `json:"created_by"`
	DurationSeconds      int64             `json:"duration_seconds"`
	TotalDurationSeconds int64             `json:"total_duration_seconds"`
	JobCreatedAt         time.Time         `json:"job_created_at"`
	CompletedAt          time.Time         `json:"completed_at"`
	ReceivedAt           time.Time         `json:"received_at"`
}
