package model_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlsys/ctrlsys/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	v := t0.Add(d)
	return &v
}

func TestCheckTransition(t *testing.T) {
	allowed := [][2]model.TimerStatus{
		{model.TimerStatusPending, model.TimerStatusRunning},
		{model.TimerStatusPending, model.TimerStatusCancelled},
		{model.TimerStatusRunning, model.TimerStatusCompleted},
		{model.TimerStatusRunning, model.TimerStatusCancelled},
	}
	for _, e := range allowed {
		assert.NoError(t, model.CheckTransition(e[0], e[1]), "%s -> %s", e[0], e[1])
	}

	err := model.CheckTransition(model.TimerStatusPending, model.TimerStatusCompleted)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	assert.NotErrorIs(t, err, model.ErrTerminal)

	for _, from := range []model.TimerStatus{model.TimerStatusCompleted, model.TimerStatusCancelled} {
		for _, to := range []model.TimerStatus{model.TimerStatusPending, model.TimerStatusRunning, model.TimerStatusCompleted, model.TimerStatusCancelled} {
			err := model.CheckTransition(from, to)
			require.Error(t, err)
			assert.ErrorIs(t, err, model.ErrTerminal)
			assert.ErrorIs(t, err, model.ErrInvalidTransition)

			var terr *model.TransitionError
			require.ErrorAs(t, err, &terr)
			assert.Equal(t, "terminal", terr.Reason())
		}
	}
}

func TestStatusPredicates(t *testing.T) {
	assert.True(t, model.TimerStatusPending.IsActive())
	assert.True(t, model.TimerStatusRunning.IsActive())
	assert.True(t, model.TimerStatusCompleted.IsTerminal())
	assert.True(t, model.TimerStatusCancelled.IsTerminal())
	assert.False(t, model.TimerStatus("paused").Valid())

	assert.True(t, model.JobStateStarting.IsActive())
	assert.True(t, model.JobStateFailed.IsTerminal())
	assert.Equal(t, "completed", model.JobStateCompleted.String())
	assert.Equal(t, "unspecified", model.JobState(42).String())

	assert.Less(t, model.TimerStatusRunning.ListPriority(), model.TimerStatusPending.ListPriority())
	assert.Less(t, model.TimerStatusCompleted.ListPriority(), model.TimerStatusCancelled.ListPriority())
}

func TestRemainingAndElapsed(t *testing.T) {
	pending := model.Timer{Status: model.TimerStatusPending, DurationSeconds: 10, CreatedAt: t0}
	assert.Nil(t, pending.RemainingSeconds(t0))
	assert.Equal(t, 0, pending.ElapsedSeconds(t0))

	running := model.Timer{
		Status:          model.TimerStatusRunning,
		DurationSeconds: 10,
		StartedAt:       at(0),
		ExpiresAt:       at(10 * time.Second),
	}
	assert.Equal(t, 10, *running.RemainingSeconds(t0))
	assert.Equal(t, 6, *running.RemainingSeconds(t0.Add(3500 * time.Millisecond)))
	assert.Equal(t, 3, running.ElapsedSeconds(t0.Add(3500*time.Millisecond)))
	assert.Equal(t, 0, *running.RemainingSeconds(t0.Add(time.Minute)))
	assert.Equal(t, 10, running.ElapsedSeconds(t0.Add(time.Minute)))

	cancelled := running
	cancelled.Status = model.TimerStatusCancelled
	cancelled.CompletedAt = at(4 * time.Second)
	assert.Equal(t, 6, *cancelled.RemainingSeconds(t0.Add(time.Hour)))
	assert.Equal(t, 4, cancelled.ElapsedSeconds(t0.Add(time.Hour)))

	completed := running
	completed.Status = model.TimerStatusCompleted
	completed.CompletedAt = at(10 * time.Second)
	assert.Equal(t, 0, *completed.RemainingSeconds(t0))
}

func TestVisible(t *testing.T) {
	running := model.Timer{Status: model.TimerStatusRunning, CreatedAt: t0.Add(-48 * time.Hour)}
	assert.True(t, running.Visible(t0, time.Hour))

	old := model.Timer{Status: model.TimerStatusCompleted, CompletedAt: at(-2 * time.Hour)}
	assert.False(t, old.Visible(t0, time.Hour))

	recent := model.Timer{Status: model.TimerStatusCancelled, CompletedAt: at(-30 * time.Minute)}
	assert.True(t, recent.Visible(t0, time.Hour))

	legacy := model.Timer{Status: model.TimerStatusCompleted, CreatedAt: t0.Add(-30 * time.Minute)}
	assert.True(t, legacy.Visible(t0, time.Hour))
}

func TestNewTimerResponse(t *testing.T) {
	tm := model.Timer{
		Status:          model.TimerStatusRunning,
		DurationSeconds: 60,
		StartedAt:       at(0),
		ExpiresAt:       at(time.Minute),
	}
	resp := model.NewTimerResponse(tm, t0.Add(15*time.Second))
	require.NotNil(t, resp.RemainingSeconds)
	assert.Equal(t, 45, *resp.RemainingSeconds)
	assert.Equal(t, 15, resp.ElapsedSeconds)
}
