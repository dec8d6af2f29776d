package timerjob

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlsys/ctrlsys/internal/hub"
	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/rpc/timerv1"
	"github.com/ctrlsys/ctrlsys/internal/testutil"
)

type fakeReporter struct {
	mu      sync.Mutex
	calls   []Status
	failure error
}

func (f *fakeReporter) ReportCompletion(_ context.Context, st Status) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, st)
	return f.failure
}

func (f *fakeReporter) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

// steppingClock advances by step on every reading.
func steppingClock(start time.Time, step time.Duration) func() time.Time {
	var mu sync.Mutex
	now := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		now = now.Add(step)
		return now
	}
}

func newTestRunner(duration int, rep Reporter, step time.Duration) (*Runner, *Cell, *hub.Hub[timerv1.StreamTimerResponse]) {
	cell := NewCell(NewStatus(testJobConfig(duration), t0))
	updates := hub.New[timerv1.StreamTimerResponse](256)
	r := NewRunner(cell, updates, rep, time.Millisecond, testutil.TestLogger())
	r.now = steppingClock(t0, step)
	return r, cell, updates
}

func TestRunnerReportsOnceOnCompletion(t *testing.T) {
	rep := &fakeReporter{}
	r, cell, updates := newTestRunner(2, rep, 250*time.Millisecond)
	sub := updates.Subscribe()
	defer sub.Close()

	require.NoError(t, r.Run(context.Background()))

	require.Equal(t, 1, rep.count())
	assert.Equal(t, model.JobStateCompleted, rep.calls[0].State)
	assert.Equal(t, model.JobStateCompleted, cell.Snapshot().State)
	assert.True(t, cell.Snapshot().Final())

	assert.Equal(t, []timerv1.TimerState{timerv1.TimerStateRunning, timerv1.TimerStateCompleted}, drainStates(sub.C()))
}

// drainStates collapses buffered updates into the sequence of distinct states.
func drainStates(c <-chan timerv1.StreamTimerResponse) []timerv1.TimerState {
	var states []timerv1.TimerState
	for len(c) > 0 {
		u := <-c
		if len(states) == 0 || states[len(states)-1] != u.State {
			states = append(states, u.State)
		}
	}
	return states
}

func TestRunnerFailsWhenReportFails(t *testing.T) {
	for name, failure := range map[string]error{
		"transport":        errors.New("connection refused"),
		"not acknowledged": ErrNotAcknowledged,
	} {
		t.Run(name, func(t *testing.T) {
			rep := &fakeReporter{failure: failure}
			r, cell, updates := newTestRunner(1, rep, 500*time.Millisecond)
			sub := updates.Subscribe()
			defer sub.Close()

			err := r.Run(context.Background())
			require.ErrorIs(t, err, failure)
			assert.Equal(t, 1, rep.count())

			st := cell.Snapshot()
			assert.Equal(t, model.JobStateFailed, st.State)
			assert.Contains(t, st.ErrorMessage, "failed to report completion")

			// Subscribers never see Completed for an unconfirmed completion.
			assert.Equal(t, []timerv1.TimerState{timerv1.TimerStateRunning, timerv1.TimerStateFailed}, drainStates(sub.C()))
		})
	}
}

func TestRunnerStopsOnCancel(t *testing.T) {
	rep := &fakeReporter{}
	r, cell, _ := newTestRunner(3600, rep, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	st := cell.Snapshot()
	assert.Equal(t, model.JobStateStarting, st.State)
	assert.Empty(t, st.ErrorMessage)
	assert.Zero(t, rep.count())
}

func TestRunnerOverrunGuard(t *testing.T) {
	rep := &fakeReporter{}
	cell := NewCell(NewStatus(testJobConfig(1), t0))
	r := NewRunner(cell, hub.New[timerv1.StreamTimerResponse](4), rep, time.Millisecond, testutil.TestLogger())

	// The first tick lands a minute late: the job leaves Starting for
	// Running and is already far past its deadline.
	r.now = func() time.Time { return t0.Add(time.Minute) }

	err := r.Run(context.Background())
	require.ErrorIs(t, err, ErrOverrun)
	assert.Equal(t, model.JobStateFailed, cell.Snapshot().State)
	assert.Zero(t, rep.count())
}
