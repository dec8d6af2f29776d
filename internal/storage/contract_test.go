package storage_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/storage"
	"github.com/ctrlsys/ctrlsys/internal/testutil"
)

func TestMemoryStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) storage.TimerStore {
		return storage.NewMemoryStore(storage.Options{})
	})
}

func TestSQLiteStore(t *testing.T) {
	runStoreContract(t, func(t *testing.T) storage.TimerStore {
		s, err := testutil.NewSQLiteStore(context.Background(), storage.Options{}, testutil.TestLogger())
		require.NoError(t, err)
		t.Cleanup(func() { s.Close(context.Background()) })
		return s
	})
}

// runStoreContract exercises the behaviour every TimerStore backend must share.
func runStoreContract(t *testing.T, newStore func(t *testing.T) storage.TimerStore) {
	t.Run("CreateAndGet", func(t *testing.T) { testCreateAndGet(t, newStore(t)) })
	t.Run("StartOnce", func(t *testing.T) { testStartOnce(t, newStore(t)) })
	t.Run("ConcurrentStartSingleWinner", func(t *testing.T) { testConcurrentStart(t, newStore(t)) })
	t.Run("CancelSemantics", func(t *testing.T) { testCancel(t, newStore(t)) })
	t.Run("ConcurrentCancelSingleWinner", func(t *testing.T) { testConcurrentCancel(t, newStore(t)) })
	t.Run("SweepExpired", func(t *testing.T) { testSweep(t, newStore(t)) })
	t.Run("ConcurrentSweepDisjoint", func(t *testing.T) { testConcurrentSweep(t, newStore(t)) })
	t.Run("ListOrderingAndRetention", func(t *testing.T) { testList(t, newStore(t)) })
	t.Run("Delete", func(t *testing.T) { testDelete(t, newStore(t)) })
	t.Run("JobReports", func(t *testing.T) { testJobReports(t, newStore(t)) })
}

func baseTime() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

func sameInstant(t *testing.T, want time.Time, got *time.Time) {
	t.Helper()
	require.NotNil(t, got)
	assert.True(t, want.Equal(*got), "want %s, got %s", want, *got)
}

func mustCreate(t *testing.T, s storage.TimerStore, name string, secs int, now time.Time) model.Timer {
	t.Helper()
	tm, err := s.CreateTimer(context.Background(), model.NewTimer{
		Name:            name,
		DurationSeconds: secs,
		CreatedBy:       "test",
	}, now)
	require.NoError(t, err)
	return tm
}

func testCreateAndGet(t *testing.T, s storage.TimerStore) {
	ctx := context.Background()
	now := baseTime()

	created, err := s.CreateTimer(ctx, model.NewTimer{
		Name:            "tea",
		DurationSeconds: 180,
		Labels:          map[string]string{"kitchen": "yes"},
		CreatedBy:       "alice",
	}, now)
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, created.ID)
	assert.Equal(t, model.TimerStatusPending, created.Status)
	assert.Nil(t, created.StartedAt)
	assert.Nil(t, created.ExpiresAt)

	got, err := s.GetTimer(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "tea", got.Name)
	assert.Equal(t, 180, got.DurationSeconds)
	assert.Equal(t, "alice", got.CreatedBy)
	assert.Equal(t, map[string]string{"kitchen": "yes"}, got.Labels)
	assert.True(t, now.Equal(got.CreatedAt))

	noLabels := mustCreate(t, s, "bare", 5, now)
	got, err = s.GetTimer(ctx, noLabels.ID)
	require.NoError(t, err)
	assert.NotNil(t, got.Labels)
	assert.Empty(t, got.Labels)

	_, err = s.GetTimer(ctx, uuid.New())
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testStartOnce(t *testing.T, s storage.TimerStore) {
	ctx := context.Background()
	now := baseTime()
	tm := mustCreate(t, s, "bread", 60, now)

	started, ok, err := s.StartTimer(ctx, tm.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.TimerStatusRunning, started.Status)
	sameInstant(t, now, started.StartedAt)
	sameInstant(t, now.Add(60*time.Second), started.ExpiresAt)

	again, ok, err := s.StartTimer(ctx, tm.ID, now.Add(5*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.TimerStatusRunning, again.Status)
	sameInstant(t, now, again.StartedAt)

	_, _, err = s.StartTimer(ctx, uuid.New(), now)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testConcurrentStart(t *testing.T, s storage.TimerStore) {
	ctx := context.Background()
	now := baseTime()
	tm := mustCreate(t, s, "race", 30, now)

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners int
		results []model.Timer
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := s.StartTimer(ctx, tm.ID, now.Add(time.Duration(i)*time.Millisecond))
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			if ok {
				winners++
			}
			results = append(results, got)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, winners)
	final, err := s.GetTimer(ctx, tm.ID)
	require.NoError(t, err)
	for _, r := range results {
		assert.Equal(t, model.TimerStatusRunning, r.Status)
		sameInstant(t, *final.StartedAt, r.StartedAt)
	}
}

func testCancel(t *testing.T, s storage.TimerStore) {
	ctx := context.Background()
	now := baseTime()

	pending := mustCreate(t, s, "pending", 60, now)
	cancelled, ok, err := s.CancelTimer(ctx, pending.ID, now.Add(time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, model.TimerStatusCancelled, cancelled.Status)
	assert.Nil(t, cancelled.StartedAt)
	sameInstant(t, now.Add(time.Second), cancelled.CompletedAt)

	// Cancelling twice returns the same entity without a transition.
	again, ok, err := s.CancelTimer(ctx, pending.ID, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.TimerStatusCancelled, again.Status)
	sameInstant(t, now.Add(time.Second), again.CompletedAt)

	// A cancelled timer never starts.
	after, ok, err := s.StartTimer(ctx, pending.ID, now.Add(3*time.Second))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, model.TimerStatusCancelled, after.Status)
	assert.Nil(t, after.StartedAt)

	running := mustCreate(t, s, "running", 1, now)
	_, _, err = s.StartTimer(ctx, running.ID, now)
	require.NoError(t, err)
	completed, err := s.SweepExpired(ctx, now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, completed, 1)

	_, ok, err = s.CancelTimer(ctx, running.ID, now.Add(2*time.Second))
	require.Error(t, err)
	assert.False(t, ok)
	assert.ErrorIs(t, err, model.ErrTerminal)
	assert.ErrorIs(t, err, model.ErrInvalidTransition)
	var te *model.TransitionError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, "terminal", te.Reason())

	stored, err := s.GetTimer(ctx, running.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TimerStatusCompleted, stored.Status)

	_, _, err = s.CancelTimer(ctx, uuid.New(), now)
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func testConcurrentCancel(t *testing.T, s storage.TimerStore) {
	ctx := context.Background()
	now := baseTime()
	tm := mustCreate(t, s, "race", 60, now)
	_, _, err := s.StartTimer(ctx, tm.ID, now)
	require.NoError(t, err)

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		winners []model.Timer
	)
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, ok, err := s.CancelTimer(ctx, tm.ID, now.Add(time.Duration(i+1)*time.Millisecond))
			assert.NoError(t, err)
			assert.Equal(t, model.TimerStatusCancelled, got.Status)
			if ok {
				mu.Lock()
				winners = append(winners, got)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, winners, 1)
	// The start time survives cancellation.
	sameInstant(t, now, winners[0].StartedAt)
	final, err := s.GetTimer(ctx, tm.ID)
	require.NoError(t, err)
	sameInstant(t, *winners[0].CompletedAt, final.CompletedAt)
}

func testSweep(t *testing.T, s storage.TimerStore) {
	ctx := context.Background()
	now := baseTime()

	tm := mustCreate(t, s, "short", 1, now)
	_, _, err := s.StartTimer(ctx, tm.ID, now)
	require.NoError(t, err)
	pending := mustCreate(t, s, "never started", 1, now)

	cancelled := mustCreate(t, s, "cancelled", 1, now)
	_, _, err = s.StartTimer(ctx, cancelled.ID, now)
	require.NoError(t, err)
	_, _, err = s.CancelTimer(ctx, cancelled.ID, now.Add(100*time.Millisecond))
	require.NoError(t, err)

	early, err := s.SweepExpired(ctx, now.Add(500*time.Millisecond))
	require.NoError(t, err)
	assert.Empty(t, early)

	due, err := s.SweepExpired(ctx, now.Add(time.Second))
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, tm.ID, due[0].ID)
	assert.Equal(t, model.TimerStatusCompleted, due[0].Status)
	sameInstant(t, now.Add(time.Second), due[0].CompletedAt)

	again, err := s.SweepExpired(ctx, now.Add(2*time.Second))
	require.NoError(t, err)
	assert.Empty(t, again)

	p, err := s.GetTimer(ctx, pending.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TimerStatusPending, p.Status)

	c, err := s.GetTimer(ctx, cancelled.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TimerStatusCancelled, c.Status)
}

func testConcurrentSweep(t *testing.T, s storage.TimerStore) {
	ctx := context.Background()
	now := baseTime()

	const timers = 20
	for i := range timers {
		tm := mustCreate(t, s, "bulk", 1, now.Add(time.Duration(i)*time.Millisecond))
		_, _, err := s.StartTimer(ctx, tm.ID, now)
		require.NoError(t, err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		seen = map[uuid.UUID]int{}
	)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			done, err := s.SweepExpired(ctx, now.Add(5*time.Second))
			assert.NoError(t, err)
			mu.Lock()
			defer mu.Unlock()
			for _, tm := range done {
				seen[tm.ID]++
			}
		}()
	}
	wg.Wait()

	assert.Len(t, seen, timers)
	for id, n := range seen {
		assert.Equal(t, 1, n, "timer %s completed by more than one sweep", id)
	}
}

func testList(t *testing.T, s storage.TimerStore) {
	ctx := context.Background()
	now := baseTime()
	old := now.Add(-48 * time.Hour)

	// Old pending timers stay visible; old terminal ones drop out.
	stalePending := mustCreate(t, s, "stale pending", 60, old)
	staleDone := mustCreate(t, s, "stale done", 1, old)
	_, _, err := s.StartTimer(ctx, staleDone.ID, old)
	require.NoError(t, err)
	_, err = s.SweepExpired(ctx, old.Add(time.Second))
	require.NoError(t, err)

	cancelled := mustCreate(t, s, "cancelled", 60, now.Add(-3*time.Minute))
	_, _, err = s.CancelTimer(ctx, cancelled.ID, now.Add(-2*time.Minute))
	require.NoError(t, err)

	done := mustCreate(t, s, "done", 1, now.Add(-4*time.Minute))
	_, _, err = s.StartTimer(ctx, done.ID, now.Add(-4*time.Minute))
	require.NoError(t, err)
	_, err = s.SweepExpired(ctx, now.Add(-3*time.Minute))
	require.NoError(t, err)

	pending := mustCreate(t, s, "pending", 60, now.Add(-time.Minute))
	runningOld := mustCreate(t, s, "running old", 600, now.Add(-10*time.Minute))
	runningNew := mustCreate(t, s, "running new", 600, now.Add(-5*time.Minute))
	for _, id := range []uuid.UUID{runningOld.ID, runningNew.ID} {
		_, _, err := s.StartTimer(ctx, id, now.Add(-time.Minute))
		require.NoError(t, err)
	}

	list, err := s.ListTimers(ctx, now)
	require.NoError(t, err)

	var ids []uuid.UUID
	for _, tm := range list {
		ids = append(ids, tm.ID)
	}
	assert.Equal(t, []uuid.UUID{
		runningNew.ID,
		runningOld.ID,
		pending.ID,
		stalePending.ID,
		done.ID,
		cancelled.ID,
	}, ids)

	// Terminal timers outside the window remain addressable by id.
	got, err := s.GetTimer(ctx, staleDone.ID)
	require.NoError(t, err)
	assert.Equal(t, model.TimerStatusCompleted, got.Status)
}

func testDelete(t *testing.T, s storage.TimerStore) {
	ctx := context.Background()
	tm := mustCreate(t, s, "gone", 10, baseTime())

	require.NoError(t, s.DeleteTimer(ctx, tm.ID))
	_, err := s.GetTimer(ctx, tm.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.ErrorIs(t, s.DeleteTimer(ctx, tm.ID), model.ErrNotFound)
}

func testJobReports(t *testing.T, s storage.TimerStore) {
	ctx := context.Background()
	now := baseTime()
	report := model.JobReport{
		TimerID:              "job-1",
		Name:                 "backup",
		Labels:               map[string]string{"host": "nas"},
		CreatedBy:            "cron",
		DurationSeconds:      60,
		TotalDurationSeconds: 61,
		JobCreatedAt:         now.Add(-61 * time.Second),
		CompletedAt:          now,
		ReceivedAt:           now,
	}

	inserted, err := s.RecordJobReport(ctx, report)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = s.RecordJobReport(ctx, report)
	require.NoError(t, err)
	assert.False(t, inserted)

	got, err := s.GetJobReport(ctx, "job-1")
	require.NoError(t, err)
	assert.Equal(t, "backup", got.Name)
	assert.Equal(t, map[string]string{"host": "nas"}, got.Labels)
	assert.Equal(t, int64(61), got.TotalDurationSeconds)
	assert.True(t, now.Equal(got.CompletedAt))

	_, err = s.GetJobReport(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
}
