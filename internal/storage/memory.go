package storage

import (
	"context"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ctrlsys/ctrlsys/internal/model"
)

// MemoryStore is an in-process TimerStore. A single mutex guards the whole
// map; every operation is short and never blocks while holding it.
type MemoryStore struct {
	opts Options

	mu      sync.Mutex
	timers  map[uuid.UUID]model.Timer
	reports map[string]model.JobReport
}

var _ TimerStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore(opts Options) *MemoryStore {
	return &MemoryStore{
		opts:    opts,
		timers:  make(map[uuid.UUID]model.Timer),
		reports: make(map[string]model.JobReport),
	}
}

// clone copies the mutable parts of a timer so callers never share state
// with the map.
func clone(t model.Timer) model.Timer {
	t.Labels = maps.Clone(t.Labels)
	return t
}

func (m *MemoryStore) CreateTimer(_ context.Context, nt model.NewTimer, now time.Time) (model.Timer, error) {
	t := newTimer(nt, now)
	t.Labels = maps.Clone(t.Labels)

	m.mu.Lock()
	m.timers[t.ID] = t
	m.mu.Unlock()
	return clone(t), nil
}

func (m *MemoryStore) GetTimer(_ context.Context, id uuid.UUID) (model.Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.timers[id]
	if !ok {
		return model.Timer{}, ErrNotFound
	}
	return clone(t), nil
}

func (m *MemoryStore) ListTimers(_ context.Context, now time.Time) ([]model.Timer, error) {
	retention := m.opts.retention()

	m.mu.Lock()
	out := make([]model.Timer, 0, len(m.timers))
	for _, t := range m.timers {
		if t.Visible(now, retention) {
			out = append(out, clone(t))
		}
	}
	m.mu.Unlock()

	sortTimers(out)
	return out, nil
}

// sortTimers applies the listing order: status priority, then newest first.
func sortTimers(timers []model.Timer) {
	slices.SortStableFunc(timers, func(a, b model.Timer) int {
		if pa, pb := a.Status.ListPriority(), b.Status.ListPriority(); pa != pb {
			return pa - pb
		}
		return b.CreatedAt.Compare(a.CreatedAt)
	})
}

func (m *MemoryStore) StartTimer(_ context.Context, id uuid.UUID, now time.Time) (model.Timer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[id]
	if !ok {
		return model.Timer{}, false, ErrNotFound
	}
	if t.Status != model.TimerStatusPending {
		return clone(t), false, nil
	}
	started := now.UTC()
	expires := started.Add(t.Duration())
	t.Status = model.TimerStatusRunning
	t.StartedAt = &started
	t.ExpiresAt = &expires
	m.timers[id] = t
	return clone(t), true, nil
}

func (m *MemoryStore) CancelTimer(_ context.Context, id uuid.UUID, now time.Time) (model.Timer, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	t, ok := m.timers[id]
	if !ok {
		return model.Timer{}, false, ErrNotFound
	}
	if !t.Status.IsActive() {
		return cancelConflict(clone(t))
	}
	at := now.UTC()
	t.Status = model.TimerStatusCancelled
	t.CompletedAt = &at
	m.timers[id] = t
	return clone(t), true, nil
}

func (m *MemoryStore) SweepExpired(_ context.Context, now time.Time) ([]model.Timer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var done []model.Timer
	at := now.UTC()
	for id, t := range m.timers {
		if t.Status != model.TimerStatusRunning || t.ExpiresAt == nil || t.ExpiresAt.After(now) {
			continue
		}
		t.Status = model.TimerStatusCompleted
		t.CompletedAt = &at
		m.timers[id] = t
		done = append(done, clone(t))
	}
	return done, nil
}

func (m *MemoryStore) DeleteTimer(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.timers[id]; !ok {
		return ErrNotFound
	}
	delete(m.timers, id)
	return nil
}

func (m *MemoryStore) RecordJobReport(_ context.Context, r model.JobReport) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.reports[r.TimerID]; ok {
		return false, nil
	}
	r.Labels = maps.Clone(r.Labels)
	m.reports[r.TimerID] = r
	return true, nil
}

func (m *MemoryStore) GetJobReport(_ context.Context, timerID string) (model.JobReport, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.reports[timerID]
	if !ok {
		return model.JobReport{}, ErrNotFound
	}
	r.Labels = maps.Clone(r.Labels)
	return r, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close(context.Context) {}
