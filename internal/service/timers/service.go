// Package timers provides the shared business logic for timer operations.
//
// The REST handlers, the WebSocket and SSE streams, and the expiration sweeper
// all go through Service, so every state change is persisted by the store
// first and only then announced on the broadcast hub.
package timers

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/ctrlsys/ctrlsys/internal/hub"
	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/storage"
	"github.com/ctrlsys/ctrlsys/internal/telemetry"
)

// DefaultCreatedBy is recorded when the caller has no identity.
const DefaultCreatedBy = "system"

// Notifier sends an event to other replicas. *storage.DB implements it.
type Notifier interface {
	Notify(ctx context.Context, channel, payload string) error
}

// Service encapsulates timer business logic shared by every surface.
type Service struct {
	store    storage.TimerStore
	hub      *hub.Hub[model.TimerEvent]
	notifier Notifier
	now      func() time.Time
	logger   *slog.Logger

	transitions metric.Int64Counter
}

// Option configures a Service.
type Option func(*Service)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithNotifier routes events through notifier instead of publishing to the
// local hub. A Relay on every replica feeds them back into its hub.
func WithNotifier(n Notifier) Option {
	return func(s *Service) { s.notifier = n }
}

// New creates a timer Service.
func New(store storage.TimerStore, h *hub.Hub[model.TimerEvent], logger *slog.Logger, opts ...Option) *Service {
	meter := telemetry.Meter("ctrlsys/timers")
	transitions, _ := meter.Int64Counter("ctrlsys.timers.transitions",
		metric.WithDescription("Timer state transitions performed by this process"),
	)
	dropped, _ := meter.Int64Counter("ctrlsys.hub.dropped",
		metric.WithDescription("Events dropped because a subscriber queue was full"),
	)
	h.OnDrop(func() { dropped.Add(context.Background(), 1) })

	s := &Service{
		store:       store,
		hub:         h,
		now:         time.Now,
		logger:      logger,
		transitions: transitions,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Now returns the service clock's current time.
func (s *Service) Now() time.Time { return s.now() }

// Hub exposes the broadcast hub for health reporting and the SSE endpoint.
func (s *Service) Hub() *hub.Hub[model.TimerEvent] { return s.hub }

// Create validates req, persists the timer as pending and starts it.
func (s *Service) Create(ctx context.Context, req model.CreateTimerRequest, createdBy string) (model.Timer, error) {
	if err := req.Validate(); err != nil {
		return model.Timer{}, err
	}
	if createdBy == "" {
		createdBy = DefaultCreatedBy
	}

	t, err := s.store.CreateTimer(ctx, model.NewTimer{
		Name:            strings.TrimSpace(req.Name),
		DurationSeconds: req.DurationSeconds,
		Labels:          req.Labels,
		CreatedBy:       createdBy,
	}, s.now())
	if err != nil {
		return model.Timer{}, fmt.Errorf("timers: create: %w", err)
	}
	s.publish(ctx, "", t)

	started, ok, err := s.store.StartTimer(ctx, t.ID, s.now())
	if err != nil {
		return t, fmt.Errorf("timers: auto-start %s: %w", t.ID, err)
	}
	if ok {
		s.publish(ctx, model.TimerStatusPending, started)
	}
	s.logger.Info("timer created",
		"timer_id", started.ID, "name", started.Name, "duration_seconds", started.DurationSeconds)
	return started, nil
}

// Start moves a pending timer to running. The bool is false when the timer
// was not pending; the current entity is returned unchanged in that case.
func (s *Service) Start(ctx context.Context, id uuid.UUID) (model.Timer, bool, error) {
	t, ok, err := s.store.StartTimer(ctx, id, s.now())
	if err != nil {
		return model.Timer{}, false, fmt.Errorf("timers: start %s: %w", id, err)
	}
	if ok {
		s.publish(ctx, model.TimerStatusPending, t)
	}
	return t, ok, nil
}

// Cancel moves a pending or running timer to cancelled. Cancelling an
// already cancelled timer succeeds without publishing anything; of racing
// cancels only the one that performed the transition publishes.
func (s *Service) Cancel(ctx context.Context, id uuid.UUID) (model.Timer, error) {
	t, ok, err := s.store.CancelTimer(ctx, id, s.now())
	if err != nil {
		return model.Timer{}, fmt.Errorf("timers: cancel %s: %w", id, err)
	}
	if ok {
		from := cancelledFrom(t)
		s.publish(ctx, from, t)
		s.logger.Info("timer cancelled", "timer_id", id, "from", from)
	}
	return t, nil
}

// cancelledFrom is the status a just-cancelled timer left. Only running
// timers have a start time.
func cancelledFrom(t model.Timer) model.TimerStatus {
	if t.StartedAt != nil {
		return model.TimerStatusRunning
	}
	return model.TimerStatusPending
}

// Get returns a timer by id regardless of age.
func (s *Service) Get(ctx context.Context, id uuid.UUID) (model.Timer, error) {
	t, err := s.store.GetTimer(ctx, id)
	if err != nil {
		return model.Timer{}, fmt.Errorf("timers: get %s: %w", id, err)
	}
	return t, nil
}

// List returns the display listing.
func (s *Service) List(ctx context.Context) ([]model.Timer, error) {
	timers, err := s.store.ListTimers(ctx, s.now())
	if err != nil {
		return nil, fmt.Errorf("timers: list: %w", err)
	}
	return timers, nil
}

// Delete removes a timer permanently. No event is published.
func (s *Service) Delete(ctx context.Context, id uuid.UUID) error {
	if err := s.store.DeleteTimer(ctx, id); err != nil {
		return fmt.Errorf("timers: delete %s: %w", id, err)
	}
	s.logger.Info("timer deleted", "timer_id", id)
	return nil
}

// Ping checks the backing store.
func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// publish announces a transition. Hub delivery is best effort: a failure
// here never undoes the persisted change.
func (s *Service) publish(ctx context.Context, from model.TimerStatus, t model.Timer) {
	ev := model.TimerEvent{
		Kind:       model.EventTransition,
		TimerID:    t.ID,
		From:       from,
		Timer:      t,
		OccurredAt: s.now().UTC(),
	}
	s.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("to", string(t.Status)),
	))

	if s.notifier != nil {
		payload, err := json.Marshal(ev)
		if err == nil {
			err = s.notifier.Notify(ctx, storage.ChannelTimers, string(payload))
		}
		if err == nil {
			return
		}
		s.logger.Warn("timers: notify failed, publishing locally", "timer_id", t.ID, "error", err)
	}
	s.hub.Publish(ev)
}

// Stream is a per-timer event feed. The first event is always a snapshot.
type Stream struct {
	ch     chan model.TimerEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// C returns the event channel. It is closed when the stream ends.
func (st *Stream) C() <-chan model.TimerEvent { return st.ch }

// Close ends the stream and waits for its forwarding goroutine to exit.
func (st *Stream) Close() {
	st.cancel()
	<-st.done
}

// Subscribe opens a stream for one timer. The hub subscription is taken
// before the snapshot is read, so no transition between the two is lost.
func (s *Service) Subscribe(ctx context.Context, id uuid.UUID) (*Stream, error) {
	sub := s.hub.Subscribe()

	snapshot, err := s.store.GetTimer(ctx, id)
	if err != nil {
		sub.Close()
		return nil, fmt.Errorf("timers: subscribe %s: %w", id, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	st := &Stream{
		ch:     make(chan model.TimerEvent, 1),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go func() {
		defer close(st.done)
		defer close(st.ch)
		defer sub.Close()

		first := model.TimerEvent{
			Kind:       model.EventSnapshot,
			TimerID:    id,
			Timer:      snapshot,
			OccurredAt: s.now().UTC(),
		}
		select {
		case st.ch <- first:
		case <-ctx.Done():
			return
		}

		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-sub.C():
				if !ok {
					return
				}
				if ev.TimerID != id {
					continue
				}
				select {
				case st.ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return st, nil
}
