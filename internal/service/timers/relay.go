package timers

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/ctrlsys/ctrlsys/internal/hub"
	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/storage"
)

// Listener receives notifications published by any replica. *storage.DB
// implements it when configured with a notify connection.
type Listener interface {
	Listen(ctx context.Context, channel string) error
	WaitForNotification(ctx context.Context) (channel, payload string, err error)
}

// Relay retry bounds for LISTEN and notification errors.
const (
	relayRetryDelay    = time.Second
	relayMaxRetryDelay = 30 * time.Second
)

// Relay forwards timer notifications from Postgres into the local hub.
type Relay struct {
	listener Listener
	hub      *hub.Hub[model.TimerEvent]
	logger   *slog.Logger

	retryDelay    time.Duration
	maxRetryDelay time.Duration
}

// NewRelay creates a Relay. Call Run to begin listening.
func NewRelay(l Listener, h *hub.Hub[model.TimerEvent], logger *slog.Logger) *Relay {
	return &Relay{
		listener:      l,
		hub:           h,
		logger:        logger,
		retryDelay:    relayRetryDelay,
		maxRetryDelay: relayMaxRetryDelay,
	}
}

// Run blocks until ctx is cancelled. A failing LISTEN is retried with
// exponential backoff, so a database that is down at startup only delays
// cross-replica fan-out.
func (r *Relay) Run(ctx context.Context) {
	if err := r.listen(ctx); err != nil {
		if ctx.Err() == nil {
			r.logger.Error("relay: listen", "error", err)
		}
		return
	}
	r.logger.Info("relay: listening for notifications", "channel", storage.ChannelTimers)

	for {
		_, payload, err := r.listener.WaitForNotification(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			r.logger.Warn("relay: notification error, retrying", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(r.retryDelay):
			}
			continue
		}

		var ev model.TimerEvent
		if err := json.Unmarshal([]byte(payload), &ev); err != nil {
			r.logger.Warn("relay: malformed payload", "error", err)
			continue
		}
		r.hub.Publish(ev)
	}
}

func (r *Relay) listen(ctx context.Context) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.retryDelay
	b.MaxInterval = r.maxRetryDelay
	b.MaxElapsedTime = 0

	return backoff.RetryNotify(func() error {
		return r.listener.Listen(ctx, storage.ChannelTimers)
	}, backoff.WithContext(b, ctx), func(err error, next time.Duration) {
		r.logger.Warn("relay: listen failed, retrying", "error", err, "retry_in", next)
	})
}
