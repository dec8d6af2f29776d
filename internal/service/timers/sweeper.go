package timers

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/metric"

	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/telemetry"
)

// DefaultSweepInterval is how often expired timers are completed.
const DefaultSweepInterval = time.Second

// Sweeper periodically completes running timers whose deadline has passed.
type Sweeper struct {
	svc      *Service
	interval time.Duration
	logger   *slog.Logger

	completed metric.Int64Counter
	errors    metric.Int64Counter
}

// NewSweeper creates a Sweeper. A non-positive interval uses DefaultSweepInterval.
func NewSweeper(svc *Service, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	meter := telemetry.Meter("ctrlsys/sweeper")
	completed, _ := meter.Int64Counter("ctrlsys.sweeper.completed",
		metric.WithDescription("Timers completed by the expiration sweeper"),
	)
	sweepErrors, _ := meter.Int64Counter("ctrlsys.sweeper.errors",
		metric.WithDescription("Sweep passes that failed"),
	)
	return &Sweeper{
		svc:       svc,
		interval:  interval,
		logger:    logger,
		completed: completed,
		errors:    sweepErrors,
	}
}

// Run sweeps on every tick until ctx is cancelled. A failed pass is logged
// and retried on the next tick.
func (sw *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(sw.interval)
	defer ticker.Stop()

	sw.logger.Info("sweeper: started", "interval", sw.interval)
	for {
		select {
		case <-ctx.Done():
			sw.logger.Info("sweeper: stopped")
			return
		case <-ticker.C:
			if _, err := sw.Sweep(ctx); err != nil && ctx.Err() == nil {
				sw.logger.Error("sweeper: sweep failed", "error", err)
			}
		}
	}
}

// Sweep runs one pass and returns the timers it completed.
func (sw *Sweeper) Sweep(ctx context.Context) ([]model.Timer, error) {
	done, err := sw.svc.store.SweepExpired(ctx, sw.svc.now())
	if err != nil {
		sw.errors.Add(ctx, 1)
		return nil, err
	}
	for _, t := range done {
		sw.logger.Info("timer completed",
			"timer_id", t.ID, "name", t.Name, "duration_seconds", t.DurationSeconds)
		sw.svc.publish(ctx, model.TimerStatusRunning, t)
	}
	if len(done) > 0 {
		sw.completed.Add(ctx, int64(len(done)))
	}
	return done, nil
}
