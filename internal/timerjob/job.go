package timerjob

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"golang.org/x/sync/errgroup"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/ctrlsys/ctrlsys/internal/config"
	"github.com/ctrlsys/ctrlsys/internal/hub"
	"github.com/ctrlsys/ctrlsys/internal/rpc"
	"github.com/ctrlsys/ctrlsys/internal/rpc/timerv1"
)

// DefaultShutdownGrace keeps the status server up after the timer finishes
// so streaming clients receive the final update.
const DefaultShutdownGrace = 2 * time.Second

// Job wires the status cell, runner and gRPC service for one timer.
type Job struct {
	cell    *Cell
	updates *hub.Hub[timerv1.StreamTimerResponse]
	runner  *Runner
	service *Service
	grace   time.Duration
	logger  *slog.Logger
}

// Option configures a Job.
type Option func(*Job)

// WithShutdownGrace overrides DefaultShutdownGrace.
func WithShutdownGrace(d time.Duration) Option {
	return func(j *Job) { j.grace = d }
}

// New builds a job from cfg. The status clock starts now.
func New(cfg config.Job, reporter Reporter, logger *slog.Logger, opts ...Option) *Job {
	cell := NewCell(NewStatus(cfg, time.Now()))
	updates := hub.New[timerv1.StreamTimerResponse](hub.DefaultBuffer)
	j := &Job{
		cell:    cell,
		updates: updates,
		runner:  NewRunner(cell, updates, reporter, cfg.UpdateInterval, logger),
		service: NewService(cell, updates, logger),
		grace:   DefaultShutdownGrace,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Status returns the current job status.
func (j *Job) Status() Status { return j.cell.Snapshot() }

// Run serves TimerService on lis and runs the timer. Whichever finishes
// first stops the other. A cancelled ctx is a clean shutdown.
func (j *Job) Run(ctx context.Context, lis net.Listener) error {
	if err := j.service.HealthCheck(); err != nil {
		return err
	}

	srv, hs := rpc.NewServer(j.logger)
	timerv1.RegisterTimerServiceServer(srv, j.service)
	hs.SetServingStatus(timerv1.TimerServiceName, healthpb.HealthCheckResponse_SERVING)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		j.logger.Info("timer job grpc server listening", "addr", lis.Addr().String())
		if err := srv.Serve(lis); err != nil {
			return fmt.Errorf("timerjob: serve: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		err := j.runner.Run(gctx)
		hs.SetServingStatus(timerv1.TimerServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
		if err == nil {
			j.logger.Info(j.cell.Snapshot().Summary(time.Now()))
			select {
			case <-gctx.Done():
			case <-time.After(j.grace):
			}
		}
		rpc.GracefulStop(srv, j.grace)
		return err
	})

	err := g.Wait()
	if err != nil && ctx.Err() != nil && errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
