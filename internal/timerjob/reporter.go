package timerjob

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/ctrlsys/ctrlsys/internal/rpc/timerv1"
)

// Report timeouts. Neither is retried.
const (
	ConnectTimeout = 10 * time.Second
	ReportTimeout  = 30 * time.Second
)

// ErrNotAcknowledged is returned when the control plane answers but declines
// the report.
var ErrNotAcknowledged = errors.New("timerjob: control plane did not acknowledge completion")

// Reporter delivers a completion report to the control plane.
type Reporter interface {
	ReportCompletion(ctx context.Context, st Status) error
}

// GRPCReporter reports over ControlPlaneService.ReportTimerComplete.
type GRPCReporter struct {
	target         string
	dialOpts       []grpc.DialOption
	connectTimeout time.Duration
	callTimeout    time.Duration
	logger         *slog.Logger
}

// NewGRPCReporter creates a reporter for target. Extra dial options are
// appended after the transport credentials.
func NewGRPCReporter(target string, useTLS bool, logger *slog.Logger, opts ...grpc.DialOption) *GRPCReporter {
	creds := insecure.NewCredentials()
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	return &GRPCReporter{
		target:         target,
		dialOpts:       append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...),
		connectTimeout: ConnectTimeout,
		callTimeout:    ReportTimeout,
		logger:         logger,
	}
}

// ReportCompletion dials, sends one report and closes the connection.
func (r *GRPCReporter) ReportCompletion(ctx context.Context, st Status) error {
	r.logger.Info("reporting timer completion",
		"timer_id", st.Metadata.TimerID, "control_plane", r.target)

	conn, err := r.connect(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = conn.Close() }()

	callCtx, cancel := context.WithTimeout(ctx, r.callTimeout)
	defer cancel()

	resp, err := timerv1.NewControlPlaneServiceClient(conn).ReportTimerComplete(callCtx, ReportRequest(st))
	if err != nil {
		return fmt.Errorf("timerjob: report completion: %w", err)
	}
	if !resp.Acknowledged {
		return ErrNotAcknowledged
	}
	r.logger.Info("timer completion acknowledged", "timer_id", st.Metadata.TimerID)
	return nil
}

func (r *GRPCReporter) connect(ctx context.Context) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(r.target, r.dialOpts...)
	if err != nil {
		return nil, fmt.Errorf("timerjob: dial control plane: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, r.connectTimeout)
	defer cancel()

	conn.Connect()
	for {
		s := conn.GetState()
		if s == connectivity.Ready {
			return conn, nil
		}
		if !conn.WaitForStateChange(ctx, s) {
			_ = conn.Close()
			return nil, fmt.Errorf("timerjob: connect to control plane %s: %w", r.target, ctx.Err())
		}
	}
}

// ReportRequest builds the completion report for st.
func ReportRequest(st Status) *timerv1.ReportTimerCompleteRequest {
	completedAt := st.CompletedAt
	if completedAt.IsZero() {
		completedAt = time.Now()
	}
	return &timerv1.ReportTimerCompleteRequest{
		TimerID:              st.Metadata.TimerID,
		Metadata:             wireMetadata(st.Metadata),
		TotalDurationSeconds: st.ElapsedSeconds(completedAt),
		CompletedAt:          completedAt.Unix(),
	}
}

func wireMetadata(m Metadata) *timerv1.TimerMetadata {
	return &timerv1.TimerMetadata{
		TimerID:         m.TimerID,
		Name:            m.Name,
		Labels:          m.Labels,
		DurationSeconds: m.DurationSeconds,
		CreatedAt:       m.CreatedAt.Unix(),
		CreatedBy:       m.CreatedBy,
	}
}
