// Package controlplane receives completion reports from standalone timer jobs.
package controlplane

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/ctrlsys/ctrlsys/internal/hub"
	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/rpc/timerv1"
	"github.com/ctrlsys/ctrlsys/internal/telemetry"
)

// ReportStore persists job reports. storage.TimerStore satisfies it.
type ReportStore interface {
	RecordJobReport(ctx context.Context, r model.JobReport) (bool, error)
	GetJobReport(ctx context.Context, timerID string) (model.JobReport, error)
}

// Server implements ControlPlaneService.
type Server struct {
	store  ReportStore
	hub    *hub.Hub[model.JobReport]
	now    func() time.Time
	logger *slog.Logger

	reports metric.Int64Counter
}

var _ timerv1.ControlPlaneServiceServer = (*Server)(nil)

// New creates a Server. Newly recorded reports are published on h.
func New(store ReportStore, h *hub.Hub[model.JobReport], logger *slog.Logger) *Server {
	reports, _ := telemetry.Meter("ctrlsys/controlplane").Int64Counter("ctrlsys.jobs.reports",
		metric.WithDescription("Completion reports received from timer jobs"),
	)
	return &Server{store: store, hub: h, now: time.Now, logger: logger, reports: reports}
}

// Hub exposes the report hub for the SSE endpoint.
func (s *Server) Hub() *hub.Hub[model.JobReport] { return s.hub }

// ReportTimerComplete records a job's completion. Reports are idempotent per
// timer id: a repeat is acknowledged without being stored or announced again.
func (s *Server) ReportTimerComplete(ctx context.Context, req *timerv1.ReportTimerCompleteRequest) (*timerv1.ReportTimerCompleteResponse, error) {
	if err := validateReport(req); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}

	r := model.JobReport{
		TimerID:              req.TimerID,
		Name:                 req.Metadata.Name,
		Labels:               req.Metadata.Labels,
		CreatedBy:            req.Metadata.CreatedBy,
		DurationSeconds:      req.Metadata.DurationSeconds,
		TotalDurationSeconds: req.TotalDurationSeconds,
		JobCreatedAt:         time.Unix(req.Metadata.CreatedAt, 0).UTC(),
		CompletedAt:          time.Unix(req.CompletedAt, 0).UTC(),
		ReceivedAt:           s.now().UTC(),
	}
	if r.Labels == nil {
		r.Labels = map[string]string{}
	}

	created, err := s.store.RecordJobReport(ctx, r)
	if err != nil {
		s.logger.Error("controlplane: record job report", "timer_id", r.TimerID, "error", err)
		return nil, status.Error(codes.Unavailable, "failed to record completion")
	}

	s.reports.Add(ctx, 1, metric.WithAttributes(attribute.Bool("duplicate", !created)))
	if !created {
		s.logger.Info("duplicate completion report", "timer_id", r.TimerID)
		return &timerv1.ReportTimerCompleteResponse{Acknowledged: true, Message: "completion already recorded"}, nil
	}

	s.hub.Publish(r)
	s.logger.Info("timer job completed",
		"timer_id", r.TimerID, "name", r.Name,
		"duration_seconds", r.DurationSeconds, "total_duration_seconds", r.TotalDurationSeconds)
	return &timerv1.ReportTimerCompleteResponse{Acknowledged: true, Message: "completion recorded"}, nil
}

// Report returns the stored report for a job.
func (s *Server) Report(ctx context.Context, timerID string) (model.JobReport, error) {
	r, err := s.store.GetJobReport(ctx, timerID)
	if err != nil {
		return model.JobReport{}, fmt.Errorf("controlplane: get report %s: %w", timerID, err)
	}
	return r, nil
}

func validateReport(req *timerv1.ReportTimerCompleteRequest) error {
	var errs []error
	if req.TimerID == "" {
		errs = append(errs, errors.New("timer_id is required"))
	}
	if req.Metadata == nil {
		errs = append(errs, errors.New("metadata is required"))
	} else if req.Metadata.TimerID != "" && req.Metadata.TimerID != req.TimerID {
		errs = append(errs, fmt.Errorf("metadata.timer_id %q does not match timer_id %q", req.Metadata.TimerID, req.TimerID))
	}
	if req.TotalDurationSeconds < 0 {
		errs = append(errs, errors.New("total_duration_seconds must not be negative"))
	}
	if req.CompletedAt <= 0 {
		errs = append(errs, errors.New("completed_at is required"))
	}
	return errors.Join(errs...)
}
