package timerjob

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"

	"github.com/ctrlsys/ctrlsys/internal/hub"
	"github.com/ctrlsys/ctrlsys/internal/rpc/timerv1"
)

// Service answers TimerService calls for the one timer this job runs.
type Service struct {
	timerID string
	cell    *Cell
	updates *hub.Hub[timerv1.StreamTimerResponse]
	now     func() time.Time
	logger  *slog.Logger
}

var _ timerv1.TimerServiceServer = (*Service)(nil)

func NewService(cell *Cell, updates *hub.Hub[timerv1.StreamTimerResponse], logger *slog.Logger) *Service {
	return &Service{
		timerID: cell.Snapshot().Metadata.TimerID,
		cell:    cell,
		updates: updates,
		now:     time.Now,
		logger:  logger,
	}
}

// CheckTimer returns the current state.
func (s *Service) CheckTimer(_ context.Context, req *timerv1.CheckTimerRequest) (*timerv1.CheckTimerResponse, error) {
	if err := timerv1.ValidateTimerID(req.TimerID, s.timerID); err != nil {
		return nil, err
	}
	now := s.now()
	st := s.cell.Snapshot()
	return &timerv1.CheckTimerResponse{
		TimerID:              st.Metadata.TimerID,
		Metadata:             wireMetadata(st.Metadata),
		State:                timerv1.StateFromJob(st.State),
		ElapsedSeconds:       st.ElapsedSeconds(now),
		RemainingSeconds:     st.RemainingSeconds(now),
		CompletionPercentage: st.CompletionPercentage(now),
		Summary:              st.Summary(now),
		ErrorMessage:         st.ErrorMessage,
	}, nil
}

// StreamTimer sends the current state, then every update until the job is
// final or the client goes away. A completed job whose report is still in
// flight keeps the stream open so a late failure is delivered.
func (s *Service) StreamTimer(req *timerv1.StreamTimerRequest, stream grpc.ServerStreamingServer[timerv1.StreamTimerResponse]) error {
	if err := timerv1.ValidateTimerID(req.TimerID, s.timerID); err != nil {
		return err
	}

	// Subscribe before the snapshot so no transition falls in between.
	sub := s.updates.Subscribe()
	defer sub.Close()

	now := s.now()
	st := s.cell.Snapshot()
	if err := stream.Send(ptr(updateFor(st, now))); err != nil {
		return err
	}
	if st.Final() {
		return nil
	}

	ctx := stream.Context()
	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("timer stream closed by client", "timer_id", s.timerID)
			return nil
		case u, ok := <-sub.C():
			if !ok {
				return nil
			}
			if u.TimerID != req.TimerID {
				continue
			}
			if err := stream.Send(&u); err != nil {
				return err
			}
			if u.State.Job().IsTerminal() {
				return nil
			}
		}
	}
}

// HealthCheck verifies the job is configured to run and its status is readable.
func (s *Service) HealthCheck() error {
	st := s.cell.Snapshot()
	if st.Metadata.TimerID == "" {
		return errors.New("timerjob: timer id is empty")
	}
	if st.Duration <= 0 {
		return errors.New("timerjob: timer duration is zero")
	}
	return nil
}

// ActiveStreams is the number of open StreamTimer calls.
func (s *Service) ActiveStreams() int {
	return s.updates.Len()
}

func ptr[T any](v T) *T { return &v }
