package timerjob

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/rpc"
	"github.com/ctrlsys/ctrlsys/internal/rpc/timerv1"
	"github.com/ctrlsys/ctrlsys/internal/testutil"
)

// scriptedControlPlane answers every report with a fixed acknowledgement.
type scriptedControlPlane struct {
	ack bool

	mu       sync.Mutex
	received []*timerv1.ReportTimerCompleteRequest
}

func (s *scriptedControlPlane) ReportTimerComplete(_ context.Context, req *timerv1.ReportTimerCompleteRequest) (*timerv1.ReportTimerCompleteResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.received = append(s.received, req)
	resp := &timerv1.ReportTimerCompleteResponse{Acknowledged: s.ack}
	if !s.ack {
		resp.Message = "timer unknown"
	}
	return resp, nil
}

func (s *scriptedControlPlane) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.received)
}

func serveScriptedControlPlane(t *testing.T, cp *scriptedControlPlane) *GRPCReporter {
	t.Helper()
	srv, _ := rpc.NewServer(testutil.TestLogger())
	timerv1.RegisterControlPlaneServiceServer(srv, cp)

	lis := testutil.NewBufListener()
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return NewGRPCReporter(testutil.BufconnTarget, false, testutil.TestLogger(), testutil.BufconnDialer(lis))
}

func completedStatus(t *testing.T) Status {
	t.Helper()
	cell := NewCell(NewStatus(testJobConfig(1), t0))
	cell.Advance(t0.Add(200 * time.Millisecond))
	st, _ := cell.Advance(t0.Add(1500 * time.Millisecond))
	require.Equal(t, model.JobStateCompleted, st.State)
	return st
}

func TestGRPCReporterAcknowledged(t *testing.T) {
	cp := &scriptedControlPlane{ack: true}
	rep := serveScriptedControlPlane(t, cp)

	require.NoError(t, rep.ReportCompletion(context.Background(), completedStatus(t)))
	require.Equal(t, 1, cp.count())
	assert.Equal(t, "job-1", cp.received[0].TimerID)
	assert.Equal(t, int64(1), cp.received[0].TotalDurationSeconds)
	assert.Equal(t, t0.Add(1500*time.Millisecond).Unix(), cp.received[0].CompletedAt)
}

func TestGRPCReporterNotAcknowledged(t *testing.T) {
	cp := &scriptedControlPlane{ack: false}
	rep := serveScriptedControlPlane(t, cp)

	err := rep.ReportCompletion(context.Background(), completedStatus(t))
	require.ErrorIs(t, err, ErrNotAcknowledged)
	assert.Equal(t, 1, cp.count(), "a declined report is not retried")
}
