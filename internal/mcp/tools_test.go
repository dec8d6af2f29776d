package mcp

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctrlsys/ctrlsys/internal/auth"
	"github.com/ctrlsys/ctrlsys/internal/controlplane"
	"github.com/ctrlsys/ctrlsys/internal/ctxutil"
	"github.com/ctrlsys/ctrlsys/internal/hub"
	"github.com/ctrlsys/ctrlsys/internal/model"
	"github.com/ctrlsys/ctrlsys/internal/rpc/timerv1"
	"github.com/ctrlsys/ctrlsys/internal/service/timers"
	"github.com/ctrlsys/ctrlsys/internal/storage"
	"github.com/ctrlsys/ctrlsys/internal/testutil"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := testutil.TestLogger()
	store := storage.NewMemoryStore(storage.Options{})
	svc := timers.New(store, hub.New[model.TimerEvent](16), logger)
	reports := controlplane.New(store, hub.New[model.JobReport](4), logger)
	return New(svc, reports, logger, "test")
}

func operatorCtx() context.Context {
	return ctxutil.WithClaims(context.Background(), &auth.Claims{Operator: "assistant"})
}

func call(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{Name: name, Arguments: args},
	}
}

// parseToolText extracts the first TextContent text from a CallToolResult.
func parseToolText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	for _, c := range result.Content {
		if tc, ok := c.(mcplib.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no TextContent found in tool result")
	return ""
}

func mustCreate(t *testing.T, s *Server, name string) model.TimerResponse {
	t.Helper()
	result, err := s.handleCreateTimer(operatorCtx(), call("ctrlsys_create_timer", map[string]any{
		"name":             name,
		"duration_seconds": float64(300),
		"labels":           map[string]any{"room": "kitchen"},
	}))
	require.NoError(t, err)
	require.False(t, result.IsError, parseToolText(t, result))

	var tm model.TimerResponse
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &tm))
	return tm
}

func TestCreateTimerTool(t *testing.T) {
	s := newTestServer(t)

	tm := mustCreate(t, s, "pasta")
	assert.Equal(t, "pasta", tm.Name)
	assert.Equal(t, model.TimerStatusRunning, tm.Status)
	assert.Equal(t, "assistant", tm.CreatedBy)
	assert.Equal(t, map[string]string{"room": "kitchen"}, tm.Labels)
	require.NotNil(t, tm.RemainingSeconds)
	assert.InDelta(t, 300, *tm.RemainingSeconds, 1)
}

func TestCreateTimerToolValidation(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleCreateTimer(operatorCtx(), call("ctrlsys_create_timer", map[string]any{
		"name":             "nope",
		"duration_seconds": float64(0),
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), "duration_seconds")

	result, err = s.handleCreateTimer(operatorCtx(), call("ctrlsys_create_timer", map[string]any{
		"name":             "bad labels",
		"duration_seconds": float64(10),
		"labels":           map[string]any{"n": float64(1)},
	}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), `label "n" must be a string`)
}

func TestGetAndCancelTimerTools(t *testing.T) {
	s := newTestServer(t)
	ctx := operatorCtx()
	tm := mustCreate(t, s, "eggs")

	result, err := s.handleGetTimer(ctx, call("ctrlsys_get_timer", map[string]any{"id": tm.ID.String()}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), `"status": "running"`)

	for range 2 {
		result, err = s.handleCancelTimer(ctx, call("ctrlsys_cancel_timer", map[string]any{"id": tm.ID.String()}))
		require.NoError(t, err)
		require.False(t, result.IsError)
		assert.Contains(t, parseToolText(t, result), `"status": "cancelled"`)
	}

	result, err = s.handleGetTimer(ctx, call("ctrlsys_get_timer", map[string]any{"id": uuid.New().String()}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "timer not found", parseToolText(t, result))

	result, err = s.handleCancelTimer(ctx, call("ctrlsys_cancel_timer", map[string]any{"id": "not-a-uuid"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleGetTimer(ctx, call("ctrlsys_get_timer", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Equal(t, "id is required", parseToolText(t, result))
}

func TestListTimersToolAndActiveResource(t *testing.T) {
	s := newTestServer(t)
	ctx := operatorCtx()
	kept := mustCreate(t, s, "kept")
	gone := mustCreate(t, s, "gone")
	_, err := s.timers.Cancel(ctx, gone.ID)
	require.NoError(t, err)

	result, err := s.handleListTimers(ctx, call("ctrlsys_list_timers", nil))
	require.NoError(t, err)
	var listing struct {
		Timers []model.TimerResponse `json:"timers"`
		Total  int                   `json:"total"`
	}
	require.NoError(t, json.Unmarshal([]byte(parseToolText(t, result)), &listing))
	assert.Equal(t, 2, listing.Total)
	assert.Equal(t, kept.ID, listing.Timers[0].ID, "running timers list first")

	contents, err := s.handleActiveTimers(ctx, mcplib.ReadResourceRequest{})
	require.NoError(t, err)
	require.Len(t, contents, 1)
	text, ok := contents[0].(mcplib.TextResourceContents)
	require.True(t, ok)
	var active []model.TimerResponse
	require.NoError(t, json.Unmarshal([]byte(text.Text), &active))
	require.Len(t, active, 1)
	assert.Equal(t, kept.ID, active[0].ID)
}

func TestGetJobReportTool(t *testing.T) {
	s := newTestServer(t)
	ctx := operatorCtx()

	result, err := s.handleGetJobReport(ctx, call("ctrlsys_get_job_report", map[string]any{"timer_id": "job-1"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	_, err = s.reports.ReportTimerComplete(ctx, &timerv1.ReportTimerCompleteRequest{
		TimerID:              "job-1",
		Metadata:             &timerv1.TimerMetadata{TimerID: "job-1", Name: "bread", DurationSeconds: 5, CreatedAt: time.Now().Unix()},
		TotalDurationSeconds: 5,
		CompletedAt:          time.Now().Unix(),
	})
	require.NoError(t, err)

	result, err = s.handleGetJobReport(ctx, call("ctrlsys_get_job_report", map[string]any{"timer_id": "job-1"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	assert.Contains(t, parseToolText(t, result), `"name": "bread"`)
}
