package mcp

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ctrlsys/ctrlsys/internal/ctxutil"
	"github.com/ctrlsys/ctrlsys/internal/model"
)

func (s *Server) registerTools() {
	s.mcpServer.AddTool(
		mcplib.NewTool("ctrlsys_create_timer",
			mcplib.WithDescription(`Start a countdown timer.

The timer starts immediately and completes on its own when the duration
elapses. Returns the timer with its id, expires_at and remaining_seconds.

EXAMPLE: name="pasta", duration_seconds=540, labels={"room": "kitchen"}`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("name",
				mcplib.Description("Display name for the timer"),
				mcplib.Required(),
			),
			mcplib.WithNumber("duration_seconds",
				mcplib.Description("Countdown length in seconds"),
				mcplib.Required(),
				mcplib.Min(model.MinDurationSeconds),
				mcplib.Max(model.MaxDurationSeconds),
			),
			mcplib.WithObject("labels",
				mcplib.Description("Optional string key/value labels"),
			),
		),
		s.handleCreateTimer,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("ctrlsys_list_timers",
			mcplib.WithDescription("List active timers and recently finished ones, running first."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
		),
		s.handleListTimers,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("ctrlsys_get_timer",
			mcplib.WithDescription("Get one timer by id, including remaining and elapsed seconds."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("id", mcplib.Description("Timer id (UUID)"), mcplib.Required()),
		),
		s.handleGetTimer,
	)

	s.mcpServer.AddTool(
		mcplib.NewTool("ctrlsys_cancel_timer",
			mcplib.WithDescription("Cancel a pending or running timer. Cancelling twice is not an error; a completed timer cannot be cancelled."),
			mcplib.WithDestructiveHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("id", mcplib.Description("Timer id (UUID)"), mcplib.Required()),
		),
		s.handleCancelTimer,
	)

	if s.reports != nil {
		s.mcpServer.AddTool(
			mcplib.NewTool("ctrlsys_get_job_report",
				mcplib.WithDescription("Get the completion report a standalone timer job sent to the control plane."),
				mcplib.WithReadOnlyHintAnnotation(true),
				mcplib.WithIdempotentHintAnnotation(true),
				mcplib.WithOpenWorldHintAnnotation(false),
				mcplib.WithString("timer_id", mcplib.Description("The job's TIMER_ID"), mcplib.Required()),
			),
			s.handleGetJobReport,
		)
	}
}

func (s *Server) handleCreateTimer(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	req := model.CreateTimerRequest{
		Name:            request.GetString("name", ""),
		DurationSeconds: request.GetInt("duration_seconds", 0),
	}
	if raw, ok := request.GetArguments()["labels"].(map[string]any); ok && len(raw) > 0 {
		req.Labels = make(map[string]string, len(raw))
		for k, v := range raw {
			str, ok := v.(string)
			if !ok {
				return errorResult(fmt.Sprintf("label %q must be a string", k)), nil
			}
			req.Labels[k] = str
		}
	}

	t, err := s.timers.Create(ctx, req, ctxutil.Operator(ctx))
	if err != nil {
		return s.serviceError("create timer", err)
	}
	return jsonResult(model.NewTimerResponse(t, s.timers.Now()))
}

func (s *Server) handleListTimers(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	list, err := s.timers.List(ctx)
	if err != nil {
		return s.serviceError("list timers", err)
	}
	now := s.timers.Now()
	out := make([]model.TimerResponse, 0, len(list))
	for _, t := range list {
		out = append(out, model.NewTimerResponse(t, now))
	}
	return jsonResult(map[string]any{"timers": out, "total": len(out)})
}

func (s *Server) handleGetTimer(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, errRes := timerID(request)
	if errRes != nil {
		return errRes, nil
	}
	t, err := s.timers.Get(ctx, id)
	if err != nil {
		return s.serviceError("get timer", err)
	}
	return jsonResult(model.NewTimerResponse(t, s.timers.Now()))
}

func (s *Server) handleCancelTimer(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	id, errRes := timerID(request)
	if errRes != nil {
		return errRes, nil
	}
	t, err := s.timers.Cancel(ctx, id)
	if err != nil {
		return s.serviceError("cancel timer", err)
	}
	return jsonResult(model.NewTimerResponse(t, s.timers.Now()))
}

func (s *Server) handleGetJobReport(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	timerID := request.GetString("timer_id", "")
	if timerID == "" {
		return errorResult("timer_id is required"), nil
	}
	rep, err := s.reports.Report(ctx, timerID)
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return errorResult(fmt.Sprintf("no completion report for %q", timerID)), nil
		}
		return s.serviceError("get job report", err)
	}
	return jsonResult(rep)
}

func timerID(request mcplib.CallToolRequest) (uuid.UUID, *mcplib.CallToolResult) {
	raw := request.GetString("id", "")
	if raw == "" {
		return uuid.UUID{}, errorResult("id is required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.UUID{}, errorResult(fmt.Sprintf("invalid timer id %q", raw))
	}
	return id, nil
}

// serviceError turns caller mistakes into tool errors the assistant can read
// and everything else into a protocol error.
func (s *Server) serviceError(op string, err error) (*mcplib.CallToolResult, error) {
	switch {
	case errors.Is(err, model.ErrValidation):
		var verr *model.ValidationError
		if errors.As(err, &verr) {
			return errorResult(verr.Error()), nil
		}
		return errorResult(err.Error()), nil
	case errors.Is(err, model.ErrNotFound):
		return errorResult("timer not found"), nil
	case errors.Is(err, model.ErrInvalidTransition):
		var terr *model.TransitionError
		if errors.As(err, &terr) {
			return errorResult(terr.Error()), nil
		}
		return errorResult(err.Error()), nil
	}
	s.logger.Error("mcp: "+op, "error", err)
	return nil, fmt.Errorf("mcp: %s: %w", op, err)
}
