package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ctrlsys/ctrlsys/internal/model"
)

const activeTimersURI = "ctrlsys://timers/active"

func (s *Server) registerResources() {
	s.mcpServer.AddResource(
		mcplib.NewResource(
			activeTimersURI,
			"Active Timers",
			mcplib.WithResourceDescription("Pending and running timers with their remaining seconds"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleActiveTimers,
	)
}

func (s *Server) handleActiveTimers(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	list, err := s.timers.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("mcp: active timers: %w", err)
	}

	now := s.timers.Now()
	active := make([]model.TimerResponse, 0, len(list))
	for _, t := range list {
		if t.Status.IsActive() {
			active = append(active, model.NewTimerResponse(t, now))
		}
	}

	data, err := json.MarshalIndent(active, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal timers: %w", err)
	}

	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      activeTimersURI,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
