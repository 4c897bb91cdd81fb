package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kohai/internal/assistant"
	"github.com/ashita-ai/kohai/internal/project"
)

const (
	uriCurrentProject = "kohai://project/current"
	uriCurrentThread  = "kohai://thread/current"
)

func (s *Server) registerResources() {
	// kohai://project/current: the project turns currently land on.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriCurrentProject,
			"Current Project",
			mcplib.WithResourceDescription("The most recently opened project"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCurrentProject,
	)

	// kohai://thread/current: the current thread's transcript.
	s.mcpServer.AddResource(
		mcplib.NewResource(
			uriCurrentThread,
			"Current Thread",
			mcplib.WithResourceDescription("Transcript of the current conversation thread, oldest first"),
			mcplib.WithMIMEType("application/json"),
		),
		s.handleCurrentThread,
	)
}

func (s *Server) handleCurrentProject(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	payload := map[string]any{"project": nil}
	if s.projects != nil {
		p, err := s.projects.Current(ctx)
		switch {
		case errors.Is(err, project.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("mcp: current project: %w", err)
		default:
			payload["project"] = compactProject(p)
		}
	}
	return textResource(uriCurrentProject, payload)
}

func (s *Server) handleCurrentThread(ctx context.Context, _ mcplib.ReadResourceRequest) ([]mcplib.ResourceContents, error) {
	msgs, err := s.engine.History(ctx, assistant.OrderOldestFirst)
	if err != nil {
		return nil, fmt.Errorf("mcp: current thread: %w", err)
	}
	compact := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		compact = append(compact, compactMessage(m))
	}
	return textResource(uriCurrentThread, map[string]any{"messages": compact})
}

func textResource(uri string, v any) ([]mcplib.ResourceContents, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal %s: %w", uri, err)
	}
	return []mcplib.ResourceContents{
		mcplib.TextResourceContents{
			URI:      uri,
			MIMEType: "application/json",
			Text:     string(data),
		},
	}, nil
}
