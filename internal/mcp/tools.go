package mcp

import (
	"context"
	"strings"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/ashita-ai/kohai/internal/assistant"
	"github.com/ashita-ai/kohai/internal/project"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 200
)

func (s *Server) registerTools() {
	// kohai_ask: one assistant turn on the current project's thread.
	s.mcpServer.AddTool(
		mcplib.NewTool("kohai_ask",
			mcplib.WithDescription(`Send a message to the Kohai planning assistant and wait for its reply.

The message lands on the current project's conversation thread. When the
assistant answers with function calls nothing handled locally, tool_calls
lists them and text holds their arguments as a JSON array.`),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("message",
				mcplib.Description("What the user wants, in their own words"),
				mcplib.Required(),
			),
		),
		s.limited("kohai_ask", s.handleAsk),
	)

	// kohai_new_thread: start the conversation over.
	s.mcpServer.AddTool(
		mcplib.NewTool("kohai_new_thread",
			mcplib.WithDescription("Start a fresh conversation thread for the current project. Earlier messages are no longer sent to the assistant."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(true),
		),
		s.limited("kohai_new_thread", s.handleNewThread),
	)

	// kohai_history: transcript of the current thread.
	s.mcpServer.AddTool(
		mcplib.NewTool("kohai_history",
			mcplib.WithDescription("Read the current thread's transcript."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(true),
			mcplib.WithString("order",
				mcplib.Description("asc for oldest first, desc for newest first"),
				mcplib.Enum(string(assistant.OrderOldestFirst), string(assistant.OrderNewestFirst)),
				mcplib.DefaultString(string(assistant.OrderOldestFirst)),
			),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of messages to return"),
				mcplib.Min(1),
				mcplib.Max(maxHistoryLimit),
				mcplib.DefaultNumber(defaultHistoryLimit),
			),
		),
		s.limited("kohai_history", s.handleHistory),
	)

	// kohai_list_projects: recently opened projects.
	s.mcpServer.AddTool(
		mcplib.NewTool("kohai_list_projects",
			mcplib.WithDescription("List recently opened projects, most recent first. The first one is current."),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithNumber("limit",
				mcplib.Description("Maximum number of projects to return"),
				mcplib.Min(1),
				mcplib.Max(100),
				mcplib.DefaultNumber(project.DefaultRecentLimit),
			),
		),
		s.limited("kohai_list_projects", s.handleListProjects),
	)

	// kohai_create_project: new project, which becomes current.
	s.mcpServer.AddTool(
		mcplib.NewTool("kohai_create_project",
			mcplib.WithDescription("Create a project and make it current. Its first kohai_ask starts a new thread."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(false),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("name", mcplib.Description("Project name"), mcplib.Required()),
			mcplib.WithString("author", mcplib.Description("Who owns the project")),
			mcplib.WithString("description", mcplib.Description("What the project is about")),
		),
		s.limited("kohai_create_project", s.handleCreateProject),
	)

	// kohai_open_project: switch the current project.
	s.mcpServer.AddTool(
		mcplib.NewTool("kohai_open_project",
			mcplib.WithDescription("Make a project current by id or by name. Later turns continue that project's thread."),
			mcplib.WithDestructiveHintAnnotation(false),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("project", mcplib.Description("Project id or name"), mcplib.Required()),
		),
		s.limited("kohai_open_project", s.handleOpenProject),
	)
}

func (s *Server) handleAsk(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	message := strings.TrimSpace(request.GetString("message", ""))
	if message == "" {
		return errorResult("message is required"), nil
	}

	reply, err := s.engine.Send(ctx, message)
	if err != nil {
		return toolError("ask failed", err), nil
	}

	result := map[string]any{
		"thread_id": reply.ThreadID,
		"run_id":    reply.RunID,
		"text":      reply.Text,
	}
	if len(reply.Calls) > 0 {
		result["tool_calls"] = reply.Calls
	}
	return jsonResult(result)
}

func (s *Server) handleNewThread(ctx context.Context, _ mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	threadID, err := s.engine.NewThread(ctx)
	if err != nil {
		return toolError("new thread failed", err), nil
	}
	return jsonResult(map[string]any{"thread_id": threadID})
}

func (s *Server) handleHistory(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	order := assistant.Order(request.GetString("order", string(assistant.OrderOldestFirst)))
	if order != assistant.OrderOldestFirst && order != assistant.OrderNewestFirst {
		return errorResult(`order must be "asc" or "desc"`), nil
	}
	limit := request.GetInt("limit", defaultHistoryLimit)
	if limit < 1 {
		limit = defaultHistoryLimit
	}
	limit = min(limit, maxHistoryLimit)

	msgs, err := s.engine.History(ctx, order)
	if err != nil {
		return toolError("history failed", err), nil
	}

	// The limit keeps the messages nearest the requested end.
	total := len(msgs)
	if total > limit {
		if order == assistant.OrderOldestFirst {
			msgs = msgs[total-limit:]
		} else {
			msgs = msgs[:limit]
		}
	}

	compact := make([]map[string]any, 0, len(msgs))
	for _, m := range msgs {
		compact = append(compact, compactMessage(m))
	}
	return jsonResult(map[string]any{
		"messages": compact,
		"total":    total,
	})
}

func (s *Server) handleListProjects(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.projects == nil {
		return errorResult("no project store configured"), nil
	}
	projects, err := s.projects.Recent(ctx, request.GetInt("limit", project.DefaultRecentLimit))
	if err != nil {
		return toolError("list projects failed", err), nil
	}
	compact := make([]map[string]any, 0, len(projects))
	for _, p := range projects {
		compact = append(compact, compactProject(p))
	}
	return jsonResult(map[string]any{
		"projects": compact,
		"total":    len(compact),
	})
}

func (s *Server) handleCreateProject(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.projects == nil {
		return errorResult("no project store configured"), nil
	}
	p, err := s.projects.Create(ctx, project.NewProject{
		Name:        request.GetString("name", ""),
		Author:      request.GetString("author", ""),
		Description: request.GetString("description", ""),
	})
	if err != nil {
		return toolError("create project failed", err), nil
	}
	s.engine.ResetThread()
	return jsonResult(compactProject(p))
}

func (s *Server) handleOpenProject(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	if s.projects == nil {
		return errorResult("no project store configured"), nil
	}
	ref := strings.TrimSpace(request.GetString("project", ""))
	if ref == "" {
		return errorResult("project is required"), nil
	}

	id, err := uuid.Parse(ref)
	if err != nil {
		found, findErr := s.projects.Find(ctx, ref)
		if findErr != nil {
			return toolError("open project failed", findErr), nil
		}
		id = found.ID
	}

	p, err := s.projects.Open(ctx, id)
	if err != nil {
		return toolError("open project failed", err), nil
	}
	s.engine.ResetThread()
	return jsonResult(compactProject(p))
}
