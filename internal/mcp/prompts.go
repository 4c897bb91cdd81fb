package mcp

import (
	"context"
	"fmt"
	"strings"

	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// plan-project: walks the client through switching to a project and planning it.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("plan-project",
			mcplib.WithPromptDescription("Open a project and ask Kohai to plan its next steps"),
			mcplib.WithArgument("project",
				mcplib.ArgumentDescription("Project id or name"),
				mcplib.RequiredArgument(),
			),
			mcplib.WithArgument("focus",
				mcplib.ArgumentDescription("What to plan, e.g. this week or the budget"),
			),
		),
		s.handlePlanProjectPrompt,
	)

	// kohai-setup: system prompt snippet describing the tools.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("kohai-setup",
			mcplib.WithPromptDescription("System prompt snippet explaining how to use Kohai's tools"),
		),
		s.handleSetupPrompt,
	)
}

func (s *Server) handlePlanProjectPrompt(_ context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	ref := strings.TrimSpace(request.Params.Arguments["project"])
	if ref == "" {
		return nil, fmt.Errorf("project argument is required")
	}
	focus := strings.TrimSpace(request.Params.Arguments["focus"])
	if focus == "" {
		focus = "the next few days"
	}

	return &mcplib.GetPromptResult{
		Description: fmt.Sprintf("Plan %s for %s", focus, ref),
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: fmt.Sprintf(`1. CALL kohai_open_project with project=%q so the conversation continues that project's thread.

2. CALL kohai_ask with a message asking for a plan covering %s. Include any
   deadlines or constraints the user mentioned.

3. If the reply carries tool_calls, act on each call's arguments and tell the
   user what changed. Otherwise relay the reply text.`, ref, focus),
				},
			},
		},
	}, nil
}

func (s *Server) handleSetupPrompt(context.Context, mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "How to work with Kohai",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `You have access to Kohai, a planning assistant that remembers one
conversation thread per project.

## Available Tools

- kohai_ask: Send the user's request and get the assistant's reply
- kohai_new_thread: Start the current project's conversation over
- kohai_history: Read the current thread's transcript
- kohai_list_projects: See recent projects; the first is current
- kohai_create_project: Create a project and make it current
- kohai_open_project: Switch to a project by id or name

Open the right project before asking. Replies may carry tool_calls: these are
actions the assistant wants taken, with their arguments as JSON.`,
				},
			},
		},
	}, nil
}
