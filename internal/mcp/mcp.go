// Package mcp implements the Model Context Protocol server for Kohai.
//
// MCP clients get the same assistant turn the CLI runs, plus the project
// switching that decides which thread a turn lands on.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ashita-ai/kohai/internal/assistant"
	"github.com/ashita-ai/kohai/internal/project"
	"github.com/ashita-ai/kohai/internal/ratelimit"
)

// Engine is the assistant surface the tools drive.
type Engine interface {
	Send(ctx context.Context, text string) (assistant.Reply, error)
	NewThread(ctx context.Context) (string, error)
	ResetThread()
	History(ctx context.Context, order assistant.Order) ([]assistant.Message, error)
}

// Limiter gates each tool call by key. A nil Limiter disables limiting.
type Limiter interface {
	Check(ctx context.Context, key string) error
}

// Server wraps the MCP server with Kohai's engine and project store.
type Server struct {
	mcpServer *mcpserver.MCPServer
	engine    Engine
	projects  project.Store
	limiter   Limiter
	logger    *slog.Logger
}

// New creates and configures a new MCP server with all resources, prompts
// and tools. projects may be nil, in which case project tools report that
// no store is configured.
func New(engine Engine, projects project.Store, limiter Limiter, logger *slog.Logger, version string) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		engine:   engine,
		projects: projects,
		limiter:  limiter,
		logger:   logger,
	}

	s.mcpServer = mcpserver.NewMCPServer(
		"kohai",
		version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithPromptCapabilities(true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithInstructions(serverInstructions),
	)

	s.registerResources()
	s.registerPrompts()
	s.registerTools()

	return s
}

const serverInstructions = `Kohai is a personal planning assistant. Send the user's request with
kohai_ask; each project keeps its own conversation thread, so open the right
project first with kohai_open_project when the user names one.`

// MCPServer returns the underlying mcp-go server for transport setup.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcpServer
}

// Serve speaks MCP over the given streams until ctx is cancelled or in
// reaches EOF. The CLI passes stdin and stdout.
func (s *Server) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	stdio.SetErrorLogger(slog.NewLogLogger(s.logger.Handler(), slog.LevelError))
	return stdio.Listen(ctx, in, out)
}

// limited wraps a tool handler with the per-tool rate limit. Limiter
// malfunctions fail open.
func (s *Server) limited(name string, h mcpserver.ToolHandlerFunc) mcpserver.ToolHandlerFunc {
	if s.limiter == nil {
		return h
	}
	return func(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
		if err := s.limiter.Check(ctx, name); err != nil {
			var exceeded *ratelimit.ExceededError
			if errors.As(err, &exceeded) {
				s.logger.Warn("mcp: rate limited", "tool", name, "retry_after", exceeded.RetryAfter)
				return errorResult(err.Error()), nil
			}
			s.logger.Error("mcp: rate limiter failed, allowing call", "tool", name, "error", err)
		}
		return h(ctx, request)
	}
}

// toolError turns an engine or store error into a message the client can act on.
func toolError(action string, err error) *mcplib.CallToolResult {
	switch {
	case errors.Is(err, assistant.ErrNotConfigured):
		return errorResult("assistant is not configured: set OPENAI_API_KEY")
	case errors.Is(err, project.ErrNotFound):
		return errorResult(action + ": project not found")
	case errors.Is(err, project.ErrInvalid):
		return errorResult(fmt.Sprintf("%s: %v", action, err))
	case errors.Is(err, assistant.ErrTimeout):
		return errorResult(action + ": the assistant did not answer in time, try again")
	case errors.Is(err, assistant.ErrRunActive):
		return errorResult(action + ": the previous answer is still running and could not be stopped, try again later")
	default:
		return errorResult(fmt.Sprintf("%s: %v", action, err))
	}
}

func jsonResult(v any) (*mcplib.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("mcp: marshal result: %w", err)
	}
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func errorResult(msg string) *mcplib.CallToolResult {
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
