package mcp

import (
	"context"
	"sync"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kohai/internal/assistant"
	"github.com/ashita-ai/kohai/internal/project"
	"github.com/ashita-ai/kohai/internal/testutil"
)

// fakeEngine records what the tools asked of it.
type fakeEngine struct {
	mu       sync.Mutex
	sent     []string
	reply    assistant.Reply
	sendErr  error
	threadID string
	history  []assistant.Message
	resets   int
}

func (f *fakeEngine) Send(_ context.Context, text string) (assistant.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, text)
	return f.reply, f.sendErr
}

func (f *fakeEngine) NewThread(context.Context) (string, error) {
	if f.threadID == "" {
		return "", assistant.ErrNotConfigured
	}
	return f.threadID, nil
}

func (f *fakeEngine) ResetThread() {
	f.mu.Lock()
	f.resets++
	f.mu.Unlock()
}

func (f *fakeEngine) History(_ context.Context, order assistant.Order) ([]assistant.Message, error) {
	out := append([]assistant.Message(nil), f.history...)
	if order == assistant.OrderNewestFirst {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out, nil
}

func newTestStore(t *testing.T) *project.SQLiteStore {
	t.Helper()
	s, err := project.OpenSQLite(context.Background(), t.TempDir(), testutil.TestLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newTestServer(t *testing.T, engine *fakeEngine, store project.Store) *Server {
	t.Helper()
	return New(engine, store, nil, testutil.TestLogger(), "test")
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	return mcplib.CallToolRequest{
		Params: mcplib.CallToolParams{
			Name:      name,
			Arguments: args,
		},
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
