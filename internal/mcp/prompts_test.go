package mcp

import (
	"context"
	"testing"

	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func promptRequest(args map[string]string) mcplib.GetPromptRequest {
	var req mcplib.GetPromptRequest
	req.Params.Arguments = args
	return req
}

func promptText(t *testing.T, result *mcplib.GetPromptResult) string {
	t.Helper()
	require.Len(t, result.Messages, 1)
	assert.Equal(t, mcplib.RoleUser, result.Messages[0].Role)
	text, ok := result.Messages[0].Content.(mcplib.TextContent)
	require.True(t, ok)
	return text.Text
}

func TestPlanProjectPrompt(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, nil)

	result, err := s.handlePlanProjectPrompt(context.Background(), promptRequest(map[string]string{
		"project": "Garden",
		"focus":   "this weekend",
	}))
	require.NoError(t, err)
	assert.Equal(t, "Plan this weekend for Garden", result.Description)
	text := promptText(t, result)
	assert.Contains(t, text, `kohai_open_project with project="Garden"`)
	assert.Contains(t, text, "this weekend")
	assert.Contains(t, text, "kohai_ask")
}

func TestPlanProjectPrompt_DefaultFocus(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, nil)
	result, err := s.handlePlanProjectPrompt(context.Background(), promptRequest(map[string]string{"project": "Garden"}))
	require.NoError(t, err)
	assert.Contains(t, promptText(t, result), "the next few days")
}

func TestPlanProjectPrompt_RequiresProject(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, nil)
	_, err := s.handlePlanProjectPrompt(context.Background(), promptRequest(map[string]string{"project": " "}))
	assert.Error(t, err)
}

func TestSetupPrompt_ListsEveryTool(t *testing.T) {
	s := newTestServer(t, &fakeEngine{}, nil)
	result, err := s.handleSetupPrompt(context.Background(), promptRequest(nil))
	require.NoError(t, err)
	text := promptText(t, result)
	for _, name := range []string{
		"kohai_ask", "kohai_new_thread", "kohai_history",
		"kohai_list_projects", "kohai_create_project", "kohai_open_project",
	} {
		assert.Contains(t, text, name)
	}
}
