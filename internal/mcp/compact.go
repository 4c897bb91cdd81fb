package mcp

import (
	"github.com/ashita-ai/kohai/internal/assistant"
	"github.com/ashita-ai/kohai/internal/project"
)

const maxCompactMessage = 4000

// compactMessage returns a transcript entry for MCP responses with long
// content truncated.
func compactMessage(m assistant.Message) map[string]any {
	return map[string]any{
		"role":    m.Role,
		"content": truncate(m.Content, maxCompactMessage),
	}
}

// compactProject drops timestamps agents don't act on.
func compactProject(p project.Project) map[string]any {
	m := map[string]any{
		"id":        p.ID,
		"name":      p.Name,
		"opened_at": p.OpenedAt,
	}
	if p.Author != "" {
		m["author"] = p.Author
	}
	if p.Description != "" {
		m["description"] = p.Description
	}
	if p.ThreadID != "" {
		m["thread_id"] = p.ThreadID
	}
	return m
}

// truncate shortens s to at most maxLen runes, appending "..." when cut.
func truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	if maxLen <= 3 {
		return string(runes[:maxLen])
	}
	return string(runes[:maxLen-3]) + "..."
}
