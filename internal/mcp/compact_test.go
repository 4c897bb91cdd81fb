package mcp

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/ashita-ai/kohai/internal/assistant"
	"github.com/ashita-ai/kohai/internal/project"
)

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate("short", 10))
	assert.Equal(t, "exact", truncate("exact", 5))
	assert.Equal(t, "abcd...", truncate("abcdefghij", 7))
	assert.Equal(t, "日本...", truncate("日本語のテキスト", 5), "counts runes, not bytes")
	assert.Equal(t, "ab", truncate("abcdef", 2))
}

func TestCompactMessage(t *testing.T) {
	long := strings.Repeat("x", maxCompactMessage+50)
	m := compactMessage(assistant.Message{Role: assistant.RoleAssistant, Content: long})
	assert.Equal(t, assistant.RoleAssistant, m["role"])
	assert.Len(t, m["content"], maxCompactMessage)
}

func TestCompactProject_OmitsEmptyFields(t *testing.T) {
	p := project.Project{ID: uuid.New(), Name: "Garden", OpenedAt: time.Now()}
	m := compactProject(p)
	assert.Equal(t, "Garden", m["name"])
	assert.NotContains(t, m, "author")
	assert.NotContains(t, m, "description")
	assert.NotContains(t, m, "thread_id")

	p.ThreadID = "thread_1"
	p.Author = "sam"
	m = compactProject(p)
	assert.Equal(t, "thread_1", m["thread_id"])
	assert.Equal(t, "sam", m["author"])
}
