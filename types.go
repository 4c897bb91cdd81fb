package kohai

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Reply is the outcome of one Ask.
type Reply struct {
	Text     string
	ThreadID string
	RunID    string
	// ToolCalls are the function calls the assistant made that no registered
	// ToolHandler answered. When non-empty, Text is the JSON array of their
	// arguments.
	ToolCalls []ToolCall
}

// ToolCall is one function call requested by the assistant.
type ToolCall struct {
	ID        string
	Function  string
	Arguments json.RawMessage
}

// Message is one transcript entry.
type Message struct {
	Role    string // "user" or "assistant"
	Content string
}

// Project is the public view of a stored project.
type Project struct {
	ID          uuid.UUID
	Name        string
	Author      string
	Description string
	ThreadID    string
	CreatedAt   time.Time
	UpdatedAt   time.Time
	OpenedAt    time.Time
}

// NewProject holds the fields a caller sets when creating a project.
type NewProject struct {
	Name        string
	Author      string
	Description string
}

// PollPolicy bounds how long Ask waits for a run. Zero fields take defaults.
type PollPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Deadline    time.Duration
}
