// Package assistant drives one conversational turn against a remote
// assistant service: resolve the assistant, hold a thread, publish user
// messages, run the assistant, poll the run to a terminal state, resolve
// requested tool calls and read the reply.
package assistant

import (
	"encoding/json"
	"time"
)

// Role identifies the author of a thread message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Order selects the listing direction for thread messages.
type Order string

const (
	OrderOldestFirst Order = "asc"
	OrderNewestFirst Order = "desc"
)

// RunStatus is the lifecycle state reported by the remote service.
type RunStatus string

const (
	StatusQueued         RunStatus = "queued"
	StatusInProgress     RunStatus = "in_progress"
	StatusRequiresAction RunStatus = "requires_action"
	StatusCancelling     RunStatus = "cancelling"
	StatusCompleted      RunStatus = "completed"
	StatusFailed         RunStatus = "failed"
	StatusCancelled      RunStatus = "cancelled"
	StatusExpired        RunStatus = "expired"
	StatusIncomplete     RunStatus = "incomplete"
)

// Terminal reports whether no further transition can happen.
func (s RunStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusCancelled, StatusExpired, StatusIncomplete:
		return true
	default:
		return false
	}
}

// Assistant is a named remote assistant configuration.
type Assistant struct {
	ID    string
	Name  string
	Model string
}

// AssistantSpec describes an assistant to create.
type AssistantSpec struct {
	Name         string
	Model        string
	Instructions string
	Metadata     map[string]string
}

// AssistantPage is one page of the remote assistant listing.
type AssistantPage struct {
	Assistants []Assistant
	LastID     string
	HasMore    bool
}

// Message is one append-only entry in a thread.
type Message struct {
	Role    Role
	Content string
}

// UserMessage is shorthand for a user-authored message.
func UserMessage(content string) Message {
	return Message{Role: RoleUser, Content: content}
}

// MessagePage is one page of a thread's messages. Entries without text
// content keep their position with an empty Content and HasText false.
type MessagePage struct {
	Messages []ThreadMessage
	LastID   string
	HasMore  bool
}

// ThreadMessage is a listed message as returned by the remote service.
type ThreadMessage struct {
	ID      string
	Role    Role
	Content string
	HasText bool
}

// ToolCall is a function invocation requested by a run.
type ToolCall struct {
	ID           string
	FunctionName string
	Arguments    string
}

// ToolOutput answers one ToolCall.
type ToolOutput struct {
	ToolCallID string
	Output     string
}

// Run is a snapshot of a run as last fetched.
type Run struct {
	ID          string
	ThreadID    string
	AssistantID string
	Status      RunStatus
	// ToolCalls is populated only while Status is requires_action.
	ToolCalls []ToolCall
	LastError *RunFailure
}

// RunFailure is the remote explanation for a failed run.
type RunFailure struct {
	Code    string
	Message string
}

// ResolvedCall is a tool call whose arguments parsed as JSON and whose
// output was acknowledged to the run.
type ResolvedCall struct {
	ToolCallID   string          `json:"tool_call_id"`
	FunctionName string          `json:"function_name"`
	Arguments    json.RawMessage `json:"arguments"`
	// Handled is set when a registered ToolHandler produced Output.
	Handled bool   `json:"handled,omitempty"`
	Output  string `json:"output,omitempty"`
}

// RunResult is the outcome of RunAndAwait.
type RunResult struct {
	RunID    string
	Status   RunStatus
	Attempts int
	Elapsed  time.Duration
	// Calls is non-empty only when the run stopped at requires_action with
	// calls no handler answered. The caller must act on them.
	Calls []ResolvedCall
}

// Reply is what one user turn produces.
type Reply struct {
	Text     string
	Calls    []ResolvedCall
	ThreadID string
	RunID    string
}

// PollPolicy bounds how long a run is polled. Whichever of MaxAttempts or
// Deadline is reached first ends the loop.
type PollPolicy struct {
	MaxAttempts int
	Interval    time.Duration
	Deadline    time.Duration
}

// DefaultPollPolicy matches the remote service's observed completion times
// for short turns.
func DefaultPollPolicy() PollPolicy {
	return PollPolicy{
		MaxAttempts: 50,
		Interval:    200 * time.Millisecond,
		Deadline:    30 * time.Second,
	}
}

func (p PollPolicy) withDefaults() PollPolicy {
	d := DefaultPollPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = d.MaxAttempts
	}
	if p.Interval <= 0 {
		p.Interval = d.Interval
	}
	if p.Deadline <= 0 {
		p.Deadline = d.Deadline
	}
	return p
}
