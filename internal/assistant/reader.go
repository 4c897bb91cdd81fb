package assistant

import (
	"context"
	"log/slog"
)

// maxTranscriptPages caps how many pages Messages will fetch.
const maxTranscriptPages = 50

// Reader fetches assistant output from a thread.
type Reader struct {
	transport Transport
	logger    *slog.Logger
}

// NewReader creates a reader over t.
func NewReader(t Transport, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reader{transport: t, logger: logger}
}

// LastMessage returns the text of the newest message in the thread. It
// reports false when the thread is empty, the newest message has no text or
// the fetch fails.
func (r *Reader) LastMessage(ctx context.Context, threadID string) (string, bool) {
	m, ok := r.newest(ctx, threadID)
	if !ok {
		return "", false
	}
	return m.Content, true
}

// LastReply is LastMessage restricted to assistant-authored messages: when
// the newest message is the user's own, the run produced no reply.
func (r *Reader) LastReply(ctx context.Context, threadID string) (string, bool) {
	m, ok := r.newest(ctx, threadID)
	if !ok || m.Role != RoleAssistant {
		return "", false
	}
	return m.Content, true
}

func (r *Reader) newest(ctx context.Context, threadID string) (ThreadMessage, bool) {
	page, err := r.transport.ListMessages(ctx, threadID, OrderNewestFirst, 1, "")
	if err != nil {
		r.logger.Warn("assistant: read last message", "thread_id", threadID, "error", err)
		return ThreadMessage{}, false
	}
	if len(page.Messages) == 0 || !page.Messages[0].HasText {
		return ThreadMessage{}, false
	}
	return page.Messages[0], true
}

// Messages returns the thread's text messages in the given order. Entries
// without text content are omitted.
func (r *Reader) Messages(ctx context.Context, threadID string, order Order) ([]Message, error) {
	if order == "" {
		order = OrderOldestFirst
	}
	var (
		out   []Message
		after string
	)
	for range maxTranscriptPages {
		page, err := r.transport.ListMessages(ctx, threadID, order, 0, after)
		if err != nil {
			r.logger.Warn("assistant: read transcript", "thread_id", threadID, "error", err)
			return nil, err
		}
		for _, m := range page.Messages {
			if m.HasText {
				out = append(out, Message{Role: m.Role, Content: m.Content})
			}
		}
		if !page.HasMore || page.LastID == "" || page.LastID == after {
			break
		}
		after = page.LastID
	}
	return out, nil
}
