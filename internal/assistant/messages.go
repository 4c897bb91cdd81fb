package assistant

import (
	"context"
	"log/slog"
)

// Publisher appends messages to a thread.
type Publisher struct {
	transport Transport
	logger    *slog.Logger
}

// NewPublisher creates a publisher over t.
func NewPublisher(t Transport, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{transport: t, logger: logger}
}

// Publish appends msgs in order, one remote call each. On failure it returns
// a *PublishError counting the messages already appended; those are not
// rolled back.
func (p *Publisher) Publish(ctx context.Context, threadID string, msgs ...Message) error {
	for i, msg := range msgs {
		if msg.Role == "" {
			msg.Role = RoleUser
		}
		if err := p.transport.CreateMessage(ctx, threadID, msg); err != nil {
			p.logger.Error("assistant: publish failed",
				"thread_id", threadID, "accepted", i, "total", len(msgs), "error", err)
			return &PublishError{Accepted: i, Total: len(msgs), Err: err}
		}
	}
	return nil
}
