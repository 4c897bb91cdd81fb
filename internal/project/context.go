package project

import (
	"context"
	"errors"
	"log/slog"
)

// Context exposes the current project's remembered thread to the assistant
// engine. It re-reads the current project on every call, so opening another
// project takes effect on the next turn.
type Context struct {
	store  Store
	logger *slog.Logger
}

func NewContext(store Store, logger *slog.Logger) *Context {
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{store: store, logger: logger}
}

// CurrentThreadID returns the current project's thread id, or "" when there
// is no current project or it has no thread yet.
func (c *Context) CurrentThreadID(ctx context.Context) (string, error) {
	p, err := c.store.Current(ctx)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return p.ThreadID, nil
}

// RememberThreadID stores threadID on the current project. Without a current
// project there is nothing to remember it on and the call is a no-op.
func (c *Context) RememberThreadID(ctx context.Context, threadID string) error {
	p, err := c.store.Current(ctx)
	if errors.Is(err, ErrNotFound) {
		c.logger.Debug("project: no current project, thread not remembered", "thread_id", threadID)
		return nil
	}
	if err != nil {
		return err
	}
	return c.store.SetThreadID(ctx, p.ID, threadID)
}
