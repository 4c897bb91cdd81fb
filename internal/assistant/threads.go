package assistant

import (
	"context"
	"log/slog"
	"sync"
)

// ProjectContext is the caller-side owner of a persisted thread id.
type ProjectContext interface {
	// CurrentThreadID returns the thread id remembered for the current
	// project, or "" when there is none.
	CurrentThreadID(ctx context.Context) (string, error)
	RememberThreadID(ctx context.Context, threadID string) error
}

// Threads holds the engine's current thread id.
type Threads struct {
	transport Transport
	project   ProjectContext
	owner     string
	logger    *slog.Logger

	mu      sync.Mutex
	current string
}

// NewThreads creates a thread manager. project may be nil, in which case
// nothing is loaded or remembered. owner tags created threads.
func NewThreads(t Transport, project ProjectContext, owner string, logger *slog.Logger) *Threads {
	if logger == nil {
		logger = slog.Default()
	}
	return &Threads{transport: t, project: project, owner: owner, logger: logger}
}

// Current returns the held thread id. When none is held and loadMostRecent
// is set, the project's remembered id is adopted without remote validation.
func (m *Threads) Current(ctx context.Context, loadMostRecent bool) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.current != "" {
		return m.current, true
	}
	if !loadMostRecent || m.project == nil {
		return "", false
	}
	id, err := m.project.CurrentThreadID(ctx)
	if err != nil {
		m.logger.Warn("assistant: load remembered thread", "error", err)
		return "", false
	}
	if id == "" {
		return "", false
	}
	m.current = id
	return id, true
}

// Create always creates a new remote thread and makes it current.
// The new id is remembered by the project; a persistence failure is logged
// and does not fail the call.
func (m *Threads) Create(ctx context.Context) (string, error) {
	var metadata map[string]string
	if m.owner != "" {
		metadata = map[string]string{"owner": m.owner}
	}
	id, err := m.transport.CreateThread(ctx, metadata)
	if err != nil {
		m.logger.Error("assistant: create thread failed", "error", err)
		return "", err
	}

	m.mu.Lock()
	m.current = id
	m.mu.Unlock()

	if m.project != nil {
		if err := m.project.RememberThreadID(ctx, id); err != nil {
			m.logger.Warn("assistant: remember thread", "thread_id", id, "error", err)
		}
	}
	m.logger.Info("assistant: thread created", "thread_id", id)
	return id, nil
}

// Delete removes a remote thread and clears the held id when it matches.
func (m *Threads) Delete(ctx context.Context, threadID string) error {
	if err := m.transport.DeleteThread(ctx, threadID); err != nil {
		m.logger.Error("assistant: delete thread failed", "thread_id", threadID, "error", err)
		return err
	}
	m.mu.Lock()
	if m.current == threadID {
		m.current = ""
	}
	m.mu.Unlock()
	return nil
}

// Reset forgets the held thread id.
func (m *Threads) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = ""
}
