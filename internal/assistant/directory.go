package assistant

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"
)

// maxAssistantPages caps how far a lookup pages through the remote listing.
const maxAssistantPages = 20

// Directory maps assistant names to remote assistant ids. Names compare
// case-insensitively. Resolved ids are cached for the Directory's lifetime.
type Directory struct {
	transport Transport
	logger    *slog.Logger

	mu           sync.RWMutex
	ids          map[string]string
	instructions string

	group singleflight.Group
}

// NewDirectory creates an empty directory backed by t.
func NewDirectory(t Transport, logger *slog.Logger) *Directory {
	if logger == nil {
		logger = slog.Default()
	}
	return &Directory{
		transport: t,
		logger:    logger,
		ids:       make(map[string]string),
	}
}

// SetInstructions sets the system instructions given to assistants created
// after the call.
func (d *Directory) SetInstructions(instructions string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.instructions = instructions
}

// Seed caches a known id for name without a remote lookup.
func (d *Directory) Seed(name, id string) {
	key := normalizeName(name)
	if key == "" || id == "" {
		return
	}
	d.store(key, id)
}

// Forget drops the cached id for name.
func (d *Directory) Forget(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.ids, normalizeName(name))
}

// Resolve returns the id of the first remote assistant whose name matches.
// Failures of any kind report not found; they are logged, never returned.
func (d *Directory) Resolve(ctx context.Context, name string) (string, bool) {
	key := normalizeName(name)
	if key == "" {
		return "", false
	}
	if id, ok := d.cached(key); ok {
		return id, true
	}

	ch := d.group.DoChan("resolve\x00"+key, func() (any, error) {
		return d.lookup(ctx, key)
	})

	select {
	case <-ctx.Done():
		return "", false
	case res := <-ch:
		if res.Err != nil {
			if errors.Is(res.Err, ErrNotFound) {
				d.logger.Debug("assistant: no remote assistant with name", "name", name)
			} else {
				d.logger.Warn("assistant: resolve failed", "name", name, "error", res.Err)
			}
			return "", false
		}
		return res.Val.(string), true
	}
}

// Create creates a remote assistant, caches and returns its id. Concurrent
// creations of the same name share one remote call, which runs on the first
// caller's ctx; its cancellation fails every waiter.
func (d *Directory) Create(ctx context.Context, name, model string) (string, error) {
	key := normalizeName(name)
	if key == "" {
		return "", fmt.Errorf("assistant: create: name is required")
	}

	ch := d.group.DoChan("create\x00"+key, func() (any, error) {
		if id, ok := d.cached(key); ok {
			return id, nil
		}
		d.mu.RLock()
		instructions := d.instructions
		d.mu.RUnlock()

		a, err := d.transport.CreateAssistant(ctx, AssistantSpec{
			Name:         name,
			Model:        model,
			Instructions: instructions,
			Metadata:     map[string]string{"owner": name},
		})
		if err != nil {
			return nil, err
		}
		d.store(key, a.ID)
		d.logger.Info("assistant: created", "name", name, "assistant_id", a.ID, "model", model)
		return a.ID, nil
	})

	select {
	case <-ctx.Done():
		return "", fmt.Errorf("assistant: create %q: %w", name, ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			d.logger.Error("assistant: create failed", "name", name, "error", res.Err)
			return "", res.Err
		}
		return res.Val.(string), nil
	}
}

// Ensure resolves name, creating the assistant when none exists.
func (d *Directory) Ensure(ctx context.Context, name, model string) (string, error) {
	if id, ok := d.Resolve(ctx, name); ok {
		return id, nil
	}
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("assistant: resolve %q: %w", name, err)
	}
	return d.Create(ctx, name, model)
}

func (d *Directory) lookup(ctx context.Context, key string) (string, error) {
	after := ""
	for range maxAssistantPages {
		page, err := d.transport.ListAssistants(ctx, after)
		if err != nil {
			return "", err
		}
		for _, a := range page.Assistants {
			if a.ID != "" && normalizeName(a.Name) == key {
				d.store(key, a.ID)
				return a.ID, nil
			}
		}
		if !page.HasMore || page.LastID == "" || page.LastID == after {
			break
		}
		after = page.LastID
	}
	return "", ErrNotFound
}

func (d *Directory) cached(key string) (string, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	id, ok := d.ids[key]
	return id, ok
}

func (d *Directory) store(key, id string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.ids[key] = id
}

func normalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}
