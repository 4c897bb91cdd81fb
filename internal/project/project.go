// Package project stores the user's projects and the assistant thread each
// one remembers. The most recently opened project is the current one.
package project

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

// DefaultRecentLimit is how many projects Recent returns when limit is not positive.
const DefaultRecentLimit = 10

var (
	// ErrNotFound is returned when a requested project does not exist.
	ErrNotFound = errors.New("project: not found")

	// ErrInvalid is returned when a project's fields fail validation.
	ErrInvalid = errors.New("project: invalid")
)

// Project is one planning workspace.
type Project struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Author      string    `json:"author,omitempty"`
	Description string    `json:"description,omitempty"`
	ThreadID    string    `json:"thread_id,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	OpenedAt    time.Time `json:"opened_at"`
}

// NewProject holds the user-editable fields of a project.
type NewProject struct {
	Name        string
	Author      string
	Description string
}

func (p NewProject) normalize() (NewProject, error) {
	p.Name = strings.TrimSpace(p.Name)
	p.Author = strings.TrimSpace(p.Author)
	p.Description = strings.TrimSpace(p.Description)
	if p.Name == "" {
		return p, errors.Join(ErrInvalid, errors.New("name is required"))
	}
	return p, nil
}

// Store persists projects.
type Store interface {
	// Create inserts a project and makes it current.
	Create(ctx context.Context, p NewProject) (Project, error)
	Get(ctx context.Context, id uuid.UUID) (Project, error)
	// Find returns the most recently opened project with the given name,
	// compared case-insensitively.
	Find(ctx context.Context, name string) (Project, error)
	// Open marks the project as the most recently opened and returns it.
	Open(ctx context.Context, id uuid.UUID) (Project, error)
	// Current returns the most recently opened project.
	Current(ctx context.Context) (Project, error)
	// Recent lists projects newest-opened first.
	Recent(ctx context.Context, limit int) ([]Project, error)
	Update(ctx context.Context, id uuid.UUID, p NewProject) (Project, error)
	SetThreadID(ctx context.Context, id uuid.UUID, threadID string) error
	Close() error
}

func recentLimit(limit int) int {
	if limit <= 0 {
		return DefaultRecentLimit
	}
	return limit
}

func normalizeName(name string) string { return strings.TrimSpace(name) }
