package project_test

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ashita-ai/kohai/internal/project"
)

// testStore runs the behavior every Store implementation must share.
// newStore must return an empty store.
func testStore(t *testing.T, newStore func(t *testing.T) project.Store) {
	ctx := context.Background()

	t.Run("CreateMakesCurrent", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Create(ctx, project.NewProject{Name: "  Garden  ", Author: "sam"})
		require.NoError(t, err)
		assert.NotEqual(t, uuid.Nil, a.ID)
		assert.Equal(t, "Garden", a.Name)
		assert.Equal(t, "sam", a.Author)
		assert.Empty(t, a.ThreadID)
		assert.False(t, a.CreatedAt.IsZero())

		b, err := s.Create(ctx, project.NewProject{Name: "Kitchen"})
		require.NoError(t, err)

		cur, err := s.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, b.ID, cur.ID)
	})

	t.Run("CreateRejectsEmptyName", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Create(ctx, project.NewProject{Name: "   "})
		assert.ErrorIs(t, err, project.ErrInvalid)
	})

	t.Run("CurrentOnEmptyStore", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Current(ctx)
		assert.ErrorIs(t, err, project.ErrNotFound)
	})

	t.Run("GetMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Get(ctx, uuid.New())
		assert.ErrorIs(t, err, project.ErrNotFound)
	})

	t.Run("OpenMovesToFront", func(t *testing.T) {
		s := newStore(t)
		a, err := s.Create(ctx, project.NewProject{Name: "A"})
		require.NoError(t, err)
		b, err := s.Create(ctx, project.NewProject{Name: "B"})
		require.NoError(t, err)

		opened, err := s.Open(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, opened.OpenedAt.After(b.OpenedAt))

		cur, err := s.Current(ctx)
		require.NoError(t, err)
		assert.Equal(t, a.ID, cur.ID)

		recent, err := s.Recent(ctx, 0)
		require.NoError(t, err)
		require.Len(t, recent, 2)
		assert.Equal(t, a.ID, recent[0].ID)
		assert.Equal(t, b.ID, recent[1].ID)
	})

	t.Run("OpenMissing", func(t *testing.T) {
		s := newStore(t)
		_, err := s.Open(ctx, uuid.New())
		assert.ErrorIs(t, err, project.ErrNotFound)
	})

	t.Run("RecentIsCapped", func(t *testing.T) {
		s := newStore(t)
		for i := range project.DefaultRecentLimit + 3 {
			_, err := s.Create(ctx, project.NewProject{Name: string(rune('a' + i))})
			require.NoError(t, err)
		}
		recent, err := s.Recent(ctx, 0)
		require.NoError(t, err)
		assert.Len(t, recent, project.DefaultRecentLimit)
		assert.Equal(t, string(rune('a'+project.DefaultRecentLimit+2)), recent[0].Name)

		two, err := s.Recent(ctx, 2)
		require.NoError(t, err)
		assert.Len(t, two, 2)
	})

	t.Run("FindIsCaseInsensitive", func(t *testing.T) {
		s := newStore(t)
		p, err := s.Create(ctx, project.NewProject{Name: "Wedding"})
		require.NoError(t, err)
		_, err = s.Create(ctx, project.NewProject{Name: "Other"})
		require.NoError(t, err)

		found, err := s.Find(ctx, " wedding ")
		require.NoError(t, err)
		assert.Equal(t, p.ID, found.ID)

		_, err = s.Find(ctx, "missing")
		assert.ErrorIs(t, err, project.ErrNotFound)
	})

	t.Run("UpdateAndThread", func(t *testing.T) {
		s := newStore(t)
		p, err := s.Create(ctx, project.NewProject{Name: "Trip"})
		require.NoError(t, err)

		updated, err := s.Update(ctx, p.ID, project.NewProject{Name: "Trip to Kyoto", Description: "spring"})
		require.NoError(t, err)
		assert.Equal(t, "Trip to Kyoto", updated.Name)
		assert.Equal(t, "spring", updated.Description)
		assert.False(t, updated.UpdatedAt.Before(p.UpdatedAt))

		require.NoError(t, s.SetThreadID(ctx, p.ID, "thread_1"))
		got, err := s.Get(ctx, p.ID)
		require.NoError(t, err)
		assert.Equal(t, "thread_1", got.ThreadID)
		assert.Equal(t, "Trip to Kyoto", got.Name)

		assert.ErrorIs(t, s.SetThreadID(ctx, uuid.New(), "thread_2"), project.ErrNotFound)
		_, err = s.Update(ctx, uuid.New(), project.NewProject{Name: "x"})
		assert.ErrorIs(t, err, project.ErrNotFound)
	})

	t.Run("ContextFollowsCurrentProject", func(t *testing.T) {
		s := newStore(t)
		pc := project.NewContext(s, nil)

		id, err := pc.CurrentThreadID(ctx)
		require.NoError(t, err)
		assert.Empty(t, id)
		require.NoError(t, pc.RememberThreadID(ctx, "thread_orphan"), "no current project is a no-op")

		a, err := s.Create(ctx, project.NewProject{Name: "A"})
		require.NoError(t, err)
		require.NoError(t, pc.RememberThreadID(ctx, "thread_a"))

		b, err := s.Create(ctx, project.NewProject{Name: "B"})
		require.NoError(t, err)
		id, err = pc.CurrentThreadID(ctx)
		require.NoError(t, err)
		assert.Empty(t, id, "new project has no thread yet")
		require.NoError(t, pc.RememberThreadID(ctx, "thread_b"))

		_, err = s.Open(ctx, a.ID)
		require.NoError(t, err)
		id, err = pc.CurrentThreadID(ctx)
		require.NoError(t, err)
		assert.Equal(t, "thread_a", id)

		got, err := s.Get(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "thread_b", got.ThreadID)
	})
}
