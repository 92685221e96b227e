// Package storagetest is a conformance suite run against every storage backend.
package storagetest

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Factory returns a fresh, empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Run executes the suite against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	tests := []struct {
		name string
		fn   func(t *testing.T, s storage.Store)
	}{
		{"CreateAndLoad", testCreateAndLoad},
		{"InsertDuplicate", testInsertDuplicate},
		{"LoadMissing", testLoadMissing},
		{"SaveOverwrites", testSaveOverwrites},
		{"LoadReturnsCopy", testLoadReturnsCopy},
		{"Perspectives", testPerspectives},
		{"PerspectivesAreScopedByMediation", testPerspectivesScoped},
		{"AnswersWriteOnce", testAnswersWriteOnce},
		{"ConcurrentPerspectives", testConcurrentPerspectives},
		{"LongValues", testLongValues},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newStore(t)
			t.Cleanup(func() { _ = s.Close() })
			tt.fn(t, s)
		})
	}
}

func testCreateAndLoad(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m, err := storage.Create(ctx, s, nil, "Test", 1)
	require.NoError(t, err)
	assert.Equal(t, int64(1), m.ID.GroupID)
	assert.NotEmpty(t, m.ID.Token)
	assert.Equal(t, types.StateOpen, m.State)
	assert.Empty(t, m.Participants)

	loaded, err := s.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, m, loaded)

	other, err := storage.Create(ctx, s, nil, "Test", 1)
	require.NoError(t, err)
	assert.NotEqual(t, m.ID.Token, other.ID.Token)
}

func testInsertDuplicate(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m := types.NewMediation(types.MediationID{GroupID: 2, Token: "dup"}, "first")
	require.NoError(t, s.Insert(ctx, m))

	again := types.NewMediation(m.ID, "second")
	err := s.Insert(ctx, again)
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	loaded, err := s.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, "first", loaded.Title)
}

func testLoadMissing(t *testing.T, s storage.Store) {
	_, err := s.Load(context.Background(), types.MediationID{GroupID: 9, Token: "missing"})
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.False(t, storage.IsStorageError(err))
}

func testSaveOverwrites(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m, err := storage.Create(ctx, s, nil, "Test", 3)
	require.NoError(t, err)

	m.Participants = append(m.Participants,
		types.Participant{UserID: 10, DisplayName: "Ann"},
		types.Participant{UserID: 20, DisplayName: "Ben"})
	m.State = types.StateClosed
	require.NoError(t, s.Save(ctx, m))
	require.NoError(t, s.Save(ctx, m), "save is idempotent")

	loaded, err := s.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StateClosed, loaded.State)
	assert.Equal(t, []string{"Ann", "Ben"}, loaded.Names())
}

func testLoadReturnsCopy(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m, err := storage.Create(ctx, s, nil, "Test", 4)
	require.NoError(t, err)

	loaded, err := s.Load(ctx, m.ID)
	require.NoError(t, err)
	loaded.Participants = append(loaded.Participants, types.Participant{UserID: 1})
	loaded.State = types.StateClosed

	fresh, err := s.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.Empty(t, fresh.Participants)
	assert.Equal(t, types.StateOpen, fresh.State)
}

func testPerspectives(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m, err := storage.Create(ctx, s, nil, "Test", 5)
	require.NoError(t, err)

	_, err = s.GetPerspective(ctx, m.ID, 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	existed, err := s.PutPerspective(ctx, m.ID, 10, "first")
	require.NoError(t, err)
	assert.False(t, existed)

	existed, err = s.PutPerspective(ctx, m.ID, 10, "second")
	require.NoError(t, err)
	assert.True(t, existed)

	text, err := s.GetPerspective(ctx, m.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, "second", text)
}

func testPerspectivesScoped(t *testing.T, s storage.Store) {
	ctx := context.Background()
	a, err := storage.Create(ctx, s, nil, "A", 6)
	require.NoError(t, err)
	b, err := storage.Create(ctx, s, nil, "B", 6)
	require.NoError(t, err)

	_, err = s.PutPerspective(ctx, a.ID, 10, "in a")
	require.NoError(t, err)

	_, err = s.GetPerspective(ctx, b.ID, 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func testAnswersWriteOnce(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m, err := storage.Create(ctx, s, nil, "Test", 7)
	require.NoError(t, err)

	_, err = s.GetAnswer(ctx, m.ID, 10)
	assert.ErrorIs(t, err, storage.ErrNotFound)

	require.NoError(t, s.PutAnswer(ctx, m.ID, 10, "be kind"))
	err = s.PutAnswer(ctx, m.ID, 10, "overwrite attempt")
	assert.ErrorIs(t, err, storage.ErrAlreadyExists)

	text, err := s.GetAnswer(ctx, m.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, "be kind", text)
}

func testConcurrentPerspectives(t *testing.T, s storage.Store) {
	ctx := context.Background()
	m, err := storage.Create(ctx, s, nil, "Test", 8)
	require.NoError(t, err)

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(user int64) {
			defer wg.Done()
			if _, err := s.PutPerspective(ctx, m.ID, user, fmt.Sprintf("view of %d", user)); err != nil {
				errs <- err
			}
		}(int64(i + 1))
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Errorf("PutPerspective: %v", err)
	}

	for i := 1; i <= n; i++ {
		text, err := s.GetPerspective(ctx, m.ID, int64(i))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("view of %d", i), text)
	}
}

// Titles and texts are stored whole; 64KiB is the TEXT limit on MySQL.
func testLongValues(t *testing.T, s storage.Store) {
	ctx := context.Background()
	title := strings.Repeat("t", 2000)
	m, err := storage.Create(ctx, s, nil, title, 9)
	require.NoError(t, err)

	long := strings.Repeat("perspective ", 10000)
	require.Greater(t, len(long), 1<<16)
	_, err = s.PutPerspective(ctx, m.ID, 10, long)
	require.NoError(t, err)
	require.NoError(t, s.PutAnswer(ctx, m.ID, 10, long))

	loaded, err := s.Load(ctx, m.ID)
	require.NoError(t, err)
	assert.Equal(t, title, loaded.Title)

	text, err := s.GetPerspective(ctx, m.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, long, text)

	text, err = s.GetAnswer(ctx, m.ID, 10)
	require.NoError(t, err)
	assert.Equal(t, long, text)
}
