package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/aimediator/mediator/internal/storage"
	"github.com/aimediator/mediator/internal/storage/storagetest"
	"github.com/aimediator/mediator/internal/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "mediations"))
	require.NoError(t, err)
	return s
}

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return newTestStore(t)
	})
}

func TestLayout(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id := types.MediationID{GroupID: -42, Token: "abc"}
	require.NoError(t, s.Insert(ctx, types.NewMediation(id, "Dishes")))
	_, err := s.PutPerspective(ctx, id, 7, "my view")
	require.NoError(t, err)
	require.NoError(t, s.PutAnswer(ctx, id, 7, "an answer"))

	dir := filepath.Join(s.Root(), "g-42", "abc")
	assert.FileExists(t, filepath.Join(dir, "meta.json"))
	assert.FileExists(t, filepath.Join(dir, "7", "perspective.txt"))
	assert.FileExists(t, filepath.Join(dir, "7", "answer.txt"))

	data, err := os.ReadFile(filepath.Join(dir, "7", "perspective.txt"))
	require.NoError(t, err)
	assert.Equal(t, "my view", string(data))
}

func TestNoTempFilesLeftBehind(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	m, err := storage.Create(ctx, s, nil, "Test", 1)
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		require.NoError(t, s.Save(ctx, m))
	}
	require.NoError(t, s.PutAnswer(ctx, m.ID, 1, "x"))
	assert.ErrorIs(t, s.PutAnswer(ctx, m.ID, 1, "y"), storage.ErrAlreadyExists)

	err = filepath.Walk(s.Root(), func(path string, info os.FileInfo, err error) error {
		require.NoError(t, err)
		assert.NotContains(t, filepath.Base(path), ".tmp", "leftover temp file %s", path)
		return nil
	})
	require.NoError(t, err)
}

func TestCorruptRecordIsStorageError(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	id := types.MediationID{GroupID: 1, Token: "bad"}
	dir := filepath.Join(s.Root(), "g1", "bad")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "meta.json"), []byte("{not json"), 0o644))

	_, err := s.Load(ctx, id)
	require.Error(t, err)
	assert.True(t, storage.IsStorageError(err))
	assert.NotErrorIs(t, err, storage.ErrNotFound)
}

func TestRejectsPathTraversalTokens(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Load(context.Background(), types.MediationID{GroupID: 1, Token: "../../etc"})
	assert.Error(t, err)
}
