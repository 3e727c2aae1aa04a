package repository

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/resolvekb/internal/domain"
)

func TestFileRepository_LoadMissing(t *testing.T) {
	repo := NewFileRepository(filepath.Join(t.TempDir(), "kb.json"))

	kb, err := repo.Load(context.Background())

	assert.Nil(t, kb)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileRepository_SaveAndLoad(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "nested", "kb.json")
	repo := NewFileRepository(path)
	kb := sampleKnowledgeBase()

	require.NoError(t, repo.Save(ctx, kb))
	got, err := repo.Load(ctx)

	require.NoError(t, err)
	assert.Equal(t, kb, got)
	assert.Equal(t, path, repo.Path())
}

func TestFileRepository_SaveReplacesAndLeavesNoTempFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	repo := NewFileRepository(filepath.Join(dir, "kb.json"))

	require.NoError(t, repo.Save(ctx, sampleKnowledgeBase()))
	require.NoError(t, repo.Save(ctx, domain.NewKnowledgeBase()))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.True(t, got.IsEmpty())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "kb.json", entries[0].Name())
}

func TestFileRepository_LoadMalformed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "kb.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	_, err := NewFileRepository(path).Load(context.Background())

	ce, ok := AsCorrupt(err)
	require.True(t, ok)
	assert.Equal(t, path, ce.Source)
}

func TestFileRepository_SaveFailureKeepsOldContent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	path := filepath.Join(dir, "kb.json")
	repo := NewFileRepository(path)
	require.NoError(t, repo.Save(ctx, sampleKnowledgeBase()))

	// a directory at the target path makes the rename fail
	blocked := NewFileRepository(filepath.Join(dir, "blocked"))
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "blocked", "child"), 0o755))
	assert.Error(t, blocked.Save(ctx, sampleKnowledgeBase()))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Len(t, got.Entries, 2)
}

func TestFileRepository_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	repo := NewFileRepository(filepath.Join(t.TempDir(), "kb.json"))

	assert.ErrorIs(t, repo.Save(ctx, domain.NewKnowledgeBase()), context.Canceled)
	_, err := repo.Load(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}
