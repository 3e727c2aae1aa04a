//go:build integration

package repository

import (
	"context"
	"io/fs"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cloo-solutions/resolvekb/internal/domain"
	"github.com/cloo-solutions/resolvekb/internal/testutil"
)

func TestPostgresRepository_Integration(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	migrations, err := fs.Sub(MigrationsFS(), "migrations")
	require.NoError(t, err)
	pool := testutil.NewTestPool(ctx, t, pc, migrations)
	defer pool.Close()

	repo := NewPostgresRepository(pool)

	t.Run("empty database is not found", func(t *testing.T) {
		_, err := repo.Load(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("save and load preserves order", func(t *testing.T) {
		kb := sampleKnowledgeBase()
		require.NoError(t, repo.Save(ctx, kb))

		got, err := repo.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, kb.Version, got.Version)
		require.Len(t, got.Entries, 2)
		assert.Equal(t, "INC0010001", got.Entries[0].ID)
		assert.Equal(t, "INC0010002", got.Entries[1].ID)
		assert.Equal(t, kb.Entries[0].Embedding, got.Entries[0].Embedding)
		assert.True(t, kb.Entries[0].ResolvedAt.Equal(got.Entries[0].ResolvedAt))
	})

	t.Run("save replaces the previous set", func(t *testing.T) {
		kb := sampleKnowledgeBase()
		kb.Version = 8
		kb.Entries = kb.Entries[1:]
		require.NoError(t, repo.Save(ctx, kb))

		got, err := repo.Load(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(8), got.Version)
		require.Len(t, got.Entries, 1)
		assert.Equal(t, domain.CategoryHardware, got.Entries[0].Category)
	})

	t.Run("truncated tables read as not found", func(t *testing.T) {
		require.NoError(t, testutil.TruncateAll(ctx, pool))

		_, err := repo.Load(ctx)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestMigrate_Integration(t *testing.T) {
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(ctx, t)
	defer pc.Terminate(ctx)

	require.NoError(t, Migrate(pc.ConnectionString(), nil))
	// a second run is a no-op
	require.NoError(t, Migrate(pc.ConnectionString(), nil))
}

func TestS3Repository_Integration(t *testing.T) {
	ctx := context.Background()
	rc := testutil.NewRustFSContainer(ctx, t)
	defer rc.Terminate(ctx)

	repo, err := NewS3Repository(ctx, S3ClientConfig{
		Endpoint:        rc.Endpoint(),
		Region:          "us-east-1",
		AccessKeyID:     rc.AccessKey,
		SecretAccessKey: rc.SecretKey,
		Bucket:          "resolvekb-test",
		Key:             "knowledge_base.json",
		UsePathStyle:    true,
	})
	require.NoError(t, err)
	require.NoError(t, repo.EnsureBucket(ctx))

	_, err = repo.Load(ctx)
	require.ErrorIs(t, err, ErrNotFound)

	kb := sampleKnowledgeBase()
	require.NoError(t, repo.Save(ctx, kb))

	got, err := repo.Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, kb, got)
}
