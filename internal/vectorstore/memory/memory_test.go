package memory

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragagent/internal/domain"
	"ragagent/internal/vectorstore"
)

var _ vectorstore.Storage = (*Storage)(nil)
var _ vectorstore.Persister = (*Storage)(nil)

func entry(id string, idx int, vec ...float64) domain.Embedding {
	return domain.Embedding{
		Chunk:  domain.Chunk{ID: id, SourceID: "doc", Text: "text " + id, Offset: idx * 10, Index: idx},
		Vector: vec,
	}
}

func seeded(t *testing.T) *Storage {
	t.Helper()
	s := NewStorage()
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, 2))
	require.NoError(t, s.Upsert(ctx, []domain.Embedding{
		entry("a", 0, 1, 0),
		entry("b", 1, 0, 1),
		entry("c", 2, 1, 1),
		entry("d", 3, 1, 0),
	}))
	return s
}

func TestStorage_SearchOrdersByCosine(t *testing.T) {
	s := seeded(t)
	res, err := s.Search(context.Background(), []float64{1, 0}, 3)
	require.NoError(t, err)
	require.Len(t, res, 3)
	// a and d tie; insertion order wins
	assert.Equal(t, "a", res[0].Chunk.ID)
	assert.Equal(t, "d", res[1].Chunk.ID)
	assert.Equal(t, "c", res[2].Chunk.ID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-9)
	assert.InDelta(t, 0.7071, res[2].Score, 1e-4)
}

func TestStorage_SearchKLargerThanIndex(t *testing.T) {
	s := seeded(t)
	res, err := s.Search(context.Background(), []float64{0, 1}, 10)
	require.NoError(t, err)
	assert.Len(t, res, 4)
}

func TestStorage_SearchErrors(t *testing.T) {
	ctx := context.Background()

	_, err := NewStorage().Search(ctx, []float64{1}, 1)
	assert.ErrorIs(t, err, domain.ErrIndexNotFound)

	s := seeded(t)
	_, err = s.Search(ctx, []float64{1, 0, 0}, 1)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.ErrorIs(t, err, domain.ErrQuery)

	_, err = s.Search(ctx, []float64{1, 0}, 0)
	assert.ErrorIs(t, err, domain.ErrQuery)
}

func TestStorage_UpsertRejectsInconsistentDimension(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, 2))
	err := s.Upsert(ctx, []domain.Embedding{entry("a", 0, 1, 0), entry("b", 1, 1)})
	assert.ErrorIs(t, err, domain.ErrIngestion)
	n, _ := s.Len(ctx)
	assert.Zero(t, n)
}

func TestStorage_EmptyIndexReturnsNoResults(t *testing.T) {
	s := NewStorage()
	require.NoError(t, s.Init(context.Background(), 3))
	res, err := s.Search(context.Background(), []float64{1, 2, 3}, 2)
	require.NoError(t, err)
	assert.Empty(t, res)
}

func TestStorage_SaveLoadRoundTrip(t *testing.T) {
	s := seeded(t)
	dir := filepath.Join(t.TempDir(), "index")
	require.NoError(t, s.Save(dir, vectorstore.Manifest{Embedder: "hashing"}))
	assert.NoFileExists(t, filepath.Join(dir, lockFile))

	loaded, meta, err := Load(dir, Expectation{Dimension: 2, Embedder: "hashing"})
	require.NoError(t, err)
	assert.Equal(t, 4, meta.Count)
	assert.Equal(t, vectorstore.MetricCosine, meta.Metric)
	assert.NotEmpty(t, meta.CreatedAt)
	assert.Equal(t, s.chunks, loaded.chunks)
	assert.Equal(t, s.vectors, loaded.vectors)

	ctx := context.Background()
	for _, q := range [][]float64{{1, 0}, {0, 1}, {0.3, 0.9}} {
		want, err := s.Search(ctx, q, 4)
		require.NoError(t, err)
		got, err := loaded.Search(ctx, q, 4)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestStorage_SaveOverwritesPreviousIndex(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, seeded(t).Save(dir, vectorstore.Manifest{Embedder: "hashing"}))

	small := NewStorage()
	require.NoError(t, small.Init(context.Background(), 2))
	require.NoError(t, small.Upsert(context.Background(), []domain.Embedding{entry("z", 0, 0, 1)}))
	require.NoError(t, small.Save(dir, vectorstore.Manifest{Embedder: "hashing"}))

	loaded, _, err := Load(dir, Expectation{})
	require.NoError(t, err)
	n, _ := loaded.Len(context.Background())
	assert.Equal(t, 1, n)
}

func TestLoad_RejectsMismatchedIndex(t *testing.T) {
	s := NewStorage()
	ctx := context.Background()
	require.NoError(t, s.Init(ctx, 384))
	vec := make([]float64, 384)
	vec[0] = 1
	require.NoError(t, s.Upsert(ctx, []domain.Embedding{{Chunk: domain.Chunk{ID: "x"}, Vector: vec}}))
	dir := t.TempDir()
	require.NoError(t, s.Save(dir, vectorstore.Manifest{Embedder: "hashing"}))

	_, _, err := Load(dir, Expectation{Dimension: 512})
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)

	_, _, err = Load(dir, Expectation{Dimension: 384, Embedder: "openai:text-embedding-3-small"})
	assert.ErrorIs(t, err, domain.ErrQuery)

	loaded, _, err := Load(dir, Expectation{Dimension: 384})
	require.NoError(t, err)
	_, err = loaded.Search(ctx, make([]float64, 512), 1)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
}

func TestLoad_MissingAndLocked(t *testing.T) {
	_, _, err := Load(filepath.Join(t.TempDir(), "nope"), Expectation{})
	assert.ErrorIs(t, err, domain.ErrIndexNotFound)

	dir := t.TempDir()
	require.NoError(t, seeded(t).Save(dir, vectorstore.Manifest{}))
	lock := filepath.Join(dir, lockFile)
	require.NoError(t, os.WriteFile(lock, nil, 0o644))
	_, _, err = Load(dir, Expectation{})
	assert.ErrorIs(t, err, domain.ErrQuery)
	assert.Contains(t, err.Error(), "remove the stale lock "+lock)

	err = seeded(t).Save(dir, vectorstore.Manifest{})
	assert.ErrorIs(t, err, domain.ErrIngestion)
	assert.Contains(t, err.Error(), "remove the stale lock "+lock)

	// removing the stale lock recovers both paths
	require.NoError(t, os.Remove(lock))
	require.NoError(t, seeded(t).Save(dir, vectorstore.Manifest{}))
	_, _, err = Load(dir, Expectation{})
	require.NoError(t, err)
	assert.NoFileExists(t, lock)
}

func TestLockedMessage_NamesHolder(t *testing.T) {
	lock := filepath.Join(t.TempDir(), lockFile)
	require.NoError(t, os.WriteFile(lock, []byte("4242\n"), 0o644))
	msg := lockedMessage(lock)
	assert.Contains(t, msg, "pid 4242")
	assert.Contains(t, msg, lock)
}
