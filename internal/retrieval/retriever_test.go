package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragagent/internal/domain"
	"ragagent/internal/embedding/hashing"
	"ragagent/internal/vectorstore/memory"
)

type failingEmbedder struct{ *hashing.Embedder }

func (failingEmbedder) Embed(context.Context, string) ([]float64, error) {
	return nil, errors.New("provider down")
}

type slowEmbedder struct{ *hashing.Embedder }

func (slowEmbedder) Embed(ctx context.Context, _ string) ([]float64, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func newIndex(t *testing.T, emb domain.Embedder, texts ...string) *memory.Storage {
	t.Helper()
	ctx := context.Background()
	s := memory.NewStorage()
	require.NoError(t, s.Init(ctx, emb.Dimension()))
	var entries []domain.Embedding
	for i, text := range texts {
		v, err := emb.Embed(ctx, text)
		require.NoError(t, err)
		entries = append(entries, domain.Embedding{Chunk: domain.Chunk{ID: text, Text: text, Index: i}, Vector: v})
	}
	require.NoError(t, s.Upsert(ctx, entries))
	return s
}

func TestRetriever_Retrieve(t *testing.T) {
	emb := hashing.NewEmbedder(64)
	store := newIndex(t, emb,
		"Ragas computes faithfulness and answer relevancy",
		"MCP is a protocol that connects models to tools",
		"Goroutines are cheap threads")

	r := New(emb, store, time.Second)
	res, err := r.Retrieve(context.Background(), "what protocol connects models to tools", 2)
	require.NoError(t, err)
	require.Len(t, res, 2)
	assert.Equal(t, "MCP is a protocol that connects models to tools", res[0].Chunk.Text)
	assert.Equal(t, []string{res[0].Chunk.Text, res[1].Chunk.Text}, Contexts(res))
}

func TestRetriever_EmbedderFailureIsRetrievalError(t *testing.T) {
	emb := hashing.NewEmbedder(8)
	store := newIndex(t, emb, "a")

	_, err := New(failingEmbedder{emb}, store, time.Second).Retrieve(context.Background(), "q", 1)
	assert.ErrorIs(t, err, domain.ErrRetrieval)

	_, err = New(slowEmbedder{emb}, store, 10*time.Millisecond).Retrieve(context.Background(), "q", 1)
	assert.ErrorIs(t, err, domain.ErrRetrieval)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestRetriever_IndexErrorsPropagate(t *testing.T) {
	store := newIndex(t, hashing.NewEmbedder(8), "a")
	_, err := New(hashing.NewEmbedder(16), store, time.Second).Retrieve(context.Background(), "a", 1)
	assert.ErrorIs(t, err, domain.ErrDimensionMismatch)
	assert.NotErrorIs(t, err, domain.ErrRetrieval)
}
