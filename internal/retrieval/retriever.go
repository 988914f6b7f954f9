package retrieval

import (
	"context"
	"time"

	"ragagent/internal/domain"
	"ragagent/internal/vectorstore"
)

// Retriever answers a query with the K nearest chunks of the index.
type Retriever struct {
	embedder domain.Embedder
	store    vectorstore.Storage
	timeout  time.Duration
}

func New(embedder domain.Embedder, store vectorstore.Storage, timeout time.Duration) *Retriever {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Retriever{embedder: embedder, store: store, timeout: timeout}
}

// Retrieve embeds the query and searches the index. Embedder failures are
// reported as retrieval errors; index failures are returned unchanged.
func (r *Retriever) Retrieve(ctx context.Context, query string, k int) ([]domain.SearchResult, error) {
	embedCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()
	vec, err := r.embedder.Embed(embedCtx, query)
	if err != nil {
		return nil, domain.Wrapf(domain.KindRetrieval, err, "embed query")
	}
	return r.store.Search(ctx, vec, k)
}

// Contexts returns the chunk texts of results in rank order.
func Contexts(results []domain.SearchResult) []string {
	out := make([]string, len(results))
	for i, r := range results {
		out[i] = r.Chunk.Text
	}
	return out
}
