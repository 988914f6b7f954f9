package memory

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"

	"ragagent/internal/domain"
)

// Storage is a simple in-memory vector store using brute-force cosine similarity.
// It is read-only while queries run; Init and Upsert take the write lock.
type Storage struct {
	mu        sync.RWMutex
	dimension int
	vectors   [][]float64
	chunks    []domain.Chunk
}

func NewStorage() *Storage { return &Storage{} }

// Init resets the storage to an empty index of the given dimension.
func (s *Storage) Init(_ context.Context, dimension int) error {
	if dimension <= 0 {
		return domain.NewError(domain.KindIngestion, "invalid dimension", fmt.Errorf("%d", dimension))
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.dimension = dimension
	s.vectors = nil
	s.chunks = nil
	return nil
}

func (s *Storage) Upsert(_ context.Context, entries []domain.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return domain.NewError(domain.KindIngestion, "storage not initialized", nil)
	}
	for _, e := range entries {
		if len(e.Vector) != s.dimension {
			return domain.NewError(domain.KindIngestion, "inconsistent embedding dimension",
				fmt.Errorf("chunk %s: got %d want %d", e.Chunk.ID, len(e.Vector), s.dimension))
		}
	}
	for _, e := range entries {
		vec := make([]float64, len(e.Vector))
		copy(vec, e.Vector)
		s.chunks = append(s.chunks, e.Chunk)
		s.vectors = append(s.vectors, vec)
	}
	return nil
}

// Search returns the topK entries with the highest cosine similarity.
// Ties keep insertion order.
func (s *Storage) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dimension == 0 {
		return nil, domain.ErrIndexNotFound
	}
	if len(vector) != s.dimension {
		return nil, domain.NewError(domain.KindQuery, domain.ErrDimensionMismatch.Message,
			fmt.Errorf("query has %d dimensions, index has %d", len(vector), s.dimension))
	}
	if topK <= 0 {
		return nil, domain.NewError(domain.KindQuery, "k must be positive", fmt.Errorf("%d", topK))
	}
	scores := make([]float64, len(s.vectors))
	for i := range s.vectors {
		scores[i] = cosine(s.vectors[i], vector)
	}
	idxs := argsortDesc(scores)
	if topK > len(idxs) {
		topK = len(idxs)
	}
	results := make([]domain.SearchResult, 0, topK)
	for i := 0; i < topK; i++ {
		j := idxs[i]
		results = append(results, domain.SearchResult{Chunk: s.chunks[j], Score: scores[j]})
	}
	return results, nil
}

func (s *Storage) Dimension() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.dimension
}

func (s *Storage) Len(context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chunks), nil
}

// cosine returns 0 when either vector has zero norm.
func cosine(a, b []float64) float64 {
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func argsortDesc(vals []float64) []int {
	idxs := make([]int, len(vals))
	for i := range vals {
		idxs[i] = i
	}
	sort.SliceStable(idxs, func(i, j int) bool { return vals[idxs[i]] > vals[idxs[j]] })
	return idxs
}
