package vectorstore

import (
	"context"

	"ragagent/internal/domain"
)

// Storage persists vectors and supports similarity search.
// Similarity is cosine for every implementation; Search results are ordered by
// descending score.
type Storage interface {
	// Init resets the storage to an empty index of the given dimension.
	Init(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, entries []domain.Embedding) error
	Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error)
	Dimension() int
	Len(ctx context.Context) (int, error)
}

// Persister is implemented by storages that are saved to a local location.
type Persister interface {
	Save(location string, meta Manifest) error
}

// Manifest describes a persisted index.
type Manifest struct {
	Version   int    `yaml:"version"`
	Embedder  string `yaml:"embedder"`
	Dimension int    `yaml:"dimension"`
	Metric    string `yaml:"metric"`
	Count     int    `yaml:"count"`
	CreatedAt string `yaml:"created_at"`
}

const (
	// ManifestVersion is the persisted format version.
	ManifestVersion = 1
	// MetricCosine is the only supported similarity metric.
	MetricCosine = "cosine"
)
