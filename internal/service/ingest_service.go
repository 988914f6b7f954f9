package service

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"ragagent/internal/domain"
	"ragagent/internal/vectorstore"
)

// DocumentSource yields the documents to index.
type DocumentSource interface {
	Load() ([]domain.Document, error)
}

// IngestStats summarizes one ingestion run.
type IngestStats struct {
	Documents int
	Chunks    int
	Dimension int
	Duration  time.Duration
}

// IngestService runs the offline pipeline: load, chunk, embed, store.
type IngestService struct {
	source    DocumentSource
	chunker   domain.Chunker
	embedder  domain.Embedder
	store     vectorstore.Storage
	batchSize int
	logger    *zap.Logger
}

func NewIngestService(source DocumentSource, chunker domain.Chunker, embedder domain.Embedder, store vectorstore.Storage, batchSize int, logger *zap.Logger) *IngestService {
	if batchSize <= 0 {
		batchSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestService{source: source, chunker: chunker, embedder: embedder, store: store, batchSize: batchSize, logger: logger}
}

// Ingest replaces the contents of the store with the chunks of every loaded document.
func (s *IngestService) Ingest(ctx context.Context) (IngestStats, error) {
	start := time.Now()
	documents, err := s.source.Load()
	if err != nil {
		return IngestStats{}, err
	}
	var allChunks []domain.Chunk
	for _, d := range documents {
		chunks, err := s.chunker.Chunk(d)
		if err != nil {
			return IngestStats{}, domain.Wrapf(domain.KindIngestion, err, "chunk %s", d.Path)
		}
		allChunks = append(allChunks, chunks...)
	}
	s.logger.Info("documents chunked", zap.Int("documents", len(documents)), zap.Int("chunks", len(allChunks)))

	if err := Build(ctx, allChunks, s.embedder, s.store, s.batchSize); err != nil {
		return IngestStats{}, err
	}
	stats := IngestStats{
		Documents: len(documents),
		Chunks:    len(allChunks),
		Dimension: s.store.Dimension(),
		Duration:  time.Since(start),
	}
	s.logger.Info("index built",
		zap.Int("chunks", stats.Chunks),
		zap.Int("dimension", stats.Dimension),
		zap.Duration("took", stats.Duration))
	return stats, nil
}

// Build embeds every chunk and loads the store with the result. The store is only
// reset once all vectors are known, so a failed build leaves it untouched.
func Build(ctx context.Context, chunks []domain.Chunk, embedder domain.Embedder, store vectorstore.Storage, batchSize int) error {
	if len(chunks) == 0 {
		return domain.ErrNoChunks
	}
	if batchSize <= 0 {
		batchSize = len(chunks)
	}
	entries := make([]domain.Embedding, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := start + batchSize
		if end > len(chunks) {
			end = len(chunks)
		}
		texts := make([]string, end-start)
		for i := range texts {
			texts[i] = chunks[start+i].Text
		}
		vectors, err := embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return domain.Wrapf(domain.KindIngestion, err, "embed chunks [%d:%d]", start, end)
		}
		if len(vectors) != len(texts) {
			return domain.NewError(domain.KindIngestion, "embedder returned wrong number of vectors",
				fmt.Errorf("got %d, want %d", len(vectors), len(texts)))
		}
		for i, v := range vectors {
			entries = append(entries, domain.Embedding{Chunk: chunks[start+i], Vector: v})
		}
	}

	dimension := len(entries[0].Vector)
	if dimension == 0 {
		return domain.NewError(domain.KindIngestion, "embedder returned an empty vector", nil)
	}
	for _, e := range entries {
		if len(e.Vector) != dimension {
			return domain.NewError(domain.KindIngestion, "inconsistent embedding dimension",
				fmt.Errorf("chunk %s: got %d want %d", e.Chunk.ID, len(e.Vector), dimension))
		}
	}
	if err := store.Init(ctx, dimension); err != nil {
		return err
	}
	return store.Upsert(ctx, entries)
}

// Persist saves the store when it supports local persistence.
func Persist(store vectorstore.Storage, dir string, embedder domain.Embedder) error {
	p, ok := store.(vectorstore.Persister)
	if !ok {
		return nil
	}
	return p.Save(dir, vectorstore.Manifest{Embedder: embedder.Name()})
}
