package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"ragagent/internal/domain"
)

// Storage is a minimal REST client to Qdrant.
// It assumes cosine distance and creates the collection on Init.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client

	mu        sync.Mutex
	dimension int
	next      int
}

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

// Init drops the collection and recreates it empty with the given dimension.
func (s *Storage) Init(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return domain.NewError(domain.KindIngestion, "invalid dimension", fmt.Errorf("%d", dimension))
	}
	if err := s.do(ctx, http.MethodDelete, s.collectionURL(), nil, nil, http.StatusNotFound); err != nil {
		return domain.Wrapf(domain.KindIngestion, err, "drop collection %s", s.collection)
	}
	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(), body, nil); err != nil {
		return domain.Wrapf(domain.KindIngestion, err, "create collection %s", s.collection)
	}
	s.mu.Lock()
	s.dimension = dimension
	s.next = 0
	s.mu.Unlock()
	return nil
}

// Open attaches to an existing collection and reads its dimension and size.
func (s *Storage) Open(ctx context.Context) error {
	var info struct {
		Result struct {
			PointsCount int `json:"points_count"`
			Config      struct {
				Params struct {
					Vectors struct {
						Size     int    `json:"size"`
						Distance string `json:"distance"`
					} `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodGet, s.collectionURL(), nil, &info); err != nil {
		return domain.NewError(domain.KindQuery, domain.ErrIndexNotFound.Message, err)
	}
	vectors := info.Result.Config.Params.Vectors
	if vectors.Distance != "" && vectors.Distance != "Cosine" {
		return domain.NewError(domain.KindQuery, "unsupported metric", fmt.Errorf("%q", vectors.Distance))
	}
	if vectors.Size <= 0 {
		return domain.NewError(domain.KindQuery, "collection has no vector size", nil)
	}
	s.mu.Lock()
	s.dimension = vectors.Size
	s.next = info.Result.PointsCount
	s.mu.Unlock()
	return nil
}

func (s *Storage) Upsert(ctx context.Context, entries []domain.Embedding) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.dimension == 0 {
		return domain.NewError(domain.KindIngestion, "storage not initialized", nil)
	}
	points := make([]map[string]any, len(entries))
	for i, e := range entries {
		if len(e.Vector) != s.dimension {
			return domain.NewError(domain.KindIngestion, "inconsistent embedding dimension",
				fmt.Errorf("chunk %s: got %d want %d", e.Chunk.ID, len(e.Vector), s.dimension))
		}
		points[i] = map[string]any{
			// qdrant point ids must be unsigned ints or UUIDs
			"id":     pointID(e.Chunk.ID),
			"vector": e.Vector,
			"payload": map[string]any{
				"chunk_id":  e.Chunk.ID,
				"source_id": e.Chunk.SourceID,
				"offset":    e.Chunk.Offset,
				"index":     e.Chunk.Index,
				"text":      e.Chunk.Text,
				"position":  s.next + i,
			},
		}
	}
	body := map[string]any{"points": points}
	if err := s.do(ctx, http.MethodPut, s.collectionURL()+"/points?wait=true", body, nil); err != nil {
		return domain.Wrapf(domain.KindIngestion, err, "upsert %d points", len(points))
	}
	s.next += len(entries)
	return nil
}

func (s *Storage) Search(ctx context.Context, vector []float64, topK int) ([]domain.SearchResult, error) {
	dim := s.Dimension()
	if dim == 0 {
		return nil, domain.ErrIndexNotFound
	}
	if len(vector) != dim {
		return nil, domain.NewError(domain.KindQuery, domain.ErrDimensionMismatch.Message,
			fmt.Errorf("query has %d dimensions, index has %d", len(vector), dim))
	}
	if topK <= 0 {
		return nil, domain.NewError(domain.KindQuery, "k must be positive", fmt.Errorf("%d", topK))
	}
	req := map[string]any{
		"vector":       vector,
		"limit":        topK,
		"with_payload": true,
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload payload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/search", req, &resp); err != nil {
		return nil, domain.Wrapf(domain.KindQuery, err, "search %s", s.collection)
	}
	results := make([]domain.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, domain.SearchResult{Chunk: r.Payload.chunk(), Score: r.Score})
	}
	return results, nil
}

func (s *Storage) Dimension() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimension
}

func (s *Storage) Len(ctx context.Context) (int, error) {
	var resp struct {
		Result struct {
			Count int `json:"count"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL()+"/points/count", map[string]any{"exact": true}, &resp); err != nil {
		return 0, domain.Wrapf(domain.KindQuery, err, "count %s", s.collection)
	}
	return resp.Result.Count, nil
}

type payload struct {
	ChunkID  string `json:"chunk_id"`
	SourceID string `json:"source_id"`
	Offset   int    `json:"offset"`
	Index    int    `json:"index"`
	Text     string `json:"text"`
}

func (p payload) chunk() domain.Chunk {
	return domain.Chunk{ID: p.ChunkID, SourceID: p.SourceID, Offset: p.Offset, Index: p.Index, Text: p.Text}
}

func pointID(chunkID string) string {
	return uuid.NewSHA1(uuid.NameSpaceURL, []byte(chunkID)).String()
}

func (s *Storage) collectionURL() string {
	return fmt.Sprintf("%s/collections/%s", s.url, s.collection)
}

// do sends a JSON request and decodes the response into out when non-nil.
// Statuses listed in ok are accepted in addition to 2xx.
func (s *Storage) do(ctx context.Context, method, url string, body, out any, ok ...int) error {
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	for _, code := range ok {
		if resp.StatusCode == code {
			return nil
		}
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("qdrant %s %s failed: %s", method, url, resp.Status)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
