package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/viant/bintly"
	"gopkg.in/yaml.v3"
	_ "modernc.org/sqlite" // pure Go sqlite driver

	"ragagent/internal/domain"
	"ragagent/internal/vectorstore"
)

const (
	manifestFile = "manifest.yaml"
	dataFile     = "index.db"
	lockFile     = ".lock"
)

// Expectation is what a loader requires of a persisted index.
// Zero fields are not checked.
type Expectation struct {
	Dimension int
	Embedder  string
}

// Save writes the index to dir as a yaml manifest and a sqlite table of entries.
// A lock file marks the directory as being written until Save returns.
func (s *Storage) Save(dir string, meta vectorstore.Manifest) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.dimension == 0 {
		return domain.NewError(domain.KindIngestion, "storage not initialized", nil)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return domain.Wrapf(domain.KindIngestion, err, "create index dir %s", dir)
	}
	lock := filepath.Join(dir, lockFile)
	f, err := os.OpenFile(lock, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return domain.NewError(domain.KindIngestion, lockedMessage(lock), err)
		}
		return domain.Wrapf(domain.KindIngestion, err, "create lock %s", lock)
	}
	_, _ = fmt.Fprintf(f, "%d\n", os.Getpid())
	_ = f.Close()
	defer os.Remove(lock)

	dbPath := filepath.Join(dir, dataFile)
	if err := os.Remove(dbPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return domain.Wrapf(domain.KindIngestion, err, "remove stale %s", dbPath)
	}
	if err := s.writeEntries(dbPath); err != nil {
		return domain.Wrapf(domain.KindIngestion, err, "write %s", dbPath)
	}

	meta.Version = vectorstore.ManifestVersion
	meta.Dimension = s.dimension
	meta.Metric = vectorstore.MetricCosine
	meta.Count = len(s.chunks)
	if meta.CreatedAt == "" {
		meta.CreatedAt = time.Now().UTC().Format(time.RFC3339)
	}
	data, err := yaml.Marshal(meta)
	if err != nil {
		return domain.Wrapf(domain.KindIngestion, err, "encode manifest")
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), data, 0o644); err != nil {
		return domain.Wrapf(domain.KindIngestion, err, "write manifest")
	}
	return nil
}

func (s *Storage) writeEntries(path string) error {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()
	ctx := context.Background()
	if _, err := db.ExecContext(ctx, `CREATE TABLE entries (
            position INTEGER PRIMARY KEY,
            id TEXT NOT NULL,
            source_id TEXT NOT NULL,
            char_offset INTEGER NOT NULL,
            chunk_index INTEGER NOT NULL,
            text TEXT NOT NULL,
            vector BLOB NOT NULL
        );`); err != nil {
		return err
	}
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO entries(position, id, source_id, char_offset, chunk_index, text, vector) VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()
	writers := bintly.NewWriters()
	for i, c := range s.chunks {
		w := writers.Get()
		encodeVector(w, s.vectors[i])
		bs := append([]byte(nil), w.Bytes()...)
		writers.Put(w)
		if _, err := stmt.ExecContext(ctx, i, c.ID, c.SourceID, c.Offset, c.Index, c.Text, bs); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Load restores an index saved by Save. It refuses a directory that is locked
// for writing and a manifest that does not match want.
func Load(dir string, want Expectation) (*Storage, vectorstore.Manifest, error) {
	var meta vectorstore.Manifest
	if lock := filepath.Join(dir, lockFile); fileExists(lock) {
		return nil, meta, domain.NewError(domain.KindQuery, lockedMessage(lock), nil)
	}
	data, err := os.ReadFile(filepath.Join(dir, manifestFile))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, meta, domain.NewError(domain.KindQuery, domain.ErrIndexNotFound.Message, err)
		}
		return nil, meta, domain.Wrapf(domain.KindQuery, err, "read manifest")
	}
	if err := yaml.Unmarshal(data, &meta); err != nil {
		return nil, meta, domain.Wrapf(domain.KindQuery, err, "decode manifest")
	}
	if meta.Version != vectorstore.ManifestVersion {
		return nil, meta, domain.NewError(domain.KindQuery, "unsupported index version", fmt.Errorf("%d", meta.Version))
	}
	if meta.Metric != vectorstore.MetricCosine {
		return nil, meta, domain.NewError(domain.KindQuery, "unsupported metric", fmt.Errorf("%q", meta.Metric))
	}
	if want.Dimension > 0 && meta.Dimension != want.Dimension {
		return nil, meta, domain.NewError(domain.KindQuery, domain.ErrDimensionMismatch.Message,
			fmt.Errorf("index has %d dimensions, embedder produces %d", meta.Dimension, want.Dimension))
	}
	if want.Embedder != "" && meta.Embedder != want.Embedder {
		return nil, meta, domain.NewError(domain.KindQuery, "embedder mismatch",
			fmt.Errorf("index built with %q, configured %q", meta.Embedder, want.Embedder))
	}

	s := NewStorage()
	if err := s.Init(context.Background(), meta.Dimension); err != nil {
		return nil, meta, err
	}
	if err := s.readEntries(filepath.Join(dir, dataFile)); err != nil {
		return nil, meta, domain.Wrapf(domain.KindQuery, err, "read entries")
	}
	if len(s.chunks) != meta.Count {
		return nil, meta, domain.NewError(domain.KindQuery, "index is truncated",
			fmt.Errorf("manifest lists %d entries, found %d", meta.Count, len(s.chunks)))
	}
	return s, meta, nil
}

func (s *Storage) readEntries(path string) error {
	if _, err := os.Stat(path); err != nil {
		return err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return err
	}
	defer db.Close()
	rows, err := db.Query(`SELECT id, source_id, char_offset, chunk_index, text, vector FROM entries ORDER BY position`)
	if err != nil {
		return err
	}
	defer rows.Close()
	readers := bintly.NewReaders()
	for rows.Next() {
		var c domain.Chunk
		var blob []byte
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Offset, &c.Index, &c.Text, &blob); err != nil {
			return err
		}
		r := readers.Get()
		if err := r.FromBytes(blob); err != nil {
			readers.Put(r)
			return err
		}
		vec := decodeVector(r)
		readers.Put(r)
		if len(vec) != s.dimension {
			return fmt.Errorf("entry %s has %d dimensions, want %d", c.ID, len(vec), s.dimension)
		}
		s.chunks = append(s.chunks, c)
		s.vectors = append(s.vectors, vec)
	}
	return rows.Err()
}

func encodeVector(w *bintly.Writer, v []float64) {
	w.Int(len(v))
	for _, x := range v {
		w.Float64(x)
	}
}

func decodeVector(r *bintly.Reader) []float64 {
	var n int
	r.Int(&n)
	v := make([]float64, n)
	for i := range v {
		r.Float64(&v[i])
	}
	return v
}

// lockedMessage explains a held lock. A lock left by a crashed writer is
// never cleared automatically.
func lockedMessage(lock string) string {
	holder := "unknown process"
	if data, err := os.ReadFile(lock); err == nil {
		if pid := strings.TrimSpace(string(data)); pid != "" {
			holder = "pid " + pid
		}
	}
	return fmt.Sprintf("index is being written by %s; if no ingestion is running, remove the stale lock %s", holder, lock)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
