package checkpoint

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure Go sqlite driver

	"ragagent/internal/domain"
)

// SQLite persists conversations in a single-file database so threads survive restarts.
type SQLite struct {
	db *sql.DB
}

// OpenSQLite opens or creates the checkpoint database and applies the schema.
func OpenSQLite(ctx context.Context, path string) (*SQLite, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	// one writer keeps sequence numbers consistent
	db.SetMaxOpenConns(1)
	if _, err := db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS turns (
            thread_id TEXT NOT NULL,
            seq INTEGER NOT NULL,
            turn TEXT NOT NULL,
            PRIMARY KEY (thread_id, seq)
        );`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create checkpoint schema: %w", err)
	}
	return &SQLite{db: db}, nil
}

func (s *SQLite) Load(ctx context.Context, threadID string) ([]domain.Turn, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT turn FROM turns WHERE thread_id = ? ORDER BY seq`, threadID)
	if err != nil {
		return nil, fmt.Errorf("load thread %s: %w", threadID, err)
	}
	defer rows.Close()
	var turns []domain.Turn
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var t domain.Turn
		if err := json.Unmarshal([]byte(data), &t); err != nil {
			return nil, fmt.Errorf("decode turn of thread %s: %w", threadID, err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func (s *SQLite) Append(ctx context.Context, threadID string, turns []domain.Turn) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	var next int
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(seq) + 1, 0) FROM turns WHERE thread_id = ?`, threadID).Scan(&next); err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("append to thread %s: %w", threadID, err)
	}
	for i, t := range turns {
		data, err := json.Marshal(t)
		if err != nil {
			_ = tx.Rollback()
			return err
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO turns(thread_id, seq, turn) VALUES (?, ?, ?)`, threadID, next+i, string(data)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("append to thread %s: %w", threadID, err)
		}
	}
	return tx.Commit()
}

func (s *SQLite) Close() error { return s.db.Close() }
