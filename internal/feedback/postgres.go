package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq" // PostgreSQL driver
	"go.uber.org/zap"

	"ragagent/internal/domain"
)

// PostgresSink stores scores in the evaluation_feedback table.
type PostgresSink struct {
	db     *sql.DB
	logger *zap.Logger
}

// OpenPostgres connects to dsn, verifies the connection and ensures the table exists.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresSink, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	s := NewPostgresSink(db, logger)
	if err := s.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresSink wraps an open database handle.
func NewPostgresSink(db *sql.DB, logger *zap.Logger) *PostgresSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PostgresSink{db: db, logger: logger}
}

// EnsureSchema creates the feedback table if missing.
func (s *PostgresSink) EnsureSchema(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS evaluation_feedback (
			id UUID PRIMARY KEY,
			run_id TEXT NOT NULL,
			metric TEXT NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			source TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL
		)
	`
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("failed to create evaluation_feedback: %w", err)
	}
	return nil
}

func (s *PostgresSink) Submit(ctx context.Context, fb domain.Feedback) error {
	query := `
		INSERT INTO evaluation_feedback (id, run_id, metric, score, source, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := s.db.ExecContext(ctx, query, uuid.NewString(), fb.RunID, fb.Metric, fb.Score, fb.Source, time.Now().UTC())
	if err != nil {
		return domain.Wrapf(domain.KindFeedback, err, "insert feedback for run %s", fb.RunID)
	}
	s.logger.Debug("feedback stored", zap.String("run_id", fb.RunID), zap.String("metric", fb.Metric))
	return nil
}

func (s *PostgresSink) Close() error { return s.db.Close() }
