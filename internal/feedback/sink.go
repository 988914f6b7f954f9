package feedback

import (
	"context"

	"go.uber.org/zap"

	"ragagent/internal/domain"
)

// LogSink writes each score as a structured log line.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) Submit(_ context.Context, fb domain.Feedback) error {
	s.logger.Info("feedback",
		zap.String("run_id", fb.RunID),
		zap.String("metric", fb.Metric),
		zap.Float64("score", fb.Score),
		zap.String("source", fb.Source))
	return nil
}

// NoneSink discards feedback.
type NoneSink struct{}

func (NoneSink) Submit(context.Context, domain.Feedback) error { return nil }
