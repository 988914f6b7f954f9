package evaluation

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"ragagent/internal/domain"
)

// Evaluator scores samples with a judge. Records run in parallel; the metrics
// of one record run sequentially.
type Evaluator struct {
	judge       Judge
	concurrency int
	timeout     time.Duration
	logger      *zap.Logger
}

func NewEvaluator(judge Judge, concurrency int, timeout time.Duration, logger *zap.Logger) *Evaluator {
	if concurrency <= 0 {
		concurrency = 4
	}
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Evaluator{judge: judge, concurrency: concurrency, timeout: timeout, logger: logger}
}

// Evaluate returns one record per sample in input order. A failed metric is
// stored as domain.Unscored. The call fails only when no metric of any record
// could be scored; the records are returned in that case too.
func (e *Evaluator) Evaluate(ctx context.Context, samples []domain.EvaluationSample) ([]domain.EvaluationRecord, error) {
	records := make([]domain.EvaluationRecord, len(samples))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, s := range samples {
		i, s := i, s
		g.Go(func() error {
			records[i] = e.score(ctx, s)
			return nil
		})
	}
	_ = g.Wait()

	if len(records) > 0 && !anyScored(records) {
		return records, domain.ErrAllMetricsFailed
	}
	return records, nil
}

func (e *Evaluator) score(ctx context.Context, s domain.EvaluationSample) domain.EvaluationRecord {
	rec := domain.EvaluationRecord{EvaluationSample: s, Scores: make(map[string]float64, len(Metrics))}
	for _, m := range Metrics {
		if in := missingInput(m, s); in != "" {
			e.logger.Debug("metric skipped",
				zap.String("run_id", s.RunID),
				zap.String("metric", m),
				zap.String("missing", in))
			rec.Scores[m] = domain.Unscored
			continue
		}
		mctx, cancel := context.WithTimeout(ctx, e.timeout)
		v, err := e.judge.Score(mctx, m, s)
		cancel()
		if err != nil {
			e.logger.Warn("metric unscored",
				zap.String("run_id", s.RunID),
				zap.String("metric", m),
				zap.Error(err))
			v = domain.Unscored
		}
		rec.Scores[m] = v
	}
	return rec
}

func anyScored(records []domain.EvaluationRecord) bool {
	for _, r := range records {
		for _, v := range r.Scores {
			if domain.IsScored(v) {
				return true
			}
		}
	}
	return false
}
