package evaluation

import (
	"context"

	"go.uber.org/zap"

	"ragagent/internal/agent"
	"ragagent/internal/domain"
	"ragagent/internal/retrieval"
)

// FeedbackSource tags every score the runner submits.
const FeedbackSource = "evaluator"

// Invoker runs the query-time flow for one question.
type Invoker interface {
	Invoke(ctx context.Context, req agent.Request) (agent.Response, error)
}

// Retriever supplies the contexts recorded for a question.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]domain.SearchResult, error)
}

// Runner answers every question on a fresh thread, scores the answers and
// forwards each score to the feedback sink.
type Runner struct {
	agent     Invoker
	retriever Retriever
	k         int
	evaluator *Evaluator
	sink      domain.FeedbackSink
	logger    *zap.Logger
}

func NewRunner(invoker Invoker, retriever Retriever, k int, evaluator *Evaluator, sink domain.FeedbackSink, logger *zap.Logger) *Runner {
	if k <= 0 {
		k = 2
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{agent: invoker, retriever: retriever, k: k, evaluator: evaluator, sink: sink, logger: logger}
}

// Run evaluates questions sequentially through the agent and returns the
// scored records. A question whose run or retrieval fails still appears in the
// report; the metrics that need the missing input are left unscored.
func (r *Runner) Run(ctx context.Context, questions []Question) ([]domain.EvaluationRecord, error) {
	samples := make([]domain.EvaluationSample, 0, len(questions))
	for i, q := range questions {
		r.logger.Info("answering", zap.Int("question", i+1), zap.Int("of", len(questions)))
		sample := domain.EvaluationSample{Question: q.Question, GroundTruth: q.GroundTruth}

		resp, err := r.agent.Invoke(ctx, agent.Request{Input: q.Question, UserID: FeedbackSource})
		sample.RunID = resp.RunID
		if err != nil {
			r.logger.Error("agent failed", zap.String("question", q.Question), zap.Error(err))
			sample.AnswerMissing = true
		} else {
			sample.Answer = resp.Output
		}

		results, err := r.retriever.Retrieve(ctx, q.Question, r.k)
		if err != nil {
			r.logger.Error("retrieval failed",
				zap.String("question", q.Question),
				zap.Error(domain.Wrapf(domain.KindRetrieval, err, "retrieve contexts")))
			sample.ContextsMissing = true
		} else {
			sample.Contexts = retrieval.Contexts(results)
		}
		samples = append(samples, sample)
	}

	records, err := r.evaluator.Evaluate(ctx, samples)
	if err != nil {
		return records, err
	}
	r.submit(ctx, records)
	return records, nil
}

// submit forwards scored cells. Sink failures are logged and never fatal.
func (r *Runner) submit(ctx context.Context, records []domain.EvaluationRecord) {
	if r.sink == nil {
		return
	}
	for _, rec := range records {
		if rec.RunID == "" {
			continue
		}
		for _, m := range Metrics {
			v := rec.Scores[m]
			if !domain.IsScored(v) {
				continue
			}
			fb := domain.Feedback{RunID: rec.RunID, Metric: m, Score: v, Source: FeedbackSource}
			if err := r.sink.Submit(ctx, fb); err != nil {
				r.logger.Warn("feedback submission failed",
					zap.String("run_id", rec.RunID),
					zap.String("metric", m),
					zap.Error(domain.Wrapf(domain.KindFeedback, err, "submit %s", m)))
			}
		}
	}
}
