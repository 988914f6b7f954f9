package evaluation

import (
	"context"

	"ragagent/internal/domain"
)

// Metric names. The set is fixed and ordered for reports.
const (
	Faithfulness     = "faithfulness"
	AnswerRelevancy  = "answer_relevancy"
	ContextPrecision = "context_precision"
	ContextRecall    = "context_recall"
)

// Metrics lists every metric in report order.
var Metrics = []string{Faithfulness, AnswerRelevancy, ContextPrecision, ContextRecall}

// needsAnswer and needsContexts report which sample inputs a metric reads.
func needsAnswer(metric string) bool {
	return metric == Faithfulness || metric == AnswerRelevancy
}

func needsContexts(metric string) bool {
	return metric != AnswerRelevancy
}

// missingInput names the input a metric cannot be scored without, or "".
func missingInput(metric string, s domain.EvaluationSample) string {
	switch {
	case s.AnswerMissing && needsAnswer(metric):
		return "answer"
	case s.ContextsMissing && needsContexts(metric):
		return "contexts"
	}
	return ""
}

// Judge scores one metric of one sample with a value in [0,1].
type Judge interface {
	Score(ctx context.Context, metric string, sample domain.EvaluationSample) (float64, error)
}
