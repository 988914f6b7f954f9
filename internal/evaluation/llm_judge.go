package evaluation

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"golang.org/x/time/rate"

	"ragagent/internal/domain"
)

// Completer is a single-prompt text model.
type Completer interface {
	Complete(ctx context.Context, system, prompt string) (string, error)
}

// LLMJudge grades metrics with a judge model. When an embedder is set,
// answer relevancy is the cosine similarity of question and answer instead.
// All model calls share one rate limiter.
type LLMJudge struct {
	model    Completer
	embedder domain.Embedder
	limiter  *rate.Limiter
}

// NewLLMJudge creates a judge allowing rps model calls per second (burst 1).
// rps <= 0 disables the limit.
func NewLLMJudge(model Completer, embedder domain.Embedder, rps float64) *LLMJudge {
	limit := rate.Inf
	if rps > 0 {
		limit = rate.Limit(rps)
	}
	return &LLMJudge{model: model, embedder: embedder, limiter: rate.NewLimiter(limit, 1)}
}

const judgeSystem = "You are a strict evaluator of retrieval-augmented answers. Reply with a single number between 0 and 1 and nothing else."

var judgePrompts = map[string]string{
	Faithfulness: `Split the ANSWER into individual claims. What fraction of the claims is directly supported by the CONTEXTS?

CONTEXTS:
%[2]s

ANSWER:
%[3]s`,
	AnswerRelevancy: `How directly and completely does the ANSWER address the QUESTION? 1 means fully on topic, 0 means unrelated or evasive.

QUESTION:
%[1]s

ANSWER:
%[3]s`,
	ContextPrecision: `For each numbered context decide whether it is useful for arriving at the GROUND TRUTH. Return the average precision of the ranking, rewarding useful contexts that appear early.

QUESTION:
%[1]s

CONTEXTS:
%[2]s

GROUND TRUTH:
%[4]s`,
	ContextRecall: `Split the GROUND TRUTH into individual statements. What fraction of them can be attributed to the CONTEXTS?

CONTEXTS:
%[2]s

GROUND TRUTH:
%[4]s`,
}

func (j *LLMJudge) Score(ctx context.Context, metric string, s domain.EvaluationSample) (float64, error) {
	if metric == AnswerRelevancy && j.embedder != nil {
		return j.relevancyByEmbedding(ctx, s)
	}
	tmpl, ok := judgePrompts[metric]
	if !ok {
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
	if err := j.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	prompt := fmt.Sprintf(tmpl, s.Question, numbered(s.Contexts), s.Answer, s.GroundTruth)
	reply, err := j.model.Complete(ctx, judgeSystem, prompt)
	if err != nil {
		return 0, err
	}
	return parseScore(reply)
}

func (j *LLMJudge) relevancyByEmbedding(ctx context.Context, s domain.EvaluationSample) (float64, error) {
	vecs, err := j.embedder.EmbedBatch(ctx, []string{s.Question, s.Answer})
	if err != nil {
		return 0, err
	}
	if len(vecs) != 2 || len(vecs[0]) != len(vecs[1]) {
		return 0, fmt.Errorf("embedder returned unusable vectors")
	}
	var dot, na, nb float64
	for i := range vecs[0] {
		dot += vecs[0][i] * vecs[1][i]
		na += vecs[0][i] * vecs[0][i]
		nb += vecs[1][i] * vecs[1][i]
	}
	if na == 0 || nb == 0 {
		return 0, nil
	}
	return math.Max(0, math.Min(1, dot/(math.Sqrt(na)*math.Sqrt(nb)))), nil
}

func numbered(contexts []string) string {
	var b strings.Builder
	for i, c := range contexts {
		fmt.Fprintf(&b, "[%d] %s\n", i+1, c)
	}
	return b.String()
}

var scorePattern = regexp.MustCompile(`[-+]?\d*\.?\d+`)

// parseScore reads the first number of a judge reply. Values outside [0,1]
// are rejected rather than clamped.
func parseScore(reply string) (float64, error) {
	m := scorePattern.FindString(reply)
	if m == "" {
		return 0, fmt.Errorf("judge reply has no score: %q", reply)
	}
	v, err := strconv.ParseFloat(m, 64)
	if err != nil {
		return 0, err
	}
	if v < 0 || v > 1 {
		return 0, fmt.Errorf("judge score %v out of range", v)
	}
	return v, nil
}
