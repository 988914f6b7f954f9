package evaluation

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"strings"

	"ragagent/internal/domain"
)

// LexicalJudge scores metrics by token overlap. It needs no model and is
// deterministic, which makes it the offline default.
type LexicalJudge struct {
	tokenPattern    *regexp.Regexp
	sentencePattern *regexp.Regexp
	stopwords       map[string]struct{}
	// SupportThreshold is the share of a sentence's tokens that must appear in
	// the reference text for the sentence to count as supported.
	SupportThreshold float64
}

func NewLexicalJudge() *LexicalJudge {
	return &LexicalJudge{
		tokenPattern:     regexp.MustCompile(`[\p{L}\p{N}]+(?:['’][\p{L}\p{N}]+)*`),
		sentencePattern:  regexp.MustCompile(`(?m)(?U)([^.!?\n]+[.!?\n]|[^.!?\n]+$)`),
		stopwords:        defaultStopwords(),
		SupportThreshold: 0.5,
	}
}

func (j *LexicalJudge) Score(ctx context.Context, metric string, s domain.EvaluationSample) (float64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	switch metric {
	case Faithfulness:
		return j.supported(s.Answer, strings.Join(s.Contexts, "\n")), nil
	case AnswerRelevancy:
		return ochiai(j.tokenSet(s.Question), j.tokenSet(s.Answer)), nil
	case ContextPrecision:
		return j.precision(s.Contexts, s.GroundTruth), nil
	case ContextRecall:
		return j.supported(s.GroundTruth, strings.Join(s.Contexts, "\n")), nil
	default:
		return 0, fmt.Errorf("unknown metric %q", metric)
	}
}

// supported returns the fraction of sentences in text whose tokens are mostly
// found in reference.
func (j *LexicalJudge) supported(text, reference string) float64 {
	ref := j.tokenSet(reference)
	total, ok := 0, 0
	for _, sent := range j.sentencePattern.FindAllString(text, -1) {
		toks := j.tokenSet(sent)
		if len(toks) == 0 {
			continue
		}
		total++
		if coverage(toks, ref) >= j.SupportThreshold {
			ok++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(ok) / float64(total)
}

// precision is the mean precision@k over ranks holding a relevant context,
// where a context is relevant when it covers part of the ground truth.
func (j *LexicalJudge) precision(contexts []string, groundTruth string) float64 {
	truth := j.tokenSet(groundTruth)
	relevant, sum := 0, 0.0
	for k, c := range contexts {
		if coverage(truth, j.tokenSet(c)) < j.SupportThreshold/2 {
			continue
		}
		relevant++
		sum += float64(relevant) / float64(k+1)
	}
	if relevant == 0 {
		return 0
	}
	return sum / float64(relevant)
}

func (j *LexicalJudge) tokenSet(s string) map[string]struct{} {
	tokens := j.tokenPattern.FindAllString(strings.ToLower(s), -1)
	m := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if _, stop := j.stopwords[t]; stop {
			continue
		}
		m[t] = struct{}{}
	}
	return m
}

// coverage is |a∩b| / |a|.
func coverage(a, b map[string]struct{}) float64 {
	if len(a) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / float64(len(a))
}

// ochiai is |A∩B| / sqrt(|A||B|).
func ochiai(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	return float64(inter) / math.Sqrt(float64(len(a))*float64(len(b)))
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "how", "does", "do", "its", "i", "you", "we", "they",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
