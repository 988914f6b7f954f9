package evaluation

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"ragagent/internal/agent"
	"ragagent/internal/domain"
	"ragagent/internal/embedding/hashing"
)

type funcJudge func(ctx context.Context, metric string, s domain.EvaluationSample) (float64, error)

func (f funcJudge) Score(ctx context.Context, metric string, s domain.EvaluationSample) (float64, error) {
	return f(ctx, metric, s)
}

func samples(n int) []domain.EvaluationSample {
	out := make([]domain.EvaluationSample, n)
	for i := range out {
		out[i] = domain.EvaluationSample{RunID: string(rune('a' + i)), Question: "q", Answer: "a"}
	}
	return out
}

func TestEvaluator_PreservesOrder(t *testing.T) {
	judge := funcJudge(func(_ context.Context, _ string, s domain.EvaluationSample) (float64, error) {
		// later records finish first
		time.Sleep(time.Duration('e'-s.RunID[0]) * 5 * time.Millisecond)
		return 0.5, nil
	})
	recs, err := NewEvaluator(judge, 4, time.Second, nil).Evaluate(context.Background(), samples(4))
	require.NoError(t, err)
	require.Len(t, recs, 4)
	for i, r := range recs {
		assert.Equal(t, string(rune('a'+i)), r.RunID)
		assert.Len(t, r.Scores, len(Metrics))
	}
}

func TestEvaluator_FailedMetricIsUnscored(t *testing.T) {
	judge := funcJudge(func(_ context.Context, metric string, _ domain.EvaluationSample) (float64, error) {
		if metric == ContextRecall {
			return 0, errors.New("judge unavailable")
		}
		return 0.8, nil
	})
	recs, err := NewEvaluator(judge, 2, time.Second, nil).Evaluate(context.Background(), samples(3))
	require.NoError(t, err)
	for _, r := range recs {
		assert.Equal(t, domain.Unscored, r.Scores[ContextRecall])
		assert.Equal(t, 0.8, r.Scores[Faithfulness])
	}
}

func TestEvaluator_AllMetricsFailed(t *testing.T) {
	judge := funcJudge(func(context.Context, string, domain.EvaluationSample) (float64, error) {
		return 0, errors.New("down")
	})
	recs, err := NewEvaluator(judge, 2, time.Second, nil).Evaluate(context.Background(), samples(2))
	assert.ErrorIs(t, err, domain.ErrAllMetricsFailed)
	assert.Len(t, recs, 2)

	recs, err = NewEvaluator(judge, 2, time.Second, nil).Evaluate(context.Background(), nil)
	assert.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEvaluator_TimeoutIsUnscored(t *testing.T) {
	judge := funcJudge(func(ctx context.Context, metric string, _ domain.EvaluationSample) (float64, error) {
		if metric == Faithfulness {
			<-ctx.Done()
			return 0, ctx.Err()
		}
		return 1, nil
	})
	recs, err := NewEvaluator(judge, 1, 20*time.Millisecond, nil).Evaluate(context.Background(), samples(1))
	require.NoError(t, err)
	assert.Equal(t, domain.Unscored, recs[0].Scores[Faithfulness])
	assert.Equal(t, 1.0, recs[0].Scores[ContextPrecision])
}

func TestLexicalJudge(t *testing.T) {
	j := NewLexicalJudge()
	ctx := context.Background()
	good := domain.EvaluationSample{
		Question:    "What is the Model Context Protocol?",
		Answer:      "The Model Context Protocol is an open protocol. It connects models to tools.",
		Contexts:    []string{"MCP, the Model Context Protocol, is an open protocol that connects models to tools and data.", "Unrelated text about cooking pasta."},
		GroundTruth: "MCP is an open protocol connecting models to tools.",
	}
	for _, m := range Metrics {
		v, err := j.Score(ctx, m, good)
		require.NoError(t, err, m)
		assert.GreaterOrEqual(t, v, 0.0, m)
		assert.LessOrEqual(t, v, 1.0, m)
	}
	faith, _ := j.Score(ctx, Faithfulness, good)
	assert.Equal(t, 1.0, faith)
	precision, _ := j.Score(ctx, ContextPrecision, good)
	assert.Equal(t, 1.0, precision)
	recall, _ := j.Score(ctx, ContextRecall, good)
	assert.Equal(t, 1.0, recall)

	bad := good
	bad.Answer = "Bananas grow on tall plants."
	bad.Contexts = []string{"Unrelated text about cooking pasta.", good.Contexts[0]}
	faith, _ = j.Score(ctx, Faithfulness, bad)
	assert.Equal(t, 0.0, faith)
	precision, _ = j.Score(ctx, ContextPrecision, bad)
	assert.Equal(t, 0.5, precision)
	relevancy, _ := j.Score(ctx, AnswerRelevancy, bad)
	assert.Equal(t, 0.0, relevancy)

	_, err := j.Score(ctx, "bleu", good)
	assert.Error(t, err)
}

type mockCompleter struct{ mock.Mock }

func (m *mockCompleter) Complete(ctx context.Context, system, prompt string) (string, error) {
	args := m.Called(ctx, system, prompt)
	return args.String(0), args.Error(1)
}

func TestLLMJudge(t *testing.T) {
	model := &mockCompleter{}
	model.On("Complete", mock.Anything, judgeSystem, mock.MatchedBy(func(p string) bool {
		return strings.Contains(p, "[2] c2")
	})).Return("Score: 0.75", nil).Once()
	model.On("Complete", mock.Anything, judgeSystem, mock.Anything).Return("7 out of 10", nil).Once()
	model.On("Complete", mock.Anything, judgeSystem, mock.Anything).Return("", errors.New("rate limited")).Once()

	j := NewLLMJudge(model, nil, 0)
	s := domain.EvaluationSample{Question: "q", Answer: "a", Contexts: []string{"c1", "c2"}, GroundTruth: "g"}
	v, err := j.Score(context.Background(), Faithfulness, s)
	require.NoError(t, err)
	assert.Equal(t, 0.75, v)

	_, err = j.Score(context.Background(), ContextRecall, s)
	assert.Error(t, err, "7 is out of range")
	_, err = j.Score(context.Background(), ContextPrecision, s)
	assert.Error(t, err)
	model.AssertExpectations(t)
}

func TestLLMJudge_RelevancyByEmbedding(t *testing.T) {
	j := NewLLMJudge(&mockCompleter{}, hashing.NewEmbedder(64), 0)
	v, err := j.Score(context.Background(), AnswerRelevancy, domain.EvaluationSample{Question: "go channels", Answer: "go channels"})
	require.NoError(t, err)
	assert.InDelta(t, 1.0, v, 1e-9)
}

func TestParseScore(t *testing.T) {
	for reply, want := range map[string]float64{"1": 1, "0.5": 0.5, " .25\n": 0.25, "score=0": 0} {
		got, err := parseScore(reply)
		require.NoError(t, err, reply)
		assert.Equal(t, want, got, reply)
	}
	for _, reply := range []string{"", "none", "1.5", "-0.2"} {
		_, err := parseScore(reply)
		assert.Error(t, err, reply)
	}
}

func TestLoadDataset(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "eval.yaml")
	require.NoError(t, os.WriteFile(p, []byte("questions:\n  - question: What is MCP?\n    ground_truth: A protocol.\n"), 0o644))
	qs, err := LoadDataset(p)
	require.NoError(t, err)
	assert.Equal(t, []Question{{Question: "What is MCP?", GroundTruth: "A protocol."}}, qs)

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("questions:\n  - question: missing truth\n"), 0o644))
	_, err = LoadDataset(bad)
	assert.Error(t, err)

	assert.Len(t, DefaultDataset(), 3)
}

type fakeAgent struct {
	mu      sync.Mutex
	threads []string
	fail    string
	n       atomic.Int32
}

func (f *fakeAgent) Invoke(_ context.Context, req agent.Request) (agent.Response, error) {
	id := f.n.Add(1)
	f.mu.Lock()
	f.threads = append(f.threads, req.ThreadID)
	f.mu.Unlock()
	runID := "run-" + string(rune('0'+id))
	if req.Input == f.fail {
		return agent.Response{RunID: runID}, domain.ErrLoopExceeded
	}
	return agent.Response{RunID: runID, ThreadID: "t", Output: "answer to " + req.Input}, nil
}

type fakeRetriever struct {
	fail string
}

func (f fakeRetriever) Retrieve(_ context.Context, q string, k int) ([]domain.SearchResult, error) {
	if q == f.fail {
		return nil, errors.New("embedder unreachable")
	}
	out := make([]domain.SearchResult, k)
	for i := range out {
		out[i] = domain.SearchResult{Chunk: domain.Chunk{Text: q + " context"}}
	}
	return out, nil
}

type recordingSink struct {
	mu  sync.Mutex
	got []domain.Feedback
	err error
}

func (s *recordingSink) Submit(_ context.Context, fb domain.Feedback) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.got = append(s.got, fb)
	return s.err
}

func TestRunner_Run(t *testing.T) {
	ag := &fakeAgent{fail: "second"}
	sink := &recordingSink{err: errors.New("sink offline")}
	var judged sync.Map
	judge := funcJudge(func(_ context.Context, metric string, s domain.EvaluationSample) (float64, error) {
		judged.Store(s.Question+"/"+metric, true)
		if metric == ContextRecall {
			return 0, errors.New("no judge")
		}
		return 0.9, nil
	})
	r := NewRunner(ag, fakeRetriever{}, 2, NewEvaluator(judge, 2, time.Second, nil), sink, nil)

	recs, err := r.Run(context.Background(), []Question{
		{Question: "first", GroundTruth: "g1"},
		{Question: "second", GroundTruth: "g2"},
	})
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "answer to first", recs[0].Answer)
	assert.Empty(t, recs[1].Answer)
	assert.Equal(t, []string{"first context", "first context"}, recs[0].Contexts)
	assert.Equal(t, "run-1", recs[0].RunID)
	assert.Equal(t, "run-2", recs[1].RunID)

	// every question runs on a fresh thread
	assert.Equal(t, []string{"", ""}, ag.threads)

	// a failed run is not judged on the answer it never produced
	assert.True(t, recs[1].AnswerMissing)
	assert.Equal(t, domain.Unscored, recs[1].Scores[Faithfulness])
	assert.Equal(t, domain.Unscored, recs[1].Scores[AnswerRelevancy])
	assert.Equal(t, 0.9, recs[1].Scores[ContextPrecision])
	_, ok := judged.Load("second/" + Faithfulness)
	assert.False(t, ok)
	_, ok = judged.Load("second/" + AnswerRelevancy)
	assert.False(t, ok)
	assert.Equal(t, 0.9, recs[0].Scores[Faithfulness])

	// scored metrics only, each submitted despite sink errors
	require.Len(t, sink.got, 4)
	for _, fb := range sink.got {
		assert.Equal(t, FeedbackSource, fb.Source)
		assert.NotEqual(t, ContextRecall, fb.Metric)
		if fb.RunID == "run-2" {
			assert.Equal(t, ContextPrecision, fb.Metric)
		}
	}
}

func TestRunner_RetrievalFailureKeepsBatch(t *testing.T) {
	ag := &fakeAgent{}
	sink := &recordingSink{}
	var judged sync.Map
	judge := funcJudge(func(_ context.Context, metric string, s domain.EvaluationSample) (float64, error) {
		judged.Store(s.Question+"/"+metric, true)
		return 0.7, nil
	})
	r := NewRunner(ag, fakeRetriever{fail: "second"}, 2, NewEvaluator(judge, 2, time.Second, nil), sink, nil)

	recs, err := r.Run(context.Background(), []Question{
		{Question: "first", GroundTruth: "g1"},
		{Question: "second", GroundTruth: "g2"},
		{Question: "third", GroundTruth: "g3"},
	})
	require.NoError(t, err)
	require.Len(t, recs, 3)

	for _, i := range []int{0, 2} {
		assert.False(t, recs[i].ContextsMissing)
		for _, m := range Metrics {
			assert.Equal(t, 0.7, recs[i].Scores[m], m)
		}
	}

	failed := recs[1]
	assert.True(t, failed.ContextsMissing)
	assert.Empty(t, failed.Contexts)
	assert.Equal(t, "answer to second", failed.Answer)
	assert.Equal(t, 0.7, failed.Scores[AnswerRelevancy])
	for _, m := range []string{Faithfulness, ContextPrecision, ContextRecall} {
		assert.Equal(t, domain.Unscored, failed.Scores[m], m)
		_, ok := judged.Load("second/" + m)
		assert.False(t, ok, m)
	}

	// 4 + 1 + 4 scored metrics
	assert.Len(t, sink.got, 9)
}
