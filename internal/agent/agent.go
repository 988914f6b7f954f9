package agent

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"ragagent/internal/domain"
)

// Checkpointer stores conversations by thread id.
type Checkpointer interface {
	Load(ctx context.Context, threadID string) ([]domain.Turn, error)
	Append(ctx context.Context, threadID string, turns []domain.Turn) error
}

// Request is one user message addressed to the agent.
type Request struct {
	Input    string
	ThreadID string
	UserID   string
}

// Response is the agent's final answer for a request.
type Response struct {
	RunID    string
	ThreadID string
	Output   string
}

// Agent is a conversational front door over the dispatcher. It loads the thread
// before each turn and appends the new turns after a successful answer.
type Agent struct {
	dispatcher *Dispatcher
	memory     Checkpointer
	logger     *zap.Logger
}

func New(dispatcher *Dispatcher, memory Checkpointer, logger *zap.Logger) *Agent {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Agent{dispatcher: dispatcher, memory: memory, logger: logger}
}

// Invoke answers req. An empty thread id starts a new thread. On failure the
// thread is left unchanged.
func (a *Agent) Invoke(ctx context.Context, req Request) (Response, error) {
	rc := domain.RunContext{RunID: uuid.NewString(), ThreadID: req.ThreadID, UserID: req.UserID}
	if rc.ThreadID == "" {
		rc.ThreadID = uuid.NewString()
	}
	start := time.Now()
	history, err := a.memory.Load(ctx, rc.ThreadID)
	if err != nil {
		return Response{}, err
	}
	user := domain.Turn{Role: domain.RoleUser, Content: req.Input}
	answer, added, err := a.dispatcher.Run(ctx, rc, append(history, user))
	if err != nil {
		a.logger.Error("agent run failed",
			zap.String("run_id", rc.RunID),
			zap.String("thread_id", rc.ThreadID),
			zap.Error(err))
		return Response{RunID: rc.RunID, ThreadID: rc.ThreadID}, err
	}
	if err := a.memory.Append(ctx, rc.ThreadID, append([]domain.Turn{user}, added...)); err != nil {
		return Response{}, err
	}
	a.logger.Info("agent run finished",
		zap.String("run_id", rc.RunID),
		zap.String("thread_id", rc.ThreadID),
		zap.Int("turns", len(added)+1),
		zap.Duration("took", time.Since(start)))
	return Response{RunID: rc.RunID, ThreadID: rc.ThreadID, Output: answer}, nil
}

// History returns the stored turns of a thread.
func (a *Agent) History(ctx context.Context, threadID string) ([]domain.Turn, error) {
	return a.memory.Load(ctx, threadID)
}
