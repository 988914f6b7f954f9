package checkpoint

import (
	"context"
	"sync"

	"ragagent/internal/domain"
)

// Memory keeps conversations in process memory, keyed by thread id.
type Memory struct {
	mu      sync.RWMutex
	threads map[string][]domain.Turn
}

func NewMemory() *Memory {
	return &Memory{threads: make(map[string][]domain.Turn)}
}

// Load returns a copy of the thread's turns; an unknown thread is empty.
func (m *Memory) Load(_ context.Context, threadID string) ([]domain.Turn, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turns := m.threads[threadID]
	out := make([]domain.Turn, len(turns))
	copy(out, turns)
	return out, nil
}

func (m *Memory) Append(_ context.Context, threadID string, turns []domain.Turn) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.threads[threadID] = append(m.threads[threadID], turns...)
	return nil
}

func (m *Memory) Close() error { return nil }
