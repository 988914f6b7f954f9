package domain

import (
	"context"
	"encoding/json"
)

// Document represents a single file loaded from the document store.
type Document struct {
	ID      string
	Path    string
	Content string
}

// Chunk is a bounded window of a document used for indexing.
// Offset is measured in runes from the start of the document.
type Chunk struct {
	ID       string
	SourceID string
	Text     string
	Offset   int
	Index    int
}

// Embedding pairs a chunk with its vector.
type Embedding struct {
	Chunk  Chunk
	Vector []float64
}

// SearchResult represents a matching chunk with a relevance score.
type SearchResult struct {
	Chunk Chunk
	Score float64
}

// Embedder converts free text into a fixed-length numeric vector.
// Dimension may return 0 until the first vector has been produced.
type Embedder interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, text string) ([]float64, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float64, error)
}

// Chunker splits documents into chunks suitable for retrieval indexing.
type Chunker interface {
	Chunk(document Document) ([]Chunk, error)
}

// Role identifies the author of a conversation turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ToolCall is a generator request to invoke a named tool.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Turn is one entry of a conversation.
// Tool turns carry the ToolCallID they answer and whether the call failed.
type Turn struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	ToolName   string     `json:"tool_name,omitempty"`
	Failed     bool       `json:"failed,omitempty"`
}

// ToolSpec is the static contract of a tool as shown to the generator.
type ToolSpec struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// GenerateRequest is everything a generator sees for one step.
type GenerateRequest struct {
	SystemPrompt string
	Conversation []Turn
	Tools        []ToolSpec
}

// Generation is either a final answer or a set of tool calls.
type Generation struct {
	Answer    string
	ToolCalls []ToolCall
}

// Final reports whether the generation ends the turn.
func (g Generation) Final() bool { return len(g.ToolCalls) == 0 }

// Generator turns a conversation into either an answer or tool calls.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (Generation, error)
}

// RunContext is the immutable per-invocation bundle handed to tools.
type RunContext struct {
	RunID    string
	ThreadID string
	UserID   string
}

// EvaluationSample is one question with the material to score it.
// AnswerMissing and ContextsMissing mark inputs that could not be produced;
// metrics depending on them stay Unscored.
type EvaluationSample struct {
	RunID           string
	Question        string
	Answer          string
	Contexts        []string
	GroundTruth     string
	AnswerMissing   bool
	ContextsMissing bool
}

// EvaluationRecord is a scored sample. Scores hold values in [0,1] or Unscored.
type EvaluationRecord struct {
	EvaluationSample
	Scores map[string]float64
}

// Unscored marks a metric whose computation failed.
const Unscored = -1.0

// IsScored reports whether v is a real metric value.
func IsScored(v float64) bool { return v >= 0 }

// Feedback is a single metric score attached to a run.
type Feedback struct {
	RunID  string
	Metric string
	Score  float64
	Source string
}

// FeedbackSink persists evaluation scores keyed by run id.
type FeedbackSink interface {
	Submit(ctx context.Context, fb Feedback) error
}
