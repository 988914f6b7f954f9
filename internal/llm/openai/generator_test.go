package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ragagent/internal/domain"
)

const toolCallResponse = `{
  "id": "chatcmpl-1",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "tool_calls",
    "message": {
      "role": "assistant",
      "content": null,
      "tool_calls": [{
        "id": "call_1",
        "type": "function",
        "function": {"name": "search_knowledge_base", "arguments": "{\"query\":\"mcp\"}"}
      }]
    }
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

const answerResponse = `{
  "id": "chatcmpl-2",
  "object": "chat.completion",
  "created": 1700000000,
  "model": "gpt-4o-mini",
  "choices": [{
    "index": 0,
    "finish_reason": "stop",
    "message": {"role": "assistant", "content": "MCP is a protocol."}
  }],
  "usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
}`

func newTestGenerator(t *testing.T, handler http.HandlerFunc) *Generator {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	t.Setenv("TEST_CHAT_KEY", "sk-test")
	g, err := NewGenerator(Config{BaseURL: srv.URL, APIKeyEnv: "TEST_CHAT_KEY", Model: "gpt-4o-mini"}, nil)
	require.NoError(t, err)
	return g
}

func TestNewGenerator_RequiresKey(t *testing.T) {
	t.Setenv("MISSING_CHAT_KEY", "")
	_, err := NewGenerator(Config{APIKeyEnv: "MISSING_CHAT_KEY"}, nil)
	assert.Error(t, err)
}

func TestGenerator_ToolCalls(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		var body struct {
			Model    string           `json:"model"`
			Messages []map[string]any `json:"messages"`
			Tools    []struct {
				Function struct {
					Name string `json:"name"`
				} `json:"function"`
			} `json:"tools"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-4o-mini", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, "system", body.Messages[0]["role"])
		assert.Equal(t, "user", body.Messages[1]["role"])
		require.Len(t, body.Tools, 1)
		assert.Equal(t, "search_knowledge_base", body.Tools[0].Function.Name)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(toolCallResponse))
	})

	gen, err := g.Generate(context.Background(), domain.GenerateRequest{
		SystemPrompt: "be helpful",
		Conversation: []domain.Turn{{Role: domain.RoleUser, Content: "what is mcp?"}},
		Tools: []domain.ToolSpec{{
			Name:        "search_knowledge_base",
			Description: "search",
			Parameters:  map[string]any{"type": "object"},
		}},
	})
	require.NoError(t, err)
	assert.False(t, gen.Final())
	require.Len(t, gen.ToolCalls, 1)
	assert.Equal(t, "call_1", gen.ToolCalls[0].ID)
	assert.Equal(t, "search_knowledge_base", gen.ToolCalls[0].Name)
	assert.JSONEq(t, `{"query":"mcp"}`, string(gen.ToolCalls[0].Arguments))
}

func TestGenerator_ReplaysToolTurns(t *testing.T) {
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Messages []struct {
				Role       string `json:"role"`
				ToolCallID string `json:"tool_call_id"`
				ToolCalls  []struct {
					ID string `json:"id"`
				} `json:"tool_calls"`
			} `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Messages, 3)
		assert.Equal(t, "assistant", body.Messages[1].Role)
		require.Len(t, body.Messages[1].ToolCalls, 1)
		assert.Equal(t, "call_1", body.Messages[1].ToolCalls[0].ID)
		assert.Equal(t, "tool", body.Messages[2].Role)
		assert.Equal(t, "call_1", body.Messages[2].ToolCallID)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(answerResponse))
	})

	gen, err := g.Generate(context.Background(), domain.GenerateRequest{
		Conversation: []domain.Turn{
			{Role: domain.RoleUser, Content: "what is mcp?"},
			{Role: domain.RoleAssistant, ToolCalls: []domain.ToolCall{{ID: "call_1", Name: "search_knowledge_base", Arguments: json.RawMessage(`{"query":"mcp"}`)}}},
			{Role: domain.RoleTool, ToolCallID: "call_1", ToolName: "search_knowledge_base", Content: "MCP connects tools"},
		},
	})
	require.NoError(t, err)
	assert.True(t, gen.Final())
	assert.Equal(t, "MCP is a protocol.", gen.Answer)
}

func TestGenerator_CompleteAndHTTPError(t *testing.T) {
	calls := 0
	g := newTestGenerator(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(answerResponse))
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad"}}`))
	})

	out, err := g.Complete(context.Background(), "judge", "score this")
	require.NoError(t, err)
	assert.Equal(t, "MCP is a protocol.", out)

	_, err = g.Complete(context.Background(), "judge", "score this")
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}
