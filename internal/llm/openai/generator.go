package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.uber.org/zap"

	"ragagent/internal/domain"
)

// Config configures the chat-completions generator.
type Config struct {
	BaseURL     string
	APIKeyEnv   string
	Model       string
	Temperature float64
	Timeout     time.Duration
}

// Generator implements domain.Generator on any OpenAI-compatible
// chat-completions endpoint with function calling.
type Generator struct {
	client      openai.Client
	model       string
	temperature float64
	logger      *zap.Logger
}

// NewGenerator creates a generator using the provided configuration.
// Retries are left to the caller so that only timeouts are retried.
func NewGenerator(cfg Config, logger *zap.Logger) (*Generator, error) {
	key := os.Getenv(cfg.APIKeyEnv)
	if key == "" {
		return nil, fmt.Errorf("missing API key in env %s", cfg.APIKeyEnv)
	}
	if cfg.Model == "" {
		cfg.Model = openai.ChatModelGPT4oMini
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(key),
		option.WithRequestTimeout(cfg.Timeout),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(strings.TrimSuffix(cfg.BaseURL, "/")+"/"))
	}
	return &Generator{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		temperature: cfg.Temperature,
		logger:      logger,
	}, nil
}

// Model returns the configured model name.
func (g *Generator) Model() string { return g.model }

// Generate sends the conversation and tool catalogue and returns either the
// final answer or the requested tool calls.
func (g *Generator) Generate(ctx context.Context, req domain.GenerateRequest) (domain.Generation, error) {
	params := openai.ChatCompletionNewParams{
		Model:       openai.ChatModel(g.model),
		Messages:    toMessages(req.SystemPrompt, req.Conversation),
		Temperature: openai.Float(g.temperature),
	}
	for _, t := range req.Tools {
		params.Tools = append(params.Tools, openai.ChatCompletionToolParam{
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  openai.FunctionParameters(t.Parameters),
			},
		})
	}
	resp, err := g.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return domain.Generation{}, err
	}
	if len(resp.Choices) == 0 {
		return domain.Generation{}, errors.New("chat completion returned no choices")
	}
	msg := resp.Choices[0].Message
	gen := domain.Generation{Answer: msg.Content}
	for _, tc := range msg.ToolCalls {
		gen.ToolCalls = append(gen.ToolCalls, domain.ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(tc.Function.Arguments),
		})
	}
	g.logger.Debug("generation",
		zap.String("model", g.model),
		zap.Int("tool_calls", len(gen.ToolCalls)),
		zap.Int64("total_tokens", resp.Usage.TotalTokens))
	return gen, nil
}

// Complete runs a single prompt without tools and returns the text reply.
// It backs the model-graded evaluation metrics.
func (g *Generator) Complete(ctx context.Context, system, prompt string) (string, error) {
	gen, err := g.Generate(ctx, domain.GenerateRequest{
		SystemPrompt: system,
		Conversation: []domain.Turn{{Role: domain.RoleUser, Content: prompt}},
	})
	if err != nil {
		return "", err
	}
	return gen.Answer, nil
}

func toMessages(system string, turns []domain.Turn) []openai.ChatCompletionMessageParamUnion {
	msgs := make([]openai.ChatCompletionMessageParamUnion, 0, len(turns)+1)
	if system != "" {
		msgs = append(msgs, openai.SystemMessage(system))
	}
	for _, t := range turns {
		switch t.Role {
		case domain.RoleUser:
			msgs = append(msgs, openai.UserMessage(t.Content))
		case domain.RoleTool:
			msgs = append(msgs, openai.ToolMessage(t.Content, t.ToolCallID))
		case domain.RoleAssistant:
			if len(t.ToolCalls) == 0 {
				msgs = append(msgs, openai.AssistantMessage(t.Content))
				continue
			}
			assistant := openai.ChatCompletionAssistantMessageParam{}
			if t.Content != "" {
				assistant.Content.OfString = openai.String(t.Content)
			}
			for _, tc := range t.ToolCalls {
				assistant.ToolCalls = append(assistant.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID: tc.ID,
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: string(tc.Arguments),
					},
				})
			}
			msgs = append(msgs, openai.ChatCompletionMessageParamUnion{OfAssistant: &assistant})
		}
	}
	return msgs
}
