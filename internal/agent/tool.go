package agent

import (
	"bytes"
	"context"
	"encoding/json"

	"ragagent/internal/domain"
	"ragagent/internal/validation"
)

// Tool is a callable the generator may request by name.
type Tool interface {
	Spec() domain.ToolSpec
	// Call runs the tool with raw JSON arguments. Argument problems are
	// reported as tool_argument errors.
	Call(ctx context.Context, rc domain.RunContext, args json.RawMessage) (string, error)
}

// TypedTool decodes and validates arguments into A before calling fn.
type TypedTool[A any] struct {
	spec domain.ToolSpec
	fn   func(ctx context.Context, rc domain.RunContext, args A) (string, error)
}

// NewTool builds a tool whose arguments are the struct A.
// A's fields carry json tags and `validate` tags.
func NewTool[A any](spec domain.ToolSpec, fn func(ctx context.Context, rc domain.RunContext, args A) (string, error)) *TypedTool[A] {
	return &TypedTool[A]{spec: spec, fn: fn}
}

func (t *TypedTool[A]) Spec() domain.ToolSpec { return t.spec }

func (t *TypedTool[A]) Call(ctx context.Context, rc domain.RunContext, raw json.RawMessage) (string, error) {
	args, err := decodeArgs[A](raw)
	if err != nil {
		return "", domain.Wrapf(domain.KindToolArgument, err, "invalid arguments for %s", t.spec.Name)
	}
	return t.fn(ctx, rc, args)
}

func decodeArgs[A any](raw json.RawMessage) (A, error) {
	var args A
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		trimmed = []byte("{}")
	}
	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&args); err != nil {
		return args, err
	}
	if err := validation.Struct(args); err != nil {
		return args, err
	}
	return args, nil
}
