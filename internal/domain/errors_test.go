package domain

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_IsMatchesKind(t *testing.T) {
	err := NewError(KindQuery, "index not loaded", nil)

	assert.True(t, errors.Is(err, ErrQuery))
	assert.False(t, errors.Is(err, ErrRetrieval))
	assert.False(t, errors.Is(err, ErrDimensionMismatch))
}

func TestError_IsMatchesSpecificMessage(t *testing.T) {
	err := fmt.Errorf("search: %w", NewError(KindQuery, ErrDimensionMismatch.Message, errors.New("got 512 want 384")))

	assert.True(t, errors.Is(err, ErrDimensionMismatch))
	assert.True(t, errors.Is(err, ErrQuery))
	assert.Equal(t, KindQuery, KindOf(err))
}

func TestError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrapf(KindRetrieval, cause, "embed query %q", "mcp")

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), `embed query "mcp"`)
	assert.Equal(t, ErrorKind(""), KindOf(cause))
}

func TestGeneration_Final(t *testing.T) {
	assert.True(t, Generation{Answer: "done"}.Final())
	assert.False(t, Generation{ToolCalls: []ToolCall{{Name: "x"}}}.Final())
}

func TestIsScored(t *testing.T) {
	assert.True(t, IsScored(0))
	assert.True(t, IsScored(1))
	assert.False(t, IsScored(Unscored))
}
