package domain

import (
	"errors"
	"fmt"
)

// ErrorKind categorizes pipeline failures.
type ErrorKind string

const (
	KindIngestion     ErrorKind = "ingestion"
	KindQuery         ErrorKind = "query"
	KindRetrieval     ErrorKind = "retrieval"
	KindUnknownTool   ErrorKind = "unknown_tool"
	KindToolArgument  ErrorKind = "tool_argument"
	KindToolExecution ErrorKind = "tool_execution"
	KindLoopExceeded  ErrorKind = "loop_exceeded"
	KindGeneration    ErrorKind = "generation"
	KindEvaluation    ErrorKind = "evaluation"
	KindFeedback      ErrorKind = "feedback"
	KindConfig        ErrorKind = "config"
)

// Error is a typed pipeline error.
type Error struct {
	Kind    ErrorKind
	Message string
	Err     error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && (t.Message == "" || t.Message == e.Message)
}

// NewError creates a typed error.
func NewError(kind ErrorKind, message string, err error) *Error {
	return &Error{Kind: kind, Message: message, Err: err}
}

// Kind sentinels: errors.Is(err, ErrQuery) holds for every query error.
var (
	ErrIngestion     = &Error{Kind: KindIngestion}
	ErrQuery         = &Error{Kind: KindQuery}
	ErrRetrieval     = &Error{Kind: KindRetrieval}
	ErrUnknownTool   = &Error{Kind: KindUnknownTool}
	ErrToolArgument  = &Error{Kind: KindToolArgument}
	ErrToolExecution = &Error{Kind: KindToolExecution}
	ErrLoopExceeded  = &Error{Kind: KindLoopExceeded}
	ErrGeneration    = &Error{Kind: KindGeneration}
	ErrEvaluation    = &Error{Kind: KindEvaluation}
	ErrFeedback      = &Error{Kind: KindFeedback}
	ErrConfig        = &Error{Kind: KindConfig}
)

// Specific failures that callers branch on.
var (
	ErrNoChunks          = &Error{Kind: KindIngestion, Message: "no chunks to index"}
	ErrDimensionMismatch = &Error{Kind: KindQuery, Message: "vector dimension mismatch"}
	ErrIndexNotFound     = &Error{Kind: KindQuery, Message: "index not found"}
	ErrAllMetricsFailed  = &Error{Kind: KindEvaluation, Message: "every metric failed for every record"}
)

// KindOf returns the kind of a typed error, or "" for foreign errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// Wrapf builds a typed error whose message is formatted and which wraps err.
func Wrapf(kind ErrorKind, err error, format string, args ...any) error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: err}
}
