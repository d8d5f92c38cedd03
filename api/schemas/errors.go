package schemas

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of failure categories surfaced by the pipeline.
// Using a dedicated type keeps ad-hoc strings out of error classification.
type ErrorKind string

const (
	// ErrKindRetrieval covers embedding and vector index failures.
	ErrKindRetrieval ErrorKind = "RETRIEVAL_ERROR"
	// ErrKindGraph covers an unreachable graph store or a failed query.
	ErrKindGraph ErrorKind = "GRAPH_ERROR"
	// ErrKindLLM covers generation failures and unusable structured output.
	ErrKindLLM ErrorKind = "LLM_ERROR"
	// ErrKindPlanParse means no valid plan array could be extracted.
	ErrKindPlanParse ErrorKind = "PLAN_PARSE_ERROR"
	// ErrKindStepExecution means generated code failed while running.
	ErrKindStepExecution ErrorKind = "STEP_EXECUTION_ERROR"
	// ErrKindTopLevel is anything that escaped to the request boundary.
	ErrKindTopLevel ErrorKind = "TOP_LEVEL_ERROR"
)

// Error is a classified pipeline error.
type Error struct {
	Kind ErrorKind
	Op   string
	Err  error
}

// NewError wraps err with a kind and the operation that produced it.
func NewError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// Errorf builds a classified error from a format string.
func Errorf(kind ErrorKind, op string, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Kind, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", e.Kind, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error by kind so callers can test with a sentinel.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Kind == e.Kind && t.Op == "" && t.Err == nil
	}
	return false
}

// KindOf returns the kind of the outermost classified error in err's chain,
// or ErrKindTopLevel when none is present.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ErrKindTopLevel
}

// Sentinels for errors.Is comparisons.
var (
	ErrRetrieval     = &Error{Kind: ErrKindRetrieval}
	ErrGraph         = &Error{Kind: ErrKindGraph}
	ErrLLM           = &Error{Kind: ErrKindLLM}
	ErrPlanParse     = &Error{Kind: ErrKindPlanParse}
	ErrStepExecution = &Error{Kind: ErrKindStepExecution}
)
