package core

import (
	"errors"
	"fmt"
)

// Error classes. Every error raised by petalinfer matches exactly one of
// these through errors.Is.
var (
	// ErrLogic marks a violated construction-time or protocol invariant.
	// It is fatal to the operation that raised it.
	ErrLogic = errors.New("logic error")

	// ErrRuntime marks a value-level contract failure scoped to the current
	// particle or sampling attempt.
	ErrRuntime = errors.New("runtime error")
)

// LogicError reports a structural misuse: a cycle, an arity mismatch, a
// missing required reference, or a smoother iterated past its first step.
type LogicError struct {
	Op    string // operation that failed, e.g. "graph.AddNode"
	Node  NodeID // offending node, NullNode when not applicable
	Msg   string
	Cause error // optional sentinel refining the failure
}

// NewLogicError creates a LogicError with no node attached.
func NewLogicError(op string, cause error, format string, args ...any) *LogicError {
	return &LogicError{Op: op, Node: NullNode, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *LogicError) Error() string {
	if e.Node.IsNull() {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %v: %s", e.Op, e.Node, e.Msg)
}

// Is matches ErrLogic.
func (e *LogicError) Is(target error) bool {
	return target == ErrLogic
}

// Unwrap returns the refining cause, if any.
func (e *LogicError) Unwrap() error {
	return e.Cause
}

// RuntimeError reports a distribution or function rejecting its inputs, or a
// weight computation producing an invalid result.
type RuntimeError struct {
	Node  NodeID
	Msg   string
	Cause error
}

// NewRuntimeError creates a RuntimeError for the given node.
func NewRuntimeError(node NodeID, cause error, format string, args ...any) *RuntimeError {
	return &RuntimeError{Node: node, Msg: fmt.Sprintf(format, args...), Cause: cause}
}

// Error implements the error interface.
func (e *RuntimeError) Error() string {
	if e.Node.IsNull() {
		return e.Msg
	}
	return fmt.Sprintf("%v: %s", e.Node, e.Msg)
}

// Is matches ErrRuntime.
func (e *RuntimeError) Is(target error) bool {
	return target == ErrRuntime
}

// Unwrap returns the underlying cause.
func (e *RuntimeError) Unwrap() error {
	return e.Cause
}

// IsLogic reports whether err is a LogicError.
func IsLogic(err error) bool {
	return errors.Is(err, ErrLogic)
}

// IsRuntime reports whether err is a RuntimeError.
func IsRuntime(err error) bool {
	return errors.Is(err, ErrRuntime)
}
