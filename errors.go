package fio

import (
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
)

var (
	// ErrDeadlineExceeded reports that a wall-clock budget elapsed
	// before a computation reached a terminal outcome. It is distinct
	// from cancellation: the fiber behind the deadline is still
	// canceled and its finalizers awaited.
	ErrDeadlineExceeded = errors.New("fio: deadline exceeded")

	// ErrExecutorClosed reports a unit of work submitted to an
	// executor after Close.
	ErrExecutorClosed = errors.New("fio: executor closed")

	// ErrNoOutcome reports an outcome channel that was closed without
	// ever delivering an outcome.
	ErrNoOutcome = errors.New("fio: outcome channel closed")
)

// errCanceledSignal marks a resumption that must turn into
// cancellation of the resuming fiber. It never escapes the runtime.
var errCanceledSignal = errors.New("fio: canceled")

// PanicError wraps a panic recovered from user code so it can travel
// through the runtime as an ordinary failure, stack attached.
type PanicError struct {
	Value any
	Stack []byte
}

func newPanicError(v any) *PanicError {
	return &PanicError{Value: v, Stack: debug.Stack()}
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("fio: recovered panic: %v", e.Value)
}

// DebugString renders the panic value together with the captured
// stack trace.
func (e *PanicError) DebugString() string {
	return fmt.Sprintf("%v\n\n%s", e.Value, e.Stack)
}

// CompositeError aggregates finalizer failures collected during
// cancellation or completion. It never replaces a fiber's primary
// outcome; it is delivered through the runtime's error sink.
type CompositeError struct {
	Errors []error
}

func (e *CompositeError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, err := range e.Errors {
		msgs[i] = err.Error()
	}
	return "fio: " + strings.Join(msgs, "; ")
}

func (e *CompositeError) Unwrap() []error { return e.Errors }

// protect runs a user-supplied thunk, converting a panic into a
// failure so a misbehaving effect cannot tear down a worker.
func protect(f func() (any, error)) (v any, err error) {
	defer func() {
		if p := recover(); p != nil {
			v, err = nil, newPanicError(p)
		}
	}()
	return f()
}

func protectBind(f func(any) *node, v any) (n *node, err error) {
	defer func() {
		if p := recover(); p != nil {
			n, err = nil, newPanicError(p)
		}
	}()
	return f(v), nil
}

func protectHandle(f func(error) *node, in error) (n *node, err error) {
	defer func() {
		if p := recover(); p != nil {
			n, err = nil, newPanicError(p)
		}
	}()
	return f(in), nil
}

func protectMake(f func() *node) (n *node, err error) {
	defer func() {
		if p := recover(); p != nil {
			n, err = nil, newPanicError(p)
		}
	}()
	return f(), nil
}
