package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrStalled is returned by Future.Wait when nothing left in the queue can
	// settle the awaited future, e.g. a task waiting on work queued behind itself.
	ErrStalled = errors.New("recorder: awaited task cannot make progress")

	// ErrReset settles futures of tasks discarded by Reset.
	ErrReset = errors.New("recorder: task discarded by reset")
)

// ChainError wraps a non-error value a task panicked with.
type ChainError struct {
	Task  string
	Value any
}

func (e *ChainError) Error() string {
	if e.Task == "" {
		return fmt.Sprintf("[wrapped error] %v", e.Value)
	}
	return fmt.Sprintf("[wrapped error] task %q: %v", e.Task, e.Value)
}

// TimeoutError is returned when a task outlives its deadline. The task body
// itself may still be running.
type TimeoutError struct {
	Task  string
	After time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("task %q timed out after %s", e.Task, e.After)
}

// Unwrap lets errors.Is match context.DeadlineExceeded.
func (e *TimeoutError) Unwrap() error { return context.DeadlineExceeded }

// AsError coerces a recovered panic value into an error.
func AsError(task string, v any) error {
	if err, ok := v.(error); ok {
		return err
	}
	return &ChainError{Task: task, Value: v}
}
