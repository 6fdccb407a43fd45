package executor

import (
	"fmt"

	"github.com/opal-lang/datacube/core/plan"
)

// UnknownKindError reports a task no handler accepts: an unknown kind, or
// a reduction whose function is not supported.
type UnknownKindError struct {
	Task   string
	Kind   plan.Kind
	Reason string
}

func (e *UnknownKindError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("task %q: %s", e.Task, e.Reason)
	}
	return fmt.Sprintf("task %q: unknown operation type %q", e.Task, e.Kind)
}

// MissingInputError reports a task reading a name with no cached result.
type MissingInputError struct {
	Task  string
	Input string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("task %q: input %q has no cached result", e.Task, e.Input)
}

// TaskError wraps the failure of one task.
type TaskError struct {
	Task string
	Kind plan.Kind
	Err  error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %q (%s): %v", e.Task, e.Kind, e.Err)
}

func (e *TaskError) Unwrap() error { return e.Err }
