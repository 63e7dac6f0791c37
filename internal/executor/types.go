// Package executor discovers, validates, and indexes per-task-type
// executors: user-supplied units of work keyed by the filename stem of the
// source module that defines them.
//
// Go has no runtime require()-style module loading, so where the original
// design dynamically imports a file at discovery time, this package
// separates the two halves of that step: executor implementations register
// a constructor at compile time (the same pattern database/sql drivers and
// cobra subcommands use), and Initialize scans the task directory only to
// decide which of the already-registered types are actually in play and to
// run the validation/sanitization pipeline against them.
package executor

import (
	"context"

	"github.com/anqueue/anqueue/internal/task"
)

// Executor is user-supplied code keyed by Type that performs a task's
// actual work. It is immutable after registration.
type Executor interface {
	Type() string
	ValidationSchema() []task.Predicate
	RetrySchema() []string
	Exec(ctx context.Context, t *task.Task) (task.Result, error)
}

// Completer is an optional hook invoked after a successful execution.
type Completer interface {
	OnComplete(t *task.Task, result task.Result)
}

// Failer is an optional hook invoked after a task finalizes as failed.
type Failer interface {
	OnFailure(t *task.Task, lastResult task.Result, execErr error)
}

// ResultSaver is an optional hook invoked with the attached adapter after a
// result has been persisted, so an executor can write side-table data.
type ResultSaver interface {
	SaveResult(store any, t *task.Task, result task.Result)
}

// Constructor builds a fresh Executor instance for a given type name.
type Constructor func(execType string) Executor
