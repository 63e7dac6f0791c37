// Package task implements the lifecycle and retry engine for a single unit
// of deferred work: the state machine, timeout race, progress tracking, and
// the decision of whether a failed attempt is eligible for another try.
package task

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anqueue/anqueue/internal/glue"
)

// Status is the tagged variant of a task's lifecycle state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusRunning   Status = "running"
	StatusCompleted Status = "completed"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// DefaultMaxRetries and DefaultTimeout are the fallbacks New applies; callers
// that honor MAX_TASK_RETRIES/TASK_TIMEOUT_MS set MaxRetries and Timeout on
// the task after New returns (queue.Queue.NewTask does this).
const (
	DefaultMaxRetries = 3
	DefaultTimeout    = 30 * time.Second
)

// builtinRetryPattern is always considered in addition to an executor's own
// retrySchema.
const builtinRetryPattern = "Network timeout"

// Result is what an executor returns from Exec.
type Result struct {
	Processed bool
	Data      map[string]any
}

// Exec is the function shape an Executor provides for running a task.
type Exec func(ctx context.Context, t *Task) (Result, error)

// Task is a unit of deferred work with its own lifecycle and retry policy.
// JSON tags define the wire shape crossed at the controller/worker process
// boundary: every field a fresh reconstruction must preserve is tagged.
type Task struct {
	UID         string         `json:"uid"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description,omitempty"`
	Priority    int            `json:"priority"`
	RetryCount  int            `json:"retryCount"`
	MaxRetries  int            `json:"maxRetries"`
	Delay       time.Duration  `json:"delay"`
	Timeout     time.Duration  `json:"timeout"`
	RunAt       *time.Time     `json:"runAt,omitempty"`
	Data        map[string]any `json:"data,omitempty"`
	UserID      string         `json:"userId,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`

	Status   Status `json:"status"`
	Progress int    `json:"progress"`

	StartedAt    *time.Time `json:"startedAt,omitempty"`
	FailedAt     *time.Time `json:"failedAt,omitempty"`
	CompletedAt  *time.Time `json:"completedAt,omitempty"`
	Error        string     `json:"error,omitempty"`
	ErrorHistory []string   `json:"errorHistory,omitempty"`

	LastResult Result `json:"lastResult"`

	cancelled chan struct{}
}

// New constructs a pending task with defaults applied the way spec'd
// defaults are: maxRetries=3, timeout=30s unless overridden by the caller.
func New(uid, taskType string) *Task {
	if uid == "" {
		uid = glue.NewUID()
	}
	return &Task{
		UID:        uid,
		Type:       taskType,
		Status:     StatusPending,
		MaxRetries: DefaultMaxRetries,
		Timeout:    DefaultTimeout,
		Data:       map[string]any{},
		Metadata:   map[string]string{},
		cancelled:  make(chan struct{}),
	}
}

// UnmarshalJSON reconstructs a task from a wire payload and re-initializes
// the unexported cancellation channel, which never crosses the process
// boundary: a task decoded on the worker side must still be cancellable.
func (t *Task) UnmarshalJSON(data []byte) error {
	type wire Task
	var w wire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	*t = Task(w)
	t.cancelled = make(chan struct{})
	return nil
}

// ReadyToRun is true iff RunAt is unset or has already passed.
func (t *Task) ReadyToRun() bool {
	return t.RunAt == nil || !t.RunAt.After(time.Now())
}

// UpdateProgress clamps p into [0,100] and stores it.
func (t *Task) UpdateProgress(p int) {
	if p < 0 {
		p = 0
	}
	if p > 100 {
		p = 100
	}
	t.Progress = p
}

// Cancel transitions a pending or running task to cancelled. An Execute call
// still waiting out the task's Delay returns a cancellation error at once; an
// executor already running is not interrupted, and Execute keeps waiting for
// it. It is a no-op on an already-terminal task.
func (t *Task) Cancel() bool {
	if t.Status != StatusPending && t.Status != StatusRunning {
		return false
	}
	t.Status = StatusCancelled
	now := time.Now()
	t.CompletedAt = &now
	close(t.cancelled)
	return true
}

// Predicate is a validation check evaluated against a task; it must return
// exactly true to pass.
type Predicate func(t *Task) bool

// ValidationResult reports whether every predicate passed and, on failure,
// which one and why.
type ValidationResult struct {
	Passed bool
	Reason string
}

// Validate runs each predicate in order and stops at the first non-true
// result, naming the failing predicate by its position in the schema.
func Validate(t *Task, predicates []Predicate) ValidationResult {
	for i, p := range predicates {
		if p == nil {
			return ValidationResult{Passed: false, Reason: fmt.Sprintf("validation predicate at index %d is nil", i)}
		}
		if !p(t) {
			return ValidationResult{Passed: false, Reason: fmt.Sprintf("validation predicate at index %d returned false", i)}
		}
	}
	return ValidationResult{Passed: true}
}

// Execute runs exec against the task, racing it against Timeout, and applies
// the state machine transitions of §4.1: on success it settles into
// completed or failed depending on Result.Processed; on error or timeout it
// consults getRetryPatterns and either resubmits itself (retryCount++, back
// to pending) or finalizes as failed.
func (t *Task) Execute(ctx context.Context, exec Exec, getRetryPatterns func() []string) (Result, error) {
	if t.Status != StatusPending {
		return Result{}, fmt.Errorf("task %s: execute called from state %s, expected pending", t.UID, t.Status)
	}

	t.Status = StatusRunning
	now := time.Now()
	t.StartedAt = &now
	t.Progress = 0

	if t.Delay > 0 {
		select {
		case <-time.After(t.Delay):
		case <-t.cancelled:
			return Result{}, fmt.Errorf("task %s: cancelled during delay", t.UID)
		case <-ctx.Done():
			return Result{}, ctx.Err()
		}
	}

	result, err := t.race(ctx, exec)
	if err == nil {
		if result.Processed {
			t.Status = StatusCompleted
			completedAt := time.Now()
			t.CompletedAt = &completedAt
			t.Progress = 100
			t.LastResult = result
			return result, nil
		}
		t.Status = StatusFailed
		failedAt := time.Now()
		t.FailedAt = &failedAt
		t.Progress = 0
		t.LastResult = result
		return result, nil
	}

	t.recordError(err)

	if t.shouldRetry(err, getRetryPatterns) {
		t.RetryCount++
		t.Status = StatusPending
		t.Progress = 0
		t.StartedAt = nil
		t.CompletedAt = nil
		t.Error = ""
		return t.Execute(ctx, exec, getRetryPatterns)
	}

	t.Status = StatusFailed
	failedAt := time.Now()
	t.FailedAt = &failedAt
	t.Progress = 0
	return Result{}, err
}

// race runs exec against t.Timeout; the first to settle wins.
func (t *Task) race(ctx context.Context, exec Exec) (Result, error) {
	if t.Timeout <= 0 {
		return exec(ctx, t)
	}

	execCtx, cancel := context.WithTimeout(ctx, t.Timeout)
	defer cancel()

	type outcome struct {
		result Result
		err    error
	}
	done := make(chan outcome, 1)
	go func() {
		r, err := exec(execCtx, t)
		done <- outcome{r, err}
	}()

	select {
	case o := <-done:
		return o.result, o.err
	case <-execCtx.Done():
		return Result{}, fmt.Errorf("task %s timed out after %dms", t.UID, t.Timeout.Milliseconds())
	}
}

// recordError sets Error and appends to ErrorHistory without disturbing
// history across retries.
func (t *Task) recordError(err error) {
	t.Error = err.Error()
	t.ErrorHistory = append(t.ErrorHistory, t.Error)
}

// shouldRetry implements §4.1's retry decision: retryCount < maxRetries and
// the error message contains any candidate pattern (built-in plus schema).
func (t *Task) shouldRetry(err error, getRetryPatterns func() []string) bool {
	if t.RetryCount >= t.MaxRetries {
		return false
	}
	patterns := []string{builtinRetryPattern}
	if getRetryPatterns != nil {
		patterns = append(patterns, getRetryPatterns()...)
	}
	return matchesAnyPattern(err.Error(), patterns)
}
