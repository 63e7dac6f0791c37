package dispatch

import (
	"context"

	"github.com/anqueue/anqueue/internal/executor"
	"github.com/anqueue/anqueue/internal/logger"
	"github.com/anqueue/anqueue/internal/task"
	"github.com/anqueue/anqueue/internal/worker"
)

// Sink is what a dispatch cycle needs from its caller to apply the cycle's
// outcomes back onto the controller's in-memory stack: dropping a settled
// task and persisting one that has reached a terminal state. *queue.Queue
// satisfies this; dispatch never imports queue directly, since queue already
// imports dispatch.
type Sink interface {
	Remove(uid string) bool
	Persist(ctx context.Context, t *task.Task) error
}

// Strategy moves a batch of ready tasks to workers and reports the outcome.
// single and batch are variants of this one capability rather than an
// inheritance hierarchy, per the design note favoring a tagged interface.
type Strategy interface {
	Dispatch(ctx context.Context, mgr *worker.Manager, registry *executor.Registry, tasks []*task.Task, sink Sink, log *logger.Logger) Counters
}

// Select picks batch when the ready count exceeds one third of the queue's
// total worker capacity, and single otherwise — the threshold from §9's
// concrete scenario (6 total slots, 4 ready tasks ⇒ batch).
func Select(mgr *worker.Manager, readyCount int) Strategy {
	totalSlots := mgr.Size() * mgr.MaxConcurrentTasks()
	if totalSlots <= 0 {
		totalSlots = mgr.MaxConcurrentTasks()
	}
	if totalSlots > 0 && readyCount > totalSlots/3 {
		return BatchStrategy{}
	}
	return SingleStrategy{}
}

// settle resolves the executor for t and runs its validation schema. A task
// with no registered executor is dropped from the stack outright. A task
// that fails validation has its retry count bumped and the failure recorded;
// once retryCount reaches maxRetries the task is finalized as failed,
// persisted, and removed, mirroring the retry-then-finalize shape of
// task.Execute's own worker-side loop but applied before a worker is ever
// involved. The executor is returned only when t cleared validation and is
// ready to send.
func settle(ctx context.Context, sink Sink, log *logger.Logger, registry *executor.Registry, t *task.Task) (executor.Executor, *Counters) {
	ex, ok := registry.Get(t.Type)
	if !ok {
		sink.Remove(t.UID)
		log.Warn("no executor registered for task type, task dropped",
			logger.Field{Key: "uid", Value: t.UID}, logger.Field{Key: "type", Value: t.Type})
		return nil, &Counters{NoExecutorFound: 1}
	}

	result := task.Validate(t, ex.ValidationSchema())
	if result.Passed {
		return ex, nil
	}

	t.RetryCount++
	t.Error = result.Reason
	t.ErrorHistory = append(t.ErrorHistory, result.Reason)

	if t.RetryCount >= t.MaxRetries {
		t.Status = task.StatusFailed
		if err := sink.Persist(ctx, t); err != nil {
			log.Warn("failed to persist a validation-exhausted task",
				logger.Field{Key: "uid", Value: t.UID})
		}
		sink.Remove(t.UID)
		log.Warn("task failed validation and exhausted its retries, task removed",
			logger.Field{Key: "uid", Value: t.UID}, logger.Field{Key: "retryCount", Value: t.RetryCount})
	}

	return nil, &Counters{ValidationFailed: 1}
}
