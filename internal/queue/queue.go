// Package queue is the public facade of the whole system: the in-memory
// task stack, the periodic dispatch loop, and the operations application
// code calls to add, cancel, and inspect work. It is the only component
// permitted to mutate the task set or the worker set, per §3's ownership
// rule.
package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/anqueue/anqueue/internal/adapter"
	"github.com/anqueue/anqueue/internal/dispatch"
	"github.com/anqueue/anqueue/internal/executor"
	"github.com/anqueue/anqueue/internal/ipcmsg"
	"github.com/anqueue/anqueue/internal/logger"
	"github.com/anqueue/anqueue/internal/store"
	"github.com/anqueue/anqueue/internal/task"
	"github.com/anqueue/anqueue/internal/worker"
)

// Config bundles the environment-overridable parameters read once at
// construction, per the design note against global singletons.
type Config struct {
	ID                 string
	TaskDir            string
	MaxWorkers         int
	WorkerPrefix       string
	MaxConcurrentTasks int
	DispatchInterval   time.Duration
	MaxTaskRetries     int
	TaskTimeout        time.Duration
	Launcher           worker.Launcher
}

func (c Config) withDefaults() Config {
	if c.ID == "" {
		c.ID = "Anqueue"
	}
	if c.WorkerPrefix == "" {
		c.WorkerPrefix = c.ID + "-worker-"
	}
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = 3
	}
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 3
	}
	if c.DispatchInterval <= 0 {
		c.DispatchInterval = 500 * time.Millisecond
	}
	if c.MaxTaskRetries <= 0 {
		c.MaxTaskRetries = task.DefaultMaxRetries
	}
	if c.TaskTimeout <= 0 {
		c.TaskTimeout = task.DefaultTimeout
	}
	return c
}

// Queue is the controller: it exclusively owns the in-memory task stack and
// the worker manager.
type Queue struct {
	cfg      Config
	log      *logger.Logger
	registry *executor.Registry
	manager  *worker.Manager
	store    *store.Store
	metrics  *worker.Metrics

	mu    sync.Mutex
	stack []*task.Task

	cancelLoop context.CancelFunc
	loopDone   chan struct{}
}

var _ dispatch.Sink = (*Queue)(nil)

// New constructs a Queue bound to an executor registry and, optionally, a
// persistence adapter (adp may be nil for a purely in-memory queue).
func New(cfg Config, adp adapter.Adapter, log *logger.Logger) (*Queue, error) {
	cfg = cfg.withDefaults()

	registry := executor.New(cfg.TaskDir, true, log)
	if err := registry.Initialize(); err != nil {
		return nil, fmt.Errorf("initialize executor registry: %w", err)
	}

	st := store.New(adp, log)
	metrics := worker.NewMetrics()

	q := &Queue{
		cfg:      cfg,
		log:      log,
		registry: registry,
		store:    st,
		metrics:  metrics,
	}

	q.manager = worker.NewManager(worker.Config{
		MaxWorkers:         cfg.MaxWorkers,
		WorkerPrefix:       cfg.WorkerPrefix,
		MaxConcurrentTasks: cfg.MaxConcurrentTasks,
		TaskDir:            cfg.TaskDir,
		Launcher:           cfg.Launcher,
	}, log, q.onWorkerSave)
	q.manager.SetMetrics(metrics)

	return q, nil
}

// Metrics exposes the queue's Prometheus collectors for registration.
func (q *Queue) Metrics() *worker.Metrics {
	return q.metrics
}

// onWorkerSave is the Worker.onSave hook: it persists a finished task's
// snapshot and, if the executor exposes SaveResult, invokes it with the
// attached adapter; a task the reply leaves completed is then dropped from
// the in-memory stack.
func (q *Queue) onWorkerSave(ctx context.Context, taskJSON, resultJSON json.RawMessage, execErr string) {
	var t task.Task
	if err := json.Unmarshal(taskJSON, &t); err != nil {
		q.log.Error("failed to reconstruct task from worker reply", err)
		return
	}

	if execErr == "" {
		t.Status = task.StatusCompleted
	}

	if err := q.store.SaveTask(ctx, &t); err != nil {
		q.log.Warn("adapter save failed, continuing", logger.Field{Key: "uid", Value: t.UID})
	}

	if ex, ok := q.registry.Get(t.Type); ok {
		if saver, ok := ex.(executor.ResultSaver); ok {
			var result task.Result
			if len(resultJSON) > 0 {
				_ = json.Unmarshal(resultJSON, &result)
			}
			saver.SaveResult(q.store.Adapter, &t, result)
		}
	}

	// A failed or otherwise non-terminal reply keeps its place in the stack
	// so the next dispatch cycle can see and re-evaluate it; only a
	// completed task is done with the stack for good.
	if t.Status == task.StatusCompleted {
		q.removeFromStack(t.UID)
	}
}

// Persist saves t's current snapshot through the store, satisfying
// dispatch.Sink so a dispatch cycle can finalize a task without importing
// queue itself.
func (q *Queue) Persist(ctx context.Context, t *task.Task) error {
	return q.store.SaveTask(ctx, t)
}

// syncFromStore pulls pending/running rows back into memory, filtered to
// types this queue has an executor for and deduplicated against what is
// already in the stack.
func (q *Queue) syncFromStore(ctx context.Context) error {
	knownTypes := make(map[string]bool)
	for _, typ := range q.registry.Types() {
		knownTypes[typ] = true
	}

	q.mu.Lock()
	knownUIDs := make(map[string]bool, len(q.stack))
	for _, t := range q.stack {
		knownUIDs[t.UID] = true
	}
	q.mu.Unlock()

	tasks, err := q.store.SyncWithDB(ctx, knownTypes, knownUIDs)
	if err != nil {
		return fmt.Errorf("sync with db: %w", err)
	}
	q.mu.Lock()
	q.stack = append(q.stack, tasks...)
	q.mu.Unlock()
	return nil
}

// Init runs SyncWithDB, pulling any pending or previously-running rows back
// into memory so a restarted controller resumes in-flight work.
func (q *Queue) Init(ctx context.Context) error {
	return q.syncFromStore(ctx)
}

// SetDatabase announces database availability to every current worker so
// their executors can decide whether SaveResult hooks have an adapter to
// write through, per §4.6.
func (q *Queue) SetDatabase(present bool) {
	q.manager.Broadcast(func(w *worker.Worker) error {
		return w.Send(ipcmsg.ParentMessage{Event: ipcmsg.EventSetDatabase, DB: present})
	})
}

// NewTask builds a pending task with this queue's configured retry and
// timeout defaults rather than the package-level fallbacks, so every task
// this controller creates honors max_task_retries/task_timeout_ms.
func (q *Queue) NewTask(uid, taskType string) *task.Task {
	t := task.New(uid, taskType)
	t.MaxRetries = q.cfg.MaxTaskRetries
	t.Timeout = q.cfg.TaskTimeout
	return t
}

// Add appends a task to the in-memory stack.
func (q *Queue) Add(t *task.Task) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stack = append(q.stack, t)
}

// Remove drops a task by UID without cancelling it.
func (q *Queue) Remove(uid string) bool {
	return q.removeFromStack(uid)
}

func (q *Queue) removeFromStack(uid string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for i, t := range q.stack {
		if t.UID == uid {
			q.stack = append(q.stack[:i], q.stack[i+1:]...)
			return true
		}
	}
	return false
}

// Cancel flags a task cancelled in place; per §9's cancellation semantics
// this is flag-only, in-flight executor work on a worker continues.
func (q *Queue) Cancel(uid string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.stack {
		if t.UID == uid {
			return t.Cancel()
		}
	}
	return false
}

// GetTask returns a task by UID.
func (q *Queue) GetTask(uid string) (*task.Task, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, t := range q.stack {
		if t.UID == uid {
			return t, true
		}
	}
	return nil, false
}

// GetTasks returns a snapshot of the current in-memory stack.
func (q *Queue) GetTasks() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]*task.Task, len(q.stack))
	copy(out, q.stack)
	return out
}

// GetPendingTasks returns tasks that are ready to run right now.
func (q *Queue) GetPendingTasks() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []*task.Task
	for _, t := range q.stack {
		if t.Status == task.StatusPending && t.ReadyToRun() {
			out = append(out, t)
		}
	}
	return out
}

// GetTaskStatuses returns a uid → status snapshot.
func (q *Queue) GetTaskStatuses() map[string]task.Status {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make(map[string]task.Status, len(q.stack))
	for _, t := range q.stack {
		out[t.UID] = t.Status
	}
	return out
}

// Clear empties the in-memory stack without touching persisted rows.
func (q *Queue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stack = nil
}

// ScheduleTasks sorts the current stack by descending priority in place and
// returns it, satisfying §8's priority-ordering invariant.
func (q *Queue) ScheduleTasks() []*task.Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.stack = dispatch.ScheduleTasks(q.stack)
	out := make([]*task.Task, len(q.stack))
	copy(out, q.stack)
	return out
}

// RunTasks performs one dispatch cycle: sort the ready tasks, pick a
// strategy, and dispatch. A task the strategy sends, drops for lacking an
// executor, or fails out of retries is removed from the stack within this
// same call — none of those outcomes wait on an async worker reply. It
// returns the aggregate counters for the cycle.
func (q *Queue) RunTasks(ctx context.Context) dispatch.Counters {
	ready := q.GetPendingTasks()
	sorted := dispatch.ScheduleTasks(ready)

	strategy := dispatch.Select(q.manager, len(sorted))
	counters := strategy.Dispatch(ctx, q.manager, q.registry, sorted, q, q.log)

	q.metrics.TasksDispatched.Add(float64(counters.TasksSent))
	q.metrics.NoWorkerAvailable.Add(float64(counters.NoWorkerAvailable))
	q.metrics.NoExecutorFound.Add(float64(counters.NoExecutorFound))
	q.metrics.ValidationFailed.Add(float64(counters.ValidationFailed))

	return counters
}

// RunAutomatically starts the periodic dispatch loop and blocks until ctx is
// cancelled or Stop is called. Each tick is sync, sort, dispatch, sleep: a
// store sync runs before every dispatch, not just once at startup, so a row
// inserted directly into the store is picked up without a controller
// restart.
func (q *Queue) RunAutomatically(ctx context.Context) {
	loopCtx, cancel := context.WithCancel(ctx)
	q.cancelLoop = cancel
	q.loopDone = make(chan struct{})
	defer close(q.loopDone)

	ticker := time.NewTicker(q.cfg.DispatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-loopCtx.Done():
			return
		case <-ticker.C:
			if err := q.syncFromStore(loopCtx); err != nil {
				q.log.Warn("store sync failed, dispatching with the current stack",
					logger.Field{Key: "error", Value: err.Error()})
			}
			counters := q.RunTasks(loopCtx)
			q.log.Debug("dispatch cycle complete",
				logger.Field{Key: "sent", Value: counters.TasksSent},
				logger.Field{Key: "noWorker", Value: counters.NoWorkerAvailable},
				logger.Field{Key: "noExecutor", Value: counters.NoExecutorFound},
				logger.Field{Key: "validationFailed", Value: counters.ValidationFailed})
		}
	}
}

// Stop ends the automatic dispatch loop, if running, and closes every
// worker.
func (q *Queue) Stop() {
	if q.cancelLoop != nil {
		q.cancelLoop()
		<-q.loopDone
	}
	q.manager.ForEach(func(w *worker.Worker) {
		_ = w.Close()
	})
}
