package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/anqueue/anqueue/internal/logger"
)

const (
	maxRestartAttempts = 5
	restartInitialWait = 1 * time.Second
	restartMaxWait     = 30 * time.Second
)

// Manager owns the worker set: maxWorkers bounds its size, workerPrefix
// generates sequential IDs, and every mutation to the map happens under mu.
// No other component may mutate the set directly, per §3's ownership rule.
type Manager struct {
	mu           sync.RWMutex
	workers      map[string]*Worker
	maxWorkers   int
	workerPrefix string
	seq          int

	maxConcurrentTasks int
	taskDir            string
	launcher           Launcher
	log                *logger.Logger
	onSave             SaveTaskFunc
	metrics            *Metrics

	restartAttempts map[string]int
}

// SetMetrics attaches a Metrics instance whose gauges/counters are updated
// as workers spawn, restart, and report load. Optional: a nil metrics set
// means the manager simply does not export any series.
func (m *Manager) SetMetrics(metrics *Metrics) {
	m.metrics = metrics
}

// Config bundles the fixed parameters a Manager needs to spawn workers.
type Config struct {
	MaxWorkers         int
	WorkerPrefix       string
	MaxConcurrentTasks int
	TaskDir            string
	Launcher           Launcher
}

// NewManager builds an empty Manager. log and onSave are wired into every
// worker it spawns.
func NewManager(cfg Config, log *logger.Logger, onSave SaveTaskFunc) *Manager {
	prefix := cfg.WorkerPrefix
	if prefix == "" {
		prefix = "worker-"
	}
	return &Manager{
		workers:            map[string]*Worker{},
		maxWorkers:         cfg.MaxWorkers,
		workerPrefix:       prefix,
		maxConcurrentTasks: cfg.MaxConcurrentTasks,
		taskDir:            cfg.TaskDir,
		launcher:           cfg.Launcher,
		log:                log,
		onSave:             onSave,
		restartAttempts:    map[string]int{},
	}
}

// Get returns the worker for id, if any.
func (m *Manager) Get(id string) (*Worker, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.workers[id]
	return w, ok
}

// Set installs w under its ID.
func (m *Manager) Set(w *Worker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.workers[w.ID] = w
}

// Remove drops id from the set without closing it; callers that want the
// process terminated should Close it first.
func (m *Manager) Remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.workers, id)
}

// ForEach calls fn for every worker under a read lock. fn must not mutate
// the manager.
func (m *Manager) ForEach(fn func(*Worker)) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.workers {
		fn(w)
	}
}

// Map runs fn over every worker and collects the results.
func (m *Manager) Map(fn func(*Worker) any) []any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]any, 0, len(m.workers))
	for _, w := range m.workers {
		out = append(out, fn(w))
	}
	return out
}

// MaxConcurrentTasks returns the per-worker task load ceiling every spawned
// worker is configured with.
func (m *Manager) MaxConcurrentTasks() int {
	return m.maxConcurrentTasks
}

// Size returns the current worker count.
func (m *Manager) Size() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.workers)
}

// Broadcast sends msg to every worker; per-worker send failures are logged,
// not returned, since one unreachable worker should not abort the others.
func (m *Manager) Broadcast(send func(*Worker) error) {
	m.mu.RLock()
	workers := make([]*Worker, 0, len(m.workers))
	for _, w := range m.workers {
		workers = append(workers, w)
	}
	m.mu.RUnlock()

	for _, w := range workers {
		if err := send(w); err != nil {
			m.log.Warn("broadcast to worker failed",
				logger.Field{Key: "workerId", Value: w.ID},
				logger.Field{Key: "error", Value: err.Error()})
		}
	}
}

// Close terminates the worker under id and removes it. force is currently
// always honored: the underlying process is signaled to stop regardless.
func (m *Manager) Close(id string, force bool) error {
	m.mu.Lock()
	w, ok := m.workers[id]
	if ok {
		delete(m.workers, id)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("worker %s: not found", id)
	}
	return w.Close()
}

func (m *Manager) nextID() string {
	m.seq++
	return fmt.Sprintf("%s%d", m.workerPrefix, m.seq)
}

// Spawn launches a new worker, refusing when the set is already at capacity.
// A missing id is generated from workerPrefix.
func (m *Manager) Spawn(ctx context.Context, id string) (*Worker, error) {
	m.mu.Lock()
	if len(m.workers) >= m.maxWorkers {
		m.mu.Unlock()
		return nil, fmt.Errorf("worker manager: at capacity (%d/%d)", len(m.workers), m.maxWorkers)
	}
	if id == "" {
		id = m.nextID()
	}
	m.mu.Unlock()

	env := map[string]string{
		"WORKER_ID":     id,
		"TASK_DIR":      m.taskDir,
		"MAX_TASK_LOAD": fmt.Sprintf("%d", m.maxConcurrentTasks),
	}
	proc, err := m.launcher.Launch(ctx, id, env)
	if err != nil {
		return nil, fmt.Errorf("spawn worker %s: %w", id, err)
	}

	w := New(id, proc, m.log, m.onSave, m.handleExit)
	m.Set(w)
	if m.metrics != nil {
		m.metrics.WorkersActive.Set(float64(m.Size()))
	}
	m.log.Info("worker spawned", logger.Field{Key: "workerId", Value: id})
	return w, nil
}

// GetAvailable returns the least-loaded worker with spare capacity, spawning
// one if none exists yet or all existing workers are saturated and there is
// room to grow, per §4.5.
func (m *Manager) GetAvailable(ctx context.Context) (*Worker, error) {
	if m.Size() == 0 {
		return m.Spawn(ctx, "")
	}

	var best *Worker
	bestLoad := -1
	m.ForEach(func(w *Worker) {
		load, known := w.TaskLoad()
		if !known || load >= m.maxConcurrentTasks {
			return
		}
		if best == nil || load < bestLoad {
			best = w
			bestLoad = load
		}
	})
	if best != nil {
		return best, nil
	}

	if m.Size() < m.maxWorkers {
		return m.Spawn(ctx, "")
	}
	return nil, nil
}

// handleExit implements §4.5's crash recovery: clean exits are simply
// removed, while crashes are retried with exponential backoff up to
// maxRestartAttempts before the handle is force-closed and reported.
func (m *Manager) handleExit(id string, clean bool, err error) {
	m.Remove(id)
	if m.metrics != nil {
		m.metrics.WorkersActive.Set(float64(m.Size()))
	}

	if clean {
		m.mu.Lock()
		delete(m.restartAttempts, id)
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	attempt := m.restartAttempts[id]
	m.mu.Unlock()

	if attempt >= maxRestartAttempts {
		m.log.Error("worker exceeded restart attempts, giving up", err,
			logger.Field{Key: "workerId", Value: id},
			logger.Field{Key: "attempts", Value: attempt})
		m.mu.Lock()
		delete(m.restartAttempts, id)
		m.mu.Unlock()
		return
	}

	delay := backoff(attempt)
	m.log.Warn("worker crashed, scheduling restart",
		logger.Field{Key: "workerId", Value: id},
		logger.Field{Key: "attempt", Value: attempt + 1},
		logger.Field{Key: "delay", Value: delay.String()})

	go func() {
		time.Sleep(delay)
		m.mu.Lock()
		m.restartAttempts[id] = attempt + 1
		m.mu.Unlock()
		if m.metrics != nil {
			m.metrics.WorkerRestarts.Inc()
		}

		if _, err := m.Spawn(context.Background(), id); err != nil {
			m.log.Error("worker restart failed", err, logger.Field{Key: "workerId", Value: id})
		}
	}()
}

// backoff is the exponential restart delay for a crashed worker:
// min(1000·2^attempt, 30000) ms.
func backoff(attempt int) time.Duration {
	d := restartInitialWait * time.Duration(1<<uint(attempt))
	if d > restartMaxWait {
		return restartMaxWait
	}
	return d
}
