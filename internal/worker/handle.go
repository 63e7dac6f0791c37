package worker

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anqueue/anqueue/internal/ipcmsg"
	"github.com/anqueue/anqueue/internal/logger"
)

// DefaultCacheInterval is how often a Worker's cached info is refreshed.
const DefaultCacheInterval = 200 * time.Millisecond

// getInfoTimeout bounds a single getWorkerInfo round trip.
const getInfoTimeout = 5 * time.Second

// SaveTaskFunc persists a completed task's snapshot; wired to store.Store in
// production and stubbed in tests.
type SaveTaskFunc func(ctx context.Context, taskJSON json.RawMessage, resultJSON json.RawMessage, execErr string)

// ExitFunc is invoked once when the underlying process exits, with whether
// the exit was clean.
type ExitFunc func(workerID string, clean bool, err error)

// Worker is the parent-side handle to a running worker process: it owns the
// stdin/stdout pipe, the cached WorkerInfo snapshot, and the periodic
// refresher, but never the process itself beyond signaling it.
type Worker struct {
	ID      string
	proc    Process
	log     *logger.Logger
	onSave  SaveTaskFunc
	onExit  ExitFunc

	cachedInfo atomic.Pointer[ipcmsg.WorkerInfo]

	mu     sync.Mutex
	writer *json.Encoder

	stopRefresh chan struct{}
	closeOnce   sync.Once
}

// New wraps a freshly-launched process as a Worker and starts its read loop
// and info-cache refresher.
func New(id string, proc Process, log *logger.Logger, onSave SaveTaskFunc, onExit ExitFunc) *Worker {
	w := &Worker{
		ID:          id,
		proc:        proc,
		log:         log,
		onSave:      onSave,
		onExit:      onExit,
		writer:      json.NewEncoder(proc.Stdin()),
		stopRefresh: make(chan struct{}),
	}
	go w.readLoop()
	go w.refreshLoop()
	go w.superviseExit()
	return w
}

// Send forwards msg to the child. A message with an empty Event is dropped,
// per §4.5's "drop if no event field".
func (w *Worker) Send(msg ipcmsg.ParentMessage) error {
	if msg.Event == "" {
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.writer.Encode(msg)
}

// GetInfo requests a fresh WorkerInfo snapshot with a bounded timeout and
// caches the result.
func (w *Worker) GetInfo(ctx context.Context) (*ipcmsg.WorkerInfo, error) {
	ctx, cancel := context.WithTimeout(ctx, getInfoTimeout)
	defer cancel()

	if err := w.Send(ipcmsg.ParentMessage{Event: ipcmsg.EventGetWorkerInfo}); err != nil {
		return nil, fmt.Errorf("worker %s: send getWorkerInfo: %w", w.ID, err)
	}

	// The read loop delivers workerInfo replies onto cachedInfo directly;
	// poll it here rather than threading a dedicated response channel,
	// since staleness-tolerant reads are the documented contract anyway.
	ticker := time.NewTicker(5 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.Now().Add(getInfoTimeout)
	for time.Now().Before(deadline) {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
			if info := w.cachedInfo.Load(); info != nil {
				return info, nil
			}
		}
	}
	return nil, fmt.Errorf("worker %s: getWorkerInfo timed out", w.ID)
}

// CachedInfo returns the most recent WorkerInfo snapshot without blocking, or
// nil if the worker has never been polled.
func (w *Worker) CachedInfo() *ipcmsg.WorkerInfo {
	return w.cachedInfo.Load()
}

// TaskLoad reads the cached load, treating an unpolled worker as saturated
// so schedulers never pick it prematurely.
func (w *Worker) TaskLoad() (load int, known bool) {
	info := w.cachedInfo.Load()
	if info == nil {
		return 0, false
	}
	return info.TaskLoad, true
}

func (w *Worker) refreshLoop() {
	ticker := time.NewTicker(DefaultCacheInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			_ = w.Send(ipcmsg.ParentMessage{Event: ipcmsg.EventGetWorkerInfo})
		case <-w.stopRefresh:
			return
		}
	}
}

func (w *Worker) readLoop() {
	scanner := bufio.NewScanner(w.proc.Stdout())
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg ipcmsg.ChildMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			w.log.Warn("worker sent malformed message",
				logger.Field{Key: "workerId", Value: w.ID})
			continue
		}
		w.handleMessage(msg)
	}
}

// handleMessage interprets one child status message per §4.5: workerInfo
// updates the cache; taskInfo triggers a save (if a store is attached) and
// the executor's saveResult hook, invoked by the caller of onSave.
func (w *Worker) handleMessage(msg ipcmsg.ChildMessage) {
	switch msg.Event {
	case ipcmsg.EventWorkerInfo:
		if msg.Data != nil {
			w.cachedInfo.Store(msg.Data)
		}
	case ipcmsg.EventTaskInfo:
		errText := ""
		if msg.Error != nil {
			errText = *msg.Error
		}
		if w.onSave != nil {
			w.onSave(context.Background(), msg.Task, msg.Result, errText)
		}
	}
}

func (w *Worker) superviseExit() {
	clean, err := w.proc.Wait()
	w.closeOnce.Do(func() { close(w.stopRefresh) })
	if w.onExit != nil {
		w.onExit(w.ID, clean, err)
	}
}

// Close force-terminates the worker process without waiting for graceful
// shutdown.
func (w *Worker) Close() error {
	w.closeOnce.Do(func() { close(w.stopRefresh) })
	return w.proc.Kill()
}
