// Package workerruntime is the child-side counterpart to internal/worker: it
// runs inside the worker process, reads task messages from stdin, executes
// them against the local executor registry, and reports outcomes on stdout.
package workerruntime

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/anqueue/anqueue/internal/executor"
	"github.com/anqueue/anqueue/internal/ipcmsg"
	"github.com/anqueue/anqueue/internal/logger"
	"github.com/anqueue/anqueue/internal/task"
)

// Runtime is the per-process state a worker binary drives from main(): the
// executor registry, the concurrency gate, and the stdout writer.
type Runtime struct {
	WorkerID    string
	ProcessID   int
	MaxTaskLoad int32

	registry *executor.Registry
	log      *logger.Logger

	taskLoad atomic.Int32
	hasDB    atomic.Bool

	writeMu sync.Mutex
	out     *json.Encoder

	startTime int64
}

// New builds a Runtime bound to a registry that has already been
// Initialize()'d, ready to run Serve.
func New(workerID string, maxTaskLoad int, registry *executor.Registry, log *logger.Logger) *Runtime {
	return &Runtime{
		WorkerID:    workerID,
		ProcessID:   os.Getpid(),
		MaxTaskLoad: int32(maxTaskLoad),
		registry:    registry,
		log:         log,
		out:         json.NewEncoder(os.Stdout),
		startTime:   time.Now().Unix(),
	}
}

// Serve reads newline-delimited ParentMessage values from r until it closes;
// ctx is handed to every task execution but does not end the read loop. A
// panic on Serve's own goroutine is recovered, logged, and turned into a
// process exit with code 1 — the closest Go analogue to the original's
// uncaught-error and unhandled-rejection handlers, both of which terminate
// the process after logging. Task messages execute on goroutines of their
// own; a panic there is not recovered by Serve and ends the process with the
// Go runtime's default panic exit.
func (rt *Runtime) Serve(ctx context.Context, r *os.File) {
	defer func() {
		if p := recover(); p != nil {
			rt.log.Error("worker runtime panic, exiting", fmt.Errorf("panic: %v", p),
				logger.Field{Key: "workerId", Value: rt.WorkerID})
			os.Exit(1)
		}
	}()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var msg ipcmsg.ParentMessage
		if err := json.Unmarshal(line, &msg); err != nil {
			rt.log.Warn("malformed parent message", logger.Field{Key: "workerId", Value: rt.WorkerID})
			continue
		}
		rt.dispatch(ctx, msg)
	}
}

func (rt *Runtime) dispatch(ctx context.Context, msg ipcmsg.ParentMessage) {
	switch msg.Event {
	case ipcmsg.EventGetWorkerInfo:
		rt.replyWorkerInfo()
	case ipcmsg.EventSetDatabase:
		rt.hasDB.Store(msg.DB)
	case ipcmsg.EventTaskSingle:
		go rt.runOne(ctx, msg.Task)
	case ipcmsg.EventTaskBatch:
		// Per the documented open-question resolution, batch tasks run
		// concurrently without awaiting each other; replies arrive
		// independently and may interleave.
		for _, raw := range msg.Batch {
			go rt.runOne(ctx, raw)
		}
	}
}

func (rt *Runtime) send(msg ipcmsg.ChildMessage) {
	rt.writeMu.Lock()
	defer rt.writeMu.Unlock()
	if err := rt.out.Encode(msg); err != nil {
		rt.log.Error("failed to write reply", err, logger.Field{Key: "workerId", Value: rt.WorkerID})
	}
}

func (rt *Runtime) replyWorkerInfo() {
	rt.send(ipcmsg.ChildMessage{
		Event: ipcmsg.EventWorkerInfo,
		Data: &ipcmsg.WorkerInfo{
			WorkerID:      rt.WorkerID,
			ProcessID:     rt.ProcessID,
			TaskLoad:      int(rt.taskLoad.Load()),
			MaxLoad:       int(rt.MaxTaskLoad),
			UptimeSeconds: time.Now().Unix() - rt.startTime,
		},
	})
}

// runOne enforces the capacity gate, reconstructs the task, and executes it.
// The check-and-increment is a CAS loop rather than a load-then-add: two
// goroutines racing runOne must not both observe room for one more task and
// both proceed. The load counter is decremented across every exit path via
// defer, matching §4.6's "guarded scope that decrements on every exit path".
func (rt *Runtime) runOne(ctx context.Context, raw json.RawMessage) {
	for {
		cur := rt.taskLoad.Load()
		if cur >= rt.MaxTaskLoad {
			rt.log.Warn("task rejected: worker at capacity", logger.Field{Key: "workerId", Value: rt.WorkerID})
			return
		}
		if rt.taskLoad.CompareAndSwap(cur, cur+1) {
			break
		}
	}
	defer rt.taskLoad.Add(-1)

	var t task.Task
	if err := json.Unmarshal(raw, &t); err != nil {
		rt.replyTaskInfo(raw, nil, fmt.Sprintf("reconstruct task: %v", err))
		return
	}

	ex, ok := rt.registry.Get(t.Type)
	if !ok {
		t.Status = task.StatusFailed
		errMsg := fmt.Sprintf("no executor registered for type %q", t.Type)
		t.Error = errMsg
		rt.replyTaskInfoFromTask(&t, task.Result{}, errMsg)
		return
	}

	result, err := t.Execute(ctx, ex.Exec, func() []string { return ex.RetrySchema() })
	if err != nil {
		t.Status = task.StatusFailed
		t.Error = err.Error()
		if failer, ok := ex.(executor.Failer); ok {
			failer.OnFailure(&t, t.LastResult, err)
		}
		rt.replyTaskInfoFromTask(&t, t.LastResult, err.Error())
		return
	}

	if completer, ok := ex.(executor.Completer); ok {
		completer.OnComplete(&t, result)
	}
	rt.replyTaskInfoFromTask(&t, result, "")
}

func (rt *Runtime) replyTaskInfoFromTask(t *task.Task, result task.Result, errMsg string) {
	taskJSON, err := json.Marshal(t)
	if err != nil {
		rt.log.Error("failed to marshal task for reply", err, logger.Field{Key: "workerId", Value: rt.WorkerID})
		return
	}
	rt.replyTaskInfo(taskJSON, result.Data, errMsg)
}

func (rt *Runtime) replyTaskInfo(taskJSON json.RawMessage, resultData map[string]any, errMsg string) {
	var errPtr *string
	if errMsg != "" {
		errPtr = &errMsg
	}
	var resultJSON json.RawMessage
	if resultData != nil {
		if data, err := json.Marshal(resultData); err == nil {
			resultJSON = data
		}
	}
	rt.send(ipcmsg.ChildMessage{
		Event:     ipcmsg.EventTaskInfo,
		Task:      taskJSON,
		Error:     errPtr,
		Result:    resultJSON,
		WorkerID:  rt.WorkerID,
		ProcessID: rt.ProcessID,
	})
}
