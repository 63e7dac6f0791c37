package dispatch

import (
	"context"
	"encoding/json"
	"sort"

	"github.com/anqueue/anqueue/internal/executor"
	"github.com/anqueue/anqueue/internal/ipcmsg"
	"github.com/anqueue/anqueue/internal/logger"
	"github.com/anqueue/anqueue/internal/task"
	"github.com/anqueue/anqueue/internal/worker"
)

// BatchStrategy groups validated, worker-eligible tasks by their assigned
// worker and sends one taskBatch message per worker, up to that worker's
// remaining capacity.
type BatchStrategy struct{}

// group tracks the payloads queued for one worker alongside the uids they
// came from, so a successful send can remove exactly those tasks from the
// stack and a failed one can leave them pending for the next cycle.
type group struct {
	payloads []json.RawMessage
	uids     []string
}

// slot is one worker's spare capacity at the start of the cycle, snapshotted
// once so tasks can be assigned without re-reading the manager's cached load
// per task.
type slot struct {
	w    *worker.Worker
	load int
	free int
}

func (BatchStrategy) Dispatch(ctx context.Context, mgr *worker.Manager, registry *executor.Registry, tasks []*task.Task, sink Sink, log *logger.Logger) Counters {
	var total Counters

	settled := make([]*task.Task, 0, len(tasks))
	for _, t := range tasks {
		_, c := settle(ctx, sink, log, registry, t)
		if c != nil {
			total.add(*c)
			continue
		}
		settled = append(settled, t)
	}
	if len(settled) == 0 {
		return total
	}

	if mgr.Size() == 0 {
		if _, err := mgr.GetAvailable(ctx); err != nil {
			total.NoWorkerAvailable += len(settled)
			return total
		}
	}

	capacity := mgr.MaxConcurrentTasks()
	slots := make([]slot, 0, mgr.Size())
	mgr.ForEach(func(w *worker.Worker) {
		load, known := w.TaskLoad()
		if !known {
			return
		}
		free := capacity - load
		if capacity <= 0 {
			free = len(settled)
		} else if free <= 0 {
			return
		}
		slots = append(slots, slot{w: w, load: load, free: free})
	})
	sort.Slice(slots, func(i, j int) bool { return slots[i].load < slots[j].load })

	// Greedily draw min(remaining, worker.free) tasks per worker in
	// ascending load order, from the head of the ready-task list.
	groups := map[*worker.Worker]*group{}
	idx := 0
	for _, s := range slots {
		if idx >= len(settled) {
			break
		}
		n := s.free
		if idx+n > len(settled) {
			n = len(settled) - idx
		}
		if n <= 0 {
			continue
		}

		g := &group{}
		for i := 0; i < n; i++ {
			t := settled[idx]
			idx++
			payload, err := taskJSON(t)
			if err != nil {
				total.NoWorkerAvailable++
				continue
			}
			g.payloads = append(g.payloads, payload)
			g.uids = append(g.uids, t.UID)
		}
		if len(g.payloads) > 0 {
			groups[s.w] = g
		}
	}
	total.NoWorkerAvailable += len(settled) - idx

	for w, g := range groups {
		if err := w.Send(ipcmsg.ParentMessage{Event: ipcmsg.EventTaskBatch, Batch: g.payloads}); err != nil {
			log.Warn("batch send failed, tasks remain pending for the next cycle",
				logger.Field{Key: "count", Value: len(g.uids)})
			total.NoWorkerAvailable += len(g.uids)
			continue
		}
		for _, uid := range g.uids {
			sink.Remove(uid)
		}
		total.TasksSent += len(g.uids)
	}
	return total
}

func taskJSON(t *task.Task) (json.RawMessage, error) {
	return json.Marshal(t)
}
