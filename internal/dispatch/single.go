package dispatch

import (
	"context"

	"github.com/anqueue/anqueue/internal/executor"
	"github.com/anqueue/anqueue/internal/ipcmsg"
	"github.com/anqueue/anqueue/internal/logger"
	"github.com/anqueue/anqueue/internal/task"
	"github.com/anqueue/anqueue/internal/worker"
)

// SingleStrategy sends one taskSingle message per task, each to whichever
// worker is least-loaded at the moment it is picked.
type SingleStrategy struct{}

func (SingleStrategy) Dispatch(ctx context.Context, mgr *worker.Manager, registry *executor.Registry, tasks []*task.Task, sink Sink, log *logger.Logger) Counters {
	var total Counters
	for _, t := range tasks {
		_, c := settle(ctx, sink, log, registry, t)
		if c != nil {
			total.add(*c)
			continue
		}

		w, err := mgr.GetAvailable(ctx)
		if err != nil || w == nil {
			total.NoWorkerAvailable++
			continue
		}

		payload, err := taskJSON(t)
		if err != nil {
			total.NoWorkerAvailable++
			continue
		}
		if err := w.Send(ipcmsg.ParentMessage{Event: ipcmsg.EventTaskSingle, Task: payload}); err != nil {
			total.NoWorkerAvailable++
			continue
		}
		sink.Remove(t.UID)
		total.TasksSent++
	}
	return total
}
