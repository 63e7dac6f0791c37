// Package dispatch turns a set of ready tasks into worker sends: sorting by
// priority, selecting between the single and batch strategies, and
// accounting for every task via the four dispatch counters.
package dispatch

import (
	"sort"

	"github.com/anqueue/anqueue/internal/task"
)

// Counters tally the disposition of every task offered to a dispatch cycle.
// Per §8's accounting invariant, their sum always equals the input count.
type Counters struct {
	TasksSent         int
	NoWorkerAvailable int
	NoExecutorFound   int
	ValidationFailed  int
}

func (c *Counters) add(o Counters) {
	c.TasksSent += o.TasksSent
	c.NoWorkerAvailable += o.NoWorkerAvailable
	c.NoExecutorFound += o.NoExecutorFound
	c.ValidationFailed += o.ValidationFailed
}

// ScheduleTasks stable-sorts tasks by descending priority: ties preserve
// their relative order, so equal-priority tasks dispatch FIFO.
func ScheduleTasks(tasks []*task.Task) []*task.Task {
	sorted := make([]*task.Task, len(tasks))
	copy(sorted, tasks)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority > sorted[j].Priority
	})
	return sorted
}
