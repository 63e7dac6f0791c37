package queue

import (
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/anqueue/anqueue/internal/logger"
)

// RecurringTemplate describes a task to be re-enqueued on a cron schedule.
// This is a supplemental feature beyond the baseline queue: the original
// system has no notion of recurring templates, but a task queue that can
// only ever run each task once is missing a feature every mature scheduler
// in this domain offers.
type RecurringTemplate struct {
	ID       string
	Schedule string
	Type     string
	Priority int
	Data     map[string]any
	Metadata map[string]string
	UserID   string
}

// Recurring manages cron-driven re-enqueue of task templates against a
// Queue. It is a thin adapter over robfig/cron/v3, kept separate from Queue
// itself so a queue with no recurring work pays nothing for it.
type Recurring struct {
	mu      sync.Mutex
	cron    *cron.Cron
	entries map[string]cron.EntryID
	queue   *Queue
	log     *logger.Logger
}

// NewRecurring builds a Recurring scheduler bound to q. Start must be called
// before templates added via AddRecurring actually fire.
func NewRecurring(q *Queue, log *logger.Logger) *Recurring {
	return &Recurring{
		cron:    cron.New(),
		entries: map[string]cron.EntryID{},
		queue:   q,
		log:     log,
	}
}

// Start begins the underlying cron scheduler in the background.
func (r *Recurring) Start() {
	r.cron.Start()
}

// Stop halts the scheduler, waiting for any in-flight enqueue to finish.
func (r *Recurring) Stop() {
	<-r.cron.Stop().Done()
}

// AddRecurring registers a template so a fresh task is enqueued on every
// firing of its schedule.
func (r *Recurring) AddRecurring(tmpl RecurringTemplate) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[tmpl.ID]; exists {
		return fmt.Errorf("recurring template %s already registered", tmpl.ID)
	}

	entryID, err := r.cron.AddFunc(tmpl.Schedule, func() {
		t := r.queue.NewTask("", tmpl.Type)
		t.Priority = tmpl.Priority
		t.UserID = tmpl.UserID
		for k, v := range tmpl.Data {
			t.Data[k] = v
		}
		for k, v := range tmpl.Metadata {
			t.Metadata[k] = v
		}
		r.queue.Add(t)
		r.log.Info("recurring template enqueued",
			logger.Field{Key: "templateId", Value: tmpl.ID},
			logger.Field{Key: "taskId", Value: t.UID})
	})
	if err != nil {
		return fmt.Errorf("invalid cron schedule %q: %w", tmpl.Schedule, err)
	}

	r.entries[tmpl.ID] = entryID
	return nil
}

// RemoveRecurring unregisters a template by ID; future firings stop, but
// already-enqueued tasks are unaffected.
func (r *Recurring) RemoveRecurring(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	entryID, ok := r.entries[id]
	if !ok {
		return false
	}
	r.cron.Remove(entryID)
	delete(r.entries, id)
	return true
}
