// Package store persists task snapshots through an adapter and reloads
// pending rows back into the in-memory queue on sync.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/anqueue/anqueue/internal/adapter"
	"github.com/anqueue/anqueue/internal/logger"
	"github.com/anqueue/anqueue/internal/task"
)

// Store bridges the in-memory task stack and a persistence adapter. A nil
// adapter is valid: the queue then runs purely in memory.
type Store struct {
	Adapter adapter.Adapter
	log     *logger.Logger
}

// New creates a Store. adp may be nil.
func New(adp adapter.Adapter, log *logger.Logger) *Store {
	return &Store{Adapter: adp, log: log}
}

func toRow(t *task.Task) *adapter.Row {
	row := &adapter.Row{
		UID:         t.UID,
		Type:        t.Type,
		Name:        t.Name,
		Description: t.Description,
		Status:      string(t.Status),
		Data:        t.Data,
		Error:       t.Error,
		UserID:      t.UserID,
		Metadata:    t.Metadata,
	}
	if t.StartedAt != nil {
		ms := t.StartedAt.UnixMilli()
		row.StartedAt = &ms
	}
	if t.CompletedAt != nil {
		ms := t.CompletedAt.UnixMilli()
		row.CompletedAt = &ms
	}
	return row
}

func fromRow(row *adapter.Row) *task.Task {
	t := task.New(row.UID, row.Type)
	t.Name = row.Name
	t.Description = row.Description
	t.Status = task.Status(row.Status)
	t.Data = row.Data
	t.Error = row.Error
	t.UserID = row.UserID
	t.Metadata = row.Metadata
	if row.StartedAt != nil {
		ts := time.UnixMilli(*row.StartedAt)
		t.StartedAt = &ts
	}
	if row.CompletedAt != nil {
		ts := time.UnixMilli(*row.CompletedAt)
		t.CompletedAt = &ts
	}
	return t
}

// SaveTask upserts a task's current snapshot. A nil adapter is a silent
// no-op: adapter failure is non-fatal to dispatch per §7, so a caller that
// never attached a store behaves identically to one whose writes fail.
func (s *Store) SaveTask(ctx context.Context, t *task.Task) error {
	if s == nil || s.Adapter == nil {
		return nil
	}
	row := toRow(t)
	where := adapter.Where{"uid": t.UID}
	if _, err := s.Adapter.Upsert(ctx, where, row, row); err != nil {
		if s.log != nil {
			s.log.Warn("adapter save failed",
				logger.Field{Key: "uid", Value: t.UID},
				logger.Field{Key: "error", Value: err.Error()})
		}
		return fmt.Errorf("save task %s: %w", t.UID, err)
	}
	return nil
}

// SyncWithDB reloads persisted rows in pending or running status into fresh
// Task values, so a restarted controller can resume in-flight work. Rows
// with an unrecognized status are skipped defensively; the adapter is the
// source of truth for statuses but should never emit anything else.
//
// knownTypes, when non-nil, restricts the result to rows whose type has a
// registered executor: a row for a type nobody can run would just sit in the
// stack forever. knownUIDs, when non-nil, excludes rows already held in
// memory, so calling SyncWithDB again mid-run — every dispatch cycle, not
// just at startup — never duplicates a task the controller already has.
func (s *Store) SyncWithDB(ctx context.Context, knownTypes, knownUIDs map[string]bool) ([]*task.Task, error) {
	if s == nil || s.Adapter == nil {
		return nil, nil
	}
	rows, err := s.Adapter.FindMany(ctx, adapter.Where{"status": string(task.StatusPending)})
	if err != nil {
		return nil, fmt.Errorf("sync pending tasks: %w", err)
	}
	running, err := s.Adapter.FindMany(ctx, adapter.Where{"status": string(task.StatusRunning)})
	if err != nil {
		return nil, fmt.Errorf("sync running tasks: %w", err)
	}
	rows = append(rows, running...)

	out := make([]*task.Task, 0, len(rows))
	for _, row := range rows {
		if knownUIDs != nil && knownUIDs[row.UID] {
			continue
		}
		if knownTypes != nil && !knownTypes[row.Type] {
			continue
		}
		t := fromRow(row)
		// Work interrupted mid-run resumes as pending, not running: no
		// worker currently holds it.
		if t.Status == task.StatusRunning {
			t.Status = task.StatusPending
		}
		out = append(out, t)
	}
	return out, nil
}

// MarshalData round-trips a task's opaque payload; kept as a helper so
// callers reconstructing tasks from IPC or storage share one code path.
func MarshalData(data map[string]any) (json.RawMessage, error) {
	if data == nil {
		return nil, nil
	}
	return json.Marshal(data)
}
