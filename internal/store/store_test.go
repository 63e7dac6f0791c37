package store

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/anqueue/anqueue/internal/adapter"
	"github.com/anqueue/anqueue/internal/logger"
	"github.com/anqueue/anqueue/internal/task"
)

func testStoreLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger.New() error = %v", err)
	}
	return log
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tasks.jsonl")
	adp := adapter.NewJSONLAdapter(path, testStoreLogger(t))
	return New(adp, testStoreLogger(t))
}

func TestNilAdapterStoreOperationsAreNoops(t *testing.T) {
	s := New(nil, testStoreLogger(t))
	ctx := context.Background()

	if err := s.SaveTask(ctx, task.New("t1", "send_email")); err != nil {
		t.Errorf("SaveTask() with nil adapter error = %v, want nil", err)
	}
	tasks, err := s.SyncWithDB(ctx, nil, nil)
	if err != nil {
		t.Errorf("SyncWithDB() with nil adapter error = %v, want nil", err)
	}
	if tasks != nil {
		t.Errorf("SyncWithDB() with nil adapter = %v, want nil slice", tasks)
	}
}

func TestSaveTaskThenSyncRoundTrips(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := task.New("t1", "send_email")
	tk.Name = "Send welcome email"
	tk.UserID = "user-1"
	tk.Data = map[string]any{"to": "a@example.com"}

	if err := s.SaveTask(ctx, tk); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	synced, err := s.SyncWithDB(ctx, nil, nil)
	if err != nil {
		t.Fatalf("SyncWithDB() error = %v", err)
	}
	if len(synced) != 1 {
		t.Fatalf("SyncWithDB() len = %d, want 1", len(synced))
	}
	got := synced[0]
	if got.UID != "t1" || got.Name != "Send welcome email" || got.UserID != "user-1" {
		t.Errorf("SyncWithDB() task = %+v, want matching restored fields", got)
	}
}

func TestSyncWithDBDemotesRunningToPending(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := task.New("t1", "send_email")
	tk.Status = task.StatusRunning
	if err := s.SaveTask(ctx, tk); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	synced, err := s.SyncWithDB(ctx, nil, nil)
	if err != nil {
		t.Fatalf("SyncWithDB() error = %v", err)
	}
	if len(synced) != 1 {
		t.Fatalf("SyncWithDB() len = %d, want 1", len(synced))
	}
	if synced[0].Status != task.StatusPending {
		t.Errorf("Status = %v, want pending (running work resumes as pending)", synced[0].Status)
	}
}

func TestSyncWithDBSkipsCompletedTasks(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := task.New("t1", "send_email")
	tk.Status = task.StatusCompleted
	if err := s.SaveTask(ctx, tk); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	synced, err := s.SyncWithDB(ctx, nil, nil)
	if err != nil {
		t.Fatalf("SyncWithDB() error = %v", err)
	}
	if len(synced) != 0 {
		t.Errorf("SyncWithDB() len = %d, want 0 (completed tasks are not resumed)", len(synced))
	}
}

func TestSyncWithDBFiltersUnregisteredTypes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveTask(ctx, task.New("t1", "send_email")); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}
	if err := s.SaveTask(ctx, task.New("t2", "unregistered_type")); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	synced, err := s.SyncWithDB(ctx, map[string]bool{"send_email": true}, nil)
	if err != nil {
		t.Fatalf("SyncWithDB() error = %v", err)
	}
	if len(synced) != 1 || synced[0].UID != "t1" {
		t.Errorf("SyncWithDB() = %v, want only t1 (unregistered type filtered out)", synced)
	}
}

func TestSyncWithDBDedupesKnownUIDs(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	if err := s.SaveTask(ctx, task.New("t1", "send_email")); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}
	if err := s.SaveTask(ctx, task.New("t2", "send_email")); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	synced, err := s.SyncWithDB(ctx, nil, map[string]bool{"t1": true})
	if err != nil {
		t.Fatalf("SyncWithDB() error = %v", err)
	}
	if len(synced) != 1 || synced[0].UID != "t2" {
		t.Errorf("SyncWithDB() = %v, want only t2 (t1 already known)", synced)
	}
}

func TestSaveTaskUpdatesExistingRow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	tk := task.New("t1", "send_email")
	if err := s.SaveTask(ctx, tk); err != nil {
		t.Fatalf("SaveTask() error = %v", err)
	}

	tk.Status = task.StatusCompleted
	if err := s.SaveTask(ctx, tk); err != nil {
		t.Fatalf("second SaveTask() error = %v", err)
	}

	row, err := s.Adapter.FindFirst(ctx, adapter.Where{"uid": "t1"})
	if err != nil {
		t.Fatalf("FindFirst() error = %v", err)
	}
	if row.Status != string(task.StatusCompleted) {
		t.Errorf("Status = %q, want completed", row.Status)
	}
}

func TestMarshalDataNilInput(t *testing.T) {
	got, err := MarshalData(nil)
	if err != nil {
		t.Fatalf("MarshalData(nil) error = %v", err)
	}
	if got != nil {
		t.Errorf("MarshalData(nil) = %v, want nil", got)
	}
}

func TestMarshalDataMarshalsMap(t *testing.T) {
	got, err := MarshalData(map[string]any{"k": "v"})
	if err != nil {
		t.Fatalf("MarshalData() error = %v", err)
	}
	if string(got) != `{"k":"v"}` {
		t.Errorf("MarshalData() = %s, want {\"k\":\"v\"}", got)
	}
}
