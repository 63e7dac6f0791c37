package executor

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/anqueue/anqueue/internal/logger"
	"github.com/anqueue/anqueue/internal/task"
)

type fakeExecutor struct {
	typ        string
	validation []task.Predicate
	retry      []string
}

func (f *fakeExecutor) Type() string                        { return f.typ }
func (f *fakeExecutor) ValidationSchema() []task.Predicate   { return f.validation }
func (f *fakeExecutor) RetrySchema() []string                { return f.retry }
func (f *fakeExecutor) Exec(ctx context.Context, t *task.Task) (task.Result, error) {
	return task.Result{Processed: true}, nil
}

func testLogger(t *testing.T) *logger.Logger {
	t.Helper()
	log, err := logger.New(logger.Config{Level: "error", Format: "text", Output: "stdout"})
	if err != nil {
		t.Fatalf("logger.New() error = %v", err)
	}
	return log
}

func writeTaskFile(t *testing.T, dir, name string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, name), []byte("// executor module\n"), 0600); err != nil {
		t.Fatalf("write task file: %v", err)
	}
}

func TestRegistryDiscoversRegisteredExecutor(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "send_email.go")

	Register("send_email", func(execType string) Executor {
		return &fakeExecutor{typ: execType, validation: []task.Predicate{}, retry: []string{}}
	})

	r := New(dir, true, testLogger(t))
	if err := r.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	ex, ok := r.Get("send_email")
	if !ok {
		t.Fatal("Get(send_email) not found")
	}
	if ex.Type() != "send_email" {
		t.Errorf("Type() = %q, want send_email", ex.Type())
	}
}

func TestRegistryIgnoresUnregisteredType(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "no_constructor.go")

	r := New(dir, true, testLogger(t))
	if err := r.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if _, ok := r.Get("no_constructor"); ok {
		t.Error("Get() found an executor with no registered constructor")
	}
}

func TestRegistryIgnoresHiddenAndTestFiles(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, ".hidden.go")
	writeTaskFile(t, dir, "some_test.go")
	writeTaskFile(t, dir, "readme.txt")

	r := New(dir, true, testLogger(t))
	if err := r.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	if len(r.Types()) != 0 {
		t.Errorf("Types() = %v, want empty", r.Types())
	}
}

func TestInitializeIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	r := New(dir, true, testLogger(t))
	if err := r.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}
	writeTaskFile(t, dir, "added_after_init.go")
	if err := r.Initialize(); err != nil {
		t.Fatalf("second Initialize() error = %v", err)
	}
	if _, ok := r.Get("added_after_init"); ok {
		t.Error("second Initialize() picked up a file added after the first scan")
	}
}

func TestRegistrySanitizesNilAndPanickingPredicates(t *testing.T) {
	dir := t.TempDir()
	writeTaskFile(t, dir, "flaky.go")

	panicky := func(t *task.Task) bool { panic("boom") }
	ok := func(t *task.Task) bool { return true }

	Register("flaky", func(execType string) Executor {
		return &fakeExecutor{
			typ:        execType,
			validation: []task.Predicate{nil, panicky, ok},
			retry:      []string{},
		}
	})

	r := New(dir, true, testLogger(t))
	if err := r.Initialize(); err != nil {
		t.Fatalf("Initialize() error = %v", err)
	}

	ex, ok2 := r.Get("flaky")
	if !ok2 {
		t.Fatal("Get(flaky) not found")
	}
	schema := ex.ValidationSchema()
	if len(schema) != 1 {
		t.Fatalf("ValidationSchema() len = %d, want 1 surviving predicate", len(schema))
	}
}
