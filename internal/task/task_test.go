package task

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func TestNewAppliesDefaults(t *testing.T) {
	tk := New("", "send-email")
	if tk.UID == "" {
		t.Fatal("New() left UID empty")
	}
	if tk.Status != StatusPending {
		t.Errorf("Status = %v, want pending", tk.Status)
	}
	if tk.MaxRetries != DefaultMaxRetries {
		t.Errorf("MaxRetries = %d, want %d", tk.MaxRetries, DefaultMaxRetries)
	}
	if tk.Timeout != DefaultTimeout {
		t.Errorf("Timeout = %v, want %v", tk.Timeout, DefaultTimeout)
	}
}

func TestNewKeepsCallerUID(t *testing.T) {
	tk := New("fixed-id", "send-email")
	if tk.UID != "fixed-id" {
		t.Errorf("UID = %q, want fixed-id", tk.UID)
	}
}

func TestReadyToRun(t *testing.T) {
	tk := New("", "t")
	if !tk.ReadyToRun() {
		t.Error("ReadyToRun() = false for task with no RunAt")
	}

	future := time.Now().Add(time.Hour)
	tk.RunAt = &future
	if tk.ReadyToRun() {
		t.Error("ReadyToRun() = true for a future RunAt")
	}

	past := time.Now().Add(-time.Hour)
	tk.RunAt = &past
	if !tk.ReadyToRun() {
		t.Error("ReadyToRun() = false for a past RunAt")
	}
}

func TestUpdateProgressClamps(t *testing.T) {
	tk := New("", "t")
	tk.UpdateProgress(-5)
	if tk.Progress != 0 {
		t.Errorf("Progress = %d, want 0", tk.Progress)
	}
	tk.UpdateProgress(150)
	if tk.Progress != 100 {
		t.Errorf("Progress = %d, want 100", tk.Progress)
	}
	tk.UpdateProgress(42)
	if tk.Progress != 42 {
		t.Errorf("Progress = %d, want 42", tk.Progress)
	}
}

func TestCancelPendingTask(t *testing.T) {
	tk := New("", "t")
	if !tk.Cancel() {
		t.Fatal("Cancel() = false for a pending task")
	}
	if tk.Status != StatusCancelled {
		t.Errorf("Status = %v, want cancelled", tk.Status)
	}
	if tk.CompletedAt == nil {
		t.Error("CompletedAt not set after Cancel")
	}
}

func TestCancelTerminalTaskIsNoop(t *testing.T) {
	tk := New("", "t")
	tk.Status = StatusCompleted
	if tk.Cancel() {
		t.Error("Cancel() = true for an already-completed task")
	}
}

func TestCancelDuringDelayAbortsExecute(t *testing.T) {
	tk := New("", "t")
	tk.Delay = time.Hour

	done := make(chan struct{})
	go func() {
		_, err := tk.Execute(context.Background(), func(ctx context.Context, t *Task) (Result, error) {
			return Result{Processed: true}, nil
		}, nil)
		if err == nil {
			t.Error("Execute() expected an error when cancelled during delay")
		}
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	tk.Cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Execute() did not return after Cancel during delay")
	}
}

func TestExecuteHappyPath(t *testing.T) {
	tk := New("", "t")
	result, err := tk.Execute(context.Background(), func(ctx context.Context, t *Task) (Result, error) {
		return Result{Processed: true, Data: map[string]any{"ok": true}}, nil
	}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if !result.Processed {
		t.Error("Execute() result.Processed = false")
	}
	if tk.Status != StatusCompleted {
		t.Errorf("Status = %v, want completed", tk.Status)
	}
	if tk.Progress != 100 {
		t.Errorf("Progress = %d, want 100", tk.Progress)
	}
	if tk.CompletedAt == nil {
		t.Error("CompletedAt not set")
	}
}

func TestExecuteUnprocessedResultFailsWithoutError(t *testing.T) {
	tk := New("", "t")
	_, err := tk.Execute(context.Background(), func(ctx context.Context, t *Task) (Result, error) {
		return Result{Processed: false}, nil
	}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v, want nil", err)
	}
	if tk.Status != StatusFailed {
		t.Errorf("Status = %v, want failed", tk.Status)
	}
	if tk.FailedAt == nil {
		t.Error("FailedAt not set")
	}
}

func TestExecuteRetriesOnMatchingPatternThenSucceeds(t *testing.T) {
	tk := New("", "t")
	attempts := 0
	result, err := tk.Execute(context.Background(), func(ctx context.Context, t *Task) (Result, error) {
		attempts++
		if attempts < 2 {
			return Result{}, errors.New("Network timeout while calling upstream")
		}
		return Result{Processed: true}, nil
	}, nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
	if !result.Processed {
		t.Error("expected final result to be processed")
	}
	if tk.RetryCount != 1 {
		t.Errorf("RetryCount = %d, want 1", tk.RetryCount)
	}
}

func TestExecuteExhaustsRetriesAndFails(t *testing.T) {
	tk := New("", "t")
	tk.MaxRetries = 2
	attempts := 0
	_, err := tk.Execute(context.Background(), func(ctx context.Context, t *Task) (Result, error) {
		attempts++
		return Result{}, errors.New("Network timeout")
	}, nil)
	if err == nil {
		t.Fatal("Execute() expected an error after exhausting retries")
	}
	if attempts != 3 {
		t.Errorf("attempts = %d, want 3 (1 initial + 2 retries)", attempts)
	}
	if tk.Status != StatusFailed {
		t.Errorf("Status = %v, want failed", tk.Status)
	}
	if tk.RetryCount != tk.MaxRetries {
		t.Errorf("RetryCount = %d, want %d", tk.RetryCount, tk.MaxRetries)
	}
}

func TestExecuteNonRetryableErrorFailsImmediately(t *testing.T) {
	tk := New("", "t")
	attempts := 0
	_, err := tk.Execute(context.Background(), func(ctx context.Context, t *Task) (Result, error) {
		attempts++
		return Result{}, errors.New("permission denied")
	}, nil)
	if err == nil {
		t.Fatal("Execute() expected an error")
	}
	if attempts != 1 {
		t.Errorf("attempts = %d, want 1", attempts)
	}
	if tk.Status != StatusFailed {
		t.Errorf("Status = %v, want failed", tk.Status)
	}
}

func TestExecuteRetriesOnCustomSchemaPattern(t *testing.T) {
	tk := New("", "t")
	attempts := 0
	_, err := tk.Execute(context.Background(), func(ctx context.Context, t *Task) (Result, error) {
		attempts++
		if attempts < 2 {
			return Result{}, errors.New("rate limit exceeded")
		}
		return Result{Processed: true}, nil
	}, func() []string { return []string{"rate limit"} })
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestExecuteTimesOutAndRetries(t *testing.T) {
	tk := New("", "t")
	tk.Timeout = 20 * time.Millisecond
	attempts := 0
	_, err := tk.Execute(context.Background(), func(ctx context.Context, t *Task) (Result, error) {
		attempts++
		if attempts < 2 {
			<-ctx.Done()
			return Result{}, ctx.Err()
		}
		return Result{Processed: true}, nil
	}, func() []string { return []string{"context deadline exceeded|timed out"} })
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}
	if attempts != 2 {
		t.Errorf("attempts = %d, want 2", attempts)
	}
}

func TestExecuteFromNonPendingStateErrors(t *testing.T) {
	tk := New("", "t")
	tk.Status = StatusRunning
	_, err := tk.Execute(context.Background(), func(ctx context.Context, t *Task) (Result, error) {
		return Result{Processed: true}, nil
	}, nil)
	if err == nil {
		t.Fatal("Execute() expected an error from a non-pending state")
	}
}

func TestValidateStopsAtFirstFailure(t *testing.T) {
	tk := New("", "t")
	calls := 0
	predicates := []Predicate{
		func(t *Task) bool { calls++; return true },
		func(t *Task) bool { calls++; return false },
		func(t *Task) bool { calls++; return true },
	}
	result := Validate(tk, predicates)
	if result.Passed {
		t.Error("Validate() Passed = true, want false")
	}
	if calls != 2 {
		t.Errorf("predicate calls = %d, want 2 (stop at first failure)", calls)
	}
}

func TestValidateAllPass(t *testing.T) {
	tk := New("", "t")
	predicates := []Predicate{
		func(t *Task) bool { return true },
		func(t *Task) bool { return true },
	}
	result := Validate(tk, predicates)
	if !result.Passed {
		t.Errorf("Validate() Passed = false, want true (reason: %s)", result.Reason)
	}
}

func TestValidateNilPredicateFails(t *testing.T) {
	tk := New("", "t")
	result := Validate(tk, []Predicate{nil})
	if result.Passed {
		t.Error("Validate() Passed = true for a nil predicate")
	}
}

func TestUnmarshalJSONReinitializesCancelChannel(t *testing.T) {
	original := New("wire-1", "t")
	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}

	var reconstructed Task
	if err := json.Unmarshal(data, &reconstructed); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if reconstructed.UID != "wire-1" {
		t.Errorf("UID = %q, want wire-1", reconstructed.UID)
	}

	if !reconstructed.Cancel() {
		t.Fatal("Cancel() on a JSON-reconstructed task returned false")
	}
}
