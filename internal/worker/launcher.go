package worker

import (
	"context"
	"io"
)

// Process is a running worker child, whatever launched it.
type Process interface {
	Stdin() io.WriteCloser
	Stdout() io.ReadCloser
	Pid() int
	// Wait blocks until the process exits and reports whether the exit was
	// clean (code 0, or terminated by SIGTERM/SIGINT).
	Wait() (clean bool, err error)
	Kill() error
}

// Launcher starts a worker runtime process bound to workerID, with the
// environment bindings the runtime expects: WORKER_ID, TASK_DIR,
// MAX_TASK_LOAD.
type Launcher interface {
	Launch(ctx context.Context, workerID string, env map[string]string) (Process, error)
}
