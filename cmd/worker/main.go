// Command worker is the child process a Launcher spawns: it reads
// newline-delimited task messages from stdin, runs them against the local
// executor registry, and reports outcomes on stdout, exactly as
// internal/worker expects on the other end of the pipe.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/anqueue/anqueue/internal/executor"
	"github.com/anqueue/anqueue/internal/logger"
	"github.com/anqueue/anqueue/internal/workerruntime"
)

func main() {
	workerID := os.Getenv("WORKER_ID")
	if workerID == "" {
		fmt.Fprintln(os.Stderr, "WORKER_ID is required")
		os.Exit(1)
	}

	taskDir := os.Getenv("TASK_DIR")
	if taskDir == "" {
		fmt.Fprintln(os.Stderr, "TASK_DIR is required")
		os.Exit(1)
	}

	maxTaskLoad, err := strconv.Atoi(os.Getenv("MAX_TASK_LOAD"))
	if err != nil || maxTaskLoad <= 0 {
		maxTaskLoad = 3
	}

	log, err := logger.New(logger.Config{Level: "warn", Format: "json", Output: "stderr"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	registry := executor.New(taskDir, false, log)
	if err := registry.Initialize(); err != nil {
		log.Error("failed to initialize executor registry", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	rt := workerruntime.New(workerID, maxTaskLoad, registry, log)
	rt.Serve(ctx, os.Stdin)
}
