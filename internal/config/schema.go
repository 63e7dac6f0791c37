// Package config loads and validates the queue's TOML configuration file,
// applies defaults, and expands ${VAR} / ${VAR:default} environment
// references, in that order.
//
// Configuration structure:
//   - [queue]: dispatch loop timing, worker limits, task directory
//   - [adapter]: which persistence backend to use and its connection string
//   - [logging]: level, format, output
//   - [metrics]: Prometheus listener
//   - [launcher]: how worker processes are started (exec or docker)
package config

import "path/filepath"

// Config is the root of the TOML document.
type Config struct {
	Queue    QueueConfig    `toml:"queue"`
	Adapter  AdapterConfig  `toml:"adapter"`
	Logging  LoggingConfig  `toml:"logging"`
	Metrics  MetricsConfig  `toml:"metrics"`
	Launcher LauncherConfig `toml:"launcher"`
}

// QueueConfig controls the controller's own behavior.
type QueueConfig struct {
	ID                 string `toml:"id"`
	TaskDir            string `toml:"task_dir"`
	MaxWorkers         int    `toml:"max_workers"`
	WorkerPrefix       string `toml:"worker_prefix"`
	MaxConcurrentTasks int    `toml:"max_concurrent_tasks"`
	DispatchIntervalMS int    `toml:"dispatch_interval_ms"`
	MaxTaskRetries     int    `toml:"max_task_retries"`
	TaskTimeoutMS      int    `toml:"task_timeout_ms"`
}

// AdapterConfig selects and configures the persistence backend. Driver is
// "memory", "jsonl", or "postgres"; DSN and Path are interpreted according
// to Driver.
type AdapterConfig struct {
	Driver string `toml:"driver"`
	DSN    string `toml:"dsn"`
	Path   string `toml:"path"`
}

// LoggingConfig mirrors the logger package's supported levels/formats.
type LoggingConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Output string `toml:"output"`
}

// MetricsConfig controls the Prometheus HTTP listener.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Addr    string `toml:"addr"`
	Path    string `toml:"path"`
}

// LauncherConfig selects how worker processes come into being. Kind is
// "exec" or "docker"; the Docker* fields only apply to the latter.
type LauncherConfig struct {
	Kind        string `toml:"kind"`
	BinPath     string `toml:"bin_path"`
	DockerImage string `toml:"docker_image"`

	DockerMemoryLimit string  `toml:"docker_memory_limit"`
	DockerCPULimit    float64 `toml:"docker_cpu_limit"`
	DockerPidsLimit   int64   `toml:"docker_pids_limit"`
	TaskTimeoutS      int     `toml:"task_timeout_s"`
}

// TaskDirPath resolves the configured task directory relative to nothing in
// particular — it is expected to already be absolute or relative to the
// process's working directory, same as the executor registry's own
// contract.
func (c *QueueConfig) TaskDirPath() string {
	return filepath.Clean(c.TaskDir)
}
