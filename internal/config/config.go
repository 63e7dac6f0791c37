package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Load reads a TOML file, applies defaults, and expands environment
// references, in that order.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	applyDefaults(&cfg)
	applyEnvOverrides(&cfg)

	if err := expandEnvVars(&cfg); err != nil {
		return nil, fmt.Errorf("failed to expand environment variables: %w", err)
	}

	return &cfg, nil
}

// Validate checks the loaded configuration for internal consistency,
// returning every problem found rather than stopping at the first.
func (c *Config) Validate() []error {
	var errs []error

	if c.Queue.TaskDir == "" {
		errs = append(errs, fmt.Errorf("queue.task_dir is required"))
	} else if err := validatePath(c.Queue.TaskDir, "queue.task_dir"); err != nil {
		errs = append(errs, err)
	}
	if c.Queue.MaxWorkers <= 0 {
		errs = append(errs, fmt.Errorf("queue.max_workers must be positive"))
	}
	if c.Queue.MaxConcurrentTasks <= 0 {
		errs = append(errs, fmt.Errorf("queue.max_concurrent_tasks must be positive"))
	}

	switch c.Adapter.Driver {
	case "", "memory":
	case "jsonl":
		if c.Adapter.Path == "" {
			errs = append(errs, fmt.Errorf("adapter.path is required when adapter.driver is 'jsonl'"))
		}
	case "postgres":
		if c.Adapter.DSN == "" {
			errs = append(errs, fmt.Errorf("adapter.dsn is required when adapter.driver is 'postgres'"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid adapter.driver: %s (expected: memory, jsonl, postgres)", c.Adapter.Driver))
	}

	if c.Logging.Level == "" {
		errs = append(errs, fmt.Errorf("logging.level is required"))
	} else {
		validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
		if !validLevels[strings.ToLower(c.Logging.Level)] {
			errs = append(errs, fmt.Errorf("invalid logging.level: %s (expected: debug, info, warn, error)", c.Logging.Level))
		}
	}
	if c.Logging.Format == "" {
		errs = append(errs, fmt.Errorf("logging.format is required"))
	} else {
		validFormats := map[string]bool{"json": true, "text": true}
		if !validFormats[strings.ToLower(c.Logging.Format)] {
			errs = append(errs, fmt.Errorf("invalid logging.format: %s (expected: json, text)", c.Logging.Format))
		}
	}
	if c.Logging.Output == "" {
		errs = append(errs, fmt.Errorf("logging.output is required"))
	}

	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		errs = append(errs, fmt.Errorf("metrics.addr is required when metrics is enabled"))
	}

	switch c.Launcher.Kind {
	case "", "exec":
		if c.Launcher.BinPath == "" {
			errs = append(errs, fmt.Errorf("launcher.bin_path is required when launcher.kind is 'exec'"))
		}
	case "docker":
		if c.Launcher.DockerImage == "" {
			errs = append(errs, fmt.Errorf("launcher.docker_image is required when launcher.kind is 'docker'"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid launcher.kind: %s (expected: exec, docker)", c.Launcher.Kind))
	}
	if err := c.Launcher.ValidateDocker(); err != nil {
		errs = append(errs, err)
	}

	return errs
}

func validatePath(path, fieldName string) error {
	if path == "" {
		return fmt.Errorf("%s cannot be empty", fieldName)
	}
	if strings.HasPrefix(path, "~") {
		return nil
	}
	if strings.Contains(path, "..") {
		return fmt.Errorf("%s contains potentially dangerous path traversal sequence", fieldName)
	}
	return nil
}

// applyDefaults fills in every field left unset in the TOML document.
func applyDefaults(c *Config) {
	if c.Queue.ID == "" {
		c.Queue.ID = "Anqueue"
	}
	if c.Queue.TaskDir == "" {
		c.Queue.TaskDir = "~/.anqueue/tasks"
	}
	if c.Queue.MaxWorkers == 0 {
		c.Queue.MaxWorkers = 3
	}
	if c.Queue.WorkerPrefix == "" {
		c.Queue.WorkerPrefix = c.Queue.ID + "-worker-"
	}
	if c.Queue.MaxConcurrentTasks == 0 {
		c.Queue.MaxConcurrentTasks = 3
	}
	if c.Queue.DispatchIntervalMS == 0 {
		c.Queue.DispatchIntervalMS = 500
	}
	if c.Queue.MaxTaskRetries == 0 {
		c.Queue.MaxTaskRetries = 3
	}
	if c.Queue.TaskTimeoutMS == 0 {
		c.Queue.TaskTimeoutMS = 30000
	}

	if c.Adapter.Driver == "" {
		c.Adapter.Driver = "memory"
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}

	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}

	launcherDefaults := DefaultLauncherConfig()
	if c.Launcher.Kind == "" {
		c.Launcher.Kind = launcherDefaults.Kind
	}
	if c.Launcher.DockerImage == "" {
		c.Launcher.DockerImage = launcherDefaults.DockerImage
	}
	if c.Launcher.DockerMemoryLimit == "" {
		c.Launcher.DockerMemoryLimit = launcherDefaults.DockerMemoryLimit
	}
	if c.Launcher.DockerCPULimit == 0 {
		c.Launcher.DockerCPULimit = launcherDefaults.DockerCPULimit
	}
	if c.Launcher.DockerPidsLimit == 0 {
		c.Launcher.DockerPidsLimit = launcherDefaults.DockerPidsLimit
	}
	if c.Launcher.TaskTimeoutS == 0 {
		c.Launcher.TaskTimeoutS = launcherDefaults.TaskTimeoutS
	}
}

// applyEnvOverrides lets MAX_TASK_RETRIES and TASK_TIMEOUT_MS override the
// resolved TOML values, read once at process start, per queue.task_dir's
// sibling settings not supporting ${VAR:default} interpolation on int
// fields.
func applyEnvOverrides(c *Config) {
	if v := os.Getenv("MAX_TASK_RETRIES"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Queue.MaxTaskRetries = n
		}
	}
	if v := os.Getenv("TASK_TIMEOUT_MS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Queue.TaskTimeoutMS = n
		}
	}
}

// expandEnvVars resolves ${VAR:default} references and ~ prefixes across
// every field that plausibly holds a path or a secret.
func expandEnvVars(c *Config) error {
	if strings.HasPrefix(c.Adapter.DSN, "${") {
		c.Adapter.DSN = expandEnv(c.Adapter.DSN)
	}

	if strings.HasPrefix(c.Adapter.Path, "${") {
		c.Adapter.Path = expandEnv(c.Adapter.Path)
	}
	c.Adapter.Path = expandHome(c.Adapter.Path)

	if strings.HasPrefix(c.Queue.TaskDir, "${") {
		c.Queue.TaskDir = expandEnv(c.Queue.TaskDir)
	}
	c.Queue.TaskDir = expandHome(c.Queue.TaskDir)

	if strings.HasPrefix(c.Launcher.BinPath, "${") {
		c.Launcher.BinPath = expandEnv(c.Launcher.BinPath)
	}
	c.Launcher.BinPath = expandHome(c.Launcher.BinPath)

	return nil
}

// expandEnv resolves a ${VAR} or ${VAR:default} reference.
func expandEnv(s string) string {
	if !strings.HasPrefix(s, "${") {
		return s
	}

	end := strings.Index(s, "}")
	if end == -1 {
		return s
	}

	content := s[2:end]
	if parts := strings.SplitN(content, ":", 2); len(parts) == 2 {
		key := parts[0]
		defaultVal := parts[1]
		if val := os.Getenv(key); val != "" {
			return val
		}
		return defaultVal
	}

	return os.Getenv(s[2:end])
}

// expandHome resolves a leading ~/ against the current user's home
// directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
