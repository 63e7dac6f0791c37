package config

import (
	"fmt"
	"strings"
)

// ValidateDocker checks the launcher's Docker-specific fields; it is a
// no-op when the launcher is not configured for Docker.
func (c *LauncherConfig) ValidateDocker() error {
	if c.Kind != "docker" {
		return nil
	}

	if c.DockerImage == "" {
		return fmt.Errorf("launcher.docker_image is required when launcher.kind=docker")
	}

	if c.DockerMemoryLimit != "" && !isValidMemoryLimit(c.DockerMemoryLimit) {
		return fmt.Errorf("launcher.docker_memory_limit format invalid (e.g., 128m, 1g)")
	}

	if c.DockerCPULimit <= 0 || c.DockerCPULimit > 4 {
		return fmt.Errorf("launcher.docker_cpu_limit must be between 0 and 4")
	}

	if c.DockerPidsLimit < 1 {
		return fmt.Errorf("launcher.docker_pids_limit must be >= 1")
	}

	if c.TaskTimeoutS < 1 {
		return fmt.Errorf("launcher.task_timeout_s must be >= 1")
	}

	return nil
}

func isValidMemoryLimit(s string) bool {
	s = strings.ToLower(s)
	suffixes := []string{"k", "m", "g"}
	for _, suffix := range suffixes {
		if strings.HasSuffix(s, suffix) {
			num := strings.TrimSuffix(s, suffix)
			for _, c := range num {
				if c < '0' || c > '9' {
					return false
				}
			}
			return true
		}
	}
	return false
}
