package config

// DefaultLauncherConfig returns the settings used when a docker-mode
// launcher's TOML section leaves the container resource limits unset.
func DefaultLauncherConfig() LauncherConfig {
	return LauncherConfig{
		Kind:              "exec",
		DockerImage:       "anqueue/worker:latest",
		DockerMemoryLimit: "256m",
		DockerCPULimit:    0.5,
		DockerPidsLimit:   50,
		TaskTimeoutS:      300,
	}
}
