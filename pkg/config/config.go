package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Runtime backend selectors
const (
	RuntimeDocker     = "docker"
	RuntimeContainerd = "containerd"
)

// DefaultNamePrefix is prepended to every runtime-visible container name.
// Recovery and cleanup match containers by this prefix, so it must never
// change between agent restarts.
const DefaultNamePrefix = "stevedore-"

// Config holds the agent's container lifecycle configuration. It is
// constructed once at startup and passed into the containerizer and the
// runtime client constructors.
type Config struct {
	// Runtime selects the container runtime backend: "docker" or "containerd"
	Runtime string `yaml:"runtime"`

	// DockerHost overrides the Docker daemon endpoint (empty = environment)
	DockerHost string `yaml:"docker_host"`

	// ContainerdSocket is the containerd socket path (empty = default)
	ContainerdSocket string `yaml:"containerd_socket"`

	// NamePrefix is the fixed prefix of runtime-visible container names
	NamePrefix string `yaml:"name_prefix"`

	// SandboxRoot is where per-container sandbox directories are created
	SandboxRoot string `yaml:"sandbox_root"`

	// DataDir holds the agent's durable state (checkpoint database)
	DataDir string `yaml:"data_dir"`

	// StopTimeoutSeconds is the grace period between SIGTERM and SIGKILL
	// when stopping a container (default 10)
	StopTimeoutSeconds int `yaml:"stop_timeout"`

	// CgroupsRoot is the mount point of the cgroup hierarchy
	CgroupsRoot string `yaml:"cgroups_root"`

	// ForcePull re-pulls images even when present locally
	ForcePull bool `yaml:"force_pull"`

	// KeepContainers skips the post-exit container removal (debug aid)
	KeepContainers bool `yaml:"keep_containers"`

	// DestroyOnRecover stops and removes orphaned prefix-matching containers
	// found during recovery instead of leaving them running
	DestroyOnRecover bool `yaml:"destroy_on_recover"`

	// LogLevel is one of debug, info, warn, error
	LogLevel string `yaml:"log_level"`

	// LogJSON switches console output to JSON
	LogJSON bool `yaml:"log_json"`

	// MetricsAddr is the listen address of the Prometheus endpoint
	// (empty = metrics disabled)
	MetricsAddr string `yaml:"metrics_addr"`
}

// Default returns a Config populated with defaults
func Default() *Config {
	return &Config{
		Runtime:            RuntimeDocker,
		NamePrefix:         DefaultNamePrefix,
		SandboxRoot:        "/var/lib/stevedore/sandboxes",
		DataDir:            "/var/lib/stevedore",
		StopTimeoutSeconds: 10,
		CgroupsRoot:        "/sys/fs/cgroup",
		LogLevel:           "info",
	}
}

// Load reads a YAML config file and overlays it on the defaults
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the configuration for inconsistencies
func (c *Config) Validate() error {
	switch c.Runtime {
	case RuntimeDocker, RuntimeContainerd:
	default:
		return fmt.Errorf("unknown runtime %q (want %q or %q)", c.Runtime, RuntimeDocker, RuntimeContainerd)
	}
	if c.NamePrefix == "" {
		return fmt.Errorf("name_prefix must not be empty")
	}
	if c.StopTimeoutSeconds <= 0 {
		return fmt.Errorf("stop_timeout must be positive, got %d", c.StopTimeoutSeconds)
	}
	return nil
}

// StopTimeout returns the stop grace period as a duration
func (c *Config) StopTimeout() time.Duration {
	return time.Duration(c.StopTimeoutSeconds) * time.Second
}
