package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	assert.Equal(t, RuntimeDocker, cfg.Runtime)
	assert.Equal(t, DefaultNamePrefix, cfg.NamePrefix)
	assert.Equal(t, 10*time.Second, cfg.StopTimeout())
	assert.NoError(t, cfg.Validate())
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stevedore.yaml")
	data := []byte(`
runtime: containerd
containerd_socket: /run/containerd/containerd.sock
stop_timeout: 5
keep_containers: true
destroy_on_recover: true
log_level: debug
`)
	require.NoError(t, os.WriteFile(path, data, 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, RuntimeContainerd, cfg.Runtime)
	assert.Equal(t, 5*time.Second, cfg.StopTimeout())
	assert.True(t, cfg.KeepContainers)
	assert.True(t, cfg.DestroyOnRecover)
	// Defaults survive a partial file
	assert.Equal(t, DefaultNamePrefix, cfg.NamePrefix)
	assert.Equal(t, "/sys/fs/cgroup", cfg.CgroupsRoot)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:   "defaults are valid",
			mutate: func(c *Config) {},
		},
		{
			name:    "unknown runtime",
			mutate:  func(c *Config) { c.Runtime = "podman" },
			wantErr: true,
		},
		{
			name:    "empty name prefix",
			mutate:  func(c *Config) { c.NamePrefix = "" },
			wantErr: true,
		},
		{
			name:    "non-positive stop timeout",
			mutate:  func(c *Config) { c.StopTimeoutSeconds = 0 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
