package cgroups

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/stevedore-io/stevedore/pkg/types"
)

// userHz is the kernel's clock tick rate used by cpuacct accounting
const userHz = 100

// Accessor reads and writes a process's cgroup resource knobs. Lookups are
// keyed by OS process id: the process's cgroup paths are resolved through
// /proc/<pid>/cgroup and joined onto the hierarchy root.
type Accessor interface {
	CPUShares(pid int) (int64, error)
	SetCPUShares(pid int, shares int64) error
	MemorySoftLimit(pid int) (int64, error)
	SetMemorySoftLimit(pid int, bytes int64) error
	Stats(pid int) (*types.ResourceStatistics, error)
}

// FS implements Accessor against a mounted cgroup v1 hierarchy
type FS struct {
	root string
}

// NewFS creates an accessor rooted at the given hierarchy mount point
// (normally /sys/fs/cgroup)
func NewFS(root string) *FS {
	return &FS{root: root}
}

// CPUShares returns the process's cpu.shares value
func (c *FS) CPUShares(pid int) (int64, error) {
	dir, err := c.subsystemPath(pid, "cpu")
	if err != nil {
		return 0, err
	}
	return readFileInt(dir, "cpu.shares")
}

// SetCPUShares writes the process's cpu.shares value
func (c *FS) SetCPUShares(pid int, shares int64) error {
	dir, err := c.subsystemPath(pid, "cpu")
	if err != nil {
		return err
	}
	return writeFileInt(dir, "cpu.shares", shares)
}

// MemorySoftLimit returns the process's memory.soft_limit_in_bytes value
func (c *FS) MemorySoftLimit(pid int) (int64, error) {
	dir, err := c.subsystemPath(pid, "memory")
	if err != nil {
		return 0, err
	}
	return readFileInt(dir, "memory.soft_limit_in_bytes")
}

// SetMemorySoftLimit writes the process's memory.soft_limit_in_bytes value
func (c *FS) SetMemorySoftLimit(pid int, bytes int64) error {
	dir, err := c.subsystemPath(pid, "memory")
	if err != nil {
		return err
	}
	return writeFileInt(dir, "memory.soft_limit_in_bytes", bytes)
}

// Stats reads the process's cpuacct and memory accounting files
func (c *FS) Stats(pid int) (*types.ResourceStatistics, error) {
	stats := &types.ResourceStatistics{Timestamp: time.Now()}

	cpuacct, err := c.subsystemPath(pid, "cpuacct")
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filepath.Join(cpuacct, "cpuacct.stat"))
	if err != nil {
		return nil, fmt.Errorf("failed to read cpuacct.stat: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		t, v, err := getCgroupParamKeyValue(sc.Text())
		if err != nil {
			return nil, err
		}
		switch t {
		case "user":
			stats.CPUsUserTimeSecs = float64(v) / userHz
		case "system":
			stats.CPUsSystemTimeSecs = float64(v) / userHz
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to parse cpuacct.stat: %w", err)
	}

	memory, err := c.subsystemPath(pid, "memory")
	if err != nil {
		return nil, err
	}
	rss, err := memoryStatValue(filepath.Join(memory, "memory.stat"), "rss")
	if err != nil {
		return nil, err
	}
	stats.MemRSSBytes = rss

	return stats, nil
}

// subsystemPath resolves the absolute cgroup directory of a process for one
// subsystem by parsing /proc/<pid>/cgroup.
func (c *FS) subsystemPath(pid int, subsystem string) (string, error) {
	f, err := os.Open(fmt.Sprintf("/proc/%d/cgroup", pid))
	if err != nil {
		return "", fmt.Errorf("failed to read cgroups of pid %d: %w", pid, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		// Lines look like "3:cpu,cpuacct:/docker/<id>"
		parts := strings.SplitN(sc.Text(), ":", 3)
		if len(parts) != 3 {
			continue
		}
		for _, name := range strings.Split(parts[1], ",") {
			if name == subsystem {
				return filepath.Join(c.root, subsystem, parts[2]), nil
			}
		}
	}
	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("failed to parse cgroups of pid %d: %w", pid, err)
	}
	return "", fmt.Errorf("cgroup hierarchy %q not mounted for pid %d", subsystem, pid)
}

func writeFileInt(dir, file string, value int64) error {
	path := filepath.Join(dir, file)
	if err := os.WriteFile(path, []byte(strconv.FormatInt(value, 10)), 0o644); err != nil {
		return fmt.Errorf("failed to write %d to %s: %w", value, path, err)
	}
	return nil
}

func readFileInt(dir, file string) (int64, error) {
	path := filepath.Join(dir, file)
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	value, err := strconv.ParseInt(strings.TrimSpace(string(data)), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return value, nil
}

// getCgroupParamKeyValue parses one "key value" accounting line
func getCgroupParamKeyValue(line string) (string, uint64, error) {
	parts := strings.Fields(line)
	if len(parts) != 2 {
		return "", 0, fmt.Errorf("unexpected cgroup param line %q", line)
	}
	value, err := strconv.ParseUint(parts[1], 10, 64)
	if err != nil {
		return "", 0, fmt.Errorf("failed to parse cgroup param line %q: %w", line, err)
	}
	return parts[0], value, nil
}

func memoryStatValue(path, key string) (int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("failed to read %s: %w", path, err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		t, v, err := getCgroupParamKeyValue(sc.Text())
		if err != nil {
			return 0, err
		}
		if t == key {
			return int64(v), nil
		}
	}
	if err := sc.Err(); err != nil {
		return 0, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return 0, fmt.Errorf("key %q not found in %s", key, path)
}
