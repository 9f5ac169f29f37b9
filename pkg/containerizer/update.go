package containerizer

import (
	"context"
	"errors"
	"fmt"

	"github.com/stevedore-io/stevedore/pkg/metrics"
	"github.com/stevedore-io/stevedore/pkg/runtime"
	"github.com/stevedore-io/stevedore/pkg/types"
)

// sharesPerCPU is the cgroup cpu.shares value corresponding to one core
const sharesPerCPU = 1024

// Update applies a new resource allocation to the container's cgroup
// in place. The first update may need an inspect round-trip to discover
// the container's pid; later updates hit the cached value.
func (cz *Containerizer) Update(ctx context.Context, id types.ContainerID, res types.Resources) error {
	c, ok := cz.registry.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if c.isDestroyed() {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	pid, err := cz.containerPid(ctx, c)
	if err != nil {
		return err
	}

	if res.CPUs > 0 {
		if err := cz.cgroups.SetCPUShares(pid, runtime.CPUShares(res.CPUs)); err != nil {
			return fmt.Errorf("failed to update cpu shares: %w", err)
		}
	}
	if res.MemoryBytes > 0 {
		if err := cz.cgroups.SetMemorySoftLimit(pid, res.MemoryBytes); err != nil {
			return fmt.Errorf("failed to update memory limit: %w", err)
		}
	}
	c.setResources(&res)

	metrics.UpdatesTotal.Inc()
	cz.logger.Debug().Str("container_id", id.String()).Float64("cpus", res.CPUs).Int64("memory", res.MemoryBytes).Msg("container resources updated")
	return nil
}

// Usage returns a point-in-time resource usage snapshot read from the
// container's cgroup accounting files. It fails with ErrNotFound once the
// container is gone: usage is only meaningful for live containers, and a
// not-found failure means "already gone", not a condition to retry.
func (cz *Containerizer) Usage(ctx context.Context, id types.ContainerID) (*types.ResourceStatistics, error) {
	c, ok := cz.registry.get(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if c.isDestroyed() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	pid, err := cz.containerPid(ctx, c)
	if err != nil {
		return nil, err
	}

	stats, err := cz.cgroups.Stats(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to read cgroup statistics: %w", err)
	}

	shares, err := cz.cgroups.CPUShares(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu shares: %w", err)
	}
	stats.CPUsLimit = float64(shares) / sharesPerCPU

	limit, err := cz.cgroups.MemorySoftLimit(pid)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory limit: %w", err)
	}
	stats.MemLimitBytes = limit

	return stats, nil
}

// containerPid returns the container's pid, discovering it through an
// inspect when the runtime did not report it at run time. Once known the
// pid is cached on the container state and never cleared.
func (cz *Containerizer) containerPid(ctx context.Context, c *container) (int, error) {
	if pid := c.getPid(); pid != 0 {
		return pid, nil
	}

	info, err := cz.runtime.Inspect(ctx, c.name)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			return 0, fmt.Errorf("%w: %s", ErrNotFound, c.id)
		}
		return 0, fmt.Errorf("failed to inspect container %s: %w", c.id, err)
	}
	if info.Pid == 0 {
		return 0, fmt.Errorf("container %s has no known pid", c.id)
	}
	c.setPid(info.Pid)
	return info.Pid, nil
}
