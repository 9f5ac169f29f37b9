package containerizer

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevedore-io/stevedore/pkg/types"
)

func TestUpdateAppliesCgroupValues(t *testing.T) {
	e := newTestEnv(t)

	name := e.launch(t, "c1")
	info, err := e.runtime.Inspect(context.Background(), name)
	require.NoError(t, err)

	err = e.cz.Update(context.Background(), "c1", types.Resources{CPUs: 1, MemoryBytes: 128 << 20})
	require.NoError(t, err)

	shares, err := e.cgroups.CPUShares(info.Pid)
	require.NoError(t, err)
	assert.Equal(t, int64(1024), shares)

	limit, err := e.cgroups.MemorySoftLimit(info.Pid)
	require.NoError(t, err)
	assert.Equal(t, int64(134217728), limit)
}

func TestUpdateFlooredCPUShares(t *testing.T) {
	e := newTestEnv(t)

	name := e.launch(t, "c1")
	info, err := e.runtime.Inspect(context.Background(), name)
	require.NoError(t, err)

	// The kernel rejects cpu.shares below 2
	err = e.cz.Update(context.Background(), "c1", types.Resources{CPUs: 0.001})
	require.NoError(t, err)

	shares, err := e.cgroups.CPUShares(info.Pid)
	require.NoError(t, err)
	assert.Equal(t, int64(2), shares)
}

func TestUpdateDiscoversPidOnce(t *testing.T) {
	e := newTestEnv(t)
	e.runtime.DeferPid = true

	name := e.launch(t, "c1")
	require.Equal(t, 0, e.runtime.InspectCount(name))

	// First update inspects to discover the pid
	err := e.cz.Update(context.Background(), "c1", types.Resources{CPUs: 1, MemoryBytes: 64 << 20})
	require.NoError(t, err)
	assert.Equal(t, 1, e.runtime.InspectCount(name))

	// Second update hits the cache, no further inspect
	err = e.cz.Update(context.Background(), "c1", types.Resources{CPUs: 2, MemoryBytes: 64 << 20})
	require.NoError(t, err)
	assert.Equal(t, 1, e.runtime.InspectCount(name))
}

func TestUpdateUnknownContainer(t *testing.T) {
	e := newTestEnv(t)

	err := e.cz.Update(context.Background(), "nope", types.Resources{CPUs: 1})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUpdateCgroupFailure(t *testing.T) {
	e := newTestEnv(t)
	e.launch(t, "c1")
	e.cgroups.Err = assert.AnError

	err := e.cz.Update(context.Background(), "c1", types.Resources{CPUs: 1})
	assert.ErrorIs(t, err, assert.AnError)
}

func TestUsageReportsStatistics(t *testing.T) {
	e := newTestEnv(t)

	name := e.launch(t, "c1")
	info, err := e.runtime.Inspect(context.Background(), name)
	require.NoError(t, err)

	require.NoError(t, e.cz.Update(context.Background(), "c1", types.Resources{CPUs: 2, MemoryBytes: 256 << 20}))
	e.cgroups.SetUsage(info.Pid, 1.5, 0.25, 42<<20)

	stats, err := e.cz.Usage(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, 1.5, stats.CPUsUserTimeSecs)
	assert.Equal(t, 0.25, stats.CPUsSystemTimeSecs)
	assert.Equal(t, 2.0, stats.CPUsLimit)
	assert.Equal(t, int64(256<<20), stats.MemLimitBytes)
	assert.Equal(t, int64(42<<20), stats.MemRSSBytes)
	assert.False(t, stats.Timestamp.IsZero())
}

func TestUsageAfterDestroyNotFound(t *testing.T) {
	e := newTestEnv(t)

	e.launch(t, "c1")
	require.NoError(t, e.cz.Destroy("c1"))

	_, err := e.cz.Wait(context.Background(), "c1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(e.cz.Containers()) == 0
	}, time.Second, 10*time.Millisecond)

	_, err = e.cz.Usage(context.Background(), "c1")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsageUnknownContainer(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.cz.Usage(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}
