package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevedore-io/stevedore/pkg/types"
)

func TestCPUShares(t *testing.T) {
	tests := []struct {
		name string
		cpus float64
		want int64
	}{
		{"one core", 1, 1024},
		{"half core", 0.5, 512},
		{"two cores", 2, 2048},
		{"tiny fraction floors to kernel minimum", 0.001, 2},
		{"zero floors to kernel minimum", 0, 2},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CPUShares(tt.cpus))
		})
	}
}

func TestTerminationFromExit(t *testing.T) {
	tests := []struct {
		name      string
		exitCode  int
		oomKilled bool
		want      types.TerminationState
	}{
		{"clean exit", 0, false, types.TerminationExited},
		{"nonzero exit", 3, false, types.TerminationExited},
		{"sigkill", 137, false, types.TerminationKilled},
		{"sigterm", 143, false, types.TerminationKilled},
		{"oom", 137, true, types.TerminationOOMKilled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			term := terminationFromExit(tt.exitCode, tt.oomKilled)
			assert.Equal(t, tt.want, term.State)
			require.NotNil(t, term.ExitCode)
			assert.Equal(t, tt.exitCode, *term.ExitCode)
		})
	}
}

func TestFakeClientListFiltersByPrefix(t *testing.T) {
	f := NewFakeClient()
	f.AddRunning("stevedore-a", 1)
	f.AddRunning("stevedore-b", 2)
	f.AddRunning("other-c", 3)
	f.AddStopped("stevedore-d", 0)

	running, err := f.List(context.Background(), false, "stevedore-")
	require.NoError(t, err)
	assert.Len(t, running, 2)

	all, err := f.List(context.Background(), true, "stevedore-")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestFakeClientWaitObservesStop(t *testing.T) {
	f := NewFakeClient()
	info, err := f.Run(context.Background(), RunOptions{Name: "stevedore-x", Image: "busybox"})
	require.NoError(t, err)
	assert.NotZero(t, info.Pid)

	go func() {
		_ = f.Stop(context.Background(), "stevedore-x", time.Second)
	}()

	term, err := f.Wait(context.Background(), "stevedore-x")
	require.NoError(t, err)
	assert.Equal(t, types.TerminationKilled, term.State)
}

func TestFakeClientDeferPid(t *testing.T) {
	f := NewFakeClient()
	f.DeferPid = true

	info, err := f.Run(context.Background(), RunOptions{Name: "stevedore-x", Image: "busybox"})
	require.NoError(t, err)
	assert.Zero(t, info.Pid)

	// The pid is still discoverable through inspect
	inspected, err := f.Inspect(context.Background(), "stevedore-x")
	require.NoError(t, err)
	assert.NotZero(t, inspected.Pid)
}
