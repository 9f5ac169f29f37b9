package checkpoint

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevedore-io/stevedore/pkg/types"
)

func newTestWriter(t *testing.T) *BoltWriter {
	t.Helper()
	w, err := NewBoltWriter(t.TempDir())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestCheckpointRunRoundTrip(t *testing.T) {
	w := newTestWriter(t)

	rec := &types.RunRecord{
		ContainerID: types.ContainerID("c1"),
		Name:        "stevedore-c1",
		Pid:         4321,
		AgentID:     "agent-1",
		Directory:   "/var/lib/stevedore/sandboxes/c1",
		StartedAt:   time.Now().UTC(),
	}
	require.NoError(t, w.CheckpointRun(rec))

	runs, err := w.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, rec.ContainerID, runs[0].ContainerID)
	assert.Equal(t, rec.Name, runs[0].Name)
	assert.Equal(t, rec.Pid, runs[0].Pid)
}

func TestCheckpointRunUpsert(t *testing.T) {
	w := newTestWriter(t)

	rec := &types.RunRecord{ContainerID: "c1", Name: "stevedore-c1", Pid: 1}
	require.NoError(t, w.CheckpointRun(rec))

	// The pid becomes known later; the record is overwritten in place
	rec.Pid = 4321
	require.NoError(t, w.CheckpointRun(rec))

	runs, err := w.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 4321, runs[0].Pid)
}

func TestRemoveRun(t *testing.T) {
	w := newTestWriter(t)

	require.NoError(t, w.CheckpointRun(&types.RunRecord{ContainerID: "c1", Name: "stevedore-c1"}))
	require.NoError(t, w.CheckpointRun(&types.RunRecord{ContainerID: "c2", Name: "stevedore-c2"}))

	require.NoError(t, w.RemoveRun("c1"))

	runs, err := w.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, types.ContainerID("c2"), runs[0].ContainerID)

	// Removing a missing record is a no-op
	assert.NoError(t, w.RemoveRun("c1"))
}

func TestNullWriter(t *testing.T) {
	var w Writer = Null{}

	assert.NoError(t, w.CheckpointRun(&types.RunRecord{ContainerID: "c1"}))
	runs, err := w.Runs()
	assert.NoError(t, err)
	assert.Empty(t, runs)
	assert.NoError(t, w.RemoveRun("c1"))
	assert.NoError(t, w.Close())
}
