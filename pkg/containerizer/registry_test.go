package containerizer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevedore-io/stevedore/pkg/types"
)

func newContainer(id types.ContainerID) *container {
	return &container{
		id:     id,
		name:   "stevedore-" + id.String(),
		status: types.ContainerFetching,
		termC:  make(chan struct{}),
	}
}

func TestRegistryRejectsDuplicate(t *testing.T) {
	r := newRegistry()

	require.NoError(t, r.add(newContainer("c1")))
	err := r.add(newContainer("c1"))
	assert.ErrorIs(t, err, ErrAlreadyLaunched)
	assert.Equal(t, 1, r.size())
}

func TestRegistryAddGetRemove(t *testing.T) {
	r := newRegistry()
	c := newContainer("c1")

	require.NoError(t, r.add(c))
	got, ok := r.get("c1")
	require.True(t, ok)
	assert.Same(t, c, got)

	r.remove("c1")
	_, ok = r.get("c1")
	assert.False(t, ok)
	assert.Empty(t, r.ids())
}

func TestContainerResolveOnce(t *testing.T) {
	c := newContainer("c1")

	first := c.resolve(&types.Termination{State: types.TerminationExited})
	second := c.resolve(&types.Termination{State: types.TerminationDestroyed})

	assert.True(t, first)
	assert.False(t, second)
	assert.Equal(t, types.TerminationExited, c.term.State)
}

func TestContainerMarkDestroyed(t *testing.T) {
	c := newContainer("c1")
	c.setStatus(types.ContainerRunning)

	first, wasRunning := c.markDestroyed()
	assert.True(t, first)
	assert.True(t, wasRunning)

	again, _ := c.markDestroyed()
	assert.False(t, again)
}

func TestContainerStatusPinnedAfterDestroy(t *testing.T) {
	c := newContainer("c1")

	c.markDestroyed()
	c.setStatus(types.ContainerRunning)

	c.mu.Lock()
	defer c.mu.Unlock()
	assert.Equal(t, types.ContainerDestroying, c.status)
}

func TestContainerPidNeverCleared(t *testing.T) {
	c := newContainer("c1")

	c.setPid(42)
	c.setPid(0)
	assert.Equal(t, 42, c.getPid())
}
