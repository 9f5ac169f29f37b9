package containerizer

import (
	"fmt"
	"sync"

	"github.com/stevedore-io/stevedore/pkg/types"
)

// container is the registry's per-ContainerID state. The launch pipeline
// owns it while launching, the monitor owns it while running, and a
// concurrent destroy may set the destroyed flag at any time.
type container struct {
	id           types.ContainerID
	name         string
	directory    string
	user         string
	agentID      string
	checkpointed bool

	mu        sync.Mutex
	status    types.ContainerStatus
	destroyed bool
	pid       int
	resources *types.Resources

	// termination is a one-shot promise: term is written exactly once,
	// before termC is closed
	termOnce sync.Once
	termC    chan struct{}
	term     *types.Termination

	// claimed records that a waiter consumed the termination; guarded by
	// the Containerizer mutex, not mu, so claiming and the retained-result
	// bookkeeping stay atomic
	claimed bool
}

// resolve fulfills the termination promise. It reports whether this call
// was the one that resolved it.
func (c *container) resolve(term *types.Termination) bool {
	resolved := false
	c.termOnce.Do(func() {
		c.term = term
		close(c.termC)
		resolved = true
	})
	return resolved
}

// markDestroyed sets the destroyed flag. It reports whether the flag was
// newly set and whether the container was running at that moment.
func (c *container) markDestroyed() (first, wasRunning bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return false, false
	}
	c.destroyed = true
	wasRunning = c.status == types.ContainerRunning
	c.status = types.ContainerDestroying
	return true, wasRunning
}

func (c *container) isDestroyed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.destroyed
}

// setStatus advances the pipeline stage. Once destroyed, the status stays
// DESTROYING regardless of what the pipeline reports.
func (c *container) setStatus(status types.ContainerStatus) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.destroyed {
		return
	}
	c.status = status
}

func (c *container) setPid(pid int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if pid != 0 {
		c.pid = pid
	}
}

func (c *container) getPid() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pid
}

func (c *container) setResources(res *types.Resources) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resources = res
}

// registry is the in-memory mapping from ContainerID to container state,
// the only structure shared across lifecycles.
type registry struct {
	mu         sync.Mutex
	containers map[types.ContainerID]*container
}

func newRegistry() *registry {
	return &registry{containers: make(map[types.ContainerID]*container)}
}

// add registers a container, rejecting a duplicate ContainerID
func (r *registry) add(c *container) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.containers[c.id]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyLaunched, c.id)
	}
	r.containers[c.id] = c
	return nil
}

func (r *registry) get(id types.ContainerID) (*container, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	return c, ok
}

func (r *registry) remove(id types.ContainerID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.containers, id)
}

func (r *registry) ids() []types.ContainerID {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]types.ContainerID, 0, len(r.containers))
	for id := range r.containers {
		ids = append(ids, id)
	}
	return ids
}

func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.containers)
}
