package containerizer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/stevedore-io/stevedore/pkg/cgroups"
	"github.com/stevedore-io/stevedore/pkg/checkpoint"
	"github.com/stevedore-io/stevedore/pkg/config"
	"github.com/stevedore-io/stevedore/pkg/events"
	"github.com/stevedore-io/stevedore/pkg/fetcher"
	"github.com/stevedore-io/stevedore/pkg/log"
	"github.com/stevedore-io/stevedore/pkg/metrics"
	"github.com/stevedore-io/stevedore/pkg/runtime"
	"github.com/stevedore-io/stevedore/pkg/types"
)

// sandboxWorkDir is where the host-side sandbox directory is mounted
// inside every container, and the container's working directory.
const sandboxWorkDir = "/mnt/stevedore/sandbox"

// Containerizer drives the per-container lifecycle: launch pipeline,
// destroy, exit monitoring, startup recovery and in-place resource
// updates. Recover must be called once before the first Launch.
type Containerizer struct {
	cfg     *config.Config
	runtime runtime.Client
	fetcher fetcher.Fetcher
	cgroups cgroups.Accessor
	writer  checkpoint.Writer
	broker  *events.Broker
	logger  zerolog.Logger

	registry *registry

	mu sync.Mutex
	// recoveryStarted is claimed by the first Recover call; recovered is
	// set only when it completes and gates launches
	recoveryStarted bool
	recovered       bool
	// terminations holds the outcome of containers already removed from
	// the registry, so a Wait racing with teardown still gets the result;
	// an entry is dropped when a late Wait claims it
	terminations map[types.ContainerID]*types.Termination
}

// New creates a containerizer over the given runtime and collaborators
func New(cfg *config.Config, rt runtime.Client, f fetcher.Fetcher, cg cgroups.Accessor, w checkpoint.Writer, broker *events.Broker) *Containerizer {
	return &Containerizer{
		cfg:          cfg,
		runtime:      rt,
		fetcher:      f,
		cgroups:      cg,
		writer:       w,
		broker:       broker,
		logger:       log.WithComponent("containerizer"),
		registry:     newRegistry(),
		terminations: make(map[types.ContainerID]*types.Termination),
	}
}

// Wait blocks until the container's termination resolves and returns it.
// The termination is the single channel through which callers learn the
// final outcome of a container's life, whichever path triggered it.
func (cz *Containerizer) Wait(ctx context.Context, id types.ContainerID) (*types.Termination, error) {
	if c, ok := cz.registry.get(id); ok {
		select {
		case <-c.termC:
			term := *c.term
			// The result was delivered: claim it and drop any retained
			// copy, so served containers do not accumulate for the
			// process lifetime
			cz.mu.Lock()
			c.claimed = true
			delete(cz.terminations, id)
			cz.mu.Unlock()
			return &term, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	cz.mu.Lock()
	term, ok := cz.terminations[id]
	if ok {
		delete(cz.terminations, id)
	}
	cz.mu.Unlock()
	if ok {
		result := *term
		return &result, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
}

// Containers returns the ContainerIDs currently tracked by the registry
func (cz *Containerizer) Containers() []types.ContainerID {
	return cz.registry.ids()
}

// Close releases the runtime client and the checkpoint writer
func (cz *Containerizer) Close() error {
	if err := cz.writer.Close(); err != nil {
		return err
	}
	return cz.runtime.Close()
}

func (cz *Containerizer) containerName(id types.ContainerID) string {
	return cz.cfg.NamePrefix + id.String()
}

func (cz *Containerizer) isRecovered() bool {
	cz.mu.Lock()
	defer cz.mu.Unlock()
	return cz.recovered
}

// resolveTermination fulfills the container's termination promise exactly
// once, removes it from the registry and cleans up its checkpoint record.
func (cz *Containerizer) resolveTermination(c *container, term *types.Termination) {
	if !c.resolve(term) {
		return
	}

	if c.checkpointed {
		if err := cz.writer.RemoveRun(c.id); err != nil {
			cz.logger.Warn().Err(err).Str("container_id", c.id.String()).Msg("failed to remove run record")
		}
	}

	// Retain the result only while no waiter has consumed it, so a Wait
	// racing with teardown can still claim it; a waiter served through the
	// registry path deletes the entry itself
	cz.mu.Lock()
	if !c.claimed {
		cz.terminations[c.id] = term
	}
	cz.mu.Unlock()
	cz.registry.remove(c.id)

	metrics.TerminationsTotal.WithLabelValues(string(term.State)).Inc()
	metrics.ContainersActive.Set(float64(cz.registry.size()))
	cz.publish(events.EventContainerTerminated, c.id, term.Message)
}

// stopAndRemove is the best-effort teardown of a runtime-visible
// container, used by the pipeline's abort path, failed launches and
// orphan cleanup. Not-found conditions are ignored: the container may
// never have been created.
func (cz *Containerizer) stopAndRemove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), cz.cfg.StopTimeout()+30*time.Second)
	defer cancel()

	if err := cz.runtime.Stop(ctx, name, cz.cfg.StopTimeout()); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		cz.logger.Warn().Err(err).Str("container", name).Msg("failed to stop container")
	}
	if err := cz.runtime.Remove(ctx, name, true); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		cz.logger.Warn().Err(err).Str("container", name).Msg("failed to remove container")
	}
}

func (cz *Containerizer) publish(t events.EventType, id types.ContainerID, msg string) {
	if cz.broker == nil {
		return
	}
	cz.broker.Publish(&events.Event{
		Type:        t,
		ContainerID: id,
		Message:     msg,
	})
}
