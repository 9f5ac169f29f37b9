package containerizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stevedore-io/stevedore/pkg/events"
	"github.com/stevedore-io/stevedore/pkg/metrics"
	"github.com/stevedore-io/stevedore/pkg/runtime"
	"github.com/stevedore-io/stevedore/pkg/types"
)

// Destroy requests that the container be stopped and removed. It is
// fire-and-forget: the effect is observed through Wait. A second destroy
// for the same ContainerID is a no-op; a destroy for an unknown or
// already removed ContainerID fails with ErrNotFound.
//
// The destroyed flag is set first so that a launch pipeline with a call
// in flight observes it at its next check point. For a RUNNING container
// the stop is issued here; the monitor observes the exit and finishes the
// teardown. For a container still fetching or pulling, the pipeline's
// post-stage check performs the cleanup once the in-flight call returns.
func (cz *Containerizer) Destroy(id types.ContainerID) error {
	c, ok := cz.registry.get(id)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	first, wasRunning := c.markDestroyed()
	if !first {
		return nil
	}

	metrics.DestroysTotal.Inc()
	cz.logger.Info().Str("container_id", id.String()).Bool("running", wasRunning).Msg("destroying container")
	cz.publish(events.EventContainerDestroyed, id, "destroy requested")

	if wasRunning {
		go cz.stopForDestroy(c)
	}
	return nil
}

func (cz *Containerizer) stopForDestroy(c *container) {
	ctx, cancel := context.WithTimeout(context.Background(), cz.cfg.StopTimeout()+30*time.Second)
	defer cancel()

	if err := cz.runtime.Stop(ctx, c.name, cz.cfg.StopTimeout()); err != nil && !errors.Is(err, runtime.ErrNotFound) {
		cz.logger.Warn().Err(err).Str("container_id", c.id.String()).Msg("failed to stop container, removing forcefully")
		if err := cz.runtime.Remove(ctx, c.name, true); err != nil && !errors.Is(err, runtime.ErrNotFound) {
			cz.logger.Error().Err(err).Str("container_id", c.id.String()).Msg("failed to remove container")
		}
	}
}
