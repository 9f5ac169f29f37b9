package containerizer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/stevedore-io/stevedore/pkg/runtime"
	"github.com/stevedore-io/stevedore/pkg/types"
)

// monitor owns a running container until its process exits: it blocks on
// the runtime's wait primitive, captures logs into the sandbox, removes
// the stopped container and resolves the termination.
func (cz *Containerizer) monitor(c *container) {
	logger := cz.logger.With().Str("container_id", c.id.String()).Logger()

	term, err := cz.waitForExit(c)
	if err != nil {
		if errors.Is(err, runtime.ErrNotFound) {
			term = &types.Termination{
				State:   types.TerminationFailed,
				Message: "container disappeared before its exit was observed",
			}
		} else {
			term = &types.Termination{
				State:   types.TerminationFailed,
				Message: fmt.Sprintf("failed to observe container exit: %v", err),
			}
		}
	}

	// Capture logs before rm so the output survives in the sandbox
	lctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	if err := cz.runtime.CaptureLogs(lctx, c.name, c.directory); err != nil {
		logger.Debug().Err(err).Msg("failed to capture container logs")
	}
	cancel()

	if cz.cfg.KeepContainers {
		logger.Debug().Msg("keeping stopped container")
	} else {
		rctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		if err := cz.runtime.Remove(rctx, c.name, true); err != nil && !errors.Is(err, runtime.ErrNotFound) {
			logger.Warn().Err(err).Msg("failed to remove stopped container")
		}
		cancel()
	}

	// A requested destroy wins over the observed exit cause
	if c.isDestroyed() {
		term = &types.Termination{
			State:    types.TerminationDestroyed,
			Message:  "container was destroyed",
			ExitCode: term.ExitCode,
		}
	}

	cz.resolveTermination(c, term)
	logger.Info().Str("state", string(term.State)).Msg("container terminated")
}

// waitForExit blocks on the runtime's wait, retrying transient failures
// with exponential backoff. A not-found condition is permanent: the
// container is gone and no exit will ever be observed.
func (cz *Containerizer) waitForExit(c *container) (*types.Termination, error) {
	var term *types.Termination
	op := func() error {
		t, err := cz.runtime.Wait(context.Background(), c.name)
		if err != nil {
			if errors.Is(err, runtime.ErrNotFound) {
				return backoff.Permanent(err)
			}
			return err
		}
		term = t
		return nil
	}
	if err := backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 5)); err != nil {
		return nil, err
	}
	return term, nil
}
