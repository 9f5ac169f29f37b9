package containerizer

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stevedore-io/stevedore/pkg/events"
	"github.com/stevedore-io/stevedore/pkg/log"
	"github.com/stevedore-io/stevedore/pkg/metrics"
	"github.com/stevedore-io/stevedore/pkg/types"
)

// Recover reconciles the persisted run records against the runtime's live
// container listing. It runs once at startup, before any launch is
// accepted; a nil state means no checkpointed runs exist.
//
// Records whose container is still alive are re-attached with a monitor
// and continue running uninterrupted. Records whose container no longer
// exists are dropped: a later Wait for them fails with ErrNotFound, since
// the exit was never observed. Prefix-matching containers no record
// claims are orphans from a previous incarnation; they are torn down only
// when destroy-on-recover is configured.
func (cz *Containerizer) Recover(ctx context.Context, state *types.AgentState) error {
	// Claim recovery atomically so a concurrent second call cannot start
	// reconciling too; the claim is never released, a failed recovery is
	// fatal to the agent
	cz.mu.Lock()
	if cz.recoveryStarted {
		cz.mu.Unlock()
		return &RecoveryError{Err: errors.New("recovery already ran")}
	}
	cz.recoveryStarted = true
	cz.mu.Unlock()

	logger := log.WithComponent("recovery")
	if state != nil {
		logger = logger.With().Str("agent_id", state.AgentID).Logger()
	}

	live, err := cz.runtime.List(ctx, true, cz.cfg.NamePrefix)
	if err != nil {
		return &RecoveryError{Err: fmt.Errorf("failed to list containers: %w", err)}
	}
	byName := make(map[string]*types.ContainerInfo, len(live))
	for _, info := range live {
		byName[info.Name] = info
	}

	claimed := make(map[string]bool)
	if state != nil {
		for _, rec := range state.Runs {
			claimed[rec.Name] = true

			info, alive := byName[rec.Name]
			if !alive {
				logger.Warn().Str("container_id", rec.ContainerID.String()).Msg("checkpointed container no longer exists")
				if err := cz.writer.RemoveRun(rec.ContainerID); err != nil {
					logger.Warn().Err(err).Str("container_id", rec.ContainerID.String()).Msg("failed to remove stale run record")
				}
				continue
			}

			pid := info.Pid
			if pid == 0 {
				pid = rec.Pid
			}
			c := &container{
				id:           rec.ContainerID,
				name:         rec.Name,
				directory:    rec.Directory,
				agentID:      rec.AgentID,
				checkpointed: true,
				status:       types.ContainerRunning,
				pid:          pid,
				termC:        make(chan struct{}),
			}
			if err := cz.registry.add(c); err != nil {
				return &RecoveryError{Err: fmt.Errorf("duplicate run record for container %s", rec.ContainerID)}
			}

			go cz.monitor(c)
			metrics.RecoveredContainersTotal.Inc()
			cz.publish(events.EventContainerRecovered, rec.ContainerID, "container re-attached")
			logger.Info().Str("container_id", rec.ContainerID.String()).Int("pid", pid).Bool("running", info.Running).Msg("container recovered")
		}
	}

	for name := range byName {
		if claimed[name] {
			continue
		}
		id := types.ContainerID(strings.TrimPrefix(name, cz.cfg.NamePrefix))
		metrics.OrphanedContainersTotal.Inc()
		cz.publish(events.EventContainerOrphaned, id, name)

		if cz.cfg.DestroyOnRecover {
			logger.Warn().Str("container", name).Msg("destroying orphaned container")
			cz.stopAndRemove(name)
		} else {
			logger.Warn().Str("container", name).Msg("orphaned container left untouched")
		}
	}

	cz.mu.Lock()
	cz.recovered = true
	cz.mu.Unlock()
	metrics.ContainersActive.Set(float64(cz.registry.size()))
	logger.Info().Int("containers", cz.registry.size()).Msg("recovery complete")
	return nil
}
