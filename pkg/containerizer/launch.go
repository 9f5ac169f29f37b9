package containerizer

import (
	"context"
	"fmt"
	"time"

	"github.com/stevedore-io/stevedore/pkg/events"
	"github.com/stevedore-io/stevedore/pkg/metrics"
	"github.com/stevedore-io/stevedore/pkg/runtime"
	"github.com/stevedore-io/stevedore/pkg/types"
)

// launchSpec is the pipeline's normalized view of a task or executor spec
type launchSpec struct {
	command   []string
	env       []string
	container *types.ContainerSpec
	resources *types.Resources
	uris      []*types.ArtifactURI
	skipPull  bool
}

// Launch drives a task container through the fetch, pull, run and
// checkpoint stages, then attaches the exit monitor. It returns once the
// container is observably running; the eventual outcome is delivered
// through Wait.
func (cz *Containerizer) Launch(ctx context.Context, id types.ContainerID, task *types.TaskSpec, directory, user, agentID string, checkpoint bool) error {
	if task == nil || task.Container == nil || task.Container.Image == "" {
		return fmt.Errorf("task for container %s has no container image", id)
	}
	return cz.launch(ctx, id, launchSpec{
		command:   task.Command,
		env:       task.Env,
		container: task.Container,
		resources: task.Resources,
		uris:      task.URIs,
	}, directory, user, agentID, checkpoint)
}

// LaunchExecutor launches a bare executor. The pull stage is skipped when
// the executor spec carries no container image; otherwise the stage
// sequence is the same as a task launch.
func (cz *Containerizer) LaunchExecutor(ctx context.Context, id types.ContainerID, exec *types.ExecutorSpec, directory, user, agentID string, checkpoint bool) error {
	if exec == nil {
		return fmt.Errorf("executor spec for container %s is empty", id)
	}
	spec := launchSpec{
		command:   exec.Command,
		env:       exec.Env,
		container: exec.Container,
		resources: exec.Resources,
		uris:      exec.URIs,
	}
	if exec.Container == nil || exec.Container.Image == "" {
		spec.skipPull = true
	}
	return cz.launch(ctx, id, spec, directory, user, agentID, checkpoint)
}

func (cz *Containerizer) launch(ctx context.Context, id types.ContainerID, spec launchSpec, directory, user, agentID string, checkpoint bool) error {
	if !cz.isRecovered() {
		return ErrRecoveryPending
	}

	c := &container{
		id:           id,
		name:         cz.containerName(id),
		directory:    directory,
		user:         user,
		agentID:      agentID,
		checkpointed: checkpoint,
		status:       types.ContainerFetching,
		resources:    spec.resources,
		termC:        make(chan struct{}),
	}
	if err := cz.registry.add(c); err != nil {
		return err
	}

	metrics.LaunchesTotal.Inc()
	metrics.ContainersActive.Set(float64(cz.registry.size()))
	timer := metrics.NewTimer()

	logger := cz.logger.With().Str("container_id", id.String()).Logger()
	logger.Info().Str("directory", directory).Msg("launching container")

	// Fetch
	if err := cz.fetcher.Fetch(ctx, spec.uris, directory); err != nil {
		return cz.failLaunch(c, StageFetch, err)
	}
	if c.isDestroyed() {
		return cz.abortLaunch(c)
	}

	// Pull
	if !spec.skipPull {
		c.setStatus(types.ContainerPulling)
		force := cz.cfg.ForcePull || spec.container.ForcePull
		if err := cz.runtime.Pull(ctx, spec.container.Image, force); err != nil {
			return cz.failLaunch(c, StagePull, err)
		}
		if c.isDestroyed() {
			return cz.abortLaunch(c)
		}
	}

	// Run
	opts := runtime.RunOptions{
		Name:       c.name,
		Command:    spec.command,
		Env:        spec.env,
		User:       user,
		SandboxDir: directory,
		WorkDir:    sandboxWorkDir,
		Resources:  spec.resources,
	}
	if spec.container != nil {
		opts.Image = spec.container.Image
		opts.Network = spec.container.Network
		opts.Ports = spec.container.Ports
		opts.Volumes = spec.container.Volumes
		opts.Privileged = spec.container.Privileged
	}
	info, err := cz.runtime.Run(ctx, opts)
	if err != nil {
		return cz.failLaunch(c, StageRun, err)
	}
	c.setPid(info.Pid)
	c.setStatus(types.ContainerRunning)
	if c.isDestroyed() {
		return cz.abortLaunch(c)
	}

	// Checkpoint, so recovery can re-attach after an agent restart
	if checkpoint {
		rec := &types.RunRecord{
			ContainerID: id,
			Name:        c.name,
			Pid:         info.Pid,
			AgentID:     agentID,
			Directory:   directory,
			StartedAt:   time.Now().UTC(),
		}
		if err := cz.writer.CheckpointRun(rec); err != nil {
			return cz.failLaunch(c, StageCheckpoint, err)
		}
	}

	// Attach monitor: it owns termination resolution from here on
	go cz.monitor(c)

	timer.ObserveDuration(metrics.LaunchDuration)
	cz.publish(events.EventContainerLaunched, id, "container launched")
	logger.Info().Int("pid", info.Pid).Msg("container running")
	return nil
}

// failLaunch tears down whatever partial container exists after a stage
// failure and resolves the termination with a failed outcome.
func (cz *Containerizer) failLaunch(c *container, stage string, err error) error {
	metrics.LaunchFailuresTotal.WithLabelValues(stage).Inc()
	cz.logger.Error().Err(err).Str("container_id", c.id.String()).Str("stage", stage).Msg("launch failed")

	cz.stopAndRemove(c.name)
	cz.resolveTermination(c, &types.Termination{
		State:   types.TerminationFailed,
		Message: fmt.Sprintf("launch failed at %s stage: %v", stage, err),
	})
	cz.publish(events.EventContainerFailed, c.id, stage)
	return &LaunchError{Stage: stage, Err: err}
}

// abortLaunch handles a destroy observed between pipeline stages: forward
// progress stops, any partial container is torn down and the termination
// resolves with a destroyed outcome.
func (cz *Containerizer) abortLaunch(c *container) error {
	cz.logger.Info().Str("container_id", c.id.String()).Msg("launch aborted by destroy")

	cz.stopAndRemove(c.name)
	cz.resolveTermination(c, &types.Termination{
		State:   types.TerminationDestroyed,
		Message: "container destroyed during launch",
	})
	return fmt.Errorf("%w: %s", ErrDestroyedDuringLaunch, c.id)
}
