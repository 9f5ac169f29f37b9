package runtime

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/containerd/containerd"
	"github.com/containerd/containerd/cio"
	"github.com/containerd/containerd/errdefs"
	"github.com/containerd/containerd/namespaces"
	"github.com/containerd/containerd/oci"
	specs "github.com/opencontainers/runtime-spec/specs-go"

	stevetypes "github.com/stevedore-io/stevedore/pkg/types"
)

const (
	// DefaultNamespace is the containerd namespace for Stevedore
	DefaultNamespace = "stevedore"

	// DefaultSocketPath is the default containerd socket
	DefaultSocketPath = "/run/containerd/containerd.sock"
)

// ContainerdClient implements Client using containerd. Container names map
// directly onto containerd container IDs within the Stevedore namespace.
type ContainerdClient struct {
	client    *containerd.Client
	namespace string
}

// NewContainerdClient creates a new containerd runtime client
func NewContainerdClient(socketPath string) (*ContainerdClient, error) {
	if socketPath == "" {
		socketPath = DefaultSocketPath
	}

	client, err := containerd.New(socketPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to containerd: %w", err)
	}

	return &ContainerdClient{
		client:    client,
		namespace: DefaultNamespace,
	}, nil
}

// Close closes the containerd client connection
func (r *ContainerdClient) Close() error {
	if r.client != nil {
		return r.client.Close()
	}
	return nil
}

// Pull ensures the image is present locally; without force an existing image
// short-circuits the pull.
func (r *ContainerdClient) Pull(ctx context.Context, image string, force bool) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	if !force {
		if _, err := r.client.GetImage(ctx, image); err == nil {
			return nil
		}
	}

	if _, err := r.client.Pull(ctx, image, containerd.WithPullUnpack); err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	return nil
}

// Run creates a container and starts its task. The task's pid is known as
// soon as the task is created, so the returned info always carries it.
func (r *ContainerdClient) Run(ctx context.Context, opts RunOptions) (*stevetypes.ContainerInfo, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	image, err := r.client.GetImage(ctx, opts.Image)
	if err != nil {
		return nil, fmt.Errorf("failed to get image %s: %w", opts.Image, err)
	}

	specOpts := []oci.SpecOpts{
		oci.WithImageConfig(image),
		oci.WithEnv(opts.Env),
	}
	if len(opts.Command) > 0 {
		specOpts = append(specOpts, oci.WithProcessArgs(opts.Command...))
	}
	if opts.User != "" {
		specOpts = append(specOpts, oci.WithUser(opts.User))
	}
	if opts.WorkDir != "" {
		specOpts = append(specOpts, oci.WithProcessCwd(opts.WorkDir))
	}

	var mounts []specs.Mount
	if opts.SandboxDir != "" && opts.WorkDir != "" {
		mounts = append(mounts, specs.Mount{
			Source:      opts.SandboxDir,
			Destination: opts.WorkDir,
			Type:        "bind",
			Options:     []string{"rbind", "rw"},
		})
	}
	for _, v := range opts.Volumes {
		options := []string{"rbind", "rw"}
		if v.ReadOnly {
			options = []string{"rbind", "ro"}
		}
		mounts = append(mounts, specs.Mount{
			Source:      v.HostPath,
			Destination: v.ContainerPath,
			Type:        "bind",
			Options:     options,
		})
	}
	if len(mounts) > 0 {
		specOpts = append(specOpts, oci.WithMounts(mounts))
	}
	if opts.Network == stevetypes.NetworkHost {
		specOpts = append(specOpts, oci.WithHostNamespace(specs.NetworkNamespace))
	}
	if opts.Privileged {
		specOpts = append(specOpts, oci.WithPrivileged)
	}
	if opts.Resources != nil {
		specOpts = append(specOpts,
			oci.WithCPUShares(uint64(CPUShares(opts.Resources.CPUs))),
			oci.WithMemoryLimit(uint64(opts.Resources.MemoryBytes)),
		)
	}

	container, err := r.client.NewContainer(
		ctx,
		opts.Name,
		containerd.WithImage(image),
		containerd.WithNewSnapshot(opts.Name+"-snapshot", image),
		containerd.WithNewSpec(specOpts...),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}

	// Container output goes straight into the sandbox so CaptureLogs has
	// nothing left to do for this backend.
	creator := cio.NullIO
	if opts.SandboxDir != "" {
		creator = cio.LogFile(filepath.Join(opts.SandboxDir, "stdout"))
	}

	task, err := container.NewTask(ctx, creator)
	if err != nil {
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("failed to create task: %w", err)
	}

	if err := task.Start(ctx); err != nil {
		_, _ = task.Delete(ctx, containerd.WithProcessKill)
		_ = container.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("failed to start task: %w", err)
	}

	return &stevetypes.ContainerInfo{
		ID:        container.ID(),
		Name:      container.ID(),
		Pid:       int(task.Pid()),
		Running:   true,
		StartedAt: time.Now(),
	}, nil
}

// Stop gracefully stops a container, escalating SIGTERM to SIGKILL after the
// grace timeout.
func (r *ContainerdClient) Stop(ctx context.Context, name string, timeout time.Duration) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to load container %s: %w", name, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the container is not running
		return nil
	}

	stopCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := task.Kill(stopCtx, syscall.SIGTERM); err != nil {
		if errdefs.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to kill task: %w", err)
	}

	statusC, err := task.Wait(stopCtx)
	if err != nil {
		return fmt.Errorf("failed to wait for task: %w", err)
	}

	select {
	case <-statusC:
		// Task exited within the grace period
	case <-stopCtx.Done():
		if err := task.Kill(ctx, syscall.SIGKILL); err != nil && !errdefs.IsNotFound(err) {
			return fmt.Errorf("failed to force kill task: %w", err)
		}
	}

	if _, err := task.Delete(ctx); err != nil && !errdefs.IsNotFound(err) {
		return fmt.Errorf("failed to delete task: %w", err)
	}
	return nil
}

// Remove deletes a container and its snapshot
func (r *ContainerdClient) Remove(ctx context.Context, name string, force bool) error {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to load container %s: %w", name, err)
	}

	if task, err := container.Task(ctx, nil); err == nil {
		if force {
			_, _ = task.Delete(ctx, containerd.WithProcessKill)
		} else if _, err := task.Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete task: %w", err)
		}
	}

	if err := container.Delete(ctx, containerd.WithSnapshotCleanup); err != nil {
		return fmt.Errorf("failed to delete container: %w", err)
	}
	return nil
}

// Inspect returns the runtime's view of one container
func (r *ContainerdClient) Inspect(ctx context.Context, name string) (*stevetypes.ContainerInfo, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to load container %s: %w", name, err)
	}

	info := &stevetypes.ContainerInfo{
		ID:   container.ID(),
		Name: container.ID(),
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		// No task means the container never started or already stopped
		return info, nil
	}

	status, err := task.Status(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get task status: %w", err)
	}
	info.Pid = int(task.Pid())
	info.Running = status.Status == containerd.Running || status.Status == containerd.Paused
	info.ExitCode = int(status.ExitStatus)
	return info, nil
}

// List returns containers in the Stevedore namespace whose ID starts with
// namePrefix. Containerd has no running/stopped listing distinction, so the
// running state is resolved per container.
func (r *ContainerdClient) List(ctx context.Context, all bool, namePrefix string) ([]*stevetypes.ContainerInfo, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	containers, err := r.client.Containers(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var result []*stevetypes.ContainerInfo
	for _, c := range containers {
		if !strings.HasPrefix(c.ID(), namePrefix) {
			continue
		}
		info, err := r.Inspect(ctx, c.ID())
		if err != nil {
			continue
		}
		if !all && !info.Running {
			continue
		}
		result = append(result, info)
	}
	return result, nil
}

// Wait blocks until the container's task exits and returns the observed
// termination; it resolves immediately for an already-stopped task.
func (r *ContainerdClient) Wait(ctx context.Context, name string) (*stevetypes.Termination, error) {
	ctx = namespaces.WithNamespace(ctx, r.namespace)

	container, err := r.client.LoadContainer(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to load container %s: %w", name, err)
	}

	task, err := container.Task(ctx, nil)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	statusC, err := task.Wait(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to wait for task: %w", err)
	}

	select {
	case status := <-statusC:
		code, _, err := status.Result()
		if err != nil {
			return nil, fmt.Errorf("failed to wait for container %s: %w", name, err)
		}
		return terminationFromExit(int(code), false), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CaptureLogs is a no-op for containerd: task output is written to the
// sandbox log file at task creation time.
func (r *ContainerdClient) CaptureLogs(ctx context.Context, name, dir string) error {
	return nil
}
