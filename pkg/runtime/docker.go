package runtime

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/docker/go-connections/nat"

	stevetypes "github.com/stevedore-io/stevedore/pkg/types"
)

// managedLabel marks containers created by this agent so that unrelated
// containers never show up in recovery listings, even if their names collide
// with the prefix.
const managedLabel = "io.stevedore.managed"

// DockerClient implements Client against the Docker daemon API
type DockerClient struct {
	cli *client.Client
}

// NewDockerClient creates a Docker-backed runtime client. An empty host uses
// the environment (DOCKER_HOST et al.).
func NewDockerClient(host string) (*DockerClient, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	cli, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create docker client: %w", err)
	}
	return &DockerClient{cli: cli}, nil
}

// Close closes the connection to the daemon
func (d *DockerClient) Close() error {
	return d.cli.Close()
}

// Pull ensures the image is present locally. Without force, an image that
// already exists short-circuits the pull.
func (d *DockerClient) Pull(ctx context.Context, image string, force bool) error {
	if !force {
		switch _, _, err := d.cli.ImageInspectWithRaw(ctx, image); {
		case err == nil:
			return nil
		case client.IsErrNotFound(err):
			// fall through to pull
		default:
			return fmt.Errorf("failed to check image %s: %w", image, err)
		}
	}

	rd, err := d.cli.ImagePull(ctx, image, types.ImagePullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", image, err)
	}
	defer rd.Close()

	// The pull only completes once the progress stream is drained
	if _, err := io.Copy(io.Discard, rd); err != nil {
		return fmt.Errorf("failed to read pull progress for %s: %w", image, err)
	}
	return nil
}

// Run creates and starts a container, returning its inspected state. The pid
// is taken from the post-start inspect, so it is known immediately here.
func (d *DockerClient) Run(ctx context.Context, opts RunOptions) (*stevetypes.ContainerInfo, error) {
	cfg := &container.Config{
		Image:      opts.Image,
		Cmd:        opts.Command,
		Env:        opts.Env,
		User:       opts.User,
		WorkingDir: opts.WorkDir,
		Labels:     map[string]string{managedLabel: "true"},
	}

	hostCfg := &container.HostConfig{
		Privileged: opts.Privileged,
	}
	if opts.SandboxDir != "" && opts.WorkDir != "" {
		hostCfg.Binds = append(hostCfg.Binds, fmt.Sprintf("%s:%s", opts.SandboxDir, opts.WorkDir))
	}
	for _, v := range opts.Volumes {
		bind := fmt.Sprintf("%s:%s", v.HostPath, v.ContainerPath)
		if v.ReadOnly {
			bind += ":ro"
		}
		hostCfg.Binds = append(hostCfg.Binds, bind)
	}
	if opts.Network != "" {
		hostCfg.NetworkMode = container.NetworkMode(opts.Network)
	}
	if len(opts.Ports) > 0 {
		exposed, bindings, err := portBindings(opts.Ports)
		if err != nil {
			return nil, err
		}
		cfg.ExposedPorts = exposed
		hostCfg.PortBindings = bindings
	}
	if opts.Resources != nil {
		hostCfg.Resources = container.Resources{
			CPUShares:         CPUShares(opts.Resources.CPUs),
			MemoryReservation: opts.Resources.MemoryBytes,
		}
	}

	resp, err := d.cli.ContainerCreate(ctx, cfg, hostCfg, nil, nil, opts.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container %s: %w", opts.Name, err)
	}

	if err := d.cli.ContainerStart(ctx, resp.ID, types.ContainerStartOptions{}); err != nil {
		// Clean up the created-but-never-started container
		_ = d.cli.ContainerRemove(ctx, resp.ID, types.ContainerRemoveOptions{Force: true})
		return nil, fmt.Errorf("failed to start container %s: %w", opts.Name, err)
	}

	info, err := d.Inspect(ctx, resp.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to inspect started container %s: %w", opts.Name, err)
	}
	return info, nil
}

// Stop gracefully stops a container; the daemon escalates SIGTERM to SIGKILL
// after the grace timeout.
func (d *DockerClient) Stop(ctx context.Context, name string, timeout time.Duration) error {
	secs := int(timeout.Seconds())
	err := d.cli.ContainerStop(ctx, name, container.StopOptions{Timeout: &secs})
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to stop container %s: %w", name, err)
	}
	return nil
}

// Remove deletes a container by name
func (d *DockerClient) Remove(ctx context.Context, name string, force bool) error {
	err := d.cli.ContainerRemove(ctx, name, types.ContainerRemoveOptions{Force: force})
	if client.IsErrNotFound(err) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("failed to remove container %s: %w", name, err)
	}
	return nil
}

// Inspect returns the daemon's view of one container
func (d *DockerClient) Inspect(ctx context.Context, name string) (*stevetypes.ContainerInfo, error) {
	details, err := d.cli.ContainerInspect(ctx, name)
	if err != nil {
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to inspect container %s: %w", name, err)
	}
	return infoFromJSON(details), nil
}

// List returns managed containers whose name starts with namePrefix
func (d *DockerClient) List(ctx context.Context, all bool, namePrefix string) ([]*stevetypes.ContainerInfo, error) {
	containers, err := d.cli.ContainerList(ctx, types.ContainerListOptions{All: all})
	if err != nil {
		return nil, fmt.Errorf("failed to list containers: %w", err)
	}

	var result []*stevetypes.ContainerInfo
	for _, c := range containers {
		name := containerName(c.Names)
		if !strings.HasPrefix(name, namePrefix) {
			continue
		}
		if c.Labels[managedLabel] != "true" {
			continue
		}
		result = append(result, &stevetypes.ContainerInfo{
			ID:      c.ID,
			Name:    name,
			Running: c.State == "running",
		})
	}
	return result, nil
}

// Wait blocks until the container's process is no longer running and
// classifies the outcome. It resolves immediately for an already-stopped
// container.
func (d *DockerClient) Wait(ctx context.Context, name string) (*stevetypes.Termination, error) {
	waitC, errC := d.cli.ContainerWait(ctx, name, container.WaitConditionNotRunning)

	select {
	case err := <-errC:
		if client.IsErrNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to wait for container %s: %w", name, err)
	case result := <-waitC:
		if result.Error != nil {
			return nil, fmt.Errorf("failed to wait for container %s: %s", name, result.Error.Message)
		}
		// Re-inspect to learn about OOM kills; fall back to the wait status
		// when the container has already been removed.
		oom := false
		if details, err := d.cli.ContainerInspect(ctx, name); err == nil && details.State != nil {
			oom = details.State.OOMKilled
		}
		return terminationFromExit(int(result.StatusCode), oom), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// CaptureLogs copies the container's stdout and stderr streams into files in
// dir, so log content survives the container's removal.
func (d *DockerClient) CaptureLogs(ctx context.Context, name, dir string) error {
	rd, err := d.cli.ContainerLogs(ctx, name, types.ContainerLogsOptions{
		ShowStdout: true,
		ShowStderr: true,
	})
	if err != nil {
		if client.IsErrNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, name)
		}
		return fmt.Errorf("failed to read logs of container %s: %w", name, err)
	}
	defer rd.Close()

	stdout, err := os.OpenFile(filepath.Join(dir, "stdout"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open stdout file: %w", err)
	}
	defer stdout.Close()

	stderr, err := os.OpenFile(filepath.Join(dir, "stderr"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("failed to open stderr file: %w", err)
	}
	defer stderr.Close()

	// Docker multiplexes both streams over one connection
	if _, err := stdcopy.StdCopy(stdout, stderr, rd); err != nil {
		return fmt.Errorf("failed to demultiplex logs of container %s: %w", name, err)
	}
	return nil
}

// CPUShares converts fractional cores to cgroup cpu.shares. One core maps to
// 1024 shares; the kernel rejects values below 2.
func CPUShares(cpus float64) int64 {
	shares := int64(cpus * 1024)
	if shares < 2 {
		shares = 2
	}
	return shares
}

func portBindings(ports []*stevetypes.PortMapping) (nat.PortSet, nat.PortMap, error) {
	exposed := nat.PortSet{}
	bindings := nat.PortMap{}
	for _, p := range ports {
		proto := p.Protocol
		if proto == "" {
			proto = "tcp"
		}
		port, err := nat.NewPort(proto, strconv.Itoa(p.ContainerPort))
		if err != nil {
			return nil, nil, fmt.Errorf("invalid port mapping %d:%d/%s: %w", p.HostPort, p.ContainerPort, proto, err)
		}
		exposed[port] = struct{}{}
		bindings[port] = append(bindings[port], nat.PortBinding{
			HostPort: strconv.Itoa(p.HostPort),
		})
	}
	return exposed, bindings, nil
}

func infoFromJSON(details types.ContainerJSON) *stevetypes.ContainerInfo {
	info := &stevetypes.ContainerInfo{
		ID:   details.ID,
		Name: strings.TrimPrefix(details.Name, "/"),
	}
	if details.State != nil {
		info.Pid = details.State.Pid
		info.Running = details.State.Running
		info.ExitCode = details.State.ExitCode
		info.OOMKilled = details.State.OOMKilled
		if t, err := time.Parse(time.RFC3339Nano, details.State.StartedAt); err == nil {
			info.StartedAt = t
		}
	}
	return info
}

func containerName(names []string) string {
	if len(names) == 0 {
		return ""
	}
	return strings.TrimPrefix(names[0], "/")
}
