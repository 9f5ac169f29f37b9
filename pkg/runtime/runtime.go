package runtime

import (
	"context"
	"errors"
	"time"

	"github.com/stevedore-io/stevedore/pkg/types"
)

// ErrNotFound is returned when the runtime has no container with the given
// name. Implementations map their engine-native not-found conditions to it so
// callers can test with errors.Is.
var ErrNotFound = errors.New("container not found")

// RunOptions describes one container to create and start
type RunOptions struct {
	// Name is the runtime-visible container name (fixed prefix + ContainerID)
	Name string

	Image   string
	Command []string // argv; empty means the image's default command
	Env     []string // KEY=VALUE pairs
	User    string   // optional user to run as

	// SandboxDir is the host-side sandbox directory; it is bind-mounted at
	// WorkDir inside the container and used as the working directory
	SandboxDir string
	WorkDir    string

	Network    types.NetworkMode
	Ports      []*types.PortMapping
	Volumes    []*types.VolumeMount
	Privileged bool

	Resources *types.Resources
}

// Client is the capability interface over the container runtime. All calls
// are safe for concurrent use across different containers; calls may be slow
// (seconds) and honor context cancellation.
//
// Production implementations exist for the Docker daemon (DockerClient) and
// containerd (ContainerdClient); tests use the in-memory FakeClient.
type Client interface {
	// Pull ensures the image is present locally. Without force it is a no-op
	// when the image already exists.
	Pull(ctx context.Context, image string, force bool) error

	// Run creates and starts a container. The returned info carries the OS
	// process id when the runtime reports it immediately; a zero Pid means
	// pid discovery is deferred to the first Inspect.
	Run(ctx context.Context, opts RunOptions) (*types.ContainerInfo, error)

	// Stop gracefully stops a container, escalating to a forceful kill after
	// the grace timeout.
	Stop(ctx context.Context, name string, timeout time.Duration) error

	// Remove deletes a stopped container (or a running one when force is set)
	Remove(ctx context.Context, name string, force bool) error

	// Inspect returns the runtime's view of one container by name
	Inspect(ctx context.Context, name string) (*types.ContainerInfo, error)

	// List returns containers whose name starts with namePrefix; with all set
	// it includes stopped containers
	List(ctx context.Context, all bool, namePrefix string) ([]*types.ContainerInfo, error)

	// Wait blocks until the named container's process has exited and returns
	// the observed termination. It resolves immediately when the container
	// has already stopped.
	Wait(ctx context.Context, name string) (*types.Termination, error)

	// CaptureLogs writes the container's captured stdout and stderr into
	// files named "stdout" and "stderr" in dir
	CaptureLogs(ctx context.Context, name, dir string) error

	Close() error
}

// terminationFromExit classifies an observed exit into a termination outcome.
// Exit codes 128+n indicate death by signal n; OOM kills are reported
// separately by engines that track them.
func terminationFromExit(exitCode int, oomKilled bool) *types.Termination {
	code := exitCode
	term := &types.Termination{ExitCode: &code}
	switch {
	case oomKilled:
		term.State = types.TerminationOOMKilled
		term.Message = "container exceeded its memory limit"
	case exitCode >= 128:
		term.State = types.TerminationKilled
		term.Message = "container process was killed"
	default:
		term.State = types.TerminationExited
		term.Message = "container process exited"
	}
	return term
}
