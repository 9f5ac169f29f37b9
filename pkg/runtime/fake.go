package runtime

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/stevedore-io/stevedore/pkg/types"
)

// FakeClient is an in-memory Client for tests. Hooks allow a test to inject
// failures or to block a call mid-flight (e.g. to race a destroy against a
// pull in progress).
type FakeClient struct {
	mu         sync.Mutex
	nextPid    int
	containers map[string]*fakeContainer
	images     map[string]bool
	pulls      []string
	inspects   map[string]int
	logsTaken  map[string]string // name -> capture dir

	// DeferPid makes Run report a zero pid, forcing pid discovery through
	// Inspect (the "runtime does not return the pid immediately" case).
	DeferPid bool

	// Hooks, called without the fake's lock held
	OnPull func(image string) error
	OnRun  func(opts RunOptions) error
	OnStop func(name string) error
}

type fakeContainer struct {
	info    types.ContainerInfo
	opts    RunOptions
	exitC   chan struct{}
	term    *types.Termination
	removed bool
}

// NewFakeClient creates an empty fake runtime
func NewFakeClient() *FakeClient {
	return &FakeClient{
		nextPid:    1000,
		containers: make(map[string]*fakeContainer),
		images:     make(map[string]bool),
		inspects:   make(map[string]int),
		logsTaken:  make(map[string]string),
	}
}

func (f *FakeClient) Close() error { return nil }

func (f *FakeClient) Pull(ctx context.Context, image string, force bool) error {
	if hook := f.hookPull(); hook != nil {
		if err := hook(image); err != nil {
			return err
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pulls = append(f.pulls, image)
	f.images[image] = true
	return nil
}

func (f *FakeClient) Run(ctx context.Context, opts RunOptions) (*types.ContainerInfo, error) {
	if hook := f.hookRun(); hook != nil {
		if err := hook(opts); err != nil {
			return nil, err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if c, exists := f.containers[opts.Name]; exists && !c.removed {
		return nil, fmt.Errorf("container name %s already in use", opts.Name)
	}

	f.nextPid++
	c := &fakeContainer{
		info: types.ContainerInfo{
			ID:        "fake-" + opts.Name,
			Name:      opts.Name,
			Pid:       f.nextPid,
			Running:   true,
			StartedAt: time.Now(),
		},
		opts:  opts,
		exitC: make(chan struct{}),
	}
	f.containers[opts.Name] = c

	info := c.info
	if f.DeferPid {
		info.Pid = 0
	}
	return &info, nil
}

func (f *FakeClient) Stop(ctx context.Context, name string, timeout time.Duration) error {
	if hook := f.hookStop(); hook != nil {
		if err := hook(name); err != nil {
			return err
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok || c.removed {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	f.exitLocked(c, &types.Termination{
		State:    types.TerminationKilled,
		Message:  "container process was killed",
		ExitCode: intPtr(137),
	})
	return nil
}

func (f *FakeClient) Remove(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok || c.removed {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if c.info.Running {
		if !force {
			return fmt.Errorf("cannot remove running container %s", name)
		}
		f.exitLocked(c, &types.Termination{
			State:    types.TerminationKilled,
			Message:  "container process was killed",
			ExitCode: intPtr(137),
		})
	}
	c.removed = true
	return nil
}

func (f *FakeClient) Inspect(ctx context.Context, name string) (*types.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inspects[name]++
	c, ok := f.containers[name]
	if !ok || c.removed {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	info := c.info
	return &info, nil
}

func (f *FakeClient) List(ctx context.Context, all bool, namePrefix string) ([]*types.ContainerInfo, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var result []*types.ContainerInfo
	for name, c := range f.containers {
		if c.removed || !strings.HasPrefix(name, namePrefix) {
			continue
		}
		if !all && !c.info.Running {
			continue
		}
		info := c.info
		result = append(result, &info)
	}
	return result, nil
}

func (f *FakeClient) Wait(ctx context.Context, name string) (*types.Termination, error) {
	f.mu.Lock()
	c, ok := f.containers[name]
	if !ok || c.removed {
		f.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	exitC := c.exitC
	f.mu.Unlock()

	select {
	case <-exitC:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	term := *c.term
	return &term, nil
}

func (f *FakeClient) CaptureLogs(ctx context.Context, name, dir string) error {
	f.mu.Lock()
	f.logsTaken[name] = dir
	f.mu.Unlock()
	if dir == "" {
		return nil
	}
	if err := os.WriteFile(filepath.Join(dir, "stdout"), []byte{}, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, "stderr"), []byte{}, 0o644)
}

// Exit simulates the container's process exiting on its own
func (f *FakeClient) Exit(name string, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return
	}
	f.exitLocked(c, terminationFromExit(exitCode, false))
}

// ExitOOM simulates the kernel OOM killer taking the container down
func (f *FakeClient) ExitOOM(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	if !ok {
		return
	}
	c.info.OOMKilled = true
	f.exitLocked(c, terminationFromExit(137, true))
}

// AddRunning pre-populates a running container that was not created through
// Run, as recovery finds them after an agent restart.
func (f *FakeClient) AddRunning(name string, pid int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.containers[name] = &fakeContainer{
		info: types.ContainerInfo{
			ID:        "fake-" + name,
			Name:      name,
			Pid:       pid,
			Running:   true,
			StartedAt: time.Now(),
		},
		exitC: make(chan struct{}),
	}
}

// AddStopped pre-populates a stopped container left behind by a previous
// agent incarnation.
func (f *FakeClient) AddStopped(name string, exitCode int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := &fakeContainer{
		info: types.ContainerInfo{
			ID:   "fake-" + name,
			Name: name,
		},
		exitC: make(chan struct{}),
	}
	c.info.ExitCode = exitCode
	c.term = terminationFromExit(exitCode, false)
	close(c.exitC)
	f.containers[name] = c
}

// PullCount returns how many times an image was pulled
func (f *FakeClient) PullCount(image string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, pulled := range f.pulls {
		if pulled == image {
			n++
		}
	}
	return n
}

// InspectCount returns how many times a container was inspected
func (f *FakeClient) InspectCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inspects[name]
}

// Exists reports whether a container is present (running or stopped)
func (f *FakeClient) Exists(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	return ok && !c.removed
}

// Running reports whether a container is currently running
func (f *FakeClient) Running(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.containers[name]
	return ok && !c.removed && c.info.Running
}

// LogsCaptured returns the directory logs were captured into, if any
func (f *FakeClient) LogsCaptured(name string) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	dir, ok := f.logsTaken[name]
	return dir, ok
}

func (f *FakeClient) exitLocked(c *fakeContainer, term *types.Termination) {
	if !c.info.Running {
		return
	}
	c.info.Running = false
	if term.ExitCode != nil {
		c.info.ExitCode = *term.ExitCode
	}
	c.term = term
	close(c.exitC)
}

func (f *FakeClient) hookPull() func(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.OnPull
}

func (f *FakeClient) hookRun() func(RunOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.OnRun
}

func (f *FakeClient) hookStop() func(string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.OnStop
}

func intPtr(v int) *int { return &v }
