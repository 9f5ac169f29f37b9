package containerizer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stevedore-io/stevedore/pkg/cgroups"
	"github.com/stevedore-io/stevedore/pkg/checkpoint"
	"github.com/stevedore-io/stevedore/pkg/config"
	"github.com/stevedore-io/stevedore/pkg/events"
	"github.com/stevedore-io/stevedore/pkg/fetcher"
	"github.com/stevedore-io/stevedore/pkg/log"
	"github.com/stevedore-io/stevedore/pkg/runtime"
	"github.com/stevedore-io/stevedore/pkg/types"
)

func init() {
	log.Init(log.Config{Level: log.ErrorLevel})
}

type testEnv struct {
	cz      *Containerizer
	cfg     *config.Config
	runtime *runtime.FakeClient
	fetcher *fetcher.Fake
	cgroups *cgroups.FakeAccessor
	broker  *events.Broker
}

// newTestEnv builds a containerizer over fake collaborators with recovery
// already completed.
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	e := newTestEnvNoRecover(t)
	require.NoError(t, e.cz.Recover(context.Background(), nil))
	return e
}

func newTestEnvNoRecover(t *testing.T) *testEnv {
	t.Helper()

	cfg := config.Default()
	cfg.SandboxRoot = t.TempDir()
	cfg.StopTimeoutSeconds = 1

	broker := events.NewBroker()
	broker.Start()
	t.Cleanup(broker.Stop)

	e := &testEnv{
		cfg:     cfg,
		runtime: runtime.NewFakeClient(),
		fetcher: fetcher.NewFake(),
		cgroups: cgroups.NewFakeAccessor(),
		broker:  broker,
	}
	e.cz = New(cfg, e.runtime, e.fetcher, e.cgroups, checkpoint.Null{}, broker)
	return e
}

func (e *testEnv) sandbox(t *testing.T, id types.ContainerID) string {
	t.Helper()
	dir := filepath.Join(e.cfg.SandboxRoot, id.String())
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func (e *testEnv) launch(t *testing.T, id types.ContainerID) string {
	t.Helper()
	dir := e.sandbox(t, id)
	err := e.cz.Launch(context.Background(), id, testTask("busybox"), dir, "", "agent-1", false)
	require.NoError(t, err)
	return e.cfg.NamePrefix + id.String()
}

func testTask(image string) *types.TaskSpec {
	return &types.TaskSpec{
		Name:    "sleeper",
		Command: []string{"sleep", "1000"},
		Container: &types.ContainerSpec{
			Image:   image,
			Network: types.NetworkBridge,
		},
		Resources: &types.Resources{CPUs: 0.5, MemoryBytes: 64 << 20},
	}
}

func TestLaunchRunsContainer(t *testing.T) {
	e := newTestEnv(t)

	name := e.launch(t, "c1")

	assert.True(t, e.runtime.Running(name))
	assert.Equal(t, 1, e.runtime.PullCount("busybox"))
	assert.Equal(t, 1, e.fetcher.FetchCount())
	assert.Equal(t, []types.ContainerID{"c1"}, e.cz.Containers())
}

func TestLaunchRejectedBeforeRecovery(t *testing.T) {
	e := newTestEnvNoRecover(t)

	err := e.cz.Launch(context.Background(), "c1", testTask("busybox"), t.TempDir(), "", "agent-1", false)
	assert.ErrorIs(t, err, ErrRecoveryPending)
	assert.Empty(t, e.cz.Containers())
}

func TestLaunchDuplicateRejected(t *testing.T) {
	e := newTestEnv(t)

	name := e.launch(t, "c1")

	err := e.cz.Launch(context.Background(), "c1", testTask("busybox"), e.sandbox(t, "c1"), "", "agent-1", false)
	assert.ErrorIs(t, err, ErrAlreadyLaunched)

	// The existing container is untouched
	assert.True(t, e.runtime.Running(name))
	assert.Len(t, e.cz.Containers(), 1)
}

func TestLaunchRequiresImage(t *testing.T) {
	e := newTestEnv(t)

	err := e.cz.Launch(context.Background(), "c1", &types.TaskSpec{Command: []string{"true"}}, t.TempDir(), "", "agent-1", false)
	assert.Error(t, err)
	assert.Empty(t, e.cz.Containers())
}

func TestLaunchFetchFailure(t *testing.T) {
	e := newTestEnv(t)
	e.fetcher.Err = errors.New("artifact server unreachable")

	err := e.cz.Launch(context.Background(), "c1", testTask("busybox"), e.sandbox(t, "c1"), "", "agent-1", false)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, StageFetch, launchErr.Stage)

	term, err := e.cz.Wait(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, types.TerminationFailed, term.State)

	assert.Empty(t, e.cz.Containers())
	assert.False(t, e.runtime.Exists(e.cfg.NamePrefix+"c1"))
}

func TestLaunchPullFailure(t *testing.T) {
	e := newTestEnv(t)
	e.runtime.OnPull = func(image string) error {
		return errors.New("registry unavailable")
	}

	err := e.cz.Launch(context.Background(), "c1", testTask("busybox"), e.sandbox(t, "c1"), "", "agent-1", false)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, StagePull, launchErr.Stage)
	assert.Empty(t, e.cz.Containers())
}

func TestLaunchRunFailure(t *testing.T) {
	e := newTestEnv(t)
	e.runtime.OnRun = func(opts runtime.RunOptions) error {
		return errors.New("daemon rejected create")
	}

	err := e.cz.Launch(context.Background(), "c1", testTask("busybox"), e.sandbox(t, "c1"), "", "agent-1", false)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, StageRun, launchErr.Stage)

	term, err := e.cz.Wait(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, types.TerminationFailed, term.State)
}

type failingWriter struct {
	checkpoint.Null
}

func (failingWriter) CheckpointRun(*types.RunRecord) error {
	return errors.New("disk full")
}

func TestLaunchCheckpointFailure(t *testing.T) {
	e := newTestEnv(t)
	e.cz.writer = failingWriter{}

	name := e.cfg.NamePrefix + "c1"
	err := e.cz.Launch(context.Background(), "c1", testTask("busybox"), e.sandbox(t, "c1"), "", "agent-1", true)

	var launchErr *LaunchError
	require.ErrorAs(t, err, &launchErr)
	assert.Equal(t, StageCheckpoint, launchErr.Stage)

	// The partially launched container must not leak
	assert.False(t, e.runtime.Running(name))
	assert.Empty(t, e.cz.Containers())
}

func TestLaunchExecutorSkipsPull(t *testing.T) {
	e := newTestEnv(t)

	exec := &types.ExecutorSpec{
		Name:    "executor",
		Command: []string{"/sandbox/executor"},
	}
	err := e.cz.LaunchExecutor(context.Background(), "e1", exec, e.sandbox(t, "e1"), "", "agent-1", false)
	require.NoError(t, err)

	assert.Equal(t, 0, e.runtime.PullCount("busybox"))
	assert.True(t, e.runtime.Running(e.cfg.NamePrefix+"e1"))
}

func TestLaunchExecutorWithImagePulls(t *testing.T) {
	e := newTestEnv(t)

	exec := &types.ExecutorSpec{
		Name:      "executor",
		Command:   []string{"/sandbox/executor"},
		Container: &types.ContainerSpec{Image: "executor-image"},
	}
	err := e.cz.LaunchExecutor(context.Background(), "e1", exec, e.sandbox(t, "e1"), "", "agent-1", false)
	require.NoError(t, err)

	assert.Equal(t, 1, e.runtime.PullCount("executor-image"))
}

func TestWaitResolvesOnExit(t *testing.T) {
	e := newTestEnv(t)

	name := e.launch(t, "c1")
	e.runtime.Exit(name, 0)

	term, err := e.cz.Wait(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, types.TerminationExited, term.State)
	require.NotNil(t, term.ExitCode)
	assert.Equal(t, 0, *term.ExitCode)

	// The monitor removed both the container and the registry entry
	require.Eventually(t, func() bool {
		return len(e.cz.Containers()) == 0 && !e.runtime.Exists(name)
	}, time.Second, 10*time.Millisecond)
}

func TestWaitObservesOOMKill(t *testing.T) {
	e := newTestEnv(t)

	name := e.launch(t, "c1")
	e.runtime.ExitOOM(name)

	term, err := e.cz.Wait(context.Background(), "c1")
	require.NoError(t, err)
	assert.Equal(t, types.TerminationOOMKilled, term.State)
}

func TestWaitReleasesRetainedTermination(t *testing.T) {
	e := newTestEnv(t)

	// A waiter already pending when the exit arrives
	name := e.launch(t, "c1")
	waitErr := make(chan error, 1)
	go func() {
		_, err := e.cz.Wait(context.Background(), "c1")
		waitErr <- err
	}()
	e.runtime.Exit(name, 0)
	require.NoError(t, <-waitErr)

	// A waiter arriving only after the teardown finished
	name2 := e.launch(t, "c2")
	e.runtime.Exit(name2, 0)
	require.Eventually(t, func() bool {
		return len(e.cz.Containers()) == 0
	}, time.Second, 10*time.Millisecond)
	_, err := e.cz.Wait(context.Background(), "c2")
	require.NoError(t, err)

	// Served results are not retained for the process lifetime
	require.Eventually(t, func() bool {
		e.cz.mu.Lock()
		defer e.cz.mu.Unlock()
		return len(e.cz.terminations) == 0
	}, time.Second, 10*time.Millisecond)
}

func TestWaitUnknownContainer(t *testing.T) {
	e := newTestEnv(t)

	_, err := e.cz.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMonitorCapturesLogsIntoSandbox(t *testing.T) {
	e := newTestEnv(t)

	dir := e.sandbox(t, "c1")
	name := e.launch(t, "c1")
	e.runtime.Exit(name, 0)

	_, err := e.cz.Wait(context.Background(), "c1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		captured, ok := e.runtime.LogsCaptured(name)
		return ok && captured == dir
	}, time.Second, 10*time.Millisecond)
}

func TestKeepContainersSkipsRemoval(t *testing.T) {
	e := newTestEnv(t)
	e.cfg.KeepContainers = true

	name := e.launch(t, "c1")
	e.runtime.Exit(name, 0)

	_, err := e.cz.Wait(context.Background(), "c1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return len(e.cz.Containers()) == 0
	}, time.Second, 10*time.Millisecond)
	assert.True(t, e.runtime.Exists(name))
}

func TestLaunchPublishesEvents(t *testing.T) {
	e := newTestEnv(t)
	sub := e.broker.Subscribe()
	defer e.broker.Unsubscribe(sub)

	e.launch(t, "c1")

	select {
	case ev := <-sub:
		assert.Equal(t, events.EventContainerLaunched, ev.Type)
		assert.Equal(t, types.ContainerID("c1"), ev.ContainerID)
	case <-time.After(time.Second):
		t.Fatal("no launch event published")
	}
}

func TestCheckpointRecordLifecycle(t *testing.T) {
	e := newTestEnv(t)
	writer, err := checkpoint.NewBoltWriter(t.TempDir())
	require.NoError(t, err)
	defer writer.Close()
	e.cz.writer = writer

	dir := e.sandbox(t, "c1")
	require.NoError(t, e.cz.Launch(context.Background(), "c1", testTask("busybox"), dir, "", "agent-1", true))

	runs, err := writer.Runs()
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, types.ContainerID("c1"), runs[0].ContainerID)
	assert.Equal(t, e.cfg.NamePrefix+"c1", runs[0].Name)

	e.runtime.Exit(e.cfg.NamePrefix+"c1", 0)
	_, err = e.cz.Wait(context.Background(), "c1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		runs, err := writer.Runs()
		return err == nil && len(runs) == 0
	}, time.Second, 10*time.Millisecond)
}
