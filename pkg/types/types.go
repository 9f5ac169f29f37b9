package types

import (
	"time"
)

// ContainerID is the opaque identifier for one container instance's entire
// lifecycle. It is supplied by the caller at launch time, globally unique per
// instance, and embedded in the runtime-visible container name so that
// ps/inspect results can be mapped back to it.
type ContainerID string

func (id ContainerID) String() string { return string(id) }

// Resources describes a container's resource allocation.
type Resources struct {
	// CPUs in fractional cores (e.g. 0.5 = half a core)
	CPUs float64
	// MemoryBytes is the memory soft limit in bytes
	MemoryBytes int64
}

// PortMapping defines port exposure between host and container
type PortMapping struct {
	HostPort      int
	ContainerPort int
	Protocol      string // "tcp" or "udp", default tcp
}

// VolumeMount defines a host path mounted into the container
type VolumeMount struct {
	HostPath      string
	ContainerPath string
	ReadOnly      bool
}

// NetworkMode defines the container's network attachment
type NetworkMode string

const (
	NetworkHost   NetworkMode = "host"
	NetworkBridge NetworkMode = "bridge"
	NetworkNone   NetworkMode = "none"
)

// ContainerSpec describes the container image and its runtime settings
type ContainerSpec struct {
	Image      string
	ForcePull  bool
	Network    NetworkMode
	Ports      []*PortMapping
	Volumes    []*VolumeMount
	Privileged bool
}

// ArtifactURI names one artifact to fetch into the sandbox before launch
type ArtifactURI struct {
	Value      string // http(s) URL, file:// URI or plain local path
	Executable bool   // chmod +x after fetch
	Extract    bool   // unpack .tar.gz/.tgz archives into the sandbox
}

// TaskSpec is the launch request payload for a task container
type TaskSpec struct {
	Name      string
	Command   []string // argv; empty means the image's default command
	Env       []string // KEY=VALUE pairs
	Container *ContainerSpec
	Resources *Resources
	URIs      []*ArtifactURI
}

// ExecutorSpec is the launch request payload for a bare executor. An executor
// without a container image runs the executor command directly on the image's
// default environment; the pull stage is skipped when Container is nil or its
// image is empty.
type ExecutorSpec struct {
	Name      string
	Command   []string
	Env       []string
	Container *ContainerSpec
	Resources *Resources
	URIs      []*ArtifactURI
}

// ContainerStatus is the current pipeline stage of a live container
type ContainerStatus string

const (
	ContainerFetching   ContainerStatus = "fetching"
	ContainerPulling    ContainerStatus = "pulling"
	ContainerRunning    ContainerStatus = "running"
	ContainerDestroying ContainerStatus = "destroying"
)

// TerminationState classifies the terminal outcome of a container's life
type TerminationState string

const (
	// TerminationExited means the container's process exited on its own
	TerminationExited TerminationState = "exited"
	// TerminationKilled means the process was killed by a signal
	TerminationKilled TerminationState = "killed"
	// TerminationOOMKilled means the kernel OOM killer took the process down
	TerminationOOMKilled TerminationState = "oom-killed"
	// TerminationDestroyed means a destroy request ended the container
	TerminationDestroyed TerminationState = "destroyed"
	// TerminationFailed means the launch pipeline failed before running
	TerminationFailed TerminationState = "failed"
)

// Termination is the single terminal outcome of a container's life, delivered
// exactly once through the containerizer's Wait.
type Termination struct {
	State    TerminationState
	Message  string
	ExitCode *int // nil when no exit code was observed
}

// ContainerInfo is the runtime's view of one container, as returned by
// inspect and list operations.
type ContainerInfo struct {
	ID        string // runtime-native container ID
	Name      string // runtime-visible name (fixed prefix + ContainerID)
	Pid       int    // 0 when not running or not yet known
	Running   bool
	ExitCode  int
	OOMKilled bool
	StartedAt time.Time
}

// RunRecord is the durable identity of one launched container, written by the
// checkpoint stage and consumed by recovery after an agent restart.
type RunRecord struct {
	ContainerID ContainerID `json:"container_id"`
	Name        string      `json:"name"`
	Pid         int         `json:"pid"`
	AgentID     string      `json:"agent_id"`
	Directory   string      `json:"directory"`
	StartedAt   time.Time   `json:"started_at"`
}

// AgentState is the persisted checkpoint state handed to recovery at startup
type AgentState struct {
	AgentID string
	Runs    []*RunRecord
}

// ResourceStatistics is a point-in-time usage snapshot for a live container
type ResourceStatistics struct {
	Timestamp          time.Time
	CPUsUserTimeSecs   float64
	CPUsSystemTimeSecs float64
	CPUsLimit          float64
	MemLimitBytes      int64
	MemRSSBytes        int64
}
