package containerizer

import (
	"errors"
	"fmt"
)

// Pipeline stage names, used in launch errors and failure metrics
const (
	StageFetch      = "fetch"
	StagePull       = "pull"
	StageRun        = "run"
	StageCheckpoint = "checkpoint"
)

var (
	// ErrNotFound is returned for operations on an unknown or already
	// removed ContainerID
	ErrNotFound = errors.New("unknown container")

	// ErrAlreadyLaunched rejects a second launch for a live ContainerID
	ErrAlreadyLaunched = errors.New("container already launched")

	// ErrDestroyedDuringLaunch is returned when a concurrent destroy
	// aborted the launch pipeline
	ErrDestroyedDuringLaunch = errors.New("container destroyed during launch")

	// ErrRecoveryPending rejects launches issued before Recover has run
	ErrRecoveryPending = errors.New("recovery has not completed")
)

// LaunchError reports which pipeline stage failed a launch
type LaunchError struct {
	Stage string
	Err   error
}

func (e *LaunchError) Error() string {
	return fmt.Sprintf("launch failed at %s stage: %v", e.Stage, e.Err)
}

func (e *LaunchError) Unwrap() error { return e.Err }

// RecoveryError is fatal to the agent: the persisted state could not be
// safely reconciled with the runtime's live listing, and serving new
// launches over an inconsistent registry risks double-managing containers.
type RecoveryError struct {
	Err error
}

func (e *RecoveryError) Error() string {
	return fmt.Sprintf("recovery failed: %v", e.Err)
}

func (e *RecoveryError) Unwrap() error { return e.Err }
