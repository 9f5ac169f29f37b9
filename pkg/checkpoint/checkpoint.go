package checkpoint

import (
	"github.com/stevedore-io/stevedore/pkg/types"
)

// Writer persists container run records so that a restarted agent can
// reconcile its registry against the runtime's live listing. The launch
// pipeline writes a record after the container is running and before the
// launch is declared successful; the monitor removes it once the container
// is gone.
type Writer interface {
	CheckpointRun(rec *types.RunRecord) error
	RemoveRun(id types.ContainerID) error
	Runs() ([]*types.RunRecord, error)
	Close() error
}

// Null is a Writer that persists nothing, for agents running with
// checkpointing disabled.
type Null struct{}

func (Null) CheckpointRun(*types.RunRecord) error { return nil }
func (Null) RemoveRun(types.ContainerID) error    { return nil }
func (Null) Runs() ([]*types.RunRecord, error)    { return nil, nil }
func (Null) Close() error                         { return nil }
