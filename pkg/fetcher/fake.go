package fetcher

import (
	"context"
	"sync"

	"github.com/stevedore-io/stevedore/pkg/types"
)

// Fake is an in-memory Fetcher for tests
type Fake struct {
	mu      sync.Mutex
	fetched [][]*types.ArtifactURI

	// Err, when set, fails every Fetch
	Err error
	// OnFetch, when set, is called before recording (and may block)
	OnFetch func(uris []*types.ArtifactURI, dir string) error
}

// NewFake creates an empty fake fetcher
func NewFake() *Fake {
	return &Fake{}
}

func (f *Fake) Fetch(ctx context.Context, uris []*types.ArtifactURI, dir string) error {
	f.mu.Lock()
	hook, err := f.OnFetch, f.Err
	f.mu.Unlock()

	if err != nil {
		return err
	}
	if hook != nil {
		if err := hook(uris, dir); err != nil {
			return err
		}
	}

	f.mu.Lock()
	f.fetched = append(f.fetched, uris)
	f.mu.Unlock()
	return nil
}

// FetchCount returns how many Fetch calls completed
func (f *Fake) FetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}
