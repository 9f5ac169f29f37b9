package cgroups

import (
	"fmt"
	"sync"
	"time"

	"github.com/stevedore-io/stevedore/pkg/types"
)

// FakeAccessor is an in-memory Accessor for tests
type FakeAccessor struct {
	mu     sync.Mutex
	shares map[int]int64
	limits map[int]int64
	rss    map[int]int64
	user   map[int]float64
	system map[int]float64

	// Err, when set, fails every call (simulates an unmounted hierarchy)
	Err error
}

// NewFakeAccessor creates an empty fake accessor
func NewFakeAccessor() *FakeAccessor {
	return &FakeAccessor{
		shares: make(map[int]int64),
		limits: make(map[int]int64),
		rss:    make(map[int]int64),
		user:   make(map[int]float64),
		system: make(map[int]float64),
	}
}

func (f *FakeAccessor) CPUShares(pid int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	shares, ok := f.shares[pid]
	if !ok {
		return 0, fmt.Errorf("no cpu cgroup for pid %d", pid)
	}
	return shares, nil
}

func (f *FakeAccessor) SetCPUShares(pid int, shares int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.shares[pid] = shares
	return nil
}

func (f *FakeAccessor) MemorySoftLimit(pid int) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return 0, f.Err
	}
	limit, ok := f.limits[pid]
	if !ok {
		return 0, fmt.Errorf("no memory cgroup for pid %d", pid)
	}
	return limit, nil
}

func (f *FakeAccessor) SetMemorySoftLimit(pid int, bytes int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return f.Err
	}
	f.limits[pid] = bytes
	return nil
}

func (f *FakeAccessor) Stats(pid int) (*types.ResourceStatistics, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.Err != nil {
		return nil, f.Err
	}
	return &types.ResourceStatistics{
		Timestamp:          time.Now(),
		CPUsUserTimeSecs:   f.user[pid],
		CPUsSystemTimeSecs: f.system[pid],
		MemRSSBytes:        f.rss[pid],
	}, nil
}

// SetUsage seeds accounting values for a pid
func (f *FakeAccessor) SetUsage(pid int, userSecs, systemSecs float64, rssBytes int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.user[pid] = userSecs
	f.system[pid] = systemSecs
	f.rss[pid] = rssBytes
}
