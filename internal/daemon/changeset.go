package daemon

import (
	"path/filepath"
	"sync"
	"time"

	mapset "github.com/deckarep/golang-set/v2"
)

// Delay tiers for AdaptiveDelay. A single file save syncs almost immediately;
// a big burst (branch checkout, build output) waits for the storm to subside,
// but never longer than the configured base delay.
const (
	delaySingle = 100 * time.Millisecond // 1 pending
	delaySmall  = 300 * time.Millisecond // 2-5 pending
	delayMedium = 1 * time.Second        // 6-20 pending
	delayLarge  = 2 * time.Second        // 21-50 pending
)

// ChangeSet accumulates pending changed paths between syncs. The same path
// touched repeatedly counts once; the first-change timestamp belongs to the
// earliest unsynced change and is only reset by Drain.
type ChangeSet struct {
	root string

	mu            sync.Mutex
	pending       mapset.Set[string]
	firstChangeAt time.Time
}

func NewChangeSet(root string) *ChangeSet {
	return &ChangeSet{
		root:    root,
		pending: mapset.NewThreadUnsafeSet[string](),
	}
}

// Add records a changed path, normalized to absolute form. Idempotent.
func (c *ChangeSet) Add(path string) {
	if !filepath.IsAbs(path) {
		path = filepath.Join(c.root, path)
	}
	path = filepath.Clean(path)

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.pending.Cardinality() == 0 {
		c.firstChangeAt = time.Now()
	}
	c.pending.Add(path)
}

// Drain atomically returns all pending paths and resets the set and the
// first-change timestamp.
func (c *ChangeSet) Drain() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	paths := c.pending.ToSlice()
	c.pending = mapset.NewThreadUnsafeSet[string]()
	c.firstChangeAt = time.Time{}
	return paths
}

// FirstChangeAt reports the timestamp of the earliest unsynced change.
// The second return is false when nothing is pending.
func (c *ChangeSet) FirstChangeAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.firstChangeAt, !c.firstChangeAt.IsZero()
}

func (c *ChangeSet) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending.Cardinality()
}

// AdaptiveDelay returns the debounce delay for the current pending volume.
func (c *ChangeSet) AdaptiveDelay(base time.Duration) time.Duration {
	switch n := c.Len(); {
	case n == 0:
		return base
	case n == 1:
		return delaySingle
	case n <= 5:
		return delaySmall
	case n <= 20:
		return delayMedium
	case n <= 50:
		return delayLarge
	default:
		// event storm: fall back to the base delay so syncing is postponed,
		// but never indefinitely
		return base
	}
}
