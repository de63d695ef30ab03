// Package locks implements advisory, in-process lock coordination between
// cooperating agents. Locks are non-reentrant and purely advisory: nothing
// stops an agent that never calls Acquire from touching a resource.
package locks

import (
	"sync"
	"time"

	"github.com/sift-systems/siftd/internal/metrics"
)

// Lock describes one held lock.
type Lock struct {
	Resource   string
	Owner      string
	AcquiredAt time.Time
}

// Coordinator tracks which owner holds which resource. All state lives
// behind one mutex; contention is reported through return values, never
// through errors.
type Coordinator struct {
	mu      sync.Mutex
	holders map[string]Lock            // resource -> lock
	owned   map[string]map[string]bool // owner -> set of resources
	now     func() time.Time
}

// New creates an empty coordinator.
func New() *Coordinator {
	return &Coordinator{
		holders: make(map[string]Lock),
		owned:   make(map[string]map[string]bool),
		now:     time.Now,
	}
}

// Acquire grants resource to owner if it is free. Returns false when any
// owner, including the caller, already holds it: the lock is not reentrant,
// and a repeat Acquire by the holder does not stack.
func (c *Coordinator) Acquire(resource, owner string) bool {
	if resource == "" || owner == "" {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, held := c.holders[resource]; held {
		metrics.LockAcquireTotal.WithLabelValues("contended").Inc()
		return false
	}

	c.holders[resource] = Lock{Resource: resource, Owner: owner, AcquiredAt: c.now()}
	if c.owned[owner] == nil {
		c.owned[owner] = make(map[string]bool)
	}
	c.owned[owner][resource] = true

	metrics.LockAcquireTotal.WithLabelValues("granted").Inc()
	metrics.LocksHeld.Set(float64(len(c.holders)))
	return true
}

// Release frees resource if owner holds it. A release by a non-holder
// returns false and leaves the lock state unchanged.
func (c *Coordinator) Release(resource, owner string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, held := c.holders[resource]
	if !held || lock.Owner != owner {
		return false
	}

	delete(c.holders, resource)
	delete(c.owned[owner], resource)
	if len(c.owned[owner]) == 0 {
		delete(c.owned, owner)
	}

	metrics.LocksHeld.Set(float64(len(c.holders)))
	return true
}

// ReleaseAll frees every resource held by owner and reports how many were
// released. Used when an agent disconnects without cleaning up.
func (c *Coordinator) ReleaseAll(owner string) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	resources := c.owned[owner]
	for resource := range resources {
		delete(c.holders, resource)
	}
	delete(c.owned, owner)

	metrics.LocksHeld.Set(float64(len(c.holders)))
	return len(resources)
}

// List returns a snapshot of all held locks.
func (c *Coordinator) List() []Lock {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]Lock, 0, len(c.holders))
	for _, lock := range c.holders {
		out = append(out, lock)
	}
	return out
}
