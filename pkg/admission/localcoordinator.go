package admission

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// LocalCoordinator is the default ClusterCoordinator: it backs every named
// semaphore with an in-process golang.org/x/sync/semaphore.Weighted
// instance. A real deployment would hand out slots coordinated across the
// whole cluster (e.g. via a distributed lock service); no such
// collaborator exists in this module; see DESIGN.md.
type LocalCoordinator struct {
	mu   sync.Mutex
	sems map[string]*localSemaphore
}

// NewLocalCoordinator builds an empty coordinator. Semaphores are created
// lazily, one per distinct name the first time it is requested; a later
// request for the same name gets that semaphore back with its original
// capacity.
func NewLocalCoordinator() *LocalCoordinator {
	return &LocalCoordinator{sems: make(map[string]*localSemaphore)}
}

// GetSemaphore implements ClusterCoordinator.
func (c *LocalCoordinator) GetSemaphore(name string, capacity int64) DistributedSemaphore {
	c.mu.Lock()
	defer c.mu.Unlock()

	if sem, ok := c.sems[name]; ok {
		return sem
	}
	sem := &localSemaphore{
		name:     name,
		weighted: semaphore.NewWeighted(capacity),
	}
	c.sems[name] = sem
	return sem
}

type localSemaphore struct {
	name     string
	weighted *semaphore.Weighted
}

// Acquire implements DistributedSemaphore.
func (s *localSemaphore) Acquire(ctx context.Context, timeout time.Duration) (Lease, error) {
	acquireCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		acquireCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	if err := s.weighted.Acquire(acquireCtx, 1); err != nil {
		return nil, fmt.Errorf("acquire %q: %w", s.name, err)
	}
	return &localLease{sem: s}, nil
}

type localLease struct {
	sem  *localSemaphore
	once sync.Once
}

// Release implements Lease.
func (l *localLease) Release() {
	l.once.Do(func() {
		l.sem.weighted.Release(1)
	})
}
