// Package admission implements the AdmissionController: the cluster-wide
// gate a query passes through before its fragments are planned and
// dispatched, so a burst of expensive queries cannot overrun cluster
// memory.
package admission

import (
	"context"
	"time"

	"github.com/cuemby/foreman/pkg/ferrors"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/types"
)

const (
	smallQueueName = "query.small"
	largeQueueName = "query.large"
)

// Lease represents a held admission slot. It is owned exclusively by the
// Foreman for the lifetime of one query.
type Lease interface {
	// Release gives the slot back. Safe to call more than once; only the
	// first call has an effect.
	Release()
}

// DistributedSemaphore is a named, cluster-coordinated counting semaphore.
type DistributedSemaphore interface {
	// Acquire blocks until a slot is available or timeout elapses.
	Acquire(ctx context.Context, timeout time.Duration) (Lease, error)
}

// ClusterCoordinator hands out DistributedSemaphores by name. The default
// implementation in this package (LocalCoordinator) backs every semaphore
// with an in-process weighted semaphore; a real cluster-coordinated
// implementation is an external collaborator, out of scope for this
// module.
type ClusterCoordinator interface {
	GetSemaphore(name string, capacity int64) DistributedSemaphore
}

// Controller gates admission of a query given its configuration and a
// cluster coordinator.
type Controller struct {
	cfg         types.AdmissionConfig
	coordinator ClusterCoordinator
}

// New builds an admission controller over the given coordinator.
func New(cfg types.AdmissionConfig, coordinator ClusterCoordinator) *Controller {
	return &Controller{cfg: cfg, coordinator: coordinator}
}

// Admit gates a query of the given total plan cost. If queuing is
// disabled, it is a no-op that returns a nil lease. Otherwise it selects
// the small or large queue by cost threshold, acquires a slot within the
// configured timeout, and returns the lease the Foreman must release when
// the query reaches a terminal state.
//
// On timeout this fails with *ferrors.ForemanSetupError ("Unable to
// acquire slot").
func (c *Controller) Admit(ctx context.Context, totalCost int64) (Lease, error) {
	if !c.cfg.Enable {
		return nil, nil
	}

	queueName := smallQueueName
	capacity := c.cfg.SmallQueueCap
	if totalCost > c.cfg.ThresholdCost {
		queueName = largeQueueName
		capacity = c.cfg.LargeQueueCap
	}

	sem := c.coordinator.GetSemaphore(queueName, capacity)

	timer := metrics.NewTimer()
	lease, err := sem.Acquire(ctx, c.cfg.QueueTimeout)
	timer.ObserveDurationVec(metrics.AdmissionWaitDuration, queueName)

	if err != nil {
		metrics.AdmissionTimeoutsTotal.WithLabelValues(queueName).Inc()
		return nil, &ferrors.ForemanSetupError{
			Message: "Unable to acquire slot",
			Cause:   err,
		}
	}
	return lease, nil
}

// Release releases lease with a single call to Lease.Release. That call
// reports no error, so nothing is logged or retried here. A nil lease
// (queuing disabled, or never acquired) is a no-op.
func Release(lease Lease) {
	if lease == nil {
		return
	}
	lease.Release()
}
