// Package dispatch implements the FragmentDispatcher: the two-phase
// protocol that gets every fragment of a QueryWorkUnit running on its
// assigned endpoint before the query is considered live.
package dispatch

import (
	"context"

	"golang.org/x/sync/errgroup"

	"github.com/cuemby/foreman/pkg/ferrors"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/types"
)

// Controller provides per-endpoint RPC tunnels. The default implementation
// (GrpcController, in grpctunnel.go) is a thin client over pkg/rpc's
// FragmentControl service.
type Controller interface {
	SendFragments(ctx context.Context, endpoint types.Endpoint, fragments []*types.PlanFragment) error
	CancelFragment(ctx context.Context, endpoint types.Endpoint, handle types.FragmentHandle) error
}

// RootStarter constructs the root fragment's context and either submits it
// to the executor pool immediately (no remote inputs to wait on) or
// registers it as a WorkEventBus manager so it starts once its inputs
// arrive. The root executor itself is out of scope for this module; this
// is the injected seam a Foreman supplies.
type RootStarter func(ctx context.Context, root *types.PlanFragment) error

// SubmitResult is delivered asynchronously for leaf-phase (and any other
// fire-and-forget) fragment submissions.
type SubmitResult struct {
	Endpoint  types.Endpoint
	Fragments []*types.PlanFragment
	Err       error
}

// FragmentSubmitListener is notified of fire-and-forget submission
// outcomes; the Foreman wires this to drive a RUNNING→FAILED transition on
// failure.
type FragmentSubmitListener func(result SubmitResult)

// Dispatcher runs the two-phase submission protocol described in the
// design: intermediates are submitted with a wait-for-all barrier so they
// are guaranteed ready before any leaf starts producing data; leaves are
// then submitted without waiting.
type Dispatcher struct {
	controller Controller
	pool       *WorkerPool
}

// New builds a Dispatcher. leafConcurrency bounds how many leaf-phase
// submissions run concurrently.
func New(controller Controller, leafConcurrency int) *Dispatcher {
	return &Dispatcher{
		controller: controller,
		pool:       NewWorkerPool(leafConcurrency),
	}
}

// Dispatch runs all three phases. startRoot performs phase 0. listener
// receives leaf-phase (phase 2) submission outcomes; it is never called
// for phase 1, whose failures are returned synchronously from Dispatch
// itself.
func (d *Dispatcher) Dispatch(ctx context.Context, unit *types.QueryWorkUnit, startRoot RootStarter, listener FragmentSubmitListener) error {
	logger := log.WithComponent("dispatch")

	// Phase 0: root setup (local).
	if err := startRoot(ctx, unit.RootFragment); err != nil {
		return &ferrors.ForemanSetupError{Message: "root fragment setup failed", Cause: err}
	}

	// Phase 1: intermediates with barrier.
	intermediates := groupByEndpoint(unit.Intermediates())
	if len(intermediates) > 0 {
		timer := metrics.NewTimer()
		err := d.submitWithBarrier(ctx, intermediates)
		timer.ObserveDurationVec(metrics.DispatchLatency, "intermediate")
		if err != nil {
			metrics.DispatchFailuresTotal.WithLabelValues("intermediate").Inc()
			logger.Error().Err(err).Msg("intermediate dispatch barrier failed")
			return &ferrors.ForemanSetupError{Message: "intermediate fragment dispatch failed", Cause: err}
		}
	}

	// Phase 2: leaves fire-and-forget.
	leaves := groupByEndpoint(unit.Leaves())
	timer := metrics.NewTimer()
	for endpoint, fragments := range leaves {
		endpoint, fragments := endpoint, fragments
		d.pool.Submit(func() {
			err := d.controller.SendFragments(ctx, endpoint, fragments)
			if err != nil {
				metrics.DispatchFailuresTotal.WithLabelValues("leaf").Inc()
			}
			listener(SubmitResult{Endpoint: endpoint, Fragments: fragments, Err: err})
		})
	}
	timer.ObserveDurationVec(metrics.DispatchLatency, "leaf")

	return nil
}

// submitWithBarrier submits every endpoint's batch concurrently and waits
// for every one of them to respond before returning — a plain
// errgroup.Group rather than errgroup.WithContext, since Wait must block
// until all endpoints have answered rather than returning as soon as the
// first one fails (see pkg/dispatch/doc.go).
func (d *Dispatcher) submitWithBarrier(ctx context.Context, byEndpoint map[types.Endpoint][]*types.PlanFragment) error {
	var g errgroup.Group
	for endpoint, fragments := range byEndpoint {
		endpoint, fragments := endpoint, fragments
		g.Go(func() error {
			if err := d.controller.SendFragments(ctx, endpoint, fragments); err != nil {
				return &ferrors.RpcFailureError{Endpoint: endpoint, Cause: err}
			}
			return nil
		})
	}
	return g.Wait()
}

func groupByEndpoint(fragments []*types.PlanFragment) map[types.Endpoint][]*types.PlanFragment {
	grouped := make(map[types.Endpoint][]*types.PlanFragment)
	for _, f := range fragments {
		grouped[f.Assignment] = append(grouped[f.Assignment], f)
	}
	return grouped
}
