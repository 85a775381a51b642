// Package querymanager tracks every fragment of one query and collapses
// many fragment status events into a single Foreman state transition.
package querymanager

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/membership"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/types"
)

// Aggregate is the terminal outcome the QueryManager reports to the
// Foreman exactly once per query.
type Aggregate struct {
	State types.QueryState
	Cause error
}

// StateListener is the narrow callback the QueryManager is handed at
// construction time. It deliberately does not carry a reference back to
// the owning Foreman; QueryManager only ever calls this one function.
type StateListener func(Aggregate)

// CancelSender issues a cancel RPC against one remote fragment. It is a
// subset of pkg/dispatch.Controller — QueryManager only ever needs to
// cancel, never to submit — kept narrow so this package does not import
// pkg/dispatch.
type CancelSender interface {
	CancelFragment(ctx context.Context, endpoint types.Endpoint, handle types.FragmentHandle) error
}

// RootCanceller cancels the locally-running root fragment directly,
// without going through the RPC tunnel.
type RootCanceller func()

type fragmentTracker struct {
	fragment *types.PlanFragment
	isRoot   bool
	status   atomic.Value // types.FragmentStatus
}

// QueryManager owns the per-fragment status slots of one query and
// decides, from their aggregate, when the query as a whole has finished.
type QueryManager struct {
	queryID      types.QueryId
	listener     StateListener
	cancelSender CancelSender
	membership   *membership.DrillbitStatusListener

	mu                    sync.Mutex
	trackers              map[types.FragmentHandle]*fragmentTracker
	cancellationRequested bool
	fired                 bool
	firstFailureCause     error
}

// New builds a QueryManager for queryID. membershipListener may be nil if
// node-failure detection is not wired for this deployment.
func New(queryID types.QueryId, listener StateListener, cancelSender CancelSender, membershipListener *membership.DrillbitStatusListener) *QueryManager {
	return &QueryManager{
		queryID:      queryID,
		listener:     listener,
		cancelSender: cancelSender,
		membership:   membershipListener,
		trackers:     make(map[types.FragmentHandle]*fragmentTracker),
	}
}

// AddFragmentStatusTracker registers a per-fragment status slot,
// initialized to SUBMITTED, and — if a membership listener is configured —
// starts watching the fragment's assigned endpoint for node failure.
func (qm *QueryManager) AddFragmentStatusTracker(fragment *types.PlanFragment, isRoot bool) {
	tracker := &fragmentTracker{fragment: fragment, isRoot: isRoot}
	tracker.status.Store(types.FragmentStatus{Handle: fragment.Handle, State: types.FragmentSubmitted})

	qm.mu.Lock()
	qm.trackers[fragment.Handle] = tracker
	qm.mu.Unlock()

	metrics.FragmentsTotal.WithLabelValues(string(types.FragmentSubmitted)).Inc()

	if !isRoot && qm.membership != nil {
		qm.membership.Watch(fragment.Assignment, qm.handleNodeDown)
	}
}

// StatusUpdate records a fragment's latest reported status. Called by the
// WorkEventBus for remote fragments and by the local executor for the
// root. If the update is terminal, the aggregate is recomputed and the
// StateListener is invoked at most once: the first time any tracker has
// failed, or otherwise the first time every tracker has reached a
// terminal state.
func (qm *QueryManager) StatusUpdate(status types.FragmentStatus) {
	qm.mu.Lock()
	tracker, ok := qm.trackers[status.Handle]
	qm.mu.Unlock()
	if !ok {
		log.WithComponent("querymanager").Warn().
			Str("fragment", status.Handle.String()).
			Msg("status update for untracked fragment")
		return
	}

	tracker.status.Store(status)
	metrics.FragmentStatusUpdatesTotal.WithLabelValues(string(status.State)).Inc()

	if status.State.IsTerminal() {
		qm.maybeFire()
	}
}

// handleNodeDown is the membership.FailureHandler wired in for each
// watched endpoint: every fragment still assigned to that endpoint and not
// already terminal is marked FAILED locally.
func (qm *QueryManager) handleNodeDown(endpoint types.Endpoint) {
	logger := log.WithComponent("querymanager")

	qm.mu.Lock()
	var affected []*fragmentTracker
	for _, tracker := range qm.trackers {
		if tracker.fragment.Assignment != endpoint {
			continue
		}
		if s := tracker.status.Load().(types.FragmentStatus); s.State.IsTerminal() {
			continue
		}
		affected = append(affected, tracker)
	}
	qm.mu.Unlock()

	for _, tracker := range affected {
		logger.Warn().
			Str("fragment", tracker.fragment.Handle.String()).
			Str("endpoint", endpoint.String()).
			Msg("endpoint unreachable, marking fragment failed")
		tracker.status.Store(types.FragmentStatus{
			Handle: tracker.fragment.Handle,
			State:  types.FragmentFailed,
			Err:    &endpointUnreachableError{endpoint: endpoint},
		})
	}
	if len(affected) > 0 {
		qm.maybeFire()
	}
}

// maybeFire recomputes the aggregate under lock and invokes the
// StateListener after releasing the lock (the listener may call back into
// this QueryManager, e.g. via CancelExecutingFragments, so it must never
// be invoked while qm.mu is held). A single failed tracker fires FAILED
// immediately rather than waiting for the rest to reach a terminal state,
// so the Foreman can start canceling the stragglers right away; a
// COMPLETED or CANCELED outcome still waits for every tracker.
func (qm *QueryManager) maybeFire() {
	qm.mu.Lock()
	if qm.fired {
		qm.mu.Unlock()
		return
	}

	anyFailed := false
	allTerminal := true
	for _, tracker := range qm.trackers {
		status := tracker.status.Load().(types.FragmentStatus)
		if !status.State.IsTerminal() {
			allTerminal = false
			continue
		}
		if status.State == types.FragmentFailed {
			anyFailed = true
			if qm.firstFailureCause == nil && status.Err != nil {
				qm.firstFailureCause = status.Err
			}
		}
	}

	if !anyFailed && !allTerminal {
		qm.mu.Unlock()
		return
	}

	qm.fired = true
	cancellationRequested := qm.cancellationRequested
	cause := qm.firstFailureCause
	qm.mu.Unlock()

	var aggregate Aggregate
	switch {
	case anyFailed:
		aggregate = Aggregate{State: types.QueryFailed, Cause: cause}
	case cancellationRequested:
		aggregate = Aggregate{State: types.QueryCanceled}
	default:
		aggregate = Aggregate{State: types.QueryCompleted}
	}

	qm.listener(aggregate)
}

// CancelExecutingFragments best-effort broadcasts a cancel RPC to every
// still-running non-root fragment's assigned endpoint, plus a direct
// cancel on the root runner. It does not wait for any acknowledgement.
func (qm *QueryManager) CancelExecutingFragments(ctx context.Context, rootCanceller RootCanceller) {
	qm.mu.Lock()
	qm.cancellationRequested = true
	var targets []*fragmentTracker
	for _, tracker := range qm.trackers {
		if tracker.isRoot {
			continue
		}
		if s := tracker.status.Load().(types.FragmentStatus); s.State.IsTerminal() {
			continue
		}
		targets = append(targets, tracker)
	}
	qm.mu.Unlock()

	logger := log.WithComponent("querymanager")

	if rootCanceller != nil {
		rootCanceller()
	}

	for _, tracker := range targets {
		tracker := tracker
		go func() {
			if err := qm.cancelSender.CancelFragment(ctx, tracker.fragment.Assignment, tracker.fragment.Handle); err != nil {
				logger.Warn().Err(err).
					Str("fragment", tracker.fragment.Handle.String()).
					Msg("best-effort cancel RPC failed")
			}
		}()
	}
}

// Close releases this QueryManager's membership watches. Call once the
// owning query has reached a terminal state.
func (qm *QueryManager) Close() {
	if qm.membership == nil {
		return
	}
	qm.mu.Lock()
	endpoints := make(map[types.Endpoint]struct{})
	for _, tracker := range qm.trackers {
		if !tracker.isRoot {
			endpoints[tracker.fragment.Assignment] = struct{}{}
		}
	}
	qm.mu.Unlock()

	for endpoint := range endpoints {
		qm.membership.Unwatch(endpoint)
	}
}

type endpointUnreachableError struct {
	endpoint types.Endpoint
}

func (e *endpointUnreachableError) Error() string {
	return "endpoint " + e.endpoint.String() + " unreachable"
}
