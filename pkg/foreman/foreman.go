// Package foreman implements the Foreman: the per-query state machine
// that drives a query from PENDING through planning, admission, and
// dispatch, to RUNNING, and finally to exactly one of CANCELED, COMPLETED,
// or FAILED — closing exactly one ForemanResult on the way out.
package foreman

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/cuemby/foreman/pkg/admission"
	"github.com/cuemby/foreman/pkg/dispatch"
	"github.com/cuemby/foreman/pkg/eventbus"
	"github.com/cuemby/foreman/pkg/ferrors"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/membership"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/planner"
	"github.com/cuemby/foreman/pkg/querymanager"
	"github.com/cuemby/foreman/pkg/rpc"
	"github.com/cuemby/foreman/pkg/types"
)

// Injector lets tests force a synchronous failure at a named point in
// run(), replacing the source's process-wide ExceptionInjector with an
// injected seam. The default NopInjector never fires.
type Injector func(point string) error

// NopInjector is the default Injector: it never injects a failure.
func NopInjector(string) error { return nil }

// Deps bundles every collaborator a Foreman needs. Fields left nil take a
// no-op or default behavior where that is meaningful (e.g. Persistence,
// Membership).
type Deps struct {
	Planner        planner.FragmentPlanner
	Admission      *admission.Controller
	Dispatcher     *dispatch.Dispatcher
	Bus            *eventbus.WorkEventBus
	Membership     *membership.DrillbitStatusListener
	Persistence    PersistentStore
	ResponseSender ResponseSender
	ExecutorPool   ExecutorPool
	CancelSender   querymanager.CancelSender

	// RootStarter constructs the root fragment's context and either
	// submits it to ExecutorPool or registers it with Bus. It returns the
	// context so ForemanResult.close can tear it down.
	RootStarter func(ctx context.Context, root *types.PlanFragment) (FragmentContext, error)
}

// Config carries the per-query knobs that are not collaborators.
type Config struct {
	Admission types.AdmissionConfig
	Planner   types.PlannerConfig

	// FatalExit is called when an illegal transition is attempted; the core
	// cannot safely continue. No out-of-memory condition is detected or
	// routed here. Overridable in tests; defaults to os.Exit(1).
	FatalExit func()

	Injector Injector
}

// DefaultConfig returns a Config with FatalExit wired to os.Exit(1) and a
// no-op Injector.
func DefaultConfig() Config {
	return Config{FatalExit: func() { os.Exit(1) }, Injector: NopInjector}
}

// Foreman drives one query's lifecycle.
type Foreman struct {
	queryID types.QueryId
	query   rpc.RunQuery
	deps    Deps
	cfg     Config

	mu        sync.Mutex
	state     types.QueryState
	startTime time.Time
	endTime   time.Time

	result *ForemanResult
	qm     *querymanager.QueryManager
	lease  admission.Lease

	acceptExternalEvents chan struct{}
	gateOnce             sync.Once
}

// New constructs a Foreman in PENDING state. Call Run to drive it.
func New(queryID types.QueryId, query rpc.RunQuery, deps Deps, cfg Config) *Foreman {
	if cfg.FatalExit == nil {
		cfg.FatalExit = func() { os.Exit(1) }
	}
	if cfg.Injector == nil {
		cfg.Injector = NopInjector
	}
	return &Foreman{
		queryID:              queryID,
		query:                query,
		deps:                 deps,
		cfg:                  cfg,
		state:                types.QueryPending,
		acceptExternalEvents: make(chan struct{}),
	}
}

// State returns the Foreman's current lifecycle state.
func (f *Foreman) State() types.QueryState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// openGate opens the acceptExternalEvents barrier exactly once. Called
// when run() completes, success or failure.
func (f *Foreman) openGate() {
	f.gateOnce.Do(func() { close(f.acceptExternalEvents) })
}

// Run performs the initial PENDING→RUNNING path: plan, admit, register,
// dispatch. Any failure along the way is converted to a PENDING→FAILED
// transition. The acceptExternalEvents gate opens when this returns,
// regardless of outcome — exactly once, ever.
func (f *Foreman) Run(ctx context.Context, physicalPlan []byte, queryCtx planner.QueryContext, totalCost int64) {
	defer f.openGate()

	logger := log.WithComponent("foreman").With().Str("query_id", f.queryID.String()).Logger()

	if err := f.cfg.Injector("plan"); err != nil {
		f.failSetup(ctx, "fault injected at plan", err)
		return
	}

	workUnit, err := f.deps.Planner.Plan(ctx, physicalPlan, queryCtx, f.queryID)
	if err != nil {
		f.failSetup(ctx, "planning failed", err)
		return
	}
	if err := workUnit.Validate(f.queryID); err != nil {
		f.failSetup(ctx, "invalid work unit", err)
		return
	}

	if err := f.cfg.Injector("admission"); err != nil {
		f.failSetup(ctx, "fault injected at admission", err)
		return
	}

	var lease admission.Lease
	if f.deps.Admission != nil {
		lease, err = f.deps.Admission.Admit(ctx, totalCost)
		if err != nil {
			f.failSetup(ctx, "admission failed", err)
			return
		}
	}
	f.lease = lease

	if f.deps.Bus != nil {
		if err := f.deps.Bus.RegisterListener(f.queryID, f.handleFragmentStatus); err != nil {
			admission.Release(lease)
			f.failSetup(ctx, "listener registration failed", err)
			return
		}
	}

	f.qm = querymanager.New(f.queryID, f.handleAggregate, f.deps.CancelSender, f.deps.Membership)
	f.qm.AddFragmentStatusTracker(workUnit.RootFragment, true)
	for _, frag := range workUnit.Fragments {
		f.qm.AddFragmentStatusTracker(frag, false)
	}

	f.result = newForemanResult(resultDeps{
		queryID:        f.queryID,
		bus:            f.deps.Bus,
		persistence:    f.deps.Persistence,
		responseSender: f.deps.ResponseSender,
		lease:          lease,
		summary:        f.fragmentSummary,
	})

	if err := f.cfg.Injector("dispatch"); err != nil {
		f.failSetup(ctx, "fault injected at dispatch", err)
		return
	}

	rootStarter := func(ctx context.Context, root *types.PlanFragment) error {
		fc, startErr := f.deps.RootStarter(ctx, root)
		if startErr != nil {
			return startErr
		}
		f.result.deps.fragmentContext = fc
		return nil
	}

	if err := f.deps.Dispatcher.Dispatch(ctx, workUnit, rootStarter, f.handleSubmitResult); err != nil {
		f.failSetup(ctx, "dispatch failed", err)
		return
	}

	f.startTime = time.Now()
	metrics.QueriesRunning.Inc()
	f.moveToState(types.QueryRunning, nil)
	logger.Info().Msg("query running")
}

// failSetup converts a synchronous setup failure into a PENDING→FAILED
// transition, staging and closing the result directly since no
// ForemanResult may exist yet at this point.
func (f *Foreman) failSetup(ctx context.Context, msg string, cause error) {
	setupErr := &ferrors.ForemanSetupError{Message: msg, Cause: cause}

	logger := log.WithComponent("foreman").With().Str("query_id", f.queryID.String()).Logger()
	logger.Error().Err(setupErr).Msg("query setup failed")

	f.mu.Lock()
	if !types.CanTransition(f.state, types.QueryFailed) {
		f.mu.Unlock()
		return
	}
	f.state = types.QueryFailed
	f.mu.Unlock()

	metrics.QueriesTotal.WithLabelValues(string(types.QueryFailed)).Inc()

	if f.result == nil {
		f.result = newForemanResult(resultDeps{
			queryID:        f.queryID,
			bus:            f.deps.Bus,
			persistence:    f.deps.Persistence,
			responseSender: f.deps.ResponseSender,
			lease:          f.lease,
			summary:        f.fragmentSummary,
		})
	}
	f.result.Stage(types.QueryFailed, setupErr)
	f.result.Close(ctx)
}

// fragmentSummary supplies the close-time log line's summary. It reports
// only the query id; per-fragment states are not included.
func (f *Foreman) fragmentSummary() string {
	if f.qm == nil {
		return ""
	}
	return fmt.Sprintf("query=%s", f.queryID)
}

// Cancel requests cancellation. Idempotent: a second call after the first
// has already moved the query to CANCELLATION_REQUESTED (or further) is a
// no-op.
func (f *Foreman) Cancel(ctx context.Context) {
	<-f.acceptExternalEvents
	f.moveToState(types.QueryCancellationRequested, nil)
}

// handleFragmentStatus is the WorkEventBus's FragmentStatusListener for
// this query.
func (f *Foreman) handleFragmentStatus(status types.FragmentStatus) {
	<-f.acceptExternalEvents
	if f.qm == nil {
		return
	}
	f.qm.StatusUpdate(status)
}

// handleSubmitResult is the dispatcher's FragmentSubmitListener: a leaf
// submission failure drives the query straight to FAILED. Intermediate
// submission failures never reach it; Dispatch returns them synchronously.
func (f *Foreman) handleSubmitResult(result dispatch.SubmitResult) {
	<-f.acceptExternalEvents
	if result.Err == nil {
		return
	}
	cause := &ferrors.RpcFailureError{Endpoint: result.Endpoint, Cause: result.Err}
	f.moveToState(types.QueryFailed, cause)
}

// handleAggregate is the QueryManager's StateListener: exactly one call,
// either on the first failed fragment tracker or, absent any failure, the
// moment every fragment tracker has reached a terminal state.
func (f *Foreman) handleAggregate(agg querymanager.Aggregate) {
	<-f.acceptExternalEvents
	f.moveToState(agg.State, agg.Cause)
}

// moveToState is the single synchronized transition point every state
// change in this Foreman passes through.
func (f *Foreman) moveToState(newState types.QueryState, cause error) {
	logger := log.WithComponent("foreman").With().Str("query_id", f.queryID.String()).Logger()

	f.mu.Lock()
	current := f.state
	if current.IsTerminal() {
		f.mu.Unlock()
		logger.Warn().Str("attempted", string(newState)).Str("from", string(current)).
			Msg("ignoring transition attempt out of terminal state")
		return
	}
	if current == newState {
		f.mu.Unlock()
		return
	}
	if !types.CanTransition(current, newState) {
		f.mu.Unlock()
		logger.Error().Str("attempted", string(newState)).Str("from", string(current)).
			Msg("illegal state transition, terminating")
		f.cfg.FatalExit()
		return
	}
	f.state = newState
	f.mu.Unlock()

	logger.Info().Str("from", string(current)).Str("to", string(newState)).Msg("state transition")

	switch newState {
	case types.QueryRunning:
		// no result side effect yet.

	case types.QueryCancellationRequested:
		f.endTime = time.Now()
		if f.result != nil {
			f.result.Stage(types.QueryCanceled, nil)
		}
		if f.qm != nil {
			f.qm.CancelExecutingFragments(context.Background(), f.cancelRoot)
		}

	case types.QueryCompleted:
		f.endTime = time.Now()
		metrics.QueriesRunning.Dec()
		metrics.QueriesTotal.WithLabelValues(string(types.QueryCompleted)).Inc()
		metrics.QueryDuration.WithLabelValues(string(types.QueryCompleted)).Observe(f.duration().Seconds())
		if f.result != nil {
			f.result.Stage(types.QueryCompleted, nil)
			f.result.Close(context.Background())
		}

	case types.QueryFailed:
		f.endTime = time.Now()
		if current == types.QueryRunning || current == types.QueryCancellationRequested {
			metrics.QueriesRunning.Dec()
		}
		metrics.QueriesTotal.WithLabelValues(string(types.QueryFailed)).Inc()
		metrics.QueryDuration.WithLabelValues(string(types.QueryFailed)).Observe(f.duration().Seconds())
		if current != types.QueryCancellationRequested && f.qm != nil {
			f.qm.CancelExecutingFragments(context.Background(), f.cancelRoot)
		}
		if f.result != nil {
			f.result.Stage(types.QueryFailed, cause)
			f.result.Close(context.Background())
		}

	case types.QueryCanceled:
		metrics.QueriesRunning.Dec()
		metrics.QueriesTotal.WithLabelValues(string(types.QueryCanceled)).Inc()
		metrics.QueryDuration.WithLabelValues(string(types.QueryCanceled)).Observe(f.duration().Seconds())
		if f.result != nil {
			f.result.Close(context.Background())
		}
	}

	if f.qm != nil && newState.IsTerminal() {
		f.qm.Close()
	}
}

func (f *Foreman) cancelRoot() {
	if f.result == nil || f.result.deps.fragmentContext == nil {
		return
	}
	// This takes no action on the root fragment: its context is not closed
	// here, only by ForemanResult.Close. The root stops on cancellation
	// only once that close runs.
	_ = f.result.deps.fragmentContext
}

func (f *Foreman) duration() time.Duration {
	if f.startTime.IsZero() {
		return 0
	}
	return f.endTime.Sub(f.startTime)
}
