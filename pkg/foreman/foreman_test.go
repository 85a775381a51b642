package foreman

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/foreman/pkg/admission"
	"github.com/cuemby/foreman/pkg/dispatch"
	"github.com/cuemby/foreman/pkg/eventbus"
	"github.com/cuemby/foreman/pkg/planner"
	"github.com/cuemby/foreman/pkg/rpc"
	"github.com/cuemby/foreman/pkg/types"
)

// fakeResponseSender records every QueryResult SendResult is called with.
type fakeResponseSender struct {
	mu      sync.Mutex
	results []types.QueryResult
}

func (s *fakeResponseSender) SendResult(ctx context.Context, result types.QueryResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

func (s *fakeResponseSender) last() (types.QueryResult, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.results) == 0 {
		return types.QueryResult{}, false
	}
	return s.results[len(s.results)-1], true
}

func (s *fakeResponseSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// fakeCancelController doubles as both dispatch.Controller and
// querymanager.CancelSender, the way GrpcController does in production.
type fakeCancelController struct {
	mu        sync.Mutex
	sendErr   error
	canceled  []types.FragmentHandle
	sendCalls []types.Endpoint
}

func (c *fakeCancelController) SendFragments(ctx context.Context, endpoint types.Endpoint, fragments []*types.PlanFragment) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendCalls = append(c.sendCalls, endpoint)
	return c.sendErr
}

func (c *fakeCancelController) CancelFragment(ctx context.Context, endpoint types.Endpoint, handle types.FragmentHandle) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.canceled = append(c.canceled, handle)
	return nil
}

func (c *fakeCancelController) cancelCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.canceled)
}

// fragmentContextCloser counts how many times Close was invoked.
type fragmentContextCloser struct {
	mu     sync.Mutex
	closed int
}

func (f *fragmentContextCloser) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fragmentContextCloser) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func testEndpoint(name string) types.Endpoint {
	return types.Endpoint{NodeID: name, Address: name + ":31010"}
}

// testSetup bundles the collaborators shared across scenarios.
type testSetup struct {
	queryID  types.QueryId
	bus      *eventbus.WorkEventBus
	ctrl     *fakeCancelController
	sender   *fakeResponseSender
	rootCtx  *fragmentContextCloser
	deps     Deps
	cfg      Config
	fatalHit chan struct{}
}

func newTestSetup(t *testing.T, workUnit *types.QueryWorkUnit, rootStartErr error) *testSetup {
	t.Helper()

	queryID := workUnit.RootFragment.Handle.QueryID
	bus := eventbus.New()
	t.Cleanup(bus.Close)

	ctrl := &fakeCancelController{}
	rootCtx := &fragmentContextCloser{}
	sender := &fakeResponseSender{}
	fatalHit := make(chan struct{}, 1)

	deps := Deps{
		Planner:        &planner.StaticPlanner{WorkUnit: workUnit},
		Admission:      admission.New(types.AdmissionConfig{Enable: false}, admission.NewLocalCoordinator()),
		Dispatcher:     dispatch.New(ctrl, 4),
		Bus:            bus,
		ResponseSender: sender,
		CancelSender:   ctrl,
		RootStarter: func(ctx context.Context, root *types.PlanFragment) (FragmentContext, error) {
			if rootStartErr != nil {
				return nil, rootStartErr
			}
			return rootCtx, nil
		},
	}

	cfg := Config{
		FatalExit: func() {
			select {
			case fatalHit <- struct{}{}:
			default:
			}
		},
		Injector: NopInjector,
	}

	return &testSetup{
		queryID: queryID, bus: bus, ctrl: ctrl, sender: sender,
		rootCtx: rootCtx, deps: deps, cfg: cfg, fatalHit: fatalHit,
	}
}

func TestForeman_HappyPath_RootOnlyQueryCompletes(t *testing.T) {
	queryID := types.NewQueryId()
	workUnit := planner.NewSingleFragmentPlan(queryID, testEndpoint("n1"))
	setup := newTestSetup(t, workUnit, nil)

	f := New(queryID, rpc.RunQuery{Type: rpc.PlanTypeSQL, Plan: "select 1"}, setup.deps, setup.cfg)
	f.Run(context.Background(), []byte("plan"), planner.QueryContext{}, 0)

	require.Equal(t, types.QueryRunning, f.State())

	setup.bus.DeliverStatus(types.FragmentStatus{
		Handle: workUnit.RootFragment.Handle,
		State:  types.FragmentFinished,
	})

	waitFor(t, func() bool { return f.State() == types.QueryCompleted })

	require.Equal(t, 1, setup.sender.count())
	result, ok := setup.sender.last()
	require.True(t, ok)
	assert.Equal(t, types.QueryCompleted, result.State)
	assert.True(t, result.IsLastChunk)
	assert.Empty(t, result.Errors)
	assert.Equal(t, 1, setup.rootCtx.count())
}

func TestForeman_CancellationMidFlight_ReachesCanceledAfterAllTrackersTerminal(t *testing.T) {
	queryID := types.NewQueryId()
	root := &types.PlanFragment{
		Handle:     types.FragmentHandle{QueryID: queryID, MajorFragmentID: 0, MinorFragmentID: 0},
		Assignment: testEndpoint("n1"),
	}
	leaf := &types.PlanFragment{
		Handle:     types.FragmentHandle{QueryID: queryID, MajorFragmentID: 1, MinorFragmentID: 0},
		Assignment: testEndpoint("n2"),
		Leaf:       true,
	}
	workUnit := &types.QueryWorkUnit{RootFragment: root, Fragments: []*types.PlanFragment{leaf}}
	setup := newTestSetup(t, workUnit, nil)

	f := New(queryID, rpc.RunQuery{Type: rpc.PlanTypeSQL, Plan: "select 1"}, setup.deps, setup.cfg)
	f.Run(context.Background(), []byte("plan"), planner.QueryContext{}, 0)
	require.Equal(t, types.QueryRunning, f.State())

	f.Cancel(context.Background())
	waitFor(t, func() bool { return f.State() == types.QueryCancellationRequested })

	waitFor(t, func() bool { return setup.ctrl.cancelCount() == 1 })

	setup.bus.DeliverStatus(types.FragmentStatus{Handle: leaf.Handle, State: types.FragmentCancelled})
	setup.bus.DeliverStatus(types.FragmentStatus{Handle: root.Handle, State: types.FragmentCancelled})

	waitFor(t, func() bool { return f.State() == types.QueryCanceled })

	result, ok := setup.sender.last()
	require.True(t, ok)
	assert.Equal(t, types.QueryCanceled, result.State)
	assert.True(t, result.IsLastChunk)
}

func TestForeman_CancelIsIdempotent(t *testing.T) {
	queryID := types.NewQueryId()
	workUnit := planner.NewSingleFragmentPlan(queryID, testEndpoint("n1"))
	setup := newTestSetup(t, workUnit, nil)

	f := New(queryID, rpc.RunQuery{Type: rpc.PlanTypeSQL, Plan: "select 1"}, setup.deps, setup.cfg)
	f.Run(context.Background(), []byte("plan"), planner.QueryContext{}, 0)

	f.Cancel(context.Background())
	f.Cancel(context.Background())
	waitFor(t, func() bool { return f.State() == types.QueryCancellationRequested })

	assert.Equal(t, types.QueryCancellationRequested, f.State())
}

func TestForeman_PlanningFailure_DrivesPendingToFailed(t *testing.T) {
	queryID := types.NewQueryId()
	bus := eventbus.New()
	t.Cleanup(bus.Close)
	ctrl := &fakeCancelController{}
	sender := &fakeResponseSender{}

	failingPlanner := &planner.StaticPlanner{Err: assertErr("planner exploded")}

	deps := Deps{
		Planner:        failingPlanner,
		Admission:      admission.New(types.AdmissionConfig{Enable: false}, admission.NewLocalCoordinator()),
		Dispatcher:     dispatch.New(ctrl, 4),
		Bus:            bus,
		ResponseSender: sender,
		CancelSender:   ctrl,
		RootStarter: func(ctx context.Context, root *types.PlanFragment) (FragmentContext, error) {
			return &fragmentContextCloser{}, nil
		},
	}

	f := New(queryID, rpc.RunQuery{Type: rpc.PlanTypeSQL, Plan: "select 1"}, deps, DefaultConfig())
	f.Run(context.Background(), []byte("plan"), planner.QueryContext{}, 0)

	assert.Equal(t, types.QueryFailed, f.State())
	result, ok := sender.last()
	require.True(t, ok)
	assert.Equal(t, types.QueryFailed, result.State)
	require.Len(t, result.Errors, 1)
}

func TestForeman_DispatchFailure_DrivesPendingToFailed(t *testing.T) {
	queryID := types.NewQueryId()
	root := &types.PlanFragment{
		Handle:     types.FragmentHandle{QueryID: queryID, MajorFragmentID: 0, MinorFragmentID: 0},
		Assignment: testEndpoint("n1"),
	}
	intermediate := &types.PlanFragment{
		Handle:     types.FragmentHandle{QueryID: queryID, MajorFragmentID: 1, MinorFragmentID: 0},
		Assignment: testEndpoint("n2"),
		Leaf:       false,
	}
	workUnit := &types.QueryWorkUnit{RootFragment: root, Fragments: []*types.PlanFragment{intermediate}}

	bus := eventbus.New()
	t.Cleanup(bus.Close)
	ctrl := &fakeCancelController{sendErr: assertErr("rpc unreachable")}
	sender := &fakeResponseSender{}

	deps := Deps{
		Planner:        &planner.StaticPlanner{WorkUnit: workUnit},
		Admission:      admission.New(types.AdmissionConfig{Enable: false}, admission.NewLocalCoordinator()),
		Dispatcher:     dispatch.New(ctrl, 4),
		Bus:            bus,
		ResponseSender: sender,
		CancelSender:   ctrl,
		RootStarter: func(ctx context.Context, root *types.PlanFragment) (FragmentContext, error) {
			return &fragmentContextCloser{}, nil
		},
	}

	f := New(queryID, rpc.RunQuery{Type: rpc.PlanTypeSQL, Plan: "select 1"}, deps, DefaultConfig())
	f.Run(context.Background(), []byte("plan"), planner.QueryContext{}, 0)

	assert.Equal(t, types.QueryFailed, f.State())
	require.Equal(t, 1, sender.count())
}

func TestForeman_IllegalTransitionFromRunning_CallsFatalExit(t *testing.T) {
	queryID := types.NewQueryId()
	workUnit := planner.NewSingleFragmentPlan(queryID, testEndpoint("n1"))
	setup := newTestSetup(t, workUnit, nil)

	f := New(queryID, rpc.RunQuery{Type: rpc.PlanTypeSQL, Plan: "select 1"}, setup.deps, setup.cfg)
	f.Run(context.Background(), []byte("plan"), planner.QueryContext{}, 0)
	require.Equal(t, types.QueryRunning, f.State())

	f.moveToState(types.QueryPending, nil)

	select {
	case <-setup.fatalHit:
	case <-time.After(time.Second):
		t.Fatal("expected FatalExit to be invoked for an illegal transition")
	}
	assert.Equal(t, types.QueryRunning, f.State())
}

func TestForeman_TransitionOutOfTerminalState_IsIgnored(t *testing.T) {
	queryID := types.NewQueryId()
	workUnit := planner.NewSingleFragmentPlan(queryID, testEndpoint("n1"))
	setup := newTestSetup(t, workUnit, nil)

	f := New(queryID, rpc.RunQuery{Type: rpc.PlanTypeSQL, Plan: "select 1"}, setup.deps, setup.cfg)
	f.Run(context.Background(), []byte("plan"), planner.QueryContext{}, 0)

	setup.bus.DeliverStatus(types.FragmentStatus{
		Handle: workUnit.RootFragment.Handle,
		State:  types.FragmentFinished,
	})
	waitFor(t, func() bool { return f.State() == types.QueryCompleted })

	f.moveToState(types.QueryFailed, nil)

	assert.Equal(t, types.QueryCompleted, f.State())
	assert.Equal(t, 1, setup.sender.count())

	select {
	case <-setup.fatalHit:
		t.Fatal("FatalExit must not fire for a transition attempted out of a terminal state")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestForemanResult_Close_RunsExactlyOnce(t *testing.T) {
	sender := &fakeResponseSender{}
	rootCtx := &fragmentContextCloser{}

	r := newForemanResult(resultDeps{
		queryID:        types.NewQueryId(),
		responseSender: sender,
		fragmentContext: rootCtx,
	})

	r.Stage(types.QueryCompleted, nil)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Close(context.Background())
		}()
	}
	wg.Wait()

	assert.True(t, r.Closed())
	assert.Equal(t, 1, sender.count())
	assert.Equal(t, 1, rootCtx.count())
}

func TestForemanResult_Stage_FailedPromotesOverCanceled(t *testing.T) {
	sender := &fakeResponseSender{}
	r := newForemanResult(resultDeps{queryID: types.NewQueryId(), responseSender: sender})

	r.Stage(types.QueryCanceled, nil)
	r.Stage(types.QueryFailed, assertErr("fragment failed mid-cancellation"))
	r.Close(context.Background())

	result, ok := sender.last()
	require.True(t, ok)
	assert.Equal(t, types.QueryFailed, result.State)
	require.Len(t, result.Errors, 1)
}

// assertErr is a minimal error for test fixtures.
type assertErr string

func (e assertErr) Error() string { return string(e) }
