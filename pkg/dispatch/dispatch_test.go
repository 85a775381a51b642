package dispatch

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/foreman/pkg/types"
)

type fakeController struct {
	mu           sync.Mutex
	sent         map[string][]*types.PlanFragment
	failEndpoint string
	cancelled    []types.FragmentHandle
}

func newFakeController() *fakeController {
	return &fakeController{sent: make(map[string][]*types.PlanFragment)}
}

func (f *fakeController) SendFragments(ctx context.Context, endpoint types.Endpoint, fragments []*types.PlanFragment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[endpoint.Address] = fragments
	if endpoint.Address == f.failEndpoint {
		return fmt.Errorf("simulated failure on %s", endpoint.Address)
	}
	return nil
}

func (f *fakeController) CancelFragment(ctx context.Context, endpoint types.Endpoint, handle types.FragmentHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, handle)
	return nil
}

func handleFor(queryID types.QueryId, major, minor int32) types.FragmentHandle {
	return types.FragmentHandle{QueryID: queryID, MajorFragmentID: major, MinorFragmentID: minor}
}

func buildWorkUnit(queryID types.QueryId) *types.QueryWorkUnit {
	root := &types.PlanFragment{Handle: handleFor(queryID, 0, 0), Assignment: types.Endpoint{NodeID: "coordinator", Address: "local"}}
	intermediate := &types.PlanFragment{Handle: handleFor(queryID, 1, 0), Assignment: types.Endpoint{NodeID: "n1", Address: "10.0.0.1:9100"}}
	leaf1 := &types.PlanFragment{Handle: handleFor(queryID, 2, 0), Assignment: types.Endpoint{NodeID: "n2", Address: "10.0.0.2:9100"}, Leaf: true}
	leaf2 := &types.PlanFragment{Handle: handleFor(queryID, 2, 1), Assignment: types.Endpoint{NodeID: "n3", Address: "10.0.0.3:9100"}, Leaf: true}
	return &types.QueryWorkUnit{
		RootFragment: root,
		Fragments:    []*types.PlanFragment{intermediate, leaf1, leaf2},
	}
}

func TestDispatch_HappyPath(t *testing.T) {
	queryID := types.NewQueryId()
	unit := buildWorkUnit(queryID)
	controller := newFakeController()
	d := New(controller, 2)

	var rootCalled bool
	startRoot := func(ctx context.Context, root *types.PlanFragment) error {
		rootCalled = true
		return nil
	}

	results := make(chan SubmitResult, 2)
	err := d.Dispatch(context.Background(), unit, startRoot, func(r SubmitResult) { results <- r })
	require.NoError(t, err)
	assert.True(t, rootCalled)

	assert.Contains(t, controller.sent, "10.0.0.1:9100")

	for i := 0; i < 2; i++ {
		r := <-results
		assert.NoError(t, r.Err)
	}
}

func TestDispatch_RootSetupFailureShortCircuits(t *testing.T) {
	queryID := types.NewQueryId()
	unit := buildWorkUnit(queryID)
	controller := newFakeController()
	d := New(controller, 1)

	startRoot := func(ctx context.Context, root *types.PlanFragment) error {
		return fmt.Errorf("boom")
	}

	err := d.Dispatch(context.Background(), unit, startRoot, func(r SubmitResult) {})
	require.Error(t, err)
	assert.Empty(t, controller.sent)
}

func TestDispatch_IntermediateBarrierFailsSynchronously(t *testing.T) {
	queryID := types.NewQueryId()
	unit := buildWorkUnit(queryID)
	controller := newFakeController()
	controller.failEndpoint = "10.0.0.1:9100"
	d := New(controller, 1)

	startRoot := func(ctx context.Context, root *types.PlanFragment) error { return nil }

	err := d.Dispatch(context.Background(), unit, startRoot, func(r SubmitResult) {})
	require.Error(t, err)
	// leaves must never have been submitted once the intermediate barrier failed.
	assert.NotContains(t, controller.sent, "10.0.0.2:9100")
}

func TestDispatch_LeafFailureReportedAsynchronously(t *testing.T) {
	queryID := types.NewQueryId()
	unit := buildWorkUnit(queryID)
	controller := newFakeController()
	controller.failEndpoint = "10.0.0.2:9100"
	d := New(controller, 2)

	startRoot := func(ctx context.Context, root *types.PlanFragment) error { return nil }

	results := make(chan SubmitResult, 2)
	err := d.Dispatch(context.Background(), unit, startRoot, func(r SubmitResult) { results <- r })
	require.NoError(t, err)

	var sawFailure bool
	for i := 0; i < 2; i++ {
		r := <-results
		if r.Err != nil {
			sawFailure = true
		}
	}
	assert.True(t, sawFailure)
}

func TestWorkerPool_RunsAllSubmittedTasks(t *testing.T) {
	p := NewWorkerPool(3)
	var mu sync.Mutex
	count := 0
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		p.Submit(func() {
			defer wg.Done()
			mu.Lock()
			count++
			mu.Unlock()
		})
	}
	wg.Wait()
	p.Close()
	assert.Equal(t, 10, count)
}
