package querymanager

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuemby/foreman/pkg/membership"
	"github.com/cuemby/foreman/pkg/types"
)

type fakeCancelSender struct {
	mu      sync.Mutex
	calls   []types.FragmentHandle
	failFor types.FragmentHandle
}

func (f *fakeCancelSender) CancelFragment(ctx context.Context, endpoint types.Endpoint, handle types.FragmentHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, handle)
	if handle.Equal(f.failFor) {
		return assert.AnError
	}
	return nil
}

func newTestFragment(queryID types.QueryId, major int32, addr string) *types.PlanFragment {
	return &types.PlanFragment{
		Handle:     types.FragmentHandle{QueryID: queryID, MajorFragmentID: major, MinorFragmentID: 0},
		Assignment: types.Endpoint{NodeID: addr, Address: addr},
	}
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
	require.Fail(t, "condition never became true")
}

func TestQueryManager_AllCompleteFiresCompleted(t *testing.T) {
	queryID := types.NewQueryId()
	root := newTestFragment(queryID, 0, "coordinator")
	leaf := newTestFragment(queryID, 1, "n1:9100")

	var fired Aggregate
	var mu sync.Mutex
	listener := func(a Aggregate) {
		mu.Lock()
		defer mu.Unlock()
		fired = a
	}

	qm := New(queryID, listener, &fakeCancelSender{}, nil)
	qm.AddFragmentStatusTracker(root, true)
	qm.AddFragmentStatusTracker(leaf, false)

	qm.StatusUpdate(types.FragmentStatus{Handle: root.Handle, State: types.FragmentFinished})
	qm.StatusUpdate(types.FragmentStatus{Handle: leaf.Handle, State: types.FragmentFinished})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, types.QueryCompleted, fired.State)
}

func TestQueryManager_AnyFailedFiresFailed(t *testing.T) {
	queryID := types.NewQueryId()
	root := newTestFragment(queryID, 0, "coordinator")
	leaf := newTestFragment(queryID, 1, "n1:9100")

	var fired Aggregate
	var mu sync.Mutex
	listener := func(a Aggregate) {
		mu.Lock()
		defer mu.Unlock()
		fired = a
	}

	qm := New(queryID, listener, &fakeCancelSender{}, nil)
	qm.AddFragmentStatusTracker(root, true)
	qm.AddFragmentStatusTracker(leaf, false)

	qm.StatusUpdate(types.FragmentStatus{Handle: root.Handle, State: types.FragmentFinished})
	qm.StatusUpdate(types.FragmentStatus{Handle: leaf.Handle, State: types.FragmentFailed, Err: assert.AnError})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, types.QueryFailed, fired.State)
	assert.Error(t, fired.Cause)
}

func TestQueryManager_FiresExactlyOnce(t *testing.T) {
	queryID := types.NewQueryId()
	root := newTestFragment(queryID, 0, "coordinator")

	var fireCount int
	var mu sync.Mutex
	listener := func(a Aggregate) {
		mu.Lock()
		defer mu.Unlock()
		fireCount++
	}

	qm := New(queryID, listener, &fakeCancelSender{}, nil)
	qm.AddFragmentStatusTracker(root, true)

	qm.StatusUpdate(types.FragmentStatus{Handle: root.Handle, State: types.FragmentFinished})
	qm.StatusUpdate(types.FragmentStatus{Handle: root.Handle, State: types.FragmentFinished})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, fireCount)
}

func TestQueryManager_CancellationRequestedFiresCanceled(t *testing.T) {
	queryID := types.NewQueryId()
	root := newTestFragment(queryID, 0, "coordinator")
	leaf := newTestFragment(queryID, 1, "n1:9100")

	var fired Aggregate
	var mu sync.Mutex
	listener := func(a Aggregate) {
		mu.Lock()
		defer mu.Unlock()
		fired = a
	}

	sender := &fakeCancelSender{}
	qm := New(queryID, listener, sender, nil)
	qm.AddFragmentStatusTracker(root, true)
	qm.AddFragmentStatusTracker(leaf, false)

	var rootCancelled bool
	qm.CancelExecutingFragments(context.Background(), func() { rootCancelled = true })
	assert.True(t, rootCancelled)

	qm.StatusUpdate(types.FragmentStatus{Handle: root.Handle, State: types.FragmentFinished})
	qm.StatusUpdate(types.FragmentStatus{Handle: leaf.Handle, State: types.FragmentCancelled})

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, types.QueryCanceled, fired.State)

	waitFor(t, func() bool {
		sender.mu.Lock()
		defer sender.mu.Unlock()
		return len(sender.calls) == 1
	})
}

func TestQueryManager_NodeDownMarksFragmentsFailed(t *testing.T) {
	queryID := types.NewQueryId()
	root := newTestFragment(queryID, 0, "coordinator")
	leaf := newTestFragment(queryID, 1, "n1:9100")

	var fired Aggregate
	var mu sync.Mutex
	listener := func(a Aggregate) {
		mu.Lock()
		defer mu.Unlock()
		fired = a
	}

	ml := membership.NewDrillbitStatusListener(nil, membership.DefaultConfig())
	qm := New(queryID, listener, &fakeCancelSender{}, ml)
	qm.AddFragmentStatusTracker(root, true)
	qm.AddFragmentStatusTracker(leaf, false)

	qm.StatusUpdate(types.FragmentStatus{Handle: root.Handle, State: types.FragmentFinished})
	qm.handleNodeDown(leaf.Assignment)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, types.QueryFailed, fired.State)
	require.Error(t, fired.Cause)
}

func TestQueryManager_Close_UnwatchesEndpoints(t *testing.T) {
	queryID := types.NewQueryId()
	leaf := newTestFragment(queryID, 1, "n1:9100")

	ml := membership.NewDrillbitStatusListener(nil, membership.DefaultConfig())
	qm := New(queryID, func(Aggregate) {}, &fakeCancelSender{}, ml)
	qm.AddFragmentStatusTracker(leaf, false)

	qm.Close()
	// Unwatch is idempotent and safe even if the handle was already removed.
	qm.Close()
}
