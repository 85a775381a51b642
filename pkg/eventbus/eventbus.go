// Package eventbus implements the node-local WorkEventBus: the rendezvous
// point between inbound control/status RPCs and the in-process fragment
// managers and query listeners they target.
package eventbus

import (
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru"

	"github.com/cuemby/foreman/pkg/ferrors"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/types"
)

// FragmentManager is the in-process collaborator a WorkEventBus registers
// per fragment handle and returns from LookupManager. Its concrete
// implementation lives in the fragment executor, which is out of scope
// for this module; dispatch and tests use small fakes satisfying this
// interface.
type FragmentManager interface {
	// HandleStatus receives status updates for this fragment's handle from
	// whoever holds the manager. The bus itself never calls it: DeliverStatus
	// routes updates to the query's FragmentStatusListener instead.
	HandleStatus(status types.FragmentStatus)
}

// FragmentStatusListener receives every status update for one query.
type FragmentStatusListener func(status types.FragmentStatus)

const (
	recentlyFinishedCapacity = 10000
	recentlyFinishedTTL      = 10 * time.Minute
	sweepInterval            = time.Minute
)

// WorkEventBus is the single node-local registry of live fragment managers
// and per-query status listeners.
type WorkEventBus struct {
	managers sync.Map // types.FragmentHandle -> FragmentManager

	listenersMu sync.Mutex
	listeners   map[types.QueryId]FragmentStatusListener

	recentlyFinished   *lru.Cache // types.FragmentHandle -> time.Time (expiry)
	recentlyFinishedMu sync.Mutex

	stopCh chan struct{}
	once   sync.Once
}

// New builds a WorkEventBus and starts its recently-finished sweeper.
func New() *WorkEventBus {
	cache, err := lru.New(recentlyFinishedCapacity)
	if err != nil {
		// Only returns an error for a non-positive size, which never
		// happens here.
		panic(err)
	}
	bus := &WorkEventBus{
		listeners:        make(map[types.QueryId]FragmentStatusListener),
		recentlyFinished: cache,
		stopCh:           make(chan struct{}),
	}
	go bus.sweep()
	return bus
}

// Close stops the background sweeper. Safe to call more than once.
func (b *WorkEventBus) Close() {
	b.once.Do(func() { close(b.stopCh) })
}

func (b *WorkEventBus) sweep() {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-b.stopCh:
			return
		case <-ticker.C:
			b.sweepExpired()
		}
	}
}

func (b *WorkEventBus) sweepExpired() {
	b.recentlyFinishedMu.Lock()
	defer b.recentlyFinishedMu.Unlock()

	now := time.Now()
	for _, key := range b.recentlyFinished.Keys() {
		v, ok := b.recentlyFinished.Peek(key)
		if !ok {
			continue
		}
		if expiry, ok := v.(time.Time); ok && now.After(expiry) {
			b.recentlyFinished.Remove(key)
		}
	}
}

// RegisterListener registers listener for queryID. Fails with
// *ferrors.DuplicateListenerError if one is already registered.
func (b *WorkEventBus) RegisterListener(queryID types.QueryId, listener FragmentStatusListener) error {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()

	if _, exists := b.listeners[queryID]; exists {
		return &ferrors.DuplicateListenerError{QueryID: queryID}
	}
	b.listeners[queryID] = listener
	return nil
}

// UnregisterListener removes the listener for queryID. Idempotent.
func (b *WorkEventBus) UnregisterListener(queryID types.QueryId) {
	b.listenersMu.Lock()
	defer b.listenersMu.Unlock()
	delete(b.listeners, queryID)
}

// DeliverStatus looks up the listener for status's query and invokes it
// synchronously. If no listener is registered the status is logged and
// dropped — this is the expected path for a late message arriving after a
// query has already completed.
func (b *WorkEventBus) DeliverStatus(status types.FragmentStatus) {
	b.listenersMu.Lock()
	listener, ok := b.listeners[status.Handle.QueryID]
	b.listenersMu.Unlock()

	if !ok {
		logger := log.WithComponent("eventbus")
		logger.Warn().
			Str("fragment_handle", status.Handle.String()).
			Msg("dropping status update: no listener registered for query")
		return
	}
	listener(status)
}

// RegisterManager registers manager under handle. Fails with
// *ferrors.DuplicateManagerError if already registered.
func (b *WorkEventBus) RegisterManager(handle types.FragmentHandle, manager FragmentManager) error {
	if _, loaded := b.managers.LoadOrStore(handle, manager); loaded {
		return &ferrors.DuplicateManagerError{Handle: handle}
	}
	return nil
}

// LookupManagerOptional returns the manager registered for handle, or
// (nil, false) if none is registered. It never fails.
func (b *WorkEventBus) LookupManagerOptional(handle types.FragmentHandle) (FragmentManager, bool) {
	v, ok := b.managers.Load(handle)
	if !ok {
		return nil, false
	}
	return v.(FragmentManager), true
}

// LookupManager returns the manager registered for handle. If handle was
// recently finished, it returns (nil, nil) — the caller must silently
// discard the message. If handle is neither registered nor recently
// finished, it fails with *ferrors.FragmentSetupError: since non-leaf
// fragments are always set up before leaves are dispatched, an unknown
// handle at this point is a protocol violation, not a race.
func (b *WorkEventBus) LookupManager(handle types.FragmentHandle) (FragmentManager, error) {
	if manager, ok := b.LookupManagerOptional(handle); ok {
		return manager, nil
	}

	b.recentlyFinishedMu.Lock()
	_, recent := b.recentlyFinished.Get(handle)
	b.recentlyFinishedMu.Unlock()
	if recent {
		return nil, nil
	}

	return nil, &ferrors.FragmentSetupError{
		Handle:  handle,
		Message: "non-leaf fragments are sent first, so the manager must be present by now",
	}
}

// RemoveManager atomically marks handle as recently finished and removes it
// from the live registry. The insert-before-remove order is required so a
// concurrent LookupManager cannot observe the absence of handle in both
// places at once and wrongly conclude setup never happened.
func (b *WorkEventBus) RemoveManager(handle types.FragmentHandle) {
	b.recentlyFinishedMu.Lock()
	b.recentlyFinished.Add(handle, time.Now().Add(recentlyFinishedTTL))
	b.recentlyFinishedMu.Unlock()

	b.managers.Delete(handle)
}
