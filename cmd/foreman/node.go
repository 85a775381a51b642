package main

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/foreman/pkg/admission"
	"github.com/cuemby/foreman/pkg/config"
	"github.com/cuemby/foreman/pkg/dispatch"
	"github.com/cuemby/foreman/pkg/eventbus"
	"github.com/cuemby/foreman/pkg/foreman"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/membership"
	"github.com/cuemby/foreman/pkg/metrics"
	"github.com/cuemby/foreman/pkg/persistence"
	"github.com/cuemby/foreman/pkg/planner"
	"github.com/cuemby/foreman/pkg/rpc"
	"github.com/cuemby/foreman/pkg/types"
)

// node wires every collaborator a coordinator needs into one process and
// exposes the FragmentControl/ClientGateway gRPC surfaces over it.
type node struct {
	self types.Endpoint
	cfg  config.Config

	bus        *eventbus.WorkEventBus
	admission  *admission.Controller
	dispatcher *dispatch.Dispatcher
	controller *dispatch.GrpcController
	membership *membership.DrillbitStatusListener
	store      *persistence.BoltStore

	mu       sync.Mutex
	foremans map[types.QueryId]*foreman.Foreman
}

func newNode(self types.Endpoint, cfg config.Config) (*node, error) {
	store, err := persistence.NewBoltStore(cfg.DataDir)
	if err != nil {
		metrics.MarkSubsystemReady("persistence", false, err.Error())
		return nil, fmt.Errorf("open persistence store: %w", err)
	}
	metrics.MarkSubsystemReady("persistence", true, "bolt store opened at "+cfg.DataDir)

	controller := dispatch.NewGrpcController()
	bus := eventbus.New()
	metrics.MarkSubsystemReady("eventbus", true, "sweeper running")

	n := &node{
		self:       self,
		cfg:        cfg,
		bus:        bus,
		admission:  admission.New(cfg.Admission, admission.NewLocalCoordinator()),
		dispatcher: dispatch.New(controller, cfg.LeafConcurrency),
		controller: controller,
		membership: membership.NewDrillbitStatusListener(nil, membership.DefaultConfig()),
		store:      store,
		foremans:   make(map[types.QueryId]*foreman.Foreman),
	}
	return n, nil
}

func (n *node) Close() error {
	metrics.MarkSubsystemReady("eventbus", false, "shut down")
	metrics.MarkSubsystemReady("persistence", false, "shut down")
	n.membership.Stop()
	n.bus.Close()
	if err := n.controller.Close(); err != nil {
		return err
	}
	return n.store.Close()
}

// loggingResponseSender logs the final QueryResult and removes the
// Foreman from the node's live-query table; a production
// UserClientConnection would instead stream the result back over the
// client's original RPC, which is out of scope here.
type loggingResponseSender struct {
	n       *node
	queryID types.QueryId
}

func (s *loggingResponseSender) SendResult(ctx context.Context, result types.QueryResult) error {
	logger := log.WithComponent("clientgateway").With().Str("query_id", result.QueryID.String()).Logger()
	event := logger.Info()
	if len(result.Errors) > 0 {
		event = logger.Warn()
	}
	event.Str("state", string(result.State)).Bool("is_last_chunk", result.IsLastChunk).Msg("query result")

	s.n.mu.Lock()
	delete(s.n.foremans, s.queryID)
	s.n.mu.Unlock()
	return nil
}

// noopFragmentContext stands in for the root fragment's real execution
// context; tearing it down is a no-op since nothing in this module
// allocates memory or opens buffers on its behalf (fragment execution is
// out of scope).
type noopFragmentContext struct{}

func (noopFragmentContext) Close() error { return nil }

// inlineExecutorPool runs submitted tasks on a fresh goroutine, the way a
// real executor pool would hand work to a worker immediately rather than
// queue it; sizing and backpressure belong to the out-of-scope executor.
type inlineExecutorPool struct{}

func (inlineExecutorPool) Submit(task func()) { go task() }

// submitQuery plans (via a fixture planner — planning is out of scope,
// see pkg/planner), admits, and dispatches a new query, returning its
// assigned id immediately. The Foreman continues running asynchronously;
// its final result is reported through loggingResponseSender.
func (n *node) submitQuery(ctx context.Context, query rpc.RunQuery) types.QueryId {
	queryID := types.NewQueryId()

	workUnit := planner.NewSingleFragmentPlan(queryID, n.self)
	staticPlanner := &planner.StaticPlanner{WorkUnit: workUnit}

	deps := foreman.Deps{
		Planner:        staticPlanner,
		Admission:      n.admission,
		Dispatcher:     n.dispatcher,
		Bus:            n.bus,
		Membership:     n.membership,
		Persistence:    n.store,
		ResponseSender: &loggingResponseSender{n: n, queryID: queryID},
		ExecutorPool:   inlineExecutorPool{},
		CancelSender:   n.controller,
		RootStarter: func(ctx context.Context, root *types.PlanFragment) (foreman.FragmentContext, error) {
			// The root fragment has no remote inputs in the fixture
			// single-fragment plan, so it is submitted immediately; its
			// completion is reported the same way a remote fragment's
			// would be, through the WorkEventBus, rather than through a
			// back channel into the Foreman.
			inlineExecutorPool{}.Submit(func() {
				n.bus.DeliverStatus(types.FragmentStatus{
					Handle: root.Handle,
					State:  types.FragmentFinished,
				})
			})
			return noopFragmentContext{}, nil
		},
	}

	f := foreman.New(queryID, query, deps, foreman.DefaultConfig())

	n.mu.Lock()
	n.foremans[queryID] = f
	n.mu.Unlock()

	go f.Run(ctx, []byte(query.Plan), planner.QueryContext{}, 0)

	return queryID
}

func (n *node) cancelQuery(ctx context.Context, queryID types.QueryId) error {
	n.mu.Lock()
	f, ok := n.foremans[queryID]
	n.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown query %s", queryID)
	}
	f.Cancel(ctx)
	return nil
}

// gatewayServer adapts node to the rpc.FragmentControlServer and
// rpc.ClientGatewayServer interfaces pkg/rpc.Server requires.
type gatewayServer struct {
	n *node
}

func (g *gatewayServer) SubmitQuery(ctx context.Context, req *rpc.SubmitQueryRequest) (*rpc.SubmitQueryResponse, error) {
	queryID := g.n.submitQuery(ctx, req.Query)
	return &rpc.SubmitQueryResponse{QueryID: queryID.String()}, nil
}

func (g *gatewayServer) CancelQuery(ctx context.Context, req *rpc.CancelQueryRequest) (*rpc.Ack, error) {
	queryID, err := types.ParseQueryId(req.QueryID)
	if err != nil {
		return &rpc.Ack{Accepted: false, Error: err.Error()}, nil
	}
	if err := g.n.cancelQuery(ctx, queryID); err != nil {
		return &rpc.Ack{Accepted: false, Error: err.Error()}, nil
	}
	return &rpc.Ack{Accepted: true}, nil
}

// InitializeFragments receives a batch of fragments this node has been
// assigned by a peer coordinator's dispatcher. Registering a trivial
// FragmentManager is enough to satisfy the WorkEventBus's registration
// invariant (pkg/eventbus); running the fragment is out of scope.
func (g *gatewayServer) InitializeFragments(ctx context.Context, req *rpc.InitializeFragmentsRequest) (*rpc.Ack, error) {
	logger := log.WithComponent("fragmentcontrol")
	for _, msg := range req.Fragments {
		frag, err := msg.ToPlanFragment()
		if err != nil {
			return &rpc.Ack{Accepted: false, Error: err.Error()}, nil
		}
		if err := g.n.bus.RegisterManager(frag.Handle, noopFragmentManager{}); err != nil {
			logger.Warn().Err(err).Str("fragment", frag.Handle.String()).Msg("duplicate fragment registration")
			return &rpc.Ack{Accepted: false, Error: err.Error()}, nil
		}
	}
	return &rpc.Ack{Accepted: true}, nil
}

// CancelFragment tears down a locally-registered fragment manager,
// mirroring the insert-before-remove ordering pkg/eventbus.RemoveManager
// enforces.
func (g *gatewayServer) CancelFragment(ctx context.Context, req *rpc.CancelFragmentRequest) (*rpc.Ack, error) {
	queryID, err := types.ParseQueryId(req.QueryID)
	if err != nil {
		return &rpc.Ack{Accepted: false, Error: err.Error()}, nil
	}
	handle := types.FragmentHandle{QueryID: queryID, MajorFragmentID: req.MajorFragmentID, MinorFragmentID: req.MinorFragmentID}
	g.n.bus.RemoveManager(handle)
	return &rpc.Ack{Accepted: true}, nil
}

type noopFragmentManager struct{}

func (noopFragmentManager) HandleStatus(status types.FragmentStatus) {}
