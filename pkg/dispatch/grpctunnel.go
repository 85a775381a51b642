package dispatch

import (
	"context"
	"fmt"
	"sync"

	"github.com/cuemby/foreman/pkg/rpc"
	"github.com/cuemby/foreman/pkg/types"
)

// GrpcController is the default Controller: a thin client over pkg/rpc's
// FragmentControl service, with one lazily-dialed connection kept open per
// endpoint address for the lifetime of the controller.
type GrpcController struct {
	mu    sync.Mutex
	conns map[string]*rpc.Conn
}

// NewGrpcController builds a GrpcController with no connections open yet.
func NewGrpcController() *GrpcController {
	return &GrpcController{conns: make(map[string]*rpc.Conn)}
}

// SendFragments batches fragments into a single InitializeFragments RPC.
func (c *GrpcController) SendFragments(ctx context.Context, endpoint types.Endpoint, fragments []*types.PlanFragment) error {
	conn, err := c.connFor(endpoint)
	if err != nil {
		return err
	}

	msgs := make([]*rpc.PlanFragmentMsg, 0, len(fragments))
	for _, f := range fragments {
		msgs = append(msgs, rpc.PlanFragmentToMsg(f))
	}

	ack, err := conn.FragmentControl.InitializeFragments(ctx, &rpc.InitializeFragmentsRequest{Fragments: msgs})
	if err != nil {
		return fmt.Errorf("initialize fragments on %s: %w", endpoint.Address, err)
	}
	if !ack.Accepted {
		return fmt.Errorf("endpoint %s rejected fragments: %s", endpoint.Address, ack.Error)
	}
	return nil
}

// CancelFragment asks endpoint to cancel one fragment.
func (c *GrpcController) CancelFragment(ctx context.Context, endpoint types.Endpoint, handle types.FragmentHandle) error {
	conn, err := c.connFor(endpoint)
	if err != nil {
		return err
	}

	ack, err := conn.FragmentControl.CancelFragment(ctx, &rpc.CancelFragmentRequest{
		QueryID:         handle.QueryID.String(),
		MajorFragmentID: handle.MajorFragmentID,
		MinorFragmentID: handle.MinorFragmentID,
	})
	if err != nil {
		return fmt.Errorf("cancel fragment on %s: %w", endpoint.Address, err)
	}
	if !ack.Accepted {
		return fmt.Errorf("endpoint %s rejected cancellation: %s", endpoint.Address, ack.Error)
	}
	return nil
}

func (c *GrpcController) connFor(endpoint types.Endpoint) (*rpc.Conn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if conn, ok := c.conns[endpoint.Address]; ok {
		return conn, nil
	}
	conn, err := rpc.Dial(endpoint.Address)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint.Address, err)
	}
	c.conns[endpoint.Address] = conn
	return conn, nil
}

// Close tears down every open connection.
func (c *GrpcController) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	var firstErr error
	for addr, conn := range c.conns {
		if err := conn.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("close conn to %s: %w", addr, err)
		}
	}
	c.conns = make(map[string]*rpc.Conn)
	return firstErr
}
