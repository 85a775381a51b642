package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const fragmentControlServiceName = "foreman.rpc.FragmentControl"

// FragmentControlServer is implemented by a coordinator node to receive
// control-tunnel calls from peers dispatching fragments to it.
type FragmentControlServer interface {
	InitializeFragments(ctx context.Context, req *InitializeFragmentsRequest) (*Ack, error)
	CancelFragment(ctx context.Context, req *CancelFragmentRequest) (*Ack, error)
}

// RegisterFragmentControlServer registers srv with s.
func RegisterFragmentControlServer(s *grpc.Server, srv FragmentControlServer) {
	s.RegisterService(&fragmentControlServiceDesc, srv)
}

func fragmentControlInitializeFragmentsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(InitializeFragmentsRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FragmentControlServer).InitializeFragments(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + fragmentControlServiceName + "/InitializeFragments"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FragmentControlServer).InitializeFragments(ctx, req.(*InitializeFragmentsRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func fragmentControlCancelFragmentHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelFragmentRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(FragmentControlServer).CancelFragment(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + fragmentControlServiceName + "/CancelFragment"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(FragmentControlServer).CancelFragment(ctx, req.(*CancelFragmentRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var fragmentControlServiceDesc = grpc.ServiceDesc{
	ServiceName: fragmentControlServiceName,
	HandlerType: (*FragmentControlServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "InitializeFragments", Handler: fragmentControlInitializeFragmentsHandler},
		{MethodName: "CancelFragment", Handler: fragmentControlCancelFragmentHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "foreman/rpc/fragmentcontrol",
}

// FragmentControlClient is the per-endpoint control tunnel the dispatcher
// uses to submit fragments and request cancellation.
type FragmentControlClient interface {
	InitializeFragments(ctx context.Context, req *InitializeFragmentsRequest, opts ...grpc.CallOption) (*Ack, error)
	CancelFragment(ctx context.Context, req *CancelFragmentRequest, opts ...grpc.CallOption) (*Ack, error)
}

type fragmentControlClient struct {
	cc grpc.ClientConnInterface
}

// NewFragmentControlClient builds a client over an established connection.
func NewFragmentControlClient(cc grpc.ClientConnInterface) FragmentControlClient {
	return &fragmentControlClient{cc: cc}
}

func (c *fragmentControlClient) InitializeFragments(ctx context.Context, req *InitializeFragmentsRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/"+fragmentControlServiceName+"/InitializeFragments", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *fragmentControlClient) CancelFragment(ctx context.Context, req *CancelFragmentRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/"+fragmentControlServiceName+"/CancelFragment", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
