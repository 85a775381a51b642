package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const clientGatewayServiceName = "foreman.rpc.ClientGateway"

// ClientGatewayServer is the UserClientConnection surface from the
// client's point of view: submitting a query and requesting cancellation.
type ClientGatewayServer interface {
	SubmitQuery(ctx context.Context, req *SubmitQueryRequest) (*SubmitQueryResponse, error)
	CancelQuery(ctx context.Context, req *CancelQueryRequest) (*Ack, error)
}

// RegisterClientGatewayServer registers srv with s.
func RegisterClientGatewayServer(s *grpc.Server, srv ClientGatewayServer) {
	s.RegisterService(&clientGatewayServiceDesc, srv)
}

func clientGatewaySubmitQueryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(SubmitQueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClientGatewayServer).SubmitQuery(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + clientGatewayServiceName + "/SubmitQuery"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClientGatewayServer).SubmitQuery(ctx, req.(*SubmitQueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func clientGatewayCancelQueryHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CancelQueryRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClientGatewayServer).CancelQuery(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + clientGatewayServiceName + "/CancelQuery"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClientGatewayServer).CancelQuery(ctx, req.(*CancelQueryRequest))
	}
	return interceptor(ctx, in, info, handler)
}

var clientGatewayServiceDesc = grpc.ServiceDesc{
	ServiceName: clientGatewayServiceName,
	HandlerType: (*ClientGatewayServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "SubmitQuery", Handler: clientGatewaySubmitQueryHandler},
		{MethodName: "CancelQuery", Handler: clientGatewayCancelQueryHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "foreman/rpc/clientgateway",
}

// ClientGatewayClient is the stub a CLI or driver uses to talk to a
// coordinator node.
type ClientGatewayClient interface {
	SubmitQuery(ctx context.Context, req *SubmitQueryRequest, opts ...grpc.CallOption) (*SubmitQueryResponse, error)
	CancelQuery(ctx context.Context, req *CancelQueryRequest, opts ...grpc.CallOption) (*Ack, error)
}

type clientGatewayClient struct {
	cc grpc.ClientConnInterface
}

// NewClientGatewayClient builds a client over an established connection.
func NewClientGatewayClient(cc grpc.ClientConnInterface) ClientGatewayClient {
	return &clientGatewayClient{cc: cc}
}

func (c *clientGatewayClient) SubmitQuery(ctx context.Context, req *SubmitQueryRequest, opts ...grpc.CallOption) (*SubmitQueryResponse, error) {
	out := new(SubmitQueryResponse)
	if err := c.cc.Invoke(ctx, "/"+clientGatewayServiceName+"/SubmitQuery", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clientGatewayClient) CancelQuery(ctx context.Context, req *CancelQueryRequest, opts ...grpc.CallOption) (*Ack, error) {
	out := new(Ack)
	if err := c.cc.Invoke(ctx, "/"+clientGatewayServiceName+"/CancelQuery", req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
