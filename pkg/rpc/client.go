package rpc

import (
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// Conn wraps a grpc.ClientConn dialed against a coordinator node, with
// both service clients ready to use. Every call defaults to the json
// content-subtype this package's servers are registered under.
type Conn struct {
	cc *grpc.ClientConn

	FragmentControl FragmentControlClient
	ClientGateway   ClientGatewayClient
}

// Dial connects to a coordinator at addr.
func Dial(addr string) (*Conn, error) {
	cc, err := grpc.NewClient(addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.CallContentSubtype(CodecName)),
	)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", addr, err)
	}

	return &Conn{
		cc:              cc,
		FragmentControl: NewFragmentControlClient(cc),
		ClientGateway:   NewClientGatewayClient(cc),
	}, nil
}

// Close tears down the underlying connection.
func (c *Conn) Close() error {
	return c.cc.Close()
}
