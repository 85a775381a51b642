package rpc

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/cuemby/foreman/pkg/log"
)

// Server bundles the FragmentControl and ClientGateway surfaces a
// coordinator node exposes into one grpc.Server. It carries no transport
// security: a full mTLS certificate lifecycle is out of scope for this
// module (see DESIGN.md), so every connection uses insecure transport
// credentials.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
}

// NewServer builds a Server bound to addr, with srv registered as both the
// FragmentControl and ClientGateway implementation.
func NewServer(addr string, srv interface {
	FragmentControlServer
	ClientGatewayServer
}) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", addr, err)
	}

	grpcServer := grpc.NewServer(grpc.Creds(insecure.NewCredentials()))
	RegisterFragmentControlServer(grpcServer, srv)
	RegisterClientGatewayServer(grpcServer, srv)

	return &Server{grpcServer: grpcServer, listener: lis}, nil
}

// Addr returns the address the server is bound to.
func (s *Server) Addr() string {
	return s.listener.Addr().String()
}

// Serve blocks, accepting connections until Stop is called.
func (s *Server) Serve() error {
	logger := log.WithComponent("rpc")
	logger.Info().Str("addr", s.Addr()).Msg("rpc server listening")
	return s.grpcServer.Serve(s.listener)
}

// Stop gracefully stops the server, waiting for in-flight RPCs to finish.
func (s *Server) Stop() {
	s.grpcServer.GracefulStop()
}
