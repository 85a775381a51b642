/*
Package rpc defines the wire messages and gRPC service surfaces the
Foreman coordination core uses to talk to peers and clients:
FragmentControl (InitializeFragments, CancelFragment) and ClientGateway
(SubmitQuery, CancelQuery).

Messages are hand-written Go structs rather than protoc-generated types,
since running protoc is not an option here. Rather than fabricate
generated code, this package registers a JSON grpc/encoding.Codec (see
codec.go) so the real google.golang.org/grpc transport and dialing
machinery (unary calls only; no streaming RPCs) are exercised without depending on a protobuf
toolchain run. google.golang.org/protobuf/types/known/timestamppb is still
used for fragment status timestamps, since that type needs no code
generation to use.
*/
package rpc
