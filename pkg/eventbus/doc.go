/*
Package eventbus implements the WorkEventBus described in the Foreman
design: the per-node rendezvous between inbound fragment status/control
messages and the in-process fragment managers and query listeners they
belong to.

The recentlyFinished set exists because cancellation races with inbound
data and status messages: after a fragment is torn down, peer nodes may
still send it status updates for a short window. Suppressing those (rather
than surfacing a spurious FragmentSetupError) is the bus's job, not the
caller's.
*/
package eventbus
