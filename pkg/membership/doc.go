/*
Package membership provides the default DrillbitStatusListener collaborator
a QueryManager uses to learn that a node carrying one of its fragments has
become unreachable, so it can fail the query instead of waiting forever for
a status update that will never arrive.

There is no cluster consensus layer in this module (see DESIGN.md), so
liveness is determined by direct TCP probing on a fixed interval rather than
by a gossip or Raft membership feed.
*/
package membership
