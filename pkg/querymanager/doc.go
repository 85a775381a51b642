/*
Package querymanager implements per-query fragment tracking: one
QueryManager is created per query, tracks every fragment's last-known
status in an individually-volatile slot, and recomputes the aggregate
outcome under a single lock whenever a tracker turns terminal. It reports
FAILED as soon as any tracker has failed; COMPLETED or CANCELED is
reported only once the last tracker turns terminal.

Aggregation rule: if any fragment failed, the query failed, with the
first-seen failure as the visible cause and later failures discarded (the
Foreman's ForemanResult close path is what actually accumulates suppressed
causes, not this package). Otherwise, if cancellation was requested, the
query is canceled; otherwise it completed normally.

A QueryManager also watches cluster membership for every endpoint it has
assigned fragments to (see pkg/membership) and marks those fragments
FAILED locally the moment their node is reported unreachable, without
waiting on any RPC response that will now never arrive.
*/
package querymanager
