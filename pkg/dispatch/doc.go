/*
Package dispatch implements the FragmentDispatcher: the component that
walks a types.QueryWorkUnit and gets every fragment running on its
assigned Drillbit in the right order.

Three phases, run in sequence by Dispatch:

 0. Root setup: the root fragment runs locally; RootStarter either submits
    it to the local executor immediately or registers it as a
    pkg/eventbus manager so it starts once its remote inputs arrive.

 1. Intermediate fragments are grouped by endpoint and submitted with a
    barrier: Dispatch does not return from this phase until every
    endpoint has acknowledged (or failed) its batch. This uses a plain
    errgroup.Group rather than errgroup.WithContext deliberately — the
    latter cancels its derived context as soon as any one goroutine
    returns an error, which is the wrong behavior here: a query must
    know the fate of every intermediate fragment before it can decide
    whether execution as a whole succeeded, not abort evaluation at the
    first endpoint that happens to answer with a failure.

 2. Leaf fragments are grouped by endpoint and submitted through a bounded
    WorkerPool without waiting for any response. Results are delivered
    later, asynchronously, via FragmentSubmitListener.

Open question (carried over, not resolved): nothing in this package
invents a timeout for leaf acknowledgement. A leaf fragment that never
reports any status is indistinguishable, from the dispatcher's point of
view, from a leaf fragment that is legitimately slow to start. The
Foreman is expected to rely on an explicit terminal types.FragmentStatus
or a pkg/membership node-down notification to ever learn that a leaf is
not coming back — there is no dispatch-side "haven't heard from you in N
seconds, assume failed" logic, because no value of N is correct for
every query.
*/
package dispatch
