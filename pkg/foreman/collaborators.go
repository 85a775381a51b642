package foreman

import (
	"context"

	"github.com/cuemby/foreman/pkg/types"
)

// ResponseSender delivers the final QueryResult to the client that
// submitted the query. It is the Foreman-facing slice of the
// UserClientConnection collaborator; everything else about that
// connection (session state, intermediate result batches) is out of
// scope here.
type ResponseSender interface {
	SendResult(ctx context.Context, result types.QueryResult) error
}

// ExecutorPool schedules the root fragment's executor. Construction and
// the executor's internals are out of scope for this module.
type ExecutorPool interface {
	Submit(task func())
}

// FragmentContext is the root fragment's execution context collaborator.
// The core only needs to be able to tear it down during ForemanResult
// cleanup; everything else about it (operator tree execution, incoming
// batch buffering) is out of scope.
type FragmentContext interface {
	Close() error
}

// PersistentStore records query state transitions on a best-effort basis.
// A failure here is logged and suppressed; it never changes the outcome
// visible to the client.
type PersistentStore interface {
	RecordTransition(ctx context.Context, queryID types.QueryId, state types.QueryState) error
}
