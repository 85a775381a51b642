package foreman

import (
	"context"
	"sync"

	"github.com/cuemby/foreman/pkg/admission"
	"github.com/cuemby/foreman/pkg/eventbus"
	"github.com/cuemby/foreman/pkg/log"
	"github.com/cuemby/foreman/pkg/types"
)

// resultDeps bundles the collaborators ForemanResult.close needs to run
// its cleanup sequence. Held separately from Foreman itself so a
// ForemanResult can be constructed and tested without a full Foreman.
type resultDeps struct {
	queryID         types.QueryId
	bus             *eventbus.WorkEventBus
	persistence     PersistentStore
	fragmentContext FragmentContext
	responseSender  ResponseSender
	lease           admission.Lease
	summary         func() string // summary string for the close-time log line
}

// ForemanResult is the single-use "send final response, clean up, release
// lease" object. It is staged once (possibly twice, see Stage) and closed
// exactly once, regardless of how many terminal code paths observe the
// query finishing.
type ForemanResult struct {
	deps resultDeps

	mu          sync.Mutex
	staged      bool
	stagedState types.QueryState
	stagedCause error

	closeOnce sync.Once
	closed    bool
}

func newForemanResult(deps resultDeps) *ForemanResult {
	return &ForemanResult{deps: deps}
}

// Stage records the outcome that close will eventually report. The first
// call wins, with one exception: a later FAILED arrival promotes any
// already-staged non-FAILED outcome (in practice CANCELED), matching the
// CANCELLATION_REQUESTED → FAILED transition, where a genuine fragment
// failure discovered mid-cancellation must still surface as FAILED rather
// than the speculative CANCELED staged when cancellation was requested.
func (r *ForemanResult) Stage(state types.QueryState, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.staged {
		r.staged = true
		r.stagedState = state
		r.stagedCause = cause
		return
	}
	if state == types.QueryFailed && r.stagedState != types.QueryFailed {
		r.stagedState = types.QueryFailed
		r.stagedCause = cause
	}
}

// Close runs the cleanup-and-respond sequence exactly once. Safe to call
// multiple times; only the first call has any effect.
func (r *ForemanResult) Close(ctx context.Context) {
	r.closeOnce.Do(func() {
		r.doClose(ctx)
	})
}

func (r *ForemanResult) doClose(ctx context.Context) {
	logger := log.WithComponent("foreman").With().Str("query_id", r.deps.queryID.String()).Logger()

	r.mu.Lock()
	state := r.stagedState
	cause := r.stagedCause
	r.mu.Unlock()

	var errs multiErr

	// 1. Log current fragment-state summary.
	summary := ""
	if r.deps.summary != nil {
		summary = r.deps.summary()
	}
	logger.Info().Str("final_state", string(state)).Str("fragment_summary", summary).Msg("closing query")

	// 2. Unregister the query's fragment status listener.
	if r.deps.bus != nil {
		r.deps.bus.UnregisterListener(r.deps.queryID)
	}

	// 3. Close the query context.
	if r.deps.fragmentContext != nil {
		if err := r.deps.fragmentContext.Close(); err != nil {
			logger.Warn().Err(err).Msg("closing root fragment context failed")
			errs.Add(err)
			if state != types.QueryFailed {
				state = types.QueryFailed
				if cause == nil {
					cause = err
				}
			}
		}
	}

	// 4. Persist the final state if it differs from what was last recorded.
	// This module does not track the "currently recorded" state separately
	// from the staged one, so it persists unconditionally; pkg/persistence
	// upserts the query's single record on every write.
	if r.deps.persistence != nil {
		if err := r.deps.persistence.RecordTransition(ctx, r.deps.queryID, state); err != nil {
			logger.Warn().Err(err).Msg("persisting final state failed")
			errs.Add(err)
		}
	}

	// 5. Build the final QueryResult.
	result := types.QueryResult{
		QueryID:     r.deps.queryID,
		State:       state,
		IsLastChunk: true,
	}
	if cause != nil {
		result.Errors = []types.DrillPBError{{
			ErrorType: "SYSTEM",
			Message:   cause.Error(),
		}}
	}

	// 6. Attempt to send the result to the client.
	if r.deps.responseSender != nil {
		if err := r.deps.responseSender.SendResult(ctx, result); err != nil {
			logger.Warn().Err(err).Msg("sending final result to client failed")
			errs.Add(err)
		}
	}

	// 7. Release the admission lease.
	admission.Release(r.deps.lease)

	// 8. Mark closed.
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	if err := errs.Err(); err != nil {
		logger.Warn().Err(err).Msg("query close completed with suppressed errors")
	}
}

// Closed reports whether Close has run.
func (r *ForemanResult) Closed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed
}

// State returns the currently staged outcome, for tests and logging.
func (r *ForemanResult) State() (types.QueryState, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.stagedState, r.stagedCause
}
