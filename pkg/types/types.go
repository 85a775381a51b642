package types

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// QueryId is an opaque, globally unique identifier for one query.
type QueryId struct {
	hi uint64
	lo uint64
}

// NewQueryId generates a fresh, globally unique QueryId.
func NewQueryId() QueryId {
	id := uuid.New()
	var hi, lo uint64
	for i := 0; i < 8; i++ {
		hi = hi<<8 | uint64(id[i])
	}
	for i := 8; i < 16; i++ {
		lo = lo<<8 | uint64(id[i])
	}
	return QueryId{hi: hi, lo: lo}
}

// ParseQueryId rebuilds a QueryId from its hex representation.
func ParseQueryId(s string) (QueryId, error) {
	var hi, lo uint64
	if _, err := fmt.Sscanf(s, "%016x%016x", &hi, &lo); err != nil {
		return QueryId{}, fmt.Errorf("invalid query id %q: %w", s, err)
	}
	return QueryId{hi: hi, lo: lo}, nil
}

// String returns the hex representation used in logs and map keys.
func (q QueryId) String() string {
	return fmt.Sprintf("%016x%016x", q.hi, q.lo)
}

// IsZero reports whether this is the unset QueryId value.
func (q QueryId) IsZero() bool {
	return q.hi == 0 && q.lo == 0
}

// Endpoint identifies a cluster node's network identity.
type Endpoint struct {
	NodeID  string
	Address string
}

func (e Endpoint) String() string {
	return fmt.Sprintf("%s(%s)", e.NodeID, e.Address)
}

// FragmentHandle identifies one fragment instance of one query. Equality is
// by all three fields.
type FragmentHandle struct {
	QueryID         QueryId
	MajorFragmentID int32
	MinorFragmentID int32
}

// Equal reports whether two handles identify the same fragment instance.
func (h FragmentHandle) Equal(other FragmentHandle) bool {
	return h.QueryID == other.QueryID &&
		h.MajorFragmentID == other.MajorFragmentID &&
		h.MinorFragmentID == other.MinorFragmentID
}

// String renders the handle as "<queryIdHex>:<majorId>:<minorId>", the
// canonical format for logs and map keys.
func (h FragmentHandle) String() string {
	return fmt.Sprintf("%s:%d:%d", h.QueryID, h.MajorFragmentID, h.MinorFragmentID)
}

// PlanFragment is one assignment of a serialized operator subtree to a
// target endpoint.
type PlanFragment struct {
	Handle     FragmentHandle
	Assignment Endpoint
	Leaf       bool

	// OperatorTree is the serialized physical operator subtree; its
	// contents are opaque to this package (see pkg/planner).
	OperatorTree []byte

	MemInitialBytes int64
	MemMaxBytes     int64

	// QueryStartTime and QueryTimeZone are carried from the originating
	// query so every fragment agrees on "now" regardless of when it is
	// actually scheduled.
	QueryStartTime time.Time
	QueryTimeZone  string

	Options map[string]string
}

// IsRoot reports whether this fragment's handle identifies the root
// fragment (major fragment id 0, by the planner's assignment convention).
func (p *PlanFragment) IsRoot() bool {
	return p.Handle.MajorFragmentID == 0
}

// QueryWorkUnit is the planner's output: one root fragment plus the set of
// non-root fragments that make up the rest of the distributed plan.
type QueryWorkUnit struct {
	RootFragment *PlanFragment
	RootOperator []byte
	Fragments    []*PlanFragment
}

// Validate checks that the root fragment's handle belongs to the given
// query.
func (u *QueryWorkUnit) Validate(queryID QueryId) error {
	if u.RootFragment == nil {
		return fmt.Errorf("query work unit has no root fragment")
	}
	if u.RootFragment.Handle.QueryID != queryID {
		return fmt.Errorf("root fragment query id %s does not match query %s",
			u.RootFragment.Handle.QueryID, queryID)
	}
	return nil
}

// Intermediates returns the non-leaf fragments in Fragments.
func (u *QueryWorkUnit) Intermediates() []*PlanFragment {
	var out []*PlanFragment
	for _, f := range u.Fragments {
		if !f.Leaf {
			out = append(out, f)
		}
	}
	return out
}

// Leaves returns the leaf fragments in Fragments.
func (u *QueryWorkUnit) Leaves() []*PlanFragment {
	var out []*PlanFragment
	for _, f := range u.Fragments {
		if f.Leaf {
			out = append(out, f)
		}
	}
	return out
}

// QueryState is the Foreman's per-query lifecycle state.
type QueryState string

const (
	QueryPending               QueryState = "PENDING"
	QueryRunning               QueryState = "RUNNING"
	QueryCancellationRequested QueryState = "CANCELLATION_REQUESTED"
	QueryCanceled              QueryState = "CANCELED"
	QueryCompleted             QueryState = "COMPLETED"
	QueryFailed                QueryState = "FAILED"
)

// IsTerminal reports whether the state is one of the three terminal states.
func (s QueryState) IsTerminal() bool {
	switch s {
	case QueryCanceled, QueryCompleted, QueryFailed:
		return true
	default:
		return false
	}
}

// legalTransitions enumerates every (from, to) pair the Foreman state
// machine permits. Anything not listed here is illegal.
var legalTransitions = map[QueryState]map[QueryState]bool{
	QueryPending: {
		QueryRunning: true,
		QueryFailed:  true, // setup failure before the query ever starts running
	},
	QueryRunning: {
		QueryCancellationRequested: true,
		QueryCompleted:             true,
		QueryFailed:                true,
	},
	QueryCancellationRequested: {
		QueryCanceled:  true,
		QueryCompleted: true,
		QueryFailed:    true,
	},
}

// CanTransition reports whether moving from "from" to "to" is legal.
func CanTransition(from, to QueryState) bool {
	if from.IsTerminal() {
		return false
	}
	return legalTransitions[from][to]
}

// FragmentState is the last-known lifecycle state of one fragment, as
// reported by status updates.
type FragmentState string

const (
	FragmentSubmitted FragmentState = "SUBMITTED"
	FragmentRunning   FragmentState = "RUNNING"
	FragmentFinished  FragmentState = "FINISHED"
	FragmentFailed    FragmentState = "FAILED"
	FragmentCancelled FragmentState = "CANCELLED"
)

// IsTerminal reports whether the fragment has reached a terminal state.
func (s FragmentState) IsTerminal() bool {
	switch s {
	case FragmentFinished, FragmentFailed, FragmentCancelled:
		return true
	default:
		return false
	}
}

// FragmentProfile carries lightweight progress counters for a fragment.
type FragmentProfile struct {
	RecordsProcessed int64
	BatchesProcessed int64
	MemoryUsedBytes  int64
}

// FragmentStatus is the last reported progress or terminal state of one
// fragment.
type FragmentStatus struct {
	Handle     FragmentHandle
	State      FragmentState
	Profile    FragmentProfile
	Err        error
	ReportedAt time.Time
}

// DrillPBError is the user-visible error embedded in a QueryResult.
type DrillPBError struct {
	ErrorType string
	Message   string
	Cause     string
}

// QueryResult is the final message delivered to the submitting client.
type QueryResult struct {
	QueryID     QueryId
	State       QueryState
	IsLastChunk bool
	Errors      []DrillPBError
}

// AdmissionConfig holds the exec.queue.* configuration knobs.
type AdmissionConfig struct {
	Enable        bool
	ThresholdCost int64
	SmallQueueCap int64
	LargeQueueCap int64
	QueueTimeout  time.Duration
}

// PlannerConfig holds the planner.* configuration knobs.
type PlannerConfig struct {
	MaxWidthPerNode          int64
	MaxQueryMemoryPerNodeMiB int64
}
