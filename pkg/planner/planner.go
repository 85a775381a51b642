// Package planner defines the FragmentPlanner collaborator surface: the
// external component that turns a physical plan plus cluster membership
// into a QueryWorkUnit. The planner itself — plan parsing, optimization,
// parallelization — is out of scope for this module; this package only
// defines the seam and a fixture planner used by tests elsewhere in the
// tree.
package planner

import (
	"context"

	"github.com/cuemby/foreman/pkg/types"
)

// QueryContext carries whatever session/transaction state a planner needs;
// its contents are opaque here.
type QueryContext struct {
	DefaultSchema string
	Options       map[string]string
}

// FragmentPlanner produces a QueryWorkUnit from a serialized physical plan.
// Implementations must guarantee the returned work unit's operator tree has
// a single root and that every fragment carries a complete endpoint
// assignment.
type FragmentPlanner interface {
	Plan(ctx context.Context, physicalPlan []byte, queryCtx QueryContext, queryID types.QueryId) (*types.QueryWorkUnit, error)
}
