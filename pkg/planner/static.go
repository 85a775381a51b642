package planner

import (
	"context"

	"github.com/cuemby/foreman/pkg/types"
)

// StaticPlanner is a FragmentPlanner test fixture that always returns a
// fixed QueryWorkUnit regardless of input. It is not a production planner;
// it exists so pkg/foreman tests, test/integration scenarios and the
// cmd/foreman node can exercise the coordinator without a real SQL planner.
type StaticPlanner struct {
	WorkUnit *types.QueryWorkUnit
	Err      error
}

// Plan implements FragmentPlanner.
func (p *StaticPlanner) Plan(ctx context.Context, physicalPlan []byte, queryCtx QueryContext, queryID types.QueryId) (*types.QueryWorkUnit, error) {
	if p.Err != nil {
		return nil, p.Err
	}
	return p.WorkUnit, nil
}

// NewSingleFragmentPlan builds a minimal work unit: one root fragment, no
// remote fragments — the "happy path" scenario's plan shape.
func NewSingleFragmentPlan(queryID types.QueryId, assignment types.Endpoint) *types.QueryWorkUnit {
	root := &types.PlanFragment{
		Handle:     types.FragmentHandle{QueryID: queryID, MajorFragmentID: 0, MinorFragmentID: 0},
		Assignment: assignment,
		Leaf:       false,
	}
	return &types.QueryWorkUnit{
		RootFragment: root,
		Fragments:    nil,
	}
}
