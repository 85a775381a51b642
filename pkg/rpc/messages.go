package rpc

import (
	"errors"
	"time"

	"google.golang.org/protobuf/types/known/timestamppb"

	"github.com/cuemby/foreman/pkg/types"
)

// PlanType enumerates the three textual plan representations RunQuery
// accepts.
type PlanType string

const (
	PlanTypeLogical  PlanType = "LOGICAL"
	PlanTypePhysical PlanType = "PHYSICAL"
	PlanTypeSQL      PlanType = "SQL"
)

// RunQuery is the client's query submission request.
type RunQuery struct {
	Type PlanType `json:"type"`
	Plan string   `json:"plan"`
}

// PlanFragmentMsg is the wire shape of types.PlanFragment.
type PlanFragmentMsg struct {
	QueryID         string            `json:"query_id"`
	MajorFragmentID int32             `json:"major_fragment_id"`
	MinorFragmentID int32             `json:"minor_fragment_id"`
	NodeID          string            `json:"node_id"`
	Address         string            `json:"address"`
	Leaf            bool              `json:"leaf"`
	OperatorTree    []byte            `json:"operator_tree"`
	MemInitialBytes int64             `json:"mem_initial_bytes"`
	MemMaxBytes     int64             `json:"mem_max_bytes"`
	Options         map[string]string `json:"options,omitempty"`
}

// ToPlanFragment converts the wire message back to the internal type.
func (m *PlanFragmentMsg) ToPlanFragment() (*types.PlanFragment, error) {
	queryID, err := types.ParseQueryId(m.QueryID)
	if err != nil {
		return nil, err
	}
	return &types.PlanFragment{
		Handle: types.FragmentHandle{
			QueryID:         queryID,
			MajorFragmentID: m.MajorFragmentID,
			MinorFragmentID: m.MinorFragmentID,
		},
		Assignment:      types.Endpoint{NodeID: m.NodeID, Address: m.Address},
		Leaf:            m.Leaf,
		OperatorTree:    m.OperatorTree,
		MemInitialBytes: m.MemInitialBytes,
		MemMaxBytes:     m.MemMaxBytes,
		Options:         m.Options,
	}, nil
}

// PlanFragmentToMsg converts an internal PlanFragment to its wire shape.
func PlanFragmentToMsg(f *types.PlanFragment) *PlanFragmentMsg {
	return &PlanFragmentMsg{
		QueryID:         f.Handle.QueryID.String(),
		MajorFragmentID: f.Handle.MajorFragmentID,
		MinorFragmentID: f.Handle.MinorFragmentID,
		NodeID:          f.Assignment.NodeID,
		Address:         f.Assignment.Address,
		Leaf:            f.Leaf,
		OperatorTree:    f.OperatorTree,
		MemInitialBytes: f.MemInitialBytes,
		MemMaxBytes:     f.MemMaxBytes,
		Options:         f.Options,
	}
}

// InitializeFragmentsRequest batches every fragment destined for one
// endpoint into a single RPC.
type InitializeFragmentsRequest struct {
	Fragments []*PlanFragmentMsg `json:"fragments"`
}

// CancelFragmentRequest asks the receiving node to cancel one fragment.
type CancelFragmentRequest struct {
	QueryID         string `json:"query_id"`
	MajorFragmentID int32  `json:"major_fragment_id"`
	MinorFragmentID int32  `json:"minor_fragment_id"`
}

// Ack is the generic control-plane acknowledgement.
type Ack struct {
	Accepted bool   `json:"accepted"`
	Error    string `json:"error,omitempty"`
}

// DrillPBErrorMsg is the wire shape of types.DrillPBError.
type DrillPBErrorMsg struct {
	ErrorType string `json:"error_type"`
	Message   string `json:"message"`
	Cause     string `json:"cause,omitempty"`
}

// QueryResultMsg is the final message delivered to the submitting client.
type QueryResultMsg struct {
	QueryID     string            `json:"query_id"`
	QueryState  string            `json:"query_state"`
	IsLastChunk bool              `json:"is_last_chunk"`
	Errors      []DrillPBErrorMsg `json:"errors,omitempty"`
}

// QueryResultToMsg converts the internal QueryResult to its wire shape.
func QueryResultToMsg(r *types.QueryResult) *QueryResultMsg {
	msg := &QueryResultMsg{
		QueryID:     r.QueryID.String(),
		QueryState:  string(r.State),
		IsLastChunk: r.IsLastChunk,
	}
	for _, e := range r.Errors {
		msg.Errors = append(msg.Errors, DrillPBErrorMsg{
			ErrorType: e.ErrorType,
			Message:   e.Message,
			Cause:     e.Cause,
		})
	}
	return msg
}

// FragmentStatusMsg is the wire shape of a status update for one fragment.
type FragmentStatusMsg struct {
	QueryID          string `json:"query_id"`
	MajorFragmentID  int32  `json:"major_fragment_id"`
	MinorFragmentID  int32  `json:"minor_fragment_id"`
	State            string `json:"state"`
	RecordsProcessed int64  `json:"records_processed"`
	BatchesProcessed int64  `json:"batches_processed"`
	MemoryUsedBytes  int64  `json:"memory_used_bytes"`
	Error            string `json:"error,omitempty"`

	ReportedAt *timestamppb.Timestamp `json:"reported_at,omitempty"`
}

// ToFragmentStatus converts the wire message back to the internal type.
func (m *FragmentStatusMsg) ToFragmentStatus() (types.FragmentStatus, error) {
	queryID, err := types.ParseQueryId(m.QueryID)
	if err != nil {
		return types.FragmentStatus{}, err
	}
	reportedAt := time.Now()
	if m.ReportedAt != nil {
		reportedAt = m.ReportedAt.AsTime()
	}
	status := types.FragmentStatus{
		Handle: types.FragmentHandle{
			QueryID:         queryID,
			MajorFragmentID: m.MajorFragmentID,
			MinorFragmentID: m.MinorFragmentID,
		},
		State: types.FragmentState(m.State),
		Profile: types.FragmentProfile{
			RecordsProcessed: m.RecordsProcessed,
			BatchesProcessed: m.BatchesProcessed,
			MemoryUsedBytes:  m.MemoryUsedBytes,
		},
		ReportedAt: reportedAt,
	}
	if m.Error != "" {
		status.Err = errors.New(m.Error)
	}
	return status, nil
}

// FragmentStatusToMsg converts the internal type to its wire shape.
func FragmentStatusToMsg(s types.FragmentStatus) *FragmentStatusMsg {
	msg := &FragmentStatusMsg{
		QueryID:          s.Handle.QueryID.String(),
		MajorFragmentID:  s.Handle.MajorFragmentID,
		MinorFragmentID:  s.Handle.MinorFragmentID,
		State:            string(s.State),
		RecordsProcessed: s.Profile.RecordsProcessed,
		BatchesProcessed: s.Profile.BatchesProcessed,
		MemoryUsedBytes:  s.Profile.MemoryUsedBytes,
		ReportedAt:       timestamppb.New(s.ReportedAt),
	}
	if s.Err != nil {
		msg.Error = s.Err.Error()
	}
	return msg
}

// SubmitQueryRequest is the ClientGateway's SubmitQuery request.
type SubmitQueryRequest struct {
	Query RunQuery `json:"query"`
}

// SubmitQueryResponse carries the QueryId assigned to an accepted query.
type SubmitQueryResponse struct {
	QueryID string `json:"query_id"`
}

// CancelQueryRequest asks the coordinator owning QueryID to cancel it.
type CancelQueryRequest struct {
	QueryID string `json:"query_id"`
}
