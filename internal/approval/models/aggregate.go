package models

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Aggregate reduces every level of one service request to an overall state.
// Pure: no I/O and no mutation of the input.
//
//  1. any required level REJECTED or EXPIRED -> rejected
//  2. every required level APPROVED          -> approved, can proceed
//  3. otherwise                              -> pending
//
// Optional levels are reported but never block.
func Aggregate(requests []*Request) (OverallStatus, bool) {
	allApproved := true
	for _, r := range requests {
		if !r.Required {
			continue
		}
		if r.Status.Blocks() {
			return OverallRejected, false
		}
		if r.Status != StatusApproved {
			allApproved = false
		}
	}
	if allApproved {
		return OverallApproved, true
	}
	return OverallPending, false
}

// RequestSummary is the per-level view returned by a status query.
type RequestSummary struct {
	ID              uuid.UUID  `json:"id"`
	Level           string     `json:"level"`
	LevelOrder      int        `json:"level_order"`
	Required        bool       `json:"required"`
	Status          Status     `json:"status"`
	CreatedAt       time.Time  `json:"created_at"`
	DueDate         time.Time  `json:"due_date"`
	ApprovedAt      *time.Time `json:"approved_at,omitempty"`
	CurrentApprover string     `json:"current_approver,omitempty"`
	Comments        string     `json:"comments,omitempty"`
	RejectionReason string     `json:"rejection_reason,omitempty"`
}

// Summary projects r into its status-query view.
func (r *Request) Summary() RequestSummary {
	return RequestSummary{
		ID:              r.ID,
		Level:           r.ApprovalLevel,
		LevelOrder:      r.LevelOrder,
		Required:        r.Required,
		Status:          r.Status,
		CreatedAt:       r.CreatedAt,
		DueDate:         r.DueDate,
		ApprovedAt:      r.ApprovedAt,
		CurrentApprover: r.CurrentApproverID,
		Comments:        r.ApproverComments,
		RejectionReason: r.RejectionReason,
	}
}

// WorkflowStatus is the answer to "can this service request proceed?".
type WorkflowStatus struct {
	ServiceRequestID string           `json:"service_request_id"`
	OverallStatus    OverallStatus    `json:"overall_status"`
	CanProceed       bool             `json:"can_proceed"`
	Requests         []RequestSummary `json:"requests"`

	rows []*Request
}

// NewWorkflowStatus aggregates rows, sorted by level order.
func NewWorkflowStatus(serviceRequestID string, rows []*Request) *WorkflowStatus {
	sorted := SortByLevel(rows)
	overall, canProceed := Aggregate(sorted)
	summaries := make([]RequestSummary, len(sorted))
	for i, r := range sorted {
		summaries[i] = r.Summary()
	}
	return &WorkflowStatus{
		ServiceRequestID: serviceRequestID,
		OverallStatus:    overall,
		CanProceed:       canProceed,
		Requests:         summaries,
		rows:             sorted,
	}
}

// Rows returns the underlying requests in level order.
func (w *WorkflowStatus) Rows() []*Request {
	return w.rows
}

// SortByLevel returns a copy of rows ordered by LevelOrder.
func SortByLevel(rows []*Request) []*Request {
	out := append([]*Request(nil), rows...)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].LevelOrder < out[j].LevelOrder
	})
	return out
}
