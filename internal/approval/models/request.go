package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Request is one approval level of one gated invocation. Rows are created
// PENDING, resolved exactly once, and never deleted.
type Request struct {
	ID                uuid.UUID       `json:"id"`
	ServiceRequestID  string          `json:"service_request_id"`
	ModuleName        string          `json:"module_name"`
	ServiceName       string          `json:"service_name"`
	ApprovalLevel     string          `json:"approval_level"`
	LevelOrder        int             `json:"level_order"`
	Required          bool            `json:"required"`
	ApproverRoles     []Role          `json:"approver_roles"`
	Status            Status          `json:"status"`
	RequesterID       string          `json:"requester_id"`
	CurrentApproverID string          `json:"current_approver_id,omitempty"`
	DueDate           time.Time       `json:"due_date"`
	ApprovedAt        *time.Time      `json:"approved_at,omitempty"`
	ApproverComments  string          `json:"approver_comments,omitempty"`
	RejectionReason   string          `json:"rejection_reason,omitempty"`
	Justification     string          `json:"justification,omitempty"`
	RequestData       json.RawMessage `json:"request_data,omitempty"`
	CreatedAt         time.Time       `json:"created_at"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

// NewPendingRequest snapshots level into a PENDING row due after the level timeout.
func NewPendingRequest(cfg *Configuration, level Level, serviceRequestID, requesterID, justification string, data json.RawMessage, now time.Time) *Request {
	return &Request{
		ID:               uuid.New(),
		ServiceRequestID: serviceRequestID,
		ModuleName:       cfg.ModuleName,
		ServiceName:      cfg.ServiceName,
		ApprovalLevel:    level.Name,
		LevelOrder:       level.Order,
		Required:         level.Required,
		ApproverRoles:    append([]Role(nil), level.ApproverRoles...),
		Status:           StatusPending,
		RequesterID:      requesterID,
		DueDate:          now.Add(level.Timeout(cfg.DefaultTimeoutHours)),
		Justification:    justification,
		RequestData:      data,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// Level rebuilds the level definition captured when the row was created.
func (r *Request) Level() Level {
	return Level{
		Name:          r.ApprovalLevel,
		ApproverRoles: r.ApproverRoles,
		Required:      r.Required,
		Order:         r.LevelOrder,
	}
}

// IsOverdue reports whether a pending row has passed its due date.
func (r *Request) IsOverdue(now time.Time) bool {
	return r.Status == StatusPending && r.DueDate.Before(now)
}

// Resolution is the single terminal write applied to a PENDING row.
type Resolution struct {
	Status          Status
	ActorID         string
	Comments        string
	RejectionReason string
	At              time.Time
}

// Apply writes the resolution onto r. Callers check CanTransitionTo first.
func (res Resolution) Apply(r *Request) {
	r.Status = res.Status
	r.UpdatedAt = res.At
	switch res.Status {
	case StatusApproved:
		at := res.At
		r.ApprovedAt = &at
		r.CurrentApproverID = res.ActorID
		r.ApproverComments = res.Comments
	case StatusRejected:
		r.CurrentApproverID = res.ActorID
		r.RejectionReason = res.RejectionReason
		r.ApproverComments = res.Comments
	}
}

// Clone returns a deep copy so stores never hand out shared pointers.
func (r *Request) Clone() *Request {
	c := *r
	c.ApproverRoles = append([]Role(nil), r.ApproverRoles...)
	if r.ApprovedAt != nil {
		at := *r.ApprovedAt
		c.ApprovedAt = &at
	}
	if r.RequestData != nil {
		c.RequestData = append(json.RawMessage(nil), r.RequestData...)
	}
	return &c
}
