package gate

import (
	"time"

	"github.com/google/uuid"

	"approvalflow/internal/approval/models"
)

// StatusApprovalRequired marks a PendingResult.
const StatusApprovalRequired = "approval_required"

// PendingResult is returned in place of the operation's result while the
// workflow awaits sign-off.
type PendingResult struct {
	Status           string         `json:"status"`
	ServiceRequestID string         `json:"service_request_id"`
	ApprovalRequests []PendingLevel `json:"approval_requests"`
	NextSteps        string         `json:"next_steps"`
}

type PendingLevel struct {
	ID              uuid.UUID     `json:"id"`
	Level           string        `json:"level"`
	Status          models.Status `json:"status"`
	DueDate         time.Time     `json:"due_date"`
	CurrentApprover string        `json:"current_approver,omitempty"`
}

// NewPendingResult lists the levels of status in order.
func NewPendingResult(status *models.WorkflowStatus) *PendingResult {
	levels := make([]PendingLevel, len(status.Requests))
	for i, r := range status.Requests {
		levels[i] = PendingLevel{
			ID:              r.ID,
			Level:           r.Level,
			Status:          r.Status,
			DueDate:         r.DueDate,
			CurrentApprover: r.CurrentApprover,
		}
	}
	return &PendingResult{
		Status:           StatusApprovalRequired,
		ServiceRequestID: status.ServiceRequestID,
		ApprovalRequests: levels,
		NextSteps:        "Approvers must sign off every required level; then execute service request " + status.ServiceRequestID + ".",
	}
}
