package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Action names an audited workflow step.
type Action string

const (
	ActionCreated                Action = "created"
	ActionApproved               Action = "approved"
	ActionRejected               Action = "rejected"
	ActionExpired                Action = "expired"
	ActionServiceExecuted        Action = "service_executed"
	ActionServiceExecutionFailed Action = "service_execution_failed"
)

// AuditEntry is an append-only record written in the same transaction as the
// state change it describes. ApprovalRequestID is nil for workflow-level
// entries such as service execution.
type AuditEntry struct {
	ID                uuid.UUID       `json:"id"`
	ApprovalRequestID *uuid.UUID      `json:"approval_request_id,omitempty"`
	ServiceRequestID  string          `json:"service_request_id"`
	Action            Action          `json:"action"`
	ActorID           string          `json:"actor_id"`
	Comments          string          `json:"comments,omitempty"`
	ActionData        json.RawMessage `json:"action_data,omitempty"`
	Timestamp         time.Time       `json:"timestamp"`
}

// NewAuditEntry builds an entry for a level-scoped action.
func NewAuditEntry(req *Request, action Action, actorID, comments string, data map[string]any, now time.Time) *AuditEntry {
	reqID := req.ID
	return &AuditEntry{
		ID:                uuid.New(),
		ApprovalRequestID: &reqID,
		ServiceRequestID:  req.ServiceRequestID,
		Action:            action,
		ActorID:           actorID,
		Comments:          comments,
		ActionData:        marshalActionData(data),
		Timestamp:         now,
	}
}

// NewWorkflowAuditEntry builds an entry scoped to a whole service request.
func NewWorkflowAuditEntry(serviceRequestID string, action Action, actorID, comments string, data map[string]any, now time.Time) *AuditEntry {
	return &AuditEntry{
		ID:               uuid.New(),
		ServiceRequestID: serviceRequestID,
		Action:           action,
		ActorID:          actorID,
		Comments:         comments,
		ActionData:       marshalActionData(data),
		Timestamp:        now,
	}
}

func marshalActionData(data map[string]any) json.RawMessage {
	if len(data) == 0 {
		return nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		// action data is diagnostic; keep the entry even when a value cannot be encoded
		b, _ = json.Marshal(map[string]string{"encoding_error": err.Error()})
	}
	return b
}

// OutboxMessage is an audit entry queued for the notification feed.
type OutboxMessage struct {
	ID          uuid.UUID
	AggregateID string
	EventType   string
	Payload     []byte
	CreatedAt   time.Time
	PublishedAt *time.Time
}

// NewOutboxMessage serializes entry for publishing, keyed by service request.
func NewOutboxMessage(entry *AuditEntry) (*OutboxMessage, error) {
	payload, err := json.Marshal(entry)
	if err != nil {
		return nil, err
	}
	return &OutboxMessage{
		ID:          uuid.New(),
		AggregateID: entry.ServiceRequestID,
		EventType:   string(entry.Action),
		Payload:     payload,
		CreatedAt:   entry.Timestamp,
	}, nil
}
