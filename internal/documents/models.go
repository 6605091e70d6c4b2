// Package documents tracks document-update requests through their review
// workflow. Transition rules live in one statemachine table; reviewer-only
// steps are enforced by its guard.
package documents

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	dErrors "approvalflow/pkg/domain-errors"
	"approvalflow/pkg/statemachine"
)

type Status string

const (
	StatusDraft       Status = "draft"
	StatusPending     Status = "pending"
	StatusUnderReview Status = "under_review"
	StatusApproved    Status = "approved"
	StatusRejected    Status = "rejected"
	StatusProcessing  Status = "processing"
	StatusCompleted   Status = "completed"
)

const (
	RoleReviewer = "reviewer"
	RoleAdmin    = "admin"
)

// workflow is the single source of truth for document-update transitions.
var workflow = statemachine.New(map[Status][]Status{
	StatusDraft:       {StatusPending},
	StatusPending:     {StatusUnderReview},
	StatusUnderReview: {StatusApproved, StatusRejected},
	StatusApproved:    {StatusProcessing},
	StatusProcessing:  {StatusCompleted},
}, statemachine.WithGuard(func(from, to Status, role string) bool {
	if requiresReviewer(from, to) {
		return role == RoleReviewer || role == RoleAdmin
	}
	return true
}))

func requiresReviewer(from, to Status) bool {
	switch {
	case from == StatusUnderReview && (to == StatusApproved || to == StatusRejected):
		return true
	case from == StatusApproved && to == StatusProcessing:
		return true
	}
	return false
}

func (s Status) IsValid() bool {
	switch s {
	case StatusDraft, StatusPending, StatusUnderReview, StatusApproved,
		StatusRejected, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

func (s Status) IsTerminal() bool {
	return workflow.IsTerminal(s)
}

// Next lists the statuses reachable from s.
func (s Status) Next() []Status {
	return workflow.Allowed(s)
}

// Transition is one recorded step of a request's history.
type Transition struct {
	From    Status    `json:"from"`
	To      Status    `json:"to"`
	ActorID string    `json:"actor_id"`
	Note    string    `json:"note,omitempty"`
	At      time.Time `json:"at"`
}

// UpdateRequest asks for changes to one document.
//
// Invariants:
//   - DocumentID and RequesterID are non-empty
//   - Changes is a JSON object
//   - Status only moves along the workflow table
//   - History holds one entry per applied transition, oldest first
type UpdateRequest struct {
	ID          uuid.UUID       `json:"id"`
	DocumentID  string          `json:"document_id"`
	RequesterID string          `json:"requester_id"`
	Changes     json.RawMessage `json:"changes"`
	Status      Status          `json:"status"`
	History     []Transition    `json:"history"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

func NewUpdateRequest(documentID, requesterID string, changes json.RawMessage, now time.Time) (*UpdateRequest, error) {
	if strings.TrimSpace(documentID) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "document id is required")
	}
	if strings.TrimSpace(requesterID) == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "requester identity is required")
	}
	var obj map[string]any
	if err := json.Unmarshal(changes, &obj); err != nil || obj == nil {
		return nil, dErrors.New(dErrors.CodeValidation, "changes must be a JSON object")
	}
	return &UpdateRequest{
		ID:          uuid.New(),
		DocumentID:  documentID,
		RequesterID: requesterID,
		Changes:     append(json.RawMessage(nil), changes...),
		Status:      StatusDraft,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// CanTransition checks to against the workflow for an actor holding roles.
// Unknown moves are conflicts; moves the roles may not make are forbidden.
func (r *UpdateRequest) CanTransition(to Status, roles []string) error {
	if !workflow.CanTransition(r.Status, to) {
		return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("cannot move document update from %s to %s", r.Status, to))
	}
	if err := workflow.ValidateAny(r.Status, to, roles); err != nil {
		if errors.Is(err, statemachine.ErrInvalidTransition) {
			return dErrors.Wrap(err, dErrors.CodeForbidden, fmt.Sprintf("moving to %s requires the %s or %s role", to, RoleReviewer, RoleAdmin))
		}
		return err
	}
	return nil
}

// ApplyTransition records the move. Must only follow a nil CanTransition.
func (r *UpdateRequest) ApplyTransition(to Status, actorID, note string, now time.Time) {
	r.History = append(r.History, Transition{From: r.Status, To: to, ActorID: actorID, Note: note, At: now})
	r.Status = to
	r.UpdatedAt = now
}

func (r *UpdateRequest) clone() *UpdateRequest {
	c := *r
	c.Changes = append(json.RawMessage(nil), r.Changes...)
	c.History = append([]Transition(nil), r.History...)
	return &c
}
