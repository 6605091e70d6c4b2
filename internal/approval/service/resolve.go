package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"approvalflow/internal/approval/models"
	dErrors "approvalflow/pkg/domain-errors"
	"approvalflow/pkg/requestcontext"
)

// Approve signs off one level. Only the first resolution of a level wins;
// later attempts fail with CodeConflict.
func (m *Manager) Approve(ctx context.Context, approvalRequestID string, actor requestcontext.Actor, comments string) (_ *models.Request, err error) {
	ctx, span := m.tracer.Start(ctx, "approval.Approve", trace.WithAttributes(
		attribute.String("approval.request_id", approvalRequestID),
		attribute.String("approval.actor", actor.ID),
	))
	defer func() { endSpan(span, err) }()

	return m.resolve(ctx, approvalRequestID, actor, models.Resolution{
		Status:   models.StatusApproved,
		ActorID:  actor.ID,
		Comments: comments,
	})
}

// Reject refuses one level, which blocks the whole workflow when the level
// is required. reason is mandatory.
func (m *Manager) Reject(ctx context.Context, approvalRequestID string, actor requestcontext.Actor, reason string) (_ *models.Request, err error) {
	ctx, span := m.tracer.Start(ctx, "approval.Reject", trace.WithAttributes(
		attribute.String("approval.request_id", approvalRequestID),
		attribute.String("approval.actor", actor.ID),
	))
	defer func() { endSpan(span, err) }()

	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "rejection reason is required")
	}
	return m.resolve(ctx, approvalRequestID, actor, models.Resolution{
		Status:          models.StatusRejected,
		ActorID:         actor.ID,
		Comments:        reason,
		RejectionReason: reason,
	})
}

func (m *Manager) resolve(ctx context.Context, approvalRequestID string, actor requestcontext.Actor, res models.Resolution) (*models.Request, error) {
	if actor.IsZero() {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "actor identity required")
	}
	id, err := parseRequestID(approvalRequestID)
	if err != nil {
		return nil, err
	}
	res.At = requestcontext.Now(ctx)
	action := actionFor(res.Status)

	var resolved *models.Request
	err = m.tx.RunInTx(ctx, func(ctx context.Context) error {
		current, err := m.requests.FindByID(ctx, id)
		if err != nil {
			return translate(err, "approval request")
		}
		if err := m.authorizer.CanResolve(ctx, actor, current); err != nil {
			return err
		}
		if !m.allowSelfApproval && current.RequesterID == actor.ID {
			return dErrors.New(dErrors.CodeForbidden, "requesters cannot resolve their own approval")
		}
		if !current.Status.CanTransitionTo(res.Status) {
			return dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("approval request already %s", current.Status))
		}
		if m.policy == LevelPolicySequential {
			if err := m.checkEarlierLevels(ctx, current); err != nil {
				return err
			}
		}

		updated, err := m.requests.Resolve(ctx, id, res)
		if err != nil {
			return translate(err, "approval request")
		}
		entry := models.NewAuditEntry(updated, action, actor.ID, res.Comments, map[string]any{
			"level":       updated.ApprovalLevel,
			"level_order": updated.LevelOrder,
			"status":      updated.Status,
			"roles":       actor.Roles,
		}, res.At)
		if err := m.audit.Append(ctx, entry); err != nil {
			return translate(err, "audit entry")
		}
		resolved = updated
		return nil
	})
	if err != nil {
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			m.metrics.IncConflict()
		}
		m.logger.WarnContext(ctx, "approval resolution refused",
			"approval_request_id", approvalRequestID,
			"actor_id", actor.ID,
			"status", res.Status,
			"error", err,
		)
		return nil, translate(err, "approval request")
	}

	m.metrics.IncResolution(string(resolved.Status))
	m.logger.InfoContext(ctx, "approval request resolved",
		"approval_request_id", resolved.ID,
		"service_request_id", resolved.ServiceRequestID,
		"level", resolved.ApprovalLevel,
		"status", resolved.Status,
		"actor_id", actor.ID,
	)
	return resolved, nil
}

// checkEarlierLevels enforces the sequential policy: every required level
// ordered before current must already be approved.
func (m *Manager) checkEarlierLevels(ctx context.Context, current *models.Request) error {
	rows, err := m.requests.ListByServiceRequest(ctx, current.ServiceRequestID)
	if err != nil {
		return translate(err, "approval requests")
	}
	for _, r := range rows {
		if r.LevelOrder >= current.LevelOrder || !r.Required {
			continue
		}
		if r.Status != models.StatusApproved {
			return dErrors.New(dErrors.CodeConflict,
				fmt.Sprintf("level %q must be approved before %q", r.ApprovalLevel, current.ApprovalLevel))
		}
	}
	return nil
}

func actionFor(status models.Status) models.Action {
	switch status {
	case models.StatusApproved:
		return models.ActionApproved
	case models.StatusRejected:
		return models.ActionRejected
	default:
		return models.ActionExpired
	}
}

func parseRequestID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(strings.TrimSpace(raw))
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeValidation, "approval request id must be a UUID")
	}
	return id, nil
}
