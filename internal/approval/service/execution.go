package service

import (
	"context"
	"time"

	"approvalflow/internal/approval/models"
	dErrors "approvalflow/pkg/domain-errors"
	"approvalflow/pkg/requestcontext"
)

// ClaimExecution reserves the single run of an approved operation. A second
// claim while the first is running or after it succeeded is a conflict. A
// running claim older than the execution timeout is taken over, so a runner
// that died mid-flight does not block the workflow forever.
func (m *Manager) ClaimExecution(ctx context.Context, serviceRequestID string) (*models.Execution, error) {
	now := requestcontext.Now(ctx)
	var staleBefore time.Time
	if m.executionTimeout > 0 {
		staleBefore = now.Add(-m.executionTimeout)
	}
	exec, err := m.executions.Claim(ctx, serviceRequestID, now, staleBefore)
	if err != nil {
		err = translate(err, "execution of "+serviceRequestID)
		if dErrors.HasCode(err, dErrors.CodeConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "service request "+serviceRequestID+" already executed or executing")
		}
		return nil, err
	}
	return exec, nil
}

// CompleteExecution closes a claimed run and audits its outcome in the same
// transaction. A failed run can be claimed again.
func (m *Manager) CompleteExecution(ctx context.Context, serviceRequestID, actorID string, execErr error) error {
	now := requestcontext.Now(ctx)
	status := models.ExecutionSucceeded
	if execErr != nil {
		status = models.ExecutionFailed
	}
	err := m.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := m.executions.Finish(ctx, serviceRequestID, status, now); err != nil {
			return err
		}
		return m.audit.Append(ctx, executionEntry(serviceRequestID, actorID, execErr, now))
	})
	if err != nil {
		return translate(err, "execution of "+serviceRequestID)
	}
	m.metrics.IncExecution(string(status))
	return nil
}

// RecordExecution audits a run that needed no approval.
func (m *Manager) RecordExecution(ctx context.Context, serviceRequestID, actorID string, execErr error) error {
	now := requestcontext.Now(ctx)
	if err := m.audit.Append(ctx, executionEntry(serviceRequestID, actorID, execErr, now)); err != nil {
		return translate(err, "audit entry")
	}
	outcome := models.ExecutionSucceeded
	if execErr != nil {
		outcome = models.ExecutionFailed
	}
	m.metrics.IncExecution(string(outcome))
	return nil
}

func executionEntry(serviceRequestID, actorID string, execErr error, now time.Time) *models.AuditEntry {
	if execErr != nil {
		return models.NewWorkflowAuditEntry(serviceRequestID, models.ActionServiceExecutionFailed, actorID, "",
			map[string]any{"error": execErr.Error()}, now)
	}
	return models.NewWorkflowAuditEntry(serviceRequestID, models.ActionServiceExecuted, actorID, "", nil, now)
}
