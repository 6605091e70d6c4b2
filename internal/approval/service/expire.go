package service

import (
	"context"
	"errors"
	"time"

	"approvalflow/internal/approval/models"
	"approvalflow/pkg/platform/sentinel"
)

// ExpireOverdue moves every PENDING level whose due date is before now to
// EXPIRED, one locked batch per transaction. Expired levels block the
// workflow like a rejection; nothing is escalated. Returns the number expired.
func (m *Manager) ExpireOverdue(ctx context.Context, now time.Time) (_ int, err error) {
	ctx, span := m.tracer.Start(ctx, "approval.ExpireOverdue")
	defer func() { endSpan(span, err) }()

	start := time.Now()
	defer func() { m.metrics.ObserveSweep(time.Since(start)) }()

	total := 0
	for {
		if err := ctx.Err(); err != nil {
			return total, translate(err, "expiry sweep")
		}
		locked, expired, err := m.expireBatch(ctx, now)
		if err != nil {
			return total, translate(err, "expiry sweep")
		}
		total += expired
		m.metrics.AddExpired(expired)
		if locked < m.sweepBatchSize {
			break
		}
	}

	if total > 0 {
		m.logger.InfoContext(ctx, "expired overdue approval requests",
			"count", total,
			"cutoff", now,
		)
	}
	return total, nil
}

func (m *Manager) expireBatch(ctx context.Context, now time.Time) (locked, expired int, err error) {
	err = m.tx.RunInTx(ctx, func(ctx context.Context) error {
		locked, expired = 0, 0
		rows, err := m.requests.LockOverdue(ctx, now, m.sweepBatchSize)
		if err != nil {
			return err
		}
		locked = len(rows)
		for _, r := range rows {
			updated, err := m.requests.Resolve(ctx, r.ID, models.Resolution{Status: models.StatusExpired, At: now})
			if errors.Is(err, sentinel.ErrConflict) {
				continue
			}
			if err != nil {
				return err
			}
			entry := models.NewAuditEntry(updated, models.ActionExpired, SystemActor, "", map[string]any{
				"level":    updated.ApprovalLevel,
				"due_date": r.DueDate,
			}, now)
			if err := m.audit.Append(ctx, entry); err != nil {
				return err
			}
			expired++
		}
		return nil
	})
	if err != nil {
		return 0, 0, err
	}
	return locked, expired, nil
}
