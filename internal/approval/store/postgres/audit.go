package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"approvalflow/internal/approval/models"
	"approvalflow/pkg/platform/sentinel"
)

// Append writes the audit row and its outbox message. Both land in the
// caller's transaction, so a notification exists only for committed changes.
func (s *Store) Append(ctx context.Context, entry *models.AuditEntry) error {
	msg, err := models.NewOutboxMessage(entry)
	if err != nil {
		return fmt.Errorf("build outbox message: %w", err)
	}
	exec := s.execer(ctx)
	_, err = exec.ExecContext(ctx, `
		INSERT INTO approval_audit_log
			(id, approval_request_id, service_request_id, action, actor_id, comments, action_data, timestamp)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ID, entry.ApprovalRequestID, entry.ServiceRequestID, string(entry.Action),
		entry.ActorID, entry.Comments, nullJSON(entry.ActionData), entry.Timestamp,
	)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	_, err = exec.ExecContext(ctx, `
		INSERT INTO approval_outbox (id, aggregate_id, event_type, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		msg.ID, msg.AggregateID, msg.EventType, string(msg.Payload), msg.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert outbox message: %w", err)
	}
	return nil
}

func (s *Store) ListAudit(ctx context.Context, serviceRequestID string) ([]*models.AuditEntry, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, `
		SELECT id, approval_request_id, service_request_id, action, actor_id, comments, action_data, timestamp
		FROM approval_audit_log
		WHERE service_request_id = $1
		ORDER BY timestamp, id`, serviceRequestID)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	out := make([]*models.AuditEntry, 0)
	for rows.Next() {
		var (
			e         models.AuditEntry
			requestID uuid.NullUUID
			action    string
			data      []byte
		)
		if err := rows.Scan(&e.ID, &requestID, &e.ServiceRequestID, &action, &e.ActorID, &e.Comments, &data, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		if requestID.Valid {
			id := requestID.UUID
			e.ApprovalRequestID = &id
		}
		e.Action = models.Action(action)
		if len(data) > 0 {
			e.ActionData = data
		}
		out = append(out, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return out, nil
}

// Claim inserts a running execution, or restarts a failed or stale running
// one. A fresh running or a succeeded row makes the upsert match nothing.
func (s *Store) Claim(ctx context.Context, serviceRequestID string, now, staleBefore time.Time) (*models.Execution, error) {
	var stale sql.NullTime
	if !staleBefore.IsZero() {
		stale = sql.NullTime{Time: staleBefore, Valid: true}
	}
	row := s.execer(ctx).QueryRowContext(ctx, `
		INSERT INTO approval_executions (service_request_id, status, claimed_at)
		VALUES ($1, 'running', $2)
		ON CONFLICT (service_request_id) DO UPDATE SET
			status = 'running',
			claimed_at = EXCLUDED.claimed_at,
			finished_at = NULL
		WHERE approval_executions.status = 'failed'
		   OR (approval_executions.status = 'running' AND approval_executions.claimed_at < $3)
		RETURNING service_request_id, status, claimed_at, finished_at`,
		serviceRequestID, now, stale,
	)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrAlreadyUsed
		}
		return nil, fmt.Errorf("claim execution: %w", err)
	}
	return exec, nil
}

func (s *Store) Finish(ctx context.Context, serviceRequestID string, status models.ExecutionStatus, now time.Time) error {
	exec := s.execer(ctx)
	res, err := exec.ExecContext(ctx, `
		UPDATE approval_executions SET status = $2, finished_at = $3
		WHERE service_request_id = $1 AND status = 'running'`,
		serviceRequestID, string(status), now,
	)
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finish execution: %w", err)
	}
	if affected == 1 {
		return nil
	}
	if _, err := s.FindExecution(ctx, serviceRequestID); err != nil {
		return err
	}
	return sentinel.ErrConflict
}

func (s *Store) FindExecution(ctx context.Context, serviceRequestID string) (*models.Execution, error) {
	row := s.execer(ctx).QueryRowContext(ctx, `
		SELECT service_request_id, status, claimed_at, finished_at
		FROM approval_executions WHERE service_request_id = $1`, serviceRequestID)
	exec, err := scanExecution(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find execution: %w", err)
	}
	return exec, nil
}

func scanExecution(row scanner) (*models.Execution, error) {
	var (
		e        models.Execution
		status   string
		finished sql.NullTime
	)
	if err := row.Scan(&e.ServiceRequestID, &status, &e.ClaimedAt, &finished); err != nil {
		return nil, err
	}
	e.Status = models.ExecutionStatus(status)
	if finished.Valid {
		at := finished.Time
		e.FinishedAt = &at
	}
	return &e, nil
}

// PendingOutbox locks the oldest unpublished messages for this transaction.
func (s *Store) PendingOutbox(ctx context.Context, limit int) ([]*models.OutboxMessage, error) {
	tx, err := requireTx(ctx)
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `
		SELECT id, aggregate_id, event_type, payload, created_at
		FROM approval_outbox
		WHERE published_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
		FOR UPDATE SKIP LOCKED`, limit)
	if err != nil {
		return nil, fmt.Errorf("query outbox: %w", err)
	}
	defer rows.Close()

	out := make([]*models.OutboxMessage, 0)
	for rows.Next() {
		var m models.OutboxMessage
		if err := rows.Scan(&m.ID, &m.AggregateID, &m.EventType, &m.Payload, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan outbox message: %w", err)
		}
		out = append(out, &m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate outbox: %w", err)
	}
	return out, nil
}

func (s *Store) MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	strs := make([]string, len(ids))
	for i, id := range ids {
		strs[i] = id.String()
	}
	_, err := s.execer(ctx).ExecContext(ctx, `
		UPDATE approval_outbox SET published_at = $2
		WHERE id = ANY($1::uuid[]) AND published_at IS NULL`,
		pq.Array(strs), at,
	)
	if err != nil {
		return fmt.Errorf("mark outbox published: %w", err)
	}
	return nil
}
