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

const requestColumns = `id, service_request_id, module_name, service_name, approval_level,
	level_order, required, approver_roles, status, requester_id, current_approver_id,
	due_date, approved_at, approver_comments, rejection_reason, justification,
	request_data, created_at, updated_at`

// CreateBatch inserts every level of a workflow. Callers run it inside a
// transaction so a duplicate level leaves no partial workflow behind.
func (s *Store) CreateBatch(ctx context.Context, requests []*models.Request) error {
	query := `INSERT INTO approval_requests (` + requestColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`
	exec := s.execer(ctx)
	for _, r := range requests {
		_, err := exec.ExecContext(ctx, query,
			r.ID, r.ServiceRequestID, r.ModuleName, r.ServiceName, r.ApprovalLevel,
			r.LevelOrder, r.Required, pq.Array(models.RoleStrings(r.ApproverRoles)), string(r.Status),
			r.RequesterID, r.CurrentApproverID, r.DueDate, r.ApprovedAt, r.ApproverComments,
			r.RejectionReason, r.Justification, nullJSON(r.RequestData), r.CreatedAt, r.UpdatedAt,
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("level %q of %q: %w", r.ApprovalLevel, r.ServiceRequestID, sentinel.ErrAlreadyUsed)
			}
			return fmt.Errorf("insert approval request: %w", err)
		}
	}
	return nil
}

func (s *Store) FindByID(ctx context.Context, id uuid.UUID) (*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests WHERE id = $1`
	r, err := scanRequest(s.execer(ctx).QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find approval request: %w", err)
	}
	return r, nil
}

func (s *Store) ListByServiceRequest(ctx context.Context, serviceRequestID string) ([]*models.Request, error) {
	query := `SELECT ` + requestColumns + ` FROM approval_requests
		WHERE service_request_id = $1 ORDER BY level_order`
	return s.queryRequests(ctx, query, serviceRequestID)
}

// Resolve moves a PENDING row to res.Status. Zero matched rows means the row
// is gone or already resolved; a second read tells which.
func (s *Store) Resolve(ctx context.Context, id uuid.UUID, res models.Resolution) (*models.Request, error) {
	var (
		approvedAt      *time.Time
		approver        string
		comments        string
		rejectionReason string
	)
	switch res.Status {
	case models.StatusApproved:
		at := res.At
		approvedAt = &at
		approver, comments = res.ActorID, res.Comments
	case models.StatusRejected:
		approver, comments, rejectionReason = res.ActorID, res.Comments, res.RejectionReason
	}

	query := `
		UPDATE approval_requests SET
			status = $2,
			updated_at = $3,
			approved_at = COALESCE($4, approved_at),
			current_approver_id = COALESCE(NULLIF($5, ''), current_approver_id),
			approver_comments = COALESCE(NULLIF($6, ''), approver_comments),
			rejection_reason = COALESCE(NULLIF($7, ''), rejection_reason)
		WHERE id = $1 AND status = 'PENDING'
		RETURNING ` + requestColumns
	exec := s.execer(ctx)
	r, err := scanRequest(exec.QueryRowContext(ctx, query,
		id, string(res.Status), res.At, approvedAt, approver, comments, rejectionReason,
	))
	if err == nil {
		return r, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("resolve approval request: %w", err)
	}

	var exists bool
	if err := exec.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM approval_requests WHERE id = $1)`, id).Scan(&exists); err != nil {
		return nil, fmt.Errorf("check approval request: %w", err)
	}
	if !exists {
		return nil, sentinel.ErrNotFound
	}
	return nil, sentinel.ErrConflict
}

// LockOverdue claims overdue PENDING rows for the current transaction.
// SKIP LOCKED lets several sweepers drain the backlog without blocking.
func (s *Store) LockOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Request, error) {
	tx, err := requireTx(ctx)
	if err != nil {
		return nil, err
	}
	query := `SELECT ` + requestColumns + ` FROM approval_requests
		WHERE status = 'PENDING' AND due_date < $1
		ORDER BY due_date
		LIMIT $2
		FOR UPDATE SKIP LOCKED`
	rows, err := tx.QueryContext(ctx, query, now, limit)
	if err != nil {
		return nil, fmt.Errorf("lock overdue requests: %w", err)
	}
	return collectRequests(rows)
}

func (s *Store) queryRequests(ctx context.Context, query string, args ...any) ([]*models.Request, error) {
	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query approval requests: %w", err)
	}
	return collectRequests(rows)
}

func collectRequests(rows *sql.Rows) ([]*models.Request, error) {
	defer rows.Close()
	out := make([]*models.Request, 0)
	for rows.Next() {
		r, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan approval request: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate approval requests: %w", err)
	}
	return out, nil
}

func scanRequest(row scanner) (*models.Request, error) {
	var (
		r          models.Request
		roles      []string
		status     string
		approvedAt sql.NullTime
		data       []byte
	)
	if err := row.Scan(
		&r.ID, &r.ServiceRequestID, &r.ModuleName, &r.ServiceName, &r.ApprovalLevel,
		&r.LevelOrder, &r.Required, pq.Array(&roles), &status, &r.RequesterID, &r.CurrentApproverID,
		&r.DueDate, &approvedAt, &r.ApproverComments, &r.RejectionReason, &r.Justification,
		&data, &r.CreatedAt, &r.UpdatedAt,
	); err != nil {
		return nil, err
	}
	r.ApproverRoles = models.RolesFromStrings(roles)
	r.Status = models.Status(status)
	if approvedAt.Valid {
		at := approvedAt.Time
		r.ApprovedAt = &at
	}
	if len(data) > 0 {
		r.RequestData = data
	}
	return &r, nil
}
