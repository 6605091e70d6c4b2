// Package ports declares the persistence and collaborator contracts of the
// approval engine. Stores are pure I/O: they return sentinel errors for facts
// (not found, conflict, duplicate) and never make workflow decisions.
package ports

//go:generate mockgen -source=ports.go -destination=mocks/mocks.go -package=mocks

import (
	"context"
	"time"

	"github.com/google/uuid"

	"approvalflow/internal/approval/models"
)

// TxRunner commits every store call made with the context passed to fn
// atomically, or none of them.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// ConfigStore persists workflow configurations keyed by (module, service).
type ConfigStore interface {
	// Upsert replaces levels, conditions and timeouts, keeping CreatedAt and
	// Enabled of an existing row. Returns the stored configuration.
	Upsert(ctx context.Context, cfg *models.Configuration) (*models.Configuration, error)
	// Find returns sentinel.ErrNotFound for unknown keys.
	Find(ctx context.Context, module, service string) (*models.Configuration, error)
	List(ctx context.Context) ([]*models.Configuration, error)
	SetEnabled(ctx context.Context, module, service string, enabled bool, now time.Time) error
}

// RequestStore persists approval requests.
type RequestStore interface {
	// CreateBatch inserts all rows or none. A (service_request_id, level)
	// collision returns sentinel.ErrAlreadyUsed.
	CreateBatch(ctx context.Context, requests []*models.Request) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Request, error)
	// ListByServiceRequest returns an empty slice for unknown ids.
	ListByServiceRequest(ctx context.Context, serviceRequestID string) ([]*models.Request, error)
	// Resolve applies res only while the row is PENDING. Returns
	// sentinel.ErrConflict when it already left PENDING, sentinel.ErrNotFound
	// when it does not exist.
	Resolve(ctx context.Context, id uuid.UUID, res models.Resolution) (*models.Request, error)
	// LockOverdue locks up to limit PENDING rows due before now, skipping rows
	// locked by other workers. Must run inside a transaction.
	LockOverdue(ctx context.Context, now time.Time, limit int) ([]*models.Request, error)
}

// AuditStore is append-only. Append also queues the entry on the outbox.
type AuditStore interface {
	Append(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, serviceRequestID string) ([]*models.AuditEntry, error)
}

// ExecutionStore guards exactly-once execution of approved operations.
type ExecutionStore interface {
	// Claim starts a run. Returns sentinel.ErrAlreadyUsed while a run claimed
	// at or after staleBefore is in flight, or after one succeeded.
	Claim(ctx context.Context, serviceRequestID string, now, staleBefore time.Time) (*models.Execution, error)
	Finish(ctx context.Context, serviceRequestID string, status models.ExecutionStatus, now time.Time) error
	FindExecution(ctx context.Context, serviceRequestID string) (*models.Execution, error)
}

// OutboxStore feeds the notification relay.
type OutboxStore interface {
	// PendingOutbox locks up to limit unpublished messages. Must run inside a transaction.
	PendingOutbox(ctx context.Context, limit int) ([]*models.OutboxMessage, error)
	MarkPublished(ctx context.Context, ids []uuid.UUID, at time.Time) error
}
