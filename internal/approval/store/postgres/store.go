// Package postgres implements the approval store ports on PostgreSQL. All
// state transitions are conditional writes so concurrent replicas agree on a
// single winner without application-level locks.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/lib/pq"

	"approvalflow/internal/approval/ports"
	"approvalflow/pkg/platform/sentinel"
	txcontext "approvalflow/pkg/platform/tx"
)

//go:embed schema.sql
var schema string

var (
	_ ports.ConfigStore    = (*Store)(nil)
	_ ports.RequestStore   = (*Store)(nil)
	_ ports.AuditStore     = (*Store)(nil)
	_ ports.ExecutionStore = (*Store)(nil)
	_ ports.OutboxStore    = (*Store)(nil)
)

const uniqueViolation = "23505"

// Store persists approval data. Calls join the transaction carried by ctx
// when there is one.
type Store struct {
	db *sql.DB
}

// New constructs a PostgreSQL-backed approval store.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the approval tables when they do not exist.
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply approval schema: %w", err)
	}
	return nil
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// requireTx returns the transaction carried by ctx. Row locks taken outside a
// transaction are released immediately, so locking reads refuse to run.
func requireTx(ctx context.Context) (*sql.Tx, error) {
	tx, ok := txcontext.From(ctx)
	if !ok {
		return nil, fmt.Errorf("locking read outside transaction: %w", sentinel.ErrInvalidState)
	}
	return tx, nil
}

// isUniqueViolation recognises duplicate keys from either supported driver.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == uniqueViolation
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolation
	}
	return false
}

// nullJSON maps empty documents to SQL NULL. JSON is sent as text so both
// drivers bind it to JSONB columns.
func nullJSON(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

type scanner interface {
	Scan(dest ...any) error
}
