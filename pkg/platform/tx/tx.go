package tx

import (
	"context"
	"database/sql"
	"time"

	dErrors "approvalflow/pkg/domain-errors"
)

type ctxKey struct{}

var txKey = ctxKey{}

// WithTx stores a SQL transaction in context for downstream store usage.
func WithTx(ctx context.Context, tx *sql.Tx) context.Context {
	if tx == nil {
		return ctx
	}
	return context.WithValue(ctx, txKey, tx)
}

// From extracts a SQL transaction from context if present.
func From(ctx context.Context) (*sql.Tx, bool) {
	tx, ok := ctx.Value(txKey).(*sql.Tx)
	return tx, ok
}

// DefaultTimeout bounds a transaction when the caller's context has no deadline.
const DefaultTimeout = 5 * time.Second

// Runner opens a database transaction around fn. Stores called with the
// context handed to fn join the transaction through From.
type Runner struct {
	db      *sql.DB
	timeout time.Duration
	opts    *sql.TxOptions
}

// Option configures a Runner.
type Option func(*Runner)

// WithTimeout overrides DefaultTimeout.
func WithTimeout(d time.Duration) Option {
	return func(r *Runner) {
		r.timeout = d
	}
}

// WithIsolation sets the transaction isolation level.
func WithIsolation(level sql.IsolationLevel) Option {
	return func(r *Runner) {
		r.opts = &sql.TxOptions{Isolation: level}
	}
}

func NewRunner(db *sql.DB, opts ...Option) *Runner {
	r := &Runner{db: db, timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunInTx commits when fn returns nil and rolls back otherwise. A context that
// already carries a transaction runs fn inside it, so nested calls compose.
func (r *Runner) RunInTx(ctx context.Context, fn func(ctx context.Context) error) error {
	if err := ctx.Err(); err != nil {
		return dErrors.Wrap(err, dErrors.CodeTimeout, "transaction aborted: context cancelled")
	}
	if _, ok := From(ctx); ok {
		return fn(ctx)
	}

	if _, hasDeadline := ctx.Deadline(); !hasDeadline && r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tx, err := r.db.BeginTx(ctx, r.opts)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if err := fn(WithTx(ctx, tx)); err != nil {
		return err
	}
	return tx.Commit()
}
