package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"approvalflow/internal/approval/authz"
	"approvalflow/internal/approval/metrics"
	"approvalflow/internal/approval/ports"
	dErrors "approvalflow/pkg/domain-errors"
	"approvalflow/pkg/platform/sentinel"
)

// SystemActor is recorded on audit entries written by the engine itself.
const SystemActor = "system"

const defaultSweepBatchSize = 100

// DefaultExecutionTimeout is how long a running execution claim is honoured
// before another caller may take it over.
const DefaultExecutionTimeout = 15 * time.Minute

// LevelPolicy decides whether levels may be resolved in any order.
type LevelPolicy string

const (
	// LevelPolicyParallel lets every level be resolved independently.
	LevelPolicyParallel LevelPolicy = "parallel"
	// LevelPolicySequential requires earlier required levels to be approved first.
	LevelPolicySequential LevelPolicy = "sequential"
)

// Stores groups the persistence ports the manager writes through.
type Stores struct {
	Configs    ports.ConfigStore
	Requests   ports.RequestStore
	Audit      ports.AuditStore
	Executions ports.ExecutionStore
}

// Manager owns the lifecycle of approval workflows: creating the per-level
// requests, resolving them, expiring them and recording what ran.
type Manager struct {
	configs    ports.ConfigStore
	requests   ports.RequestStore
	audit      ports.AuditStore
	executions ports.ExecutionStore
	tx         ports.TxRunner

	authorizer authz.Authorizer
	resolver   authz.ApproverResolver
	logger     *slog.Logger
	metrics    *metrics.Metrics
	tracer     trace.Tracer

	policy            LevelPolicy
	allowSelfApproval bool
	sweepBatchSize    int
	executionTimeout  time.Duration
}

type Option func(*Manager)

func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		m.logger = logger
	}
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) {
		m.metrics = mt
	}
}

func WithAuthorizer(a authz.Authorizer) Option {
	return func(m *Manager) {
		m.authorizer = a
	}
}

func WithApproverResolver(r authz.ApproverResolver) Option {
	return func(m *Manager) {
		m.resolver = r
	}
}

func WithLevelPolicy(p LevelPolicy) Option {
	return func(m *Manager) {
		m.policy = p
	}
}

// WithSelfApproval lets requesters resolve levels of their own workflows.
func WithSelfApproval(allow bool) Option {
	return func(m *Manager) {
		m.allowSelfApproval = allow
	}
}

// WithSweepBatchSize bounds how many rows one expiry transaction locks.
func WithSweepBatchSize(n int) Option {
	return func(m *Manager) {
		if n > 0 {
			m.sweepBatchSize = n
		}
	}
}

// WithExecutionTimeout sets how old a running execution claim must be before
// it counts as abandoned. Zero or negative disables takeover.
func WithExecutionTimeout(d time.Duration) Option {
	return func(m *Manager) {
		m.executionTimeout = d
	}
}

// New constructs a Manager. Every store in stores is required.
func New(stores Stores, tx ports.TxRunner, opts ...Option) (*Manager, error) {
	switch {
	case stores.Configs == nil:
		return nil, errors.New("config store is required")
	case stores.Requests == nil:
		return nil, errors.New("request store is required")
	case stores.Audit == nil:
		return nil, errors.New("audit store is required")
	case stores.Executions == nil:
		return nil, errors.New("execution store is required")
	case tx == nil:
		return nil, errors.New("transaction runner is required")
	}
	m := &Manager{
		configs:        stores.Configs,
		requests:       stores.Requests,
		audit:          stores.Audit,
		executions:     stores.Executions,
		tx:             tx,
		authorizer:     authz.NewRoleAuthorizer(),
		resolver:       authz.Unassigned{},
		logger:         slog.Default(),
		tracer:         otel.Tracer("approvalflow/service"),
		policy:         LevelPolicyParallel,
		sweepBatchSize: defaultSweepBatchSize,

		executionTimeout: DefaultExecutionTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

// translate maps store facts to coded errors. Errors that already carry a
// code pass through; anything unrecognised is a persistence fault.
func translate(err error, subject string) error {
	if err == nil {
		return nil
	}
	var coded *dErrors.Error
	switch {
	case errors.As(err, &coded):
		return err
	case errors.Is(err, sentinel.ErrNotFound):
		return dErrors.New(dErrors.CodeNotFound, subject+" not found")
	case errors.Is(err, sentinel.ErrConflict):
		return dErrors.Wrap(err, dErrors.CodeConflict, subject+" already resolved")
	case errors.Is(err, sentinel.ErrAlreadyUsed):
		return dErrors.Wrap(err, dErrors.CodeConflict, subject+" already exists")
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return dErrors.Wrap(err, dErrors.CodeTimeout, subject+": operation timed out")
	default:
		return dErrors.Wrap(err, dErrors.CodePersistence, subject+": storage failure")
	}
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
	}
	span.End()
}
