// Package gate wraps business operations so they run only once the approval
// workflow configured for them allows it. Every failure to decide closes the
// gate: the wrapped operation never runs on error.
package gate

//go:generate mockgen -source=gate.go -destination=mocks/mocks.go -package=mocks Manager,Configurer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"approvalflow/internal/approval/config"
	"approvalflow/internal/approval/metrics"
	"approvalflow/internal/approval/models"
	"approvalflow/internal/approval/service"
	dErrors "approvalflow/pkg/domain-errors"
	"approvalflow/pkg/requestcontext"
)

// Invocation is one call of a gated operation.
type Invocation struct {
	// ServiceRequestID identifies the call across retries. Generated when empty.
	ServiceRequestID string
	// Payload must marshal to a JSON object; conditions are evaluated on it.
	Payload       any
	Justification string
}

// Operation is the business action being gated.
type Operation func(ctx context.Context, inv Invocation) (any, error)

// Middleware wraps an Operation.
type Middleware func(Operation) Operation

// Manager is the workflow surface the gate needs.
type Manager interface {
	RequestApproval(ctx context.Context, in service.RequestApprovalInput) ([]*models.Request, error)
	GetStatus(ctx context.Context, serviceRequestID string) (*models.WorkflowStatus, error)
	ClaimExecution(ctx context.Context, serviceRequestID string) (*models.Execution, error)
	CompleteExecution(ctx context.Context, serviceRequestID, actorID string, execErr error) error
	RecordExecution(ctx context.Context, serviceRequestID, actorID string, execErr error) error
}

// Configurer auto-registers workflows declared on guards.
type Configurer interface {
	EnsureConfigured(ctx context.Context, req config.ConfigureRequest) error
}

// GuardSpec declares the workflow a gated service expects.
type GuardSpec struct {
	ModuleName   string
	ServiceName  string
	EndpointPath string
	Levels       []models.Level
	Conditions   models.Conditions
	TimeoutHours int
	// AutoConfigure registers the declared workflow when none is stored.
	AutoConfigure bool
}

func (s GuardSpec) key() string {
	return models.ConfigKey(s.ModuleName, s.ServiceName)
}

// owns fails with a conflict when rows were opened for another service.
func (s GuardSpec) owns(serviceRequestID string, rows []*models.Request) error {
	for _, r := range rows {
		if r.ModuleName != s.ModuleName || r.ServiceName != s.ServiceName {
			return dErrors.New(dErrors.CodeConflict, fmt.Sprintf("service request %s belongs to %s, not %s",
				serviceRequestID, models.ConfigKey(r.ModuleName, r.ServiceName), s.key()))
		}
	}
	return nil
}

func (s GuardSpec) configureRequest() config.ConfigureRequest {
	timeout := s.TimeoutHours
	if timeout == 0 {
		timeout = config.DefaultTimeoutHours
	}
	return config.ConfigureRequest{
		ModuleName:   s.ModuleName,
		ServiceName:  s.ServiceName,
		EndpointPath: s.EndpointPath,
		Levels:       s.Levels,
		Conditions:   s.Conditions,
		TimeoutHours: timeout,
	}
}

// Gate decides, per invocation, whether an operation runs now, waits for
// approval, or is refused.
type Gate struct {
	configs Configurer
	manager Manager
	logger  *slog.Logger
	metrics *metrics.Metrics
	tracer  trace.Tracer
}

type Option func(*Gate)

func WithLogger(logger *slog.Logger) Option {
	return func(g *Gate) {
		g.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Gate) {
		g.metrics = m
	}
}

func New(configs Configurer, manager Manager, opts ...Option) (*Gate, error) {
	if configs == nil {
		return nil, errors.New("configurer is required")
	}
	if manager == nil {
		return nil, errors.New("workflow manager is required")
	}
	g := &Gate{
		configs: configs,
		manager: manager,
		logger:  slog.Default(),
		tracer:  otel.Tracer("approvalflow/gate"),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Guard returns the middleware for spec. The wrapped operation returns a
// *PendingResult instead of running while approval is outstanding.
func (g *Gate) Guard(spec GuardSpec) Middleware {
	return func(next Operation) Operation {
		return func(ctx context.Context, inv Invocation) (result any, err error) {
			ctx, span := g.tracer.Start(ctx, "gate."+spec.key(), trace.WithAttributes(
				attribute.String("approval.service", spec.key()),
			))
			defer func() {
				if err != nil {
					span.RecordError(err)
					span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
					g.metrics.IncGateDecision(spec.key(), "error")
				}
				span.End()
			}()

			actor, ok := requestcontext.ActorFrom(ctx)
			if !ok {
				return nil, dErrors.New(dErrors.CodeUnauthorized, "authenticated identity required")
			}

			if spec.AutoConfigure {
				if err := g.configs.EnsureConfigured(ctx, spec.configureRequest()); err != nil {
					if dErrors.HasCode(err, dErrors.CodeConfiguration) {
						return nil, err
					}
					// a stored workflow may still exist; the lookup below decides
					g.logger.WarnContext(ctx, "approval auto-configuration failed",
						"service", spec.key(),
						"error", err,
					)
				}
			}

			if inv.ServiceRequestID == "" {
				inv.ServiceRequestID = uuid.NewString()
			}
			span.SetAttributes(attribute.String("approval.service_request_id", inv.ServiceRequestID))

			rows, err := g.manager.RequestApproval(ctx, service.RequestApprovalInput{
				ServiceRequestID: inv.ServiceRequestID,
				ModuleName:       spec.ModuleName,
				ServiceName:      spec.ServiceName,
				RequesterID:      actor.ID,
				RequestData:      inv.Payload,
				Justification:    inv.Justification,
			})
			if err != nil {
				g.logger.WarnContext(ctx, "approval gate closed",
					"service", spec.key(),
					"service_request_id", inv.ServiceRequestID,
					"error", err,
				)
				return nil, err
			}

			if len(rows) == 0 {
				g.metrics.IncGateDecision(spec.key(), "executed")
				return g.runUngated(ctx, actor, inv, next)
			}

			if err := spec.owns(inv.ServiceRequestID, rows); err != nil {
				return nil, err
			}
			status := models.NewWorkflowStatus(inv.ServiceRequestID, rows)
			switch status.OverallStatus {
			case models.OverallApproved:
				g.metrics.IncGateDecision(spec.key(), "executed")
				// the approvers signed off on the stored request, not this call's
				return g.runClaimed(ctx, actor, storedInvocation(inv.ServiceRequestID, status.Rows()), next)
			case models.OverallRejected:
				return nil, dErrors.New(dErrors.CodeConflict,
					fmt.Sprintf("service request %s was not approved", inv.ServiceRequestID))
			default:
				g.metrics.IncGateDecision(spec.key(), "approval_required")
				g.logger.InfoContext(ctx, "approval required",
					"service", spec.key(),
					"service_request_id", inv.ServiceRequestID,
					"levels", len(rows),
				)
				return NewPendingResult(status), nil
			}
		}
	}
}

// ExecuteApproved runs op for a workflow of spec's service that can proceed,
// at most once. The payload and justification stored with the workflow are
// replayed.
func (g *Gate) ExecuteApproved(ctx context.Context, spec GuardSpec, serviceRequestID string, op Operation) (result any, err error) {
	ctx, span := g.tracer.Start(ctx, "gate.ExecuteApproved", trace.WithAttributes(
		attribute.String("approval.service", spec.key()),
		attribute.String("approval.service_request_id", serviceRequestID),
	))
	defer func() {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(dErrors.CodeOf(err)))
		}
		span.End()
	}()

	actor, ok := requestcontext.ActorFrom(ctx)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authenticated identity required")
	}

	status, err := g.manager.GetStatus(ctx, serviceRequestID)
	if err != nil {
		return nil, err
	}
	if err := spec.owns(serviceRequestID, status.Rows()); err != nil {
		return nil, err
	}
	switch status.OverallStatus {
	case models.OverallRejected:
		return nil, dErrors.New(dErrors.CodeConflict, "service request "+serviceRequestID+" was not approved")
	case models.OverallPending:
		return nil, dErrors.New(dErrors.CodeConflict, "service request "+serviceRequestID+" is still awaiting approval")
	}

	return g.runClaimed(ctx, actor, storedInvocation(serviceRequestID, status.Rows()), op)
}

// storedInvocation rebuilds the invocation the approvers saw.
func storedInvocation(serviceRequestID string, rows []*models.Request) Invocation {
	inv := Invocation{ServiceRequestID: serviceRequestID}
	if len(rows) > 0 {
		inv.Justification = rows[0].Justification
		if len(rows[0].RequestData) > 0 {
			inv.Payload = json.RawMessage(rows[0].RequestData)
		}
	}
	return inv
}

// runUngated runs an operation that needed no approval and audits the outcome.
func (g *Gate) runUngated(ctx context.Context, actor requestcontext.Actor, inv Invocation, op Operation) (any, error) {
	result, opErr := op(ctx, inv)
	if err := g.manager.RecordExecution(ctx, inv.ServiceRequestID, actor.ID, opErr); err != nil {
		g.logger.ErrorContext(ctx, "failed to audit gated execution",
			"service_request_id", inv.ServiceRequestID,
			"error", err,
		)
	}
	if opErr != nil {
		return nil, opErr
	}
	return result, nil
}

// runClaimed claims the single execution slot, runs op and records the outcome.
// A panicking op is recorded as failed so the slot can be claimed again.
func (g *Gate) runClaimed(ctx context.Context, actor requestcontext.Actor, inv Invocation, op Operation) (result any, opErr error) {
	if _, err := g.manager.ClaimExecution(ctx, inv.ServiceRequestID); err != nil {
		return nil, err
	}

	completed := false
	defer func() {
		if completed {
			return
		}
		if r := recover(); r != nil {
			g.complete(ctx, actor, inv.ServiceRequestID, fmt.Errorf("operation panicked: %v", r))
			panic(r)
		}
	}()

	result, opErr = op(ctx, inv)
	completed = true
	g.complete(ctx, actor, inv.ServiceRequestID, opErr)
	if opErr != nil {
		return nil, opErr
	}
	return result, nil
}

func (g *Gate) complete(ctx context.Context, actor requestcontext.Actor, serviceRequestID string, opErr error) {
	if err := g.manager.CompleteExecution(ctx, serviceRequestID, actor.ID, opErr); err != nil {
		g.logger.ErrorContext(ctx, "failed to record execution outcome",
			"service_request_id", serviceRequestID,
			"error", err,
		)
	}
}
