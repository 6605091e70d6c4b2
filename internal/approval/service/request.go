package service

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"approvalflow/internal/approval/models"
	dErrors "approvalflow/pkg/domain-errors"
	"approvalflow/pkg/platform/sentinel"
	"approvalflow/pkg/requestcontext"
)

// RequestApprovalInput describes one gated invocation.
type RequestApprovalInput struct {
	ServiceRequestID string
	ModuleName       string
	ServiceName      string
	RequesterID      string
	// RequestData is the operation payload. It is evaluated against the
	// configured conditions and stored with every level.
	RequestData   any
	Justification string
}

// RequestApproval opens a workflow for in.ServiceRequestID. It returns the
// existing rows when a workflow was already opened for this id, and an empty
// slice when the conditions do not call for approval. A service request id
// belongs to one module and service; reusing it for another is a conflict.
func (m *Manager) RequestApproval(ctx context.Context, in RequestApprovalInput) (_ []*models.Request, err error) {
	ctx, span := m.tracer.Start(ctx, "approval.RequestApproval", trace.WithAttributes(
		attribute.String("approval.service", models.ConfigKey(in.ModuleName, in.ServiceName)),
		attribute.String("approval.service_request_id", in.ServiceRequestID),
	))
	defer func() { endSpan(span, err) }()

	if strings.TrimSpace(in.ServiceRequestID) == "" {
		return nil, dErrors.New(dErrors.CodeValidation, "service request id is required")
	}
	if strings.TrimSpace(in.RequesterID) == "" {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "requester identity is required")
	}

	cfg, err := m.configs.Find(ctx, in.ModuleName, in.ServiceName)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeConfigurationMissing,
				"no approval workflow configured for "+models.ConfigKey(in.ModuleName, in.ServiceName))
		}
		return nil, translate(err, "approval configuration")
	}
	if !cfg.Enabled {
		return nil, dErrors.New(dErrors.CodeConfigurationMissing,
			"approval workflow for "+cfg.Key()+" is disabled")
	}

	// an opened workflow is returned before conditions are re-evaluated
	existing, err := m.requests.ListByServiceRequest(ctx, in.ServiceRequestID)
	if err != nil {
		return nil, translate(err, "approval requests")
	}
	if len(existing) > 0 {
		return ownedRows(existing, cfg)
	}

	payload, err := models.DecodePayload(in.RequestData)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "request data must be a JSON object")
	}
	if !cfg.Conditions.Evaluate(payload) {
		m.logger.DebugContext(ctx, "approval conditions not met",
			"service", cfg.Key(),
			"service_request_id", in.ServiceRequestID,
		)
		return []*models.Request{}, nil
	}

	data, err := encodeRequestData(in.RequestData)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeValidation, "request data is not serializable")
	}

	now := requestcontext.Now(ctx)
	rows := make([]*models.Request, 0, len(cfg.Levels))
	for _, level := range cfg.Levels {
		r := models.NewPendingRequest(cfg, level, in.ServiceRequestID, in.RequesterID, in.Justification, data, now)
		approver, rerr := m.resolver.ResolveApprover(ctx, level, in.RequesterID)
		if rerr != nil {
			m.logger.WarnContext(ctx, "approver assignment failed, level left unassigned",
				"service", cfg.Key(),
				"level", level.Name,
				"error", rerr,
			)
		}
		r.CurrentApproverID = approver
		rows = append(rows, r)
	}

	err = m.tx.RunInTx(ctx, func(ctx context.Context) error {
		if err := m.requests.CreateBatch(ctx, rows); err != nil {
			return err
		}
		for _, r := range rows {
			entry := models.NewAuditEntry(r, models.ActionCreated, in.RequesterID, in.Justification, map[string]any{
				"level":       r.ApprovalLevel,
				"level_order": r.LevelOrder,
				"due_date":    r.DueDate,
				"approver":    r.CurrentApproverID,
			}, now)
			if err := m.audit.Append(ctx, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrAlreadyUsed) {
			// lost the race to a concurrent request with the same id
			winners, lerr := m.requests.ListByServiceRequest(ctx, in.ServiceRequestID)
			if lerr != nil {
				return nil, translate(lerr, "approval requests")
			}
			return ownedRows(winners, cfg)
		}
		return nil, translate(err, "approval workflow")
	}

	m.metrics.IncWorkflowCreated(cfg.Key())
	m.logger.InfoContext(ctx, "approval workflow opened",
		"service", cfg.Key(),
		"service_request_id", in.ServiceRequestID,
		"requester_id", in.RequesterID,
		"levels", len(rows),
		"request_id", requestcontext.RequestID(ctx),
	)
	return rows, nil
}

// GetStatus aggregates every level of serviceRequestID.
func (m *Manager) GetStatus(ctx context.Context, serviceRequestID string) (*models.WorkflowStatus, error) {
	rows, err := m.requests.ListByServiceRequest(ctx, serviceRequestID)
	if err != nil {
		return nil, translate(err, "approval requests")
	}
	if len(rows) == 0 {
		return nil, dErrors.New(dErrors.CodeNotFound, "no approval workflow for service request "+serviceRequestID)
	}
	return models.NewWorkflowStatus(serviceRequestID, rows), nil
}

// GetRequest returns a single level by id.
func (m *Manager) GetRequest(ctx context.Context, id string) (*models.Request, error) {
	reqID, err := parseRequestID(id)
	if err != nil {
		return nil, err
	}
	r, err := m.requests.FindByID(ctx, reqID)
	if err != nil {
		return nil, translate(err, "approval request")
	}
	return r, nil
}

// AuditTrail lists the audit entries of serviceRequestID in write order.
func (m *Manager) AuditTrail(ctx context.Context, serviceRequestID string) ([]*models.AuditEntry, error) {
	entries, err := m.audit.ListAudit(ctx, serviceRequestID)
	if err != nil {
		return nil, translate(err, "audit trail")
	}
	return entries, nil
}

// ownedRows returns rows when they were opened for cfg's service.
func ownedRows(rows []*models.Request, cfg *models.Configuration) ([]*models.Request, error) {
	for _, r := range rows {
		if r.ModuleName != cfg.ModuleName || r.ServiceName != cfg.ServiceName {
			return nil, dErrors.New(dErrors.CodeConflict, "service request "+r.ServiceRequestID+
				" belongs to "+models.ConfigKey(r.ModuleName, r.ServiceName)+", not "+cfg.Key())
		}
	}
	return rows, nil
}

func encodeRequestData(data any) (json.RawMessage, error) {
	switch v := data.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(strings.TrimSpace(string(v))) == 0 {
			return nil, nil
		}
		return append(json.RawMessage(nil), v...), nil
	case []byte:
		if len(strings.TrimSpace(string(v))) == 0 {
			return nil, nil
		}
		return append(json.RawMessage(nil), v...), nil
	default:
		return json.Marshal(v)
	}
}
