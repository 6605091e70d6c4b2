package documents

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	dErrors "approvalflow/pkg/domain-errors"
	"approvalflow/pkg/platform/sentinel"
	"approvalflow/pkg/requestcontext"
)

// Store persists update requests. Execute must apply mutate atomically
// with respect to other Execute calls on the same id.
type Store interface {
	Create(ctx context.Context, r *UpdateRequest) error
	FindByID(ctx context.Context, id uuid.UUID) (*UpdateRequest, error)
	ListByDocument(ctx context.Context, documentID string) ([]*UpdateRequest, error)
	Execute(ctx context.Context, id uuid.UUID, validate func(*UpdateRequest) error, mutate func(*UpdateRequest)) (*UpdateRequest, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func NewService(store Store, opts ...Option) *Service {
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Draft opens an update request for documentID on behalf of the caller.
func (s *Service) Draft(ctx context.Context, documentID string, changes json.RawMessage) (*UpdateRequest, error) {
	actor, ok := requestcontext.ActorFrom(ctx)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authenticated identity required")
	}
	r, err := NewUpdateRequest(documentID, actor.ID, changes, requestcontext.Now(ctx))
	if err != nil {
		return nil, err
	}
	if err := s.store.Create(ctx, r); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to store document update")
	}
	s.logger.InfoContext(ctx, "document update drafted",
		"update_id", r.ID,
		"document_id", documentID,
		"requester_id", actor.ID,
	)
	return r, nil
}

// Submit moves a draft to pending. Only the requester may submit.
func (s *Service) Submit(ctx context.Context, id uuid.UUID) (*UpdateRequest, error) {
	return s.transition(ctx, id, StatusPending, "", true)
}

// Transition moves the request to status for the calling actor.
func (s *Service) Transition(ctx context.Context, id uuid.UUID, to Status, note string) (*UpdateRequest, error) {
	if !to.IsValid() {
		return nil, dErrors.New(dErrors.CodeValidation, "unknown document update status "+string(to))
	}
	return s.transition(ctx, id, to, note, false)
}

func (s *Service) transition(ctx context.Context, id uuid.UUID, to Status, note string, requesterOnly bool) (*UpdateRequest, error) {
	actor, ok := requestcontext.ActorFrom(ctx)
	if !ok {
		return nil, dErrors.New(dErrors.CodeUnauthorized, "authenticated identity required")
	}
	now := requestcontext.Now(ctx)

	var from Status
	updated, err := s.store.Execute(ctx, id,
		func(r *UpdateRequest) error {
			if requesterOnly && r.RequesterID != actor.ID {
				return dErrors.New(dErrors.CodeForbidden, "only the requester may submit a document update")
			}
			from = r.Status
			return r.CanTransition(to, actor.Roles)
		},
		func(r *UpdateRequest) {
			r.ApplyTransition(to, actor.ID, note, now)
		},
	)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "document update not found")
		}
		var de *dErrors.Error
		if errors.As(err, &de) {
			return nil, err
		}
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to update document request")
	}

	s.logger.InfoContext(ctx, "document update transitioned",
		"update_id", id,
		"from", from,
		"to", to,
		"actor_id", actor.ID,
	)
	return updated, nil
}

func (s *Service) Get(ctx context.Context, id uuid.UUID) (*UpdateRequest, error) {
	r, err := s.store.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "document update not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load document update")
	}
	return r, nil
}

// ListByDocument returns the document's update requests, oldest first.
func (s *Service) ListByDocument(ctx context.Context, documentID string) ([]*UpdateRequest, error) {
	rs, err := s.store.ListByDocument(ctx, documentID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to list document updates")
	}
	sort.Slice(rs, func(i, j int) bool { return rs[i].CreatedAt.Before(rs[j].CreatedAt) })
	return rs, nil
}
