// Package config manages workflow configurations: which gated services need
// approval, through which levels, and under which conditions.
package config

import (
	"context"
	"errors"
	"log/slog"

	"approvalflow/internal/approval/metrics"
	"approvalflow/internal/approval/models"
	"approvalflow/internal/approval/ports"
	dErrors "approvalflow/pkg/domain-errors"
	"approvalflow/pkg/platform/sentinel"
	"approvalflow/pkg/requestcontext"
)

// DefaultTimeoutHours applies when a workflow definition sets no timeout.
const DefaultTimeoutHours = 72

// ConfigureRequest defines (or redefines) the workflow of one gated service.
type ConfigureRequest struct {
	ModuleName   string
	ServiceName  string
	EndpointPath string
	Levels       []models.Level
	Conditions   models.Conditions
	TimeoutHours int
}

// Service validates and persists workflow configurations.
type Service struct {
	store   ports.ConfigStore
	logger  *slog.Logger
	metrics *metrics.Metrics
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) {
		s.metrics = m
	}
}

func New(store ports.ConfigStore, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("config store is required")
	}
	s := &Service{store: store, logger: slog.Default()}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Configure validates req and upserts it. Existing approval requests keep
// the level snapshot they were created with.
func (s *Service) Configure(ctx context.Context, req ConfigureRequest) (*models.Configuration, error) {
	cfg, err := models.NewConfiguration(
		req.ModuleName, req.ServiceName, req.EndpointPath,
		req.Levels, req.Conditions, req.TimeoutHours,
		requestcontext.Now(ctx),
	)
	if err != nil {
		return nil, err
	}
	stored, err := s.store.Upsert(ctx, cfg)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to store approval configuration")
	}
	s.logger.InfoContext(ctx, "approval workflow configured",
		"service", stored.Key(),
		"levels", len(stored.Levels),
		"conditions", len(stored.Conditions),
		"timeout_hours", stored.DefaultTimeoutHours,
	)
	return stored, nil
}

// Get returns the configuration of (module, service).
func (s *Service) Get(ctx context.Context, module, service string) (*models.Configuration, error) {
	cfg, err := s.store.Find(ctx, module, service)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeNotFound, "no approval workflow configured for "+models.ConfigKey(module, service))
		}
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to load approval configuration")
	}
	return cfg, nil
}

// List returns every configuration ordered by key.
func (s *Service) List(ctx context.Context) ([]*models.Configuration, error) {
	cfgs, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodePersistence, "failed to list approval configurations")
	}
	return cfgs, nil
}

// EnsureConfigured creates the workflow when none is stored. A stored
// workflow always wins; a differing definition is only logged so an operator
// change is never silently overwritten by code.
func (s *Service) EnsureConfigured(ctx context.Context, req ConfigureRequest) error {
	desired, err := models.NewConfiguration(
		req.ModuleName, req.ServiceName, req.EndpointPath,
		req.Levels, req.Conditions, req.TimeoutHours,
		requestcontext.Now(ctx),
	)
	if err != nil {
		return err
	}

	existing, err := s.store.Find(ctx, req.ModuleName, req.ServiceName)
	switch {
	case err == nil:
		if !existing.SameShape(desired) {
			s.logger.WarnContext(ctx, "stored approval workflow differs from declared guard; keeping stored definition",
				"service", existing.Key(),
				"stored_levels", len(existing.Levels),
				"declared_levels", len(desired.Levels),
			)
		}
		return nil
	case errors.Is(err, sentinel.ErrNotFound):
		if _, err := s.store.Upsert(ctx, desired); err != nil {
			return dErrors.Wrap(err, dErrors.CodePersistence, "failed to auto-configure approval workflow")
		}
		s.logger.InfoContext(ctx, "approval workflow auto-configured",
			"service", desired.Key(),
			"levels", len(desired.Levels),
		)
		return nil
	default:
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to load approval configuration")
	}
}

// Disable stops new workflows for (module, service). Open workflows are unaffected.
func (s *Service) Disable(ctx context.Context, module, service string) error {
	return s.setEnabled(ctx, module, service, false)
}

func (s *Service) Enable(ctx context.Context, module, service string) error {
	return s.setEnabled(ctx, module, service, true)
}

func (s *Service) setEnabled(ctx context.Context, module, service string, enabled bool) error {
	err := s.store.SetEnabled(ctx, module, service, enabled, requestcontext.Now(ctx))
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return dErrors.New(dErrors.CodeNotFound, "no approval workflow configured for "+models.ConfigKey(module, service))
		}
		return dErrors.Wrap(err, dErrors.CodePersistence, "failed to update approval configuration")
	}
	s.logger.InfoContext(ctx, "approval workflow toggled",
		"service", models.ConfigKey(module, service),
		"enabled", enabled,
	)
	return nil
}
