package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"approvalflow/internal/approval/config"
	"approvalflow/internal/approval/expiry"
	approvalmetrics "approvalflow/internal/approval/metrics"
	"approvalflow/internal/approval/ports"
	"approvalflow/internal/approval/service"
	"approvalflow/internal/approval/store/memory"
	approvalpg "approvalflow/internal/approval/store/postgres"
	"approvalflow/internal/identity"
	platformconfig "approvalflow/internal/platform/config"
	platformmetrics "approvalflow/internal/platform/metrics"
	"approvalflow/internal/platform/postgres"
	"approvalflow/internal/platform/redis"
	txcontext "approvalflow/pkg/platform/tx"
)

// app holds every wired component. Commands build one and close it on exit.
type app struct {
	cfg      platformconfig.Config
	logger   *slog.Logger
	registry *prometheus.Registry
	metrics  *approvalmetrics.Metrics

	db     *sql.DB
	redis  *redis.Client
	tx     ports.TxRunner
	outbox ports.OutboxStore

	manager *service.Manager
	configs *config.Service
	tokens  *identity.TokenService

	closers []func()
}

func newApp(ctx context.Context, cfg platformconfig.Config, logger *slog.Logger) (_ *app, err error) {
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: platformmetrics.NewRegistry(),
	}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()
	a.metrics = approvalmetrics.New(a.registry)

	var stores service.Stores
	if cfg.Database.URL != "" {
		db, err := postgres.Open(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		a.db = db
		a.closers = append(a.closers, func() { _ = db.Close() })
		if err := approvalpg.Migrate(ctx, db); err != nil {
			return nil, fmt.Errorf("migrate approval schema: %w", err)
		}
		store := approvalpg.New(db)
		stores = service.Stores{Configs: store, Requests: store, Audit: store, Executions: store}
		a.tx = txcontext.NewRunner(db)
		a.outbox = store
	} else {
		logger.WarnContext(ctx, "no database configured, using the in-memory store; state is lost on exit")
		store := memory.New()
		stores = service.Stores{Configs: store, Requests: store, Audit: store, Executions: store}
		a.tx = store
		a.outbox = store
	}

	rc, err := redis.New(ctx, cfg.Redis)
	if err != nil {
		// the lease is an optimisation; sweeps stay correct without it
		logger.WarnContext(ctx, "redis unavailable, sweeps run without a lease", "error", err)
	} else if rc != nil {
		a.redis = rc
		a.closers = append(a.closers, func() { _ = rc.Close() })
	}

	policy := service.LevelPolicyParallel
	if cfg.Engine.LevelPolicy == string(service.LevelPolicySequential) {
		policy = service.LevelPolicySequential
	}
	a.manager, err = service.New(stores, a.tx,
		service.WithLogger(logger),
		service.WithMetrics(a.metrics),
		service.WithLevelPolicy(policy),
		service.WithSelfApproval(cfg.Engine.AllowSelfApproval),
		service.WithSweepBatchSize(cfg.Engine.SweepBatchSize),
		service.WithExecutionTimeout(cfg.Engine.ExecutionTimeout),
	)
	if err != nil {
		return nil, err
	}
	a.configs, err = config.New(stores.Configs, config.WithLogger(logger), config.WithMetrics(a.metrics))
	if err != nil {
		return nil, err
	}

	if cfg.Auth.JWTSecret != "" {
		a.tokens, err = identity.NewTokenService(cfg.Auth.JWTSecret, cfg.Auth.JWTIssuer, cfg.Auth.JWTAudience)
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

// sweeper builds the expiry sweeper, leased through Redis when configured.
func (a *app) sweeper() (*expiry.Sweeper, error) {
	opts := []expiry.Option{
		expiry.WithInterval(a.cfg.Engine.SweepInterval),
		expiry.WithLogger(a.logger),
	}
	if a.redis != nil {
		lease, err := expiry.NewRedisLease(a.redis.Client, expiry.DefaultLeaseKey, a.cfg.Engine.LeaseTTL)
		if err != nil {
			return nil, err
		}
		opts = append(opts, expiry.WithLease(lease))
	}
	return expiry.New(a.manager, opts...)
}

// authenticate turns a bearer credential into an actor-carrying context.
func (a *app) authenticate(ctx context.Context, credential string) (context.Context, error) {
	if a.tokens == nil {
		return ctx, fmt.Errorf("APPROVALFLOW_JWT_SECRET is not set; cannot verify the acting identity")
	}
	return a.tokens.Authenticate(ctx, credential)
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
