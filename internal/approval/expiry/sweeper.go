// Package expiry runs the background sweep that moves overdue PENDING
// approval levels to EXPIRED.
package expiry

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

const defaultInterval = time.Minute

// Expirer expires every level due before now and reports how many moved.
type Expirer interface {
	ExpireOverdue(ctx context.Context, now time.Time) (int, error)
}

// Lease lets one replica at a time run the sweep. Row locking already keeps
// concurrent sweeps correct; the lease only saves the duplicate work.
type Lease interface {
	TryAcquire(ctx context.Context) (bool, error)
	Release(ctx context.Context) error
}

type Sweeper struct {
	expirer  Expirer
	lease    Lease
	interval time.Duration
	logger   *slog.Logger
	clock    func() time.Time
}

type Option func(*Sweeper)

func WithInterval(d time.Duration) Option {
	return func(s *Sweeper) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLease(l Lease) Option {
	return func(s *Sweeper) {
		s.lease = l
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		s.logger = logger
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Sweeper) {
		s.clock = clock
	}
}

func New(expirer Expirer, opts ...Option) (*Sweeper, error) {
	if expirer == nil {
		return nil, errors.New("expirer is required")
	}
	s := &Sweeper{
		expirer:  expirer,
		interval: defaultInterval,
		logger:   slog.Default(),
		clock:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Run sweeps once immediately, then every interval until ctx is cancelled.
// Sweep errors are logged and retried on the next tick.
func (s *Sweeper) Run(ctx context.Context) error {
	s.logger.InfoContext(ctx, "expiry sweeper started", "interval", s.interval.String())
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.SweepOnce(ctx); err != nil && ctx.Err() == nil {
			s.logger.ErrorContext(ctx, "expiry sweep failed", "error", err)
		}
		select {
		case <-ctx.Done():
			s.logger.InfoContext(ctx, "expiry sweeper stopped")
			return nil
		case <-ticker.C:
		}
	}
}

// SweepOnce runs a single sweep. It returns 0 without sweeping when another
// replica holds the lease.
func (s *Sweeper) SweepOnce(ctx context.Context) (int, error) {
	if s.lease != nil {
		held, err := s.lease.TryAcquire(ctx)
		switch {
		case err != nil:
			s.logger.WarnContext(ctx, "sweep lease unavailable, sweeping uncoordinated", "error", err)
		case !held:
			s.logger.DebugContext(ctx, "sweep lease held elsewhere, skipping")
			return 0, nil
		default:
			defer func() {
				// release on a fresh context so shutdown still frees the lease
				rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
				defer cancel()
				if err := s.lease.Release(rctx); err != nil {
					s.logger.WarnContext(ctx, "failed to release sweep lease", "error", err)
				}
			}()
		}
	}

	n, err := s.expirer.ExpireOverdue(ctx, s.clock())
	if err != nil {
		return n, err
	}
	if n > 0 {
		s.logger.InfoContext(ctx, "expired overdue approval levels", "count", n)
	}
	return n, nil
}
