package expiry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approvalflow/internal/approval/models"
	"approvalflow/internal/approval/service"
	"approvalflow/internal/approval/store/memory"
	"approvalflow/pkg/requestcontext"
)

type stubExpirer struct {
	mu    sync.Mutex
	calls []time.Time
	n     int
	err   error
}

func (e *stubExpirer) ExpireOverdue(_ context.Context, now time.Time) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, now)
	return e.n, e.err
}

func (e *stubExpirer) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

type stubLease struct {
	held       bool
	acquireErr error
	acquired   int
	released   int
}

func (l *stubLease) TryAcquire(context.Context) (bool, error) {
	if l.acquireErr != nil {
		return false, l.acquireErr
	}
	if l.held {
		return false, nil
	}
	l.acquired++
	return true, nil
}

func (l *stubLease) Release(context.Context) error {
	l.released++
	return nil
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestSweepOnce(t *testing.T) {
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }

	t.Run("passes the clock through", func(t *testing.T) {
		exp := &stubExpirer{n: 3}
		s, err := New(exp, WithClock(clock), WithLogger(quietLogger()))
		require.NoError(t, err)

		n, err := s.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 3, n)
		require.Len(t, exp.calls, 1)
		assert.Equal(t, now, exp.calls[0])
	})

	t.Run("skips while another replica holds the lease", func(t *testing.T) {
		exp := &stubExpirer{n: 3}
		lease := &stubLease{held: true}
		s, err := New(exp, WithLease(lease), WithLogger(quietLogger()))
		require.NoError(t, err)

		n, err := s.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Zero(t, n)
		assert.Zero(t, exp.callCount())
		assert.Zero(t, lease.released)
	})

	t.Run("releases an acquired lease", func(t *testing.T) {
		exp := &stubExpirer{}
		lease := &stubLease{}
		s, err := New(exp, WithLease(lease), WithLogger(quietLogger()))
		require.NoError(t, err)

		_, err = s.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, lease.acquired)
		assert.Equal(t, 1, lease.released)
	})

	t.Run("sweeps anyway when the lease backend is down", func(t *testing.T) {
		exp := &stubExpirer{n: 1}
		lease := &stubLease{acquireErr: errors.New("dial tcp: connection refused")}
		s, err := New(exp, WithLease(lease), WithLogger(quietLogger()))
		require.NoError(t, err)

		n, err := s.SweepOnce(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 1, n)
		assert.Zero(t, lease.released)
	})

	t.Run("surfaces expirer errors", func(t *testing.T) {
		exp := &stubExpirer{err: errors.New("db down")}
		s, err := New(exp, WithLogger(quietLogger()))
		require.NoError(t, err)

		_, err = s.SweepOnce(context.Background())
		require.EqualError(t, err, "db down")
	})
}

func TestRunStopsOnCancel(t *testing.T) {
	exp := &stubExpirer{err: errors.New("transient")}
	s, err := New(exp, WithInterval(10*time.Millisecond), WithLogger(quietLogger()))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return exp.callCount() >= 3 }, 2*time.Second, 5*time.Millisecond,
		"errors must not stop the loop")
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweeper did not stop")
	}
}

func TestNewRequiresExpirer(t *testing.T) {
	_, err := New(nil)
	require.Error(t, err)
}

func TestSweepExpiresOverdueWorkflows(t *testing.T) {
	store := memory.New()
	created := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	ctx := requestcontext.WithTime(context.Background(), created)

	cfg, err := models.NewConfiguration("license", "issue", "/license/issue", []models.Level{
		{Name: "supervisor", ApproverRoles: []models.Role{"supervisor"}, Required: true, TimeoutHours: 1},
		{Name: "director", ApproverRoles: []models.Role{"director"}, Required: true, TimeoutHours: 48},
	}, nil, 72, created)
	require.NoError(t, err)
	_, err = store.Upsert(ctx, cfg)
	require.NoError(t, err)

	manager, err := service.New(service.Stores{
		Configs:    store,
		Requests:   store,
		Audit:      store,
		Executions: store,
	}, store, service.WithLogger(quietLogger()))
	require.NoError(t, err)

	_, err = manager.RequestApproval(ctx, service.RequestApprovalInput{
		ServiceRequestID: "sr-1",
		ModuleName:       "license",
		ServiceName:      "issue",
		RequesterID:      "alice",
	})
	require.NoError(t, err)

	later := created.Add(2 * time.Hour)
	s, err := New(manager, WithClock(func() time.Time { return later }), WithLogger(quietLogger()))
	require.NoError(t, err)

	n, err := s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	status, err := manager.GetStatus(ctx, "sr-1")
	require.NoError(t, err)
	assert.Equal(t, models.OverallRejected, status.OverallStatus)
	assert.Equal(t, models.StatusExpired, status.Requests[0].Status)
	assert.Equal(t, models.StatusPending, status.Requests[1].Status)

	n, err = s.SweepOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "expired rows are never swept twice")
}
