//go:build integration

package postgres_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"

	"approvalflow/internal/approval/models"
	"approvalflow/internal/approval/store/postgres"
	"approvalflow/pkg/platform/sentinel"
	txcontext "approvalflow/pkg/platform/tx"
	"approvalflow/pkg/testutil/containers"
)

type PostgresStoreSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	store    *postgres.Store
	tx       *txcontext.Runner
	cfg      *models.Configuration
	now      time.Time
}

func TestPostgresStoreSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(PostgresStoreSuite))
}

func (s *PostgresStoreSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.tx = txcontext.NewRunner(s.postgres.DB)
}

func (s *PostgresStoreSuite) SetupTest() {
	ctx := context.Background()
	err := s.postgres.TruncateTables(ctx,
		"approval_outbox", "approval_audit_log", "approval_executions", "approval_requests", "approval_configurations")
	s.Require().NoError(err)

	s.now = time.Now().UTC().Truncate(time.Microsecond)
	cfg, err := models.NewConfiguration("license", "issue", "/license/issue", []models.Level{
		{Name: "supervisor", ApproverRoles: []models.Role{"supervisor"}, Required: true},
		{Name: "director", ApproverRoles: []models.Role{"director", "admin"}, Required: true, TimeoutHours: 24},
	}, models.Conditions{{Field: "amount", Op: models.OpGt, Value: 1000}}, 72, s.now)
	s.Require().NoError(err)
	s.cfg = cfg
}

func (s *PostgresStoreSuite) workflow(srid string) []*models.Request {
	out := make([]*models.Request, 0, len(s.cfg.Levels))
	for _, level := range s.cfg.Levels {
		out = append(out, models.NewPendingRequest(s.cfg, level, srid, "alice", "needed", []byte(`{"amount":1500}`), s.now))
	}
	return out
}

func (s *PostgresStoreSuite) TestConfigurationRoundTrip() {
	ctx := context.Background()

	stored, err := s.store.Upsert(ctx, s.cfg)
	s.Require().NoError(err)
	s.True(stored.SameShape(s.cfg))
	s.True(stored.Enabled)

	s.Require().NoError(s.store.SetEnabled(ctx, "license", "issue", false, s.now))
	again, err := s.store.Upsert(ctx, s.cfg)
	s.Require().NoError(err)
	s.False(again.Enabled, "upsert must not re-enable a disabled workflow")

	list, err := s.store.List(ctx)
	s.Require().NoError(err)
	s.Len(list, 1)

	_, err = s.store.Find(ctx, "license", "renew")
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestCreateBatchIsAtomic() {
	ctx := context.Background()
	s.Require().NoError(s.store.CreateBatch(ctx, s.workflow("sr-1")))

	err := s.tx.RunInTx(ctx, func(ctx context.Context) error {
		return s.store.CreateBatch(ctx, append(s.workflow("sr-2"), s.workflow("sr-1")[0]))
	})
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)

	rows, err := s.store.ListByServiceRequest(ctx, "sr-2")
	s.Require().NoError(err)
	s.Empty(rows)

	rows, err = s.store.ListByServiceRequest(ctx, "sr-1")
	s.Require().NoError(err)
	s.Require().Len(rows, 2)
	s.Equal([]models.Role{"director", "admin"}, rows[1].ApproverRoles)
	s.JSONEq(`{"amount":1500}`, string(rows[0].RequestData))
}

// TestConcurrentResolveHasOneWinner races approvals and rejections on one row.
func (s *PostgresStoreSuite) TestConcurrentResolveHasOneWinner() {
	ctx := context.Background()
	rows := s.workflow("sr-race")
	s.Require().NoError(s.store.CreateBatch(ctx, rows))

	const goroutines = 30
	var wg sync.WaitGroup
	var wins, conflicts atomic.Int32
	for i := range goroutines {
		wg.Add(1)
		go func() {
			defer wg.Done()
			res := models.Resolution{Status: models.StatusApproved, ActorID: "bob", At: s.now}
			if i%2 == 1 {
				res = models.Resolution{Status: models.StatusRejected, ActorID: "carol", RejectionReason: "no", At: s.now}
			}
			_, err := s.store.Resolve(ctx, rows[0].ID, res)
			switch {
			case err == nil:
				wins.Add(1)
			case errors.Is(err, sentinel.ErrConflict):
				conflicts.Add(1)
			}
		}()
	}
	wg.Wait()

	s.Equal(int32(1), wins.Load())
	s.Equal(int32(goroutines-1), conflicts.Load())

	_, err := s.store.Resolve(ctx, uuid.New(), models.Resolution{Status: models.StatusApproved, At: s.now})
	s.ErrorIs(err, sentinel.ErrNotFound)
}

func (s *PostgresStoreSuite) TestResolveWritesResolutionFields() {
	ctx := context.Background()
	rows := s.workflow("sr-fields")
	s.Require().NoError(s.store.CreateBatch(ctx, rows))

	approved, err := s.store.Resolve(ctx, rows[0].ID, models.Resolution{
		Status: models.StatusApproved, ActorID: "bob", Comments: "fine", At: s.now,
	})
	s.Require().NoError(err)
	s.Equal("bob", approved.CurrentApproverID)
	s.Equal("fine", approved.ApproverComments)
	s.Require().NotNil(approved.ApprovedAt)

	expired, err := s.store.Resolve(ctx, rows[1].ID, models.Resolution{Status: models.StatusExpired, At: s.now})
	s.Require().NoError(err)
	s.Equal(models.StatusExpired, expired.Status)
	s.Nil(expired.ApprovedAt)
	s.Empty(expired.CurrentApproverID)
}

// TestLockOverdueSkipsLockedRows runs two sweepers concurrently: each row is
// handed to exactly one of them.
func (s *PostgresStoreSuite) TestLockOverdueSkipsLockedRows() {
	ctx := context.Background()
	for _, srid := range []string{"sr-a", "sr-b", "sr-c"} {
		s.Require().NoError(s.store.CreateBatch(ctx, s.workflow(srid)))
	}
	later := s.now.Add(100 * time.Hour)

	_, err := s.store.LockOverdue(ctx, later, 10)
	s.ErrorIs(err, sentinel.ErrInvalidState)

	firstLocked := make(chan struct{})
	release := make(chan struct{})
	var first, second []*models.Request

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		_ = s.tx.RunInTx(ctx, func(ctx context.Context) error {
			var err error
			first, err = s.store.LockOverdue(ctx, later, 4)
			close(firstLocked)
			<-release
			return err
		})
	}()

	<-firstLocked
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		var err error
		second, err = s.store.LockOverdue(ctx, later, 10)
		return err
	})
	close(release)
	wg.Wait()

	s.Require().NoError(err)
	s.Len(first, 4)
	s.Len(second, 2)
	seen := map[uuid.UUID]bool{}
	for _, r := range append(first, second...) {
		s.False(seen[r.ID], "row handed to two sweepers")
		seen[r.ID] = true
	}
}

func (s *PostgresStoreSuite) TestAuditFeedsOutbox() {
	ctx := context.Background()
	rows := s.workflow("sr-audit")
	s.Require().NoError(s.store.CreateBatch(ctx, rows))
	s.Require().NoError(s.store.Append(ctx, models.NewAuditEntry(rows[0], models.ActionCreated, "alice", "", map[string]any{"level": "supervisor"}, s.now)))
	s.Require().NoError(s.store.Append(ctx, models.NewWorkflowAuditEntry("sr-audit", models.ActionServiceExecuted, "alice", "", nil, s.now.Add(time.Second))))

	entries, err := s.store.ListAudit(ctx, "sr-audit")
	s.Require().NoError(err)
	s.Require().Len(entries, 2)
	s.Require().NotNil(entries[0].ApprovalRequestID)
	s.Nil(entries[1].ApprovalRequestID)

	_, err = s.postgres.DB.ExecContext(ctx, `DELETE FROM approval_audit_log`)
	s.Error(err, "audit log must be append-only")

	var ids []uuid.UUID
	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		msgs, err := s.store.PendingOutbox(ctx, 10)
		if err != nil {
			return err
		}
		for _, m := range msgs {
			ids = append(ids, m.ID)
		}
		return s.store.MarkPublished(ctx, ids, s.now)
	})
	s.Require().NoError(err)
	s.Len(ids, 2)

	err = s.tx.RunInTx(ctx, func(ctx context.Context) error {
		msgs, err := s.store.PendingOutbox(ctx, 10)
		s.Empty(msgs)
		return err
	})
	s.Require().NoError(err)
}

func (s *PostgresStoreSuite) TestExecutionClaims() {
	ctx := context.Background()

	_, err := s.store.Claim(ctx, "sr-exec", s.now, time.Time{})
	s.Require().NoError(err)
	_, err = s.store.Claim(ctx, "sr-exec", s.now, time.Time{})
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)

	s.Require().NoError(s.store.Finish(ctx, "sr-exec", models.ExecutionFailed, s.now))
	exec, err := s.store.Claim(ctx, "sr-exec", s.now.Add(time.Minute), time.Time{})
	s.Require().NoError(err)
	s.Equal(models.ExecutionRunning, exec.Status)
	s.Nil(exec.FinishedAt)

	s.Require().NoError(s.store.Finish(ctx, "sr-exec", models.ExecutionSucceeded, s.now))
	s.ErrorIs(s.store.Finish(ctx, "sr-exec", models.ExecutionSucceeded, s.now), sentinel.ErrConflict)
	s.ErrorIs(s.store.Finish(ctx, "sr-missing", models.ExecutionSucceeded, s.now), sentinel.ErrNotFound)

	_, err = s.store.Claim(ctx, "sr-crashed", s.now, time.Time{})
	s.Require().NoError(err)
	_, err = s.store.Claim(ctx, "sr-crashed", s.now.Add(time.Minute), s.now)
	s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	exec, err = s.store.Claim(ctx, "sr-crashed", s.now.Add(time.Hour), s.now.Add(time.Minute))
	s.Require().NoError(err)
	s.Equal(models.ExecutionRunning, exec.Status)
}
