package memory

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
	"approvalflow/pkg/platform/sentinel"
)

type StoreSuite struct {
	suite.Suite
	store *Store
	ctx   context.Context
	now   time.Time
	cfg   *models.Configuration
}

func TestStoreSuite(t *testing.T) {
	suite.Run(t, new(StoreSuite))
}

func (s *StoreSuite) SetupTest() {
	s.store = New()
	s.ctx = context.Background()
	s.now = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	cfg, err := models.NewConfiguration("license", "issue", "/license/issue", []models.Level{
		{Name: "supervisor", ApproverRoles: []models.Role{"supervisor"}, Required: true},
		{Name: "director", ApproverRoles: []models.Role{"director"}, Required: true, TimeoutHours: 24},
	}, nil, 72, s.now)
	s.Require().NoError(err)
	s.cfg = cfg
}

func (s *StoreSuite) pending(srid string) []*models.Request {
	out := make([]*models.Request, 0, len(s.cfg.Levels))
	for _, level := range s.cfg.Levels {
		out = append(out, models.NewPendingRequest(s.cfg, level, srid, "alice", "", nil, s.now))
	}
	return out
}

func (s *StoreSuite) TestConfigurations() {
	s.Run("find unknown key", func() {
		_, err := s.store.Find(s.ctx, "nope", "nope")
		s.ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("upsert keeps created_at and enabled flag", func() {
		_, err := s.store.Upsert(s.ctx, s.cfg)
		s.Require().NoError(err)
		s.Require().NoError(s.store.SetEnabled(s.ctx, "license", "issue", false, s.now))

		next := s.cfg.Clone()
		next.Levels = next.Levels[:1]
		next.CreatedAt = s.now.Add(time.Hour)
		next.UpdatedAt = s.now.Add(time.Hour)
		stored, err := s.store.Upsert(s.ctx, next)
		s.Require().NoError(err)
		s.Equal(s.now, stored.CreatedAt)
		s.False(stored.Enabled)
		s.Len(stored.Levels, 1)
	})

	s.Run("returned values are copies", func() {
		found, err := s.store.Find(s.ctx, "license", "issue")
		s.Require().NoError(err)
		found.Levels[0].Name = "mutated"

		again, err := s.store.Find(s.ctx, "license", "issue")
		s.Require().NoError(err)
		s.Equal("supervisor", again.Levels[0].Name)
	})

	s.Run("set enabled on unknown key", func() {
		err := s.store.SetEnabled(s.ctx, "x", "y", true, s.now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *StoreSuite) TestRequests() {
	rows := s.pending("sr-1")
	s.Require().NoError(s.store.CreateBatch(s.ctx, rows))

	s.Run("list returns rows in level order", func() {
		got, err := s.store.ListByServiceRequest(s.ctx, "sr-1")
		s.Require().NoError(err)
		s.Require().Len(got, 2)
		s.Equal("supervisor", got[0].ApprovalLevel)
		s.Equal("director", got[1].ApprovalLevel)
	})

	s.Run("unknown service request lists empty", func() {
		got, err := s.store.ListByServiceRequest(s.ctx, "missing")
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("duplicate level is rejected and nothing is written", func() {
		extra := s.pending("sr-2")
		dup := s.pending("sr-1")[:1]
		err := s.store.CreateBatch(s.ctx, append(extra, dup...))
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)

		got, err := s.store.ListByServiceRequest(s.ctx, "sr-2")
		s.Require().NoError(err)
		s.Empty(got)
	})

	s.Run("resolve once then conflict", func() {
		res := models.Resolution{Status: models.StatusApproved, ActorID: "bob", Comments: "ok", At: s.now}
		got, err := s.store.Resolve(s.ctx, rows[0].ID, res)
		s.Require().NoError(err)
		s.Equal(models.StatusApproved, got.Status)
		s.Equal("bob", got.CurrentApproverID)
		s.Require().NotNil(got.ApprovedAt)

		_, err = s.store.Resolve(s.ctx, rows[0].ID, models.Resolution{Status: models.StatusRejected, ActorID: "carol", At: s.now})
		s.ErrorIs(err, sentinel.ErrConflict)
	})

	s.Run("resolve unknown id", func() {
		_, err := s.store.Resolve(s.ctx, uuid.New(), models.Resolution{Status: models.StatusApproved, At: s.now})
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}

func (s *StoreSuite) TestConcurrentResolveHasOneWinner() {
	rows := s.pending("sr-race")
	s.Require().NoError(s.store.CreateBatch(s.ctx, rows))

	const workers = 20
	var wins, conflicts atomic.Int32
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			status := models.StatusApproved
			if i%2 == 0 {
				status = models.StatusRejected
			}
			_, err := s.store.Resolve(s.ctx, rows[0].ID, models.Resolution{Status: status, ActorID: "x", At: s.now})
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
	s.Equal(int32(workers-1), conflicts.Load())
}

func (s *StoreSuite) TestRunInTx() {
	s.Run("error rolls back every write", func() {
		boom := errors.New("boom")
		err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			s.Require().NoError(s.store.CreateBatch(ctx, s.pending("sr-tx")))
			s.Require().NoError(s.store.Append(ctx, models.NewWorkflowAuditEntry("sr-tx", models.ActionCreated, "alice", "", nil, s.now)))
			return boom
		})
		s.ErrorIs(err, boom)

		rows, err := s.store.ListByServiceRequest(s.ctx, "sr-tx")
		s.Require().NoError(err)
		s.Empty(rows)
		entries, err := s.store.ListAudit(s.ctx, "sr-tx")
		s.Require().NoError(err)
		s.Empty(entries)
	})

	s.Run("nested transactions join the outer one", func() {
		err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			return s.store.RunInTx(ctx, func(ctx context.Context) error {
				return s.store.CreateBatch(ctx, s.pending("sr-nested"))
			})
		})
		s.Require().NoError(err)
		rows, err := s.store.ListByServiceRequest(s.ctx, "sr-nested")
		s.Require().NoError(err)
		s.Len(rows, 2)
	})

	s.Run("cancelled context never runs fn", func() {
		ctx, cancel := context.WithCancel(s.ctx)
		cancel()
		called := false
		err := s.store.RunInTx(ctx, func(context.Context) error {
			called = true
			return nil
		})
		s.ErrorIs(err, context.Canceled)
		s.False(called)
	})
}

func (s *StoreSuite) TestLockOverdue() {
	rows := s.pending("sr-due")
	s.Require().NoError(s.store.CreateBatch(s.ctx, rows))

	s.Run("requires a transaction", func() {
		_, err := s.store.LockOverdue(s.ctx, s.now, 10)
		s.ErrorIs(err, sentinel.ErrInvalidState)
	})

	s.Run("returns only rows past due, oldest first", func() {
		later := s.now.Add(25 * time.Hour)
		err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			got, err := s.store.LockOverdue(ctx, later, 10)
			s.Require().NoError(err)
			s.Require().Len(got, 1)
			s.Equal("director", got[0].ApprovalLevel)
			return nil
		})
		s.Require().NoError(err)
	})

	s.Run("limit caps the batch", func() {
		later := s.now.Add(100 * time.Hour)
		err := s.store.RunInTx(s.ctx, func(ctx context.Context) error {
			got, err := s.store.LockOverdue(ctx, later, 1)
			s.Require().NoError(err)
			s.Len(got, 1)
			return nil
		})
		s.Require().NoError(err)
	})
}

func (s *StoreSuite) TestAuditAndOutbox() {
	entry := models.NewWorkflowAuditEntry("sr-a", models.ActionServiceExecuted, "alice", "", map[string]any{"k": "v"}, s.now)
	s.Require().NoError(s.store.Append(s.ctx, entry))

	entries, err := s.store.ListAudit(s.ctx, "sr-a")
	s.Require().NoError(err)
	s.Require().Len(entries, 1)
	s.Equal(models.ActionServiceExecuted, entries[0].Action)

	err = s.store.RunInTx(s.ctx, func(ctx context.Context) error {
		msgs, err := s.store.PendingOutbox(ctx, 10)
		s.Require().NoError(err)
		s.Require().Len(msgs, 1)
		s.Equal("sr-a", msgs[0].AggregateID)
		s.Equal(string(models.ActionServiceExecuted), msgs[0].EventType)
		return s.store.MarkPublished(ctx, []uuid.UUID{msgs[0].ID}, s.now)
	})
	s.Require().NoError(err)

	err = s.store.RunInTx(s.ctx, func(ctx context.Context) error {
		msgs, err := s.store.PendingOutbox(ctx, 10)
		s.Require().NoError(err)
		s.Empty(msgs)
		return nil
	})
	s.Require().NoError(err)
}

func (s *StoreSuite) TestExecutions() {
	s.Run("claim once", func() {
		exec, err := s.store.Claim(s.ctx, "sr-x", s.now, time.Time{})
		s.Require().NoError(err)
		s.Equal(models.ExecutionRunning, exec.Status)

		_, err = s.store.Claim(s.ctx, "sr-x", s.now, time.Time{})
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)
	})

	s.Run("succeeded execution cannot be reclaimed", func() {
		s.Require().NoError(s.store.Finish(s.ctx, "sr-x", models.ExecutionSucceeded, s.now))
		_, err := s.store.Claim(s.ctx, "sr-x", s.now, time.Time{})
		s.ErrorIs(err, sentinel.ErrAlreadyUsed)

		exec, err := s.store.FindExecution(s.ctx, "sr-x")
		s.Require().NoError(err)
		s.Equal(models.ExecutionSucceeded, exec.Status)
		s.NotNil(exec.FinishedAt)
	})

	s.Run("failed execution can be reclaimed", func() {
		_, err := s.store.Claim(s.ctx, "sr-y", s.now, time.Time{})
		s.Require().NoError(err)
		s.Require().NoError(s.store.Finish(s.ctx, "sr-y", models.ExecutionFailed, s.now))

		exec, err := s.store.Claim(s.ctx, "sr-y", s.now.Add(time.Minute), time.Time{})
		s.Require().NoError(err)
		s.Equal(models.ExecutionRunning, exec.Status)
	})

	s.Run("stale running claim can be taken over", func() {
		_, err := s.store.Claim(s.ctx, "sr-z", s.now, time.Time{})
		s.Require().NoError(err)

		_, err = s.store.Claim(s.ctx, "sr-z", s.now.Add(time.Minute), s.now)
		s.ErrorIs(err, sentinel.ErrAlreadyUsed, "claim made at the cutoff is still fresh")

		exec, err := s.store.Claim(s.ctx, "sr-z", s.now.Add(time.Hour), s.now.Add(time.Minute))
		s.Require().NoError(err)
		s.Equal(models.ExecutionRunning, exec.Status)
		s.Equal(s.now.Add(time.Hour), exec.ClaimedAt)
	})

	s.Run("finish without claim", func() {
		err := s.store.Finish(s.ctx, "sr-none", models.ExecutionSucceeded, s.now)
		s.ErrorIs(err, sentinel.ErrNotFound)
	})
}
