//go:build integration

package expiry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"approvalflow/pkg/testutil/containers"
)

type RedisLeaseSuite struct {
	suite.Suite
	redis *containers.RedisContainer
}

func TestRedisLeaseSuite(t *testing.T) {
	suite.Run(t, new(RedisLeaseSuite))
}

func (s *RedisLeaseSuite) SetupSuite() {
	s.redis = containers.GetManager().GetRedis(s.T())
}

func (s *RedisLeaseSuite) SetupTest() {
	s.Require().NoError(s.redis.FlushAll(context.Background()))
}

func (s *RedisLeaseSuite) TestOneHolderAtATime() {
	ctx := context.Background()
	a, err := NewRedisLease(s.redis.Client, "", time.Minute)
	s.Require().NoError(err)
	b, err := NewRedisLease(s.redis.Client, "", time.Minute)
	s.Require().NoError(err)

	held, err := a.TryAcquire(ctx)
	s.Require().NoError(err)
	s.True(held)

	held, err = b.TryAcquire(ctx)
	s.Require().NoError(err)
	s.False(held)

	s.Require().NoError(a.Release(ctx))
	held, err = b.TryAcquire(ctx)
	s.Require().NoError(err)
	s.True(held)
}

func (s *RedisLeaseSuite) TestReleaseNeverFreesAForeignLease() {
	ctx := context.Background()
	a, err := NewRedisLease(s.redis.Client, "lease:foreign", 50*time.Millisecond)
	s.Require().NoError(err)
	b, err := NewRedisLease(s.redis.Client, "lease:foreign", time.Minute)
	s.Require().NoError(err)

	held, err := a.TryAcquire(ctx)
	s.Require().NoError(err)
	s.Require().True(held)

	// a's lease lapses and b takes over
	s.Require().Eventually(func() bool {
		ok, err := b.TryAcquire(ctx)
		return err == nil && ok
	}, 2*time.Second, 20*time.Millisecond)

	s.Require().NoError(a.Release(ctx))
	exists, err := s.redis.Client.Exists(ctx, "lease:foreign").Result()
	s.Require().NoError(err)
	s.Equal(int64(1), exists, "stale holder must not delete the new lease")
}

func (s *RedisLeaseSuite) TestSweeperSkipsWhileLeaseHeld() {
	ctx := context.Background()
	other, err := NewRedisLease(s.redis.Client, "", time.Minute)
	s.Require().NoError(err)
	held, err := other.TryAcquire(ctx)
	s.Require().NoError(err)
	s.Require().True(held)

	lease, err := NewRedisLease(s.redis.Client, "", time.Minute)
	s.Require().NoError(err)
	exp := &stubExpirer{n: 5}
	sweeper, err := New(exp, WithLease(lease), WithLogger(quietLogger()))
	s.Require().NoError(err)

	n, err := sweeper.SweepOnce(ctx)
	s.Require().NoError(err)
	s.Zero(n)
	s.Zero(exp.callCount())
}
