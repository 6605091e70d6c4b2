//go:build integration

package relay_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"github.com/twmb/franz-go/pkg/kgo"

	"approvalflow/internal/approval/models"
	"approvalflow/internal/approval/relay"
	"approvalflow/internal/approval/store/postgres"
	"approvalflow/internal/platform/kafka"
	txcontext "approvalflow/pkg/platform/tx"
	"approvalflow/pkg/testutil/containers"
)

type RelayIntegrationSuite struct {
	suite.Suite
	postgres *containers.PostgresContainer
	redpanda *containers.RedpandaContainer
	store    *postgres.Store
	tx       *txcontext.Runner
	producer *kafka.Producer
}

func TestRelayIntegrationSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping integration test in short mode")
	}
	suite.Run(t, new(RelayIntegrationSuite))
}

func (s *RelayIntegrationSuite) SetupSuite() {
	mgr := containers.GetManager()
	s.postgres = mgr.GetPostgres(s.T())
	s.redpanda = mgr.GetRedpanda(s.T())
	s.store = postgres.New(s.postgres.DB)
	s.tx = txcontext.NewRunner(s.postgres.DB)

	producer, err := kafka.NewProducer(s.redpanda.Brokers, "approvalflow-test")
	s.Require().NoError(err)
	s.producer = producer
}

func (s *RelayIntegrationSuite) TearDownSuite() {
	if s.producer != nil {
		s.producer.Close()
	}
}

func (s *RelayIntegrationSuite) SetupTest() {
	err := s.postgres.TruncateTables(context.Background(),
		"approval_outbox", "approval_audit_log", "approval_executions", "approval_requests", "approval_configurations")
	s.Require().NoError(err)
}

func (s *RelayIntegrationSuite) TestRelaysCommittedAuditToTopic() {
	ctx := context.Background()
	topic := "approval.audit.it." + time.Now().Format("150405.000000")
	s.Require().NoError(s.producer.EnsureTopic(ctx, topic, 1, 1))
	s.Require().NoError(s.producer.EnsureTopic(ctx, topic, 1, 1), "existing topic is not an error")

	now := time.Now().UTC().Truncate(time.Microsecond)
	for _, srid := range []string{"sr-a", "sr-b"} {
		entry := models.NewWorkflowAuditEntry(srid, models.ActionServiceExecuted, "alice", "", nil, now)
		s.Require().NoError(s.store.Append(ctx, entry))
	}

	r, err := relay.New(s.store, s.tx, s.producer,
		relay.WithTopic(topic),
		relay.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))),
	)
	s.Require().NoError(err)

	n, err := r.PublishOnce(ctx)
	s.Require().NoError(err)
	s.Equal(2, n)

	n, err = r.PublishOnce(ctx)
	s.Require().NoError(err)
	s.Zero(n, "published rows are not relayed twice")

	consumer, err := kgo.NewClient(
		kgo.SeedBrokers(s.redpanda.Brokers...),
		kgo.ConsumeTopics(topic),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	s.Require().NoError(err)
	defer consumer.Close()

	var keys []string
	deadline, cancel := context.WithTimeout(ctx, 15*time.Second)
	defer cancel()
	for len(keys) < 2 {
		fetches := consumer.PollFetches(deadline)
		s.Require().NoError(deadline.Err(), "timed out waiting for relayed records")
		fetches.EachRecord(func(rec *kgo.Record) {
			keys = append(keys, string(rec.Key))
			var entry models.AuditEntry
			s.Require().NoError(json.Unmarshal(rec.Value, &entry))
			s.Equal(models.ActionServiceExecuted, entry.Action)
		})
	}
	s.ElementsMatch([]string{"sr-a", "sr-b"}, keys)
}
