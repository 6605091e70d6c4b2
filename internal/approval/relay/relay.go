// Package relay forwards committed audit entries from the outbox table to the
// approval event topic. Delivery is at-least-once: rows are marked published
// only after the broker acknowledged them.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"approvalflow/internal/approval/metrics"
	"approvalflow/internal/approval/models"
	"approvalflow/internal/approval/ports"
	"approvalflow/internal/platform/kafka"
)

const (
	// DefaultTopic carries every approval audit event, keyed by service request.
	DefaultTopic = "approval.audit"

	defaultBatchSize = 100
	defaultInterval  = time.Second
)

// Producer is the broker side of the relay.
type Producer interface {
	Publish(ctx context.Context, msgs []kafka.Message) error
}

type Relay struct {
	outbox    ports.OutboxStore
	tx        ports.TxRunner
	producer  Producer
	breaker   *gobreaker.CircuitBreaker
	topic     string
	batchSize int
	interval  time.Duration
	logger    *slog.Logger
	metrics   *metrics.Metrics
	clock     func() time.Time
}

type Option func(*Relay)

func WithTopic(topic string) Option {
	return func(r *Relay) {
		r.topic = topic
	}
}

func WithBatchSize(n int) Option {
	return func(r *Relay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

func WithInterval(d time.Duration) Option {
	return func(r *Relay) {
		if d > 0 {
			r.interval = d
		}
	}
}

func WithLogger(logger *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = logger
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithBreakerSettings overrides the breaker tuning. Name and OnStateChange
// are always set by the relay.
func WithBreakerSettings(settings gobreaker.Settings) Option {
	return func(r *Relay) {
		r.breaker = r.newBreaker(settings)
	}
}

func WithClock(clock func() time.Time) Option {
	return func(r *Relay) {
		r.clock = clock
	}
}

func New(outbox ports.OutboxStore, tx ports.TxRunner, producer Producer, opts ...Option) (*Relay, error) {
	if outbox == nil {
		return nil, errors.New("outbox store is required")
	}
	if tx == nil {
		return nil, errors.New("tx runner is required")
	}
	if producer == nil {
		return nil, errors.New("producer is required")
	}
	r := &Relay{
		outbox:    outbox,
		tx:        tx,
		producer:  producer,
		topic:     DefaultTopic,
		batchSize: defaultBatchSize,
		interval:  defaultInterval,
		logger:    slog.Default(),
		clock:     time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.breaker == nil {
		r.breaker = r.newBreaker(gobreaker.Settings{
			MaxRequests: 1,
			Timeout:     30 * time.Second,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= 5
			},
		})
	}
	return r, nil
}

func (r *Relay) newBreaker(settings gobreaker.Settings) *gobreaker.CircuitBreaker {
	settings.Name = "approval-outbox-relay"
	settings.OnStateChange = func(name string, from, to gobreaker.State) {
		r.logger.Warn("circuit breaker state changed", "name", name, "from", from.String(), "to", to.String())
	}
	return gobreaker.NewCircuitBreaker(settings)
}

// Run drains the outbox every interval until ctx is cancelled. A full batch
// is followed immediately by the next one.
func (r *Relay) Run(ctx context.Context) error {
	r.logger.InfoContext(ctx, "outbox relay started", "topic", r.topic, "interval", r.interval.String())
	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.InfoContext(ctx, "outbox relay stopped")
			return nil
		case <-timer.C:
		}

		n, err := r.PublishOnce(ctx)
		switch {
		case err != nil && ctx.Err() == nil:
			if errors.Is(err, gobreaker.ErrOpenState) {
				r.logger.DebugContext(ctx, "outbox relay paused, broker circuit open")
			} else {
				r.logger.ErrorContext(ctx, "outbox relay batch failed", "error", err)
			}
			timer.Reset(r.interval)
		case n == r.batchSize:
			timer.Reset(0)
		default:
			timer.Reset(r.interval)
		}
	}
}

// PublishOnce relays one batch. Rows stay pending when the broker refuses them.
func (r *Relay) PublishOnce(ctx context.Context) (int, error) {
	published := 0
	err := r.tx.RunInTx(ctx, func(ctx context.Context) error {
		published = 0
		pending, err := r.outbox.PendingOutbox(ctx, r.batchSize)
		if err != nil {
			return fmt.Errorf("load outbox: %w", err)
		}
		if len(pending) == 0 {
			return nil
		}

		msgs := make([]kafka.Message, len(pending))
		ids := make([]uuid.UUID, len(pending))
		for i, m := range pending {
			msgs[i] = toMessage(r.topic, m)
			ids[i] = m.ID
		}

		_, err = r.breaker.Execute(func() (any, error) {
			return nil, r.producer.Publish(ctx, msgs)
		})
		if err != nil {
			r.metrics.IncOutboxPublishFailure()
			return err
		}
		if err := r.outbox.MarkPublished(ctx, ids, r.clock()); err != nil {
			return fmt.Errorf("mark outbox published: %w", err)
		}
		published = len(pending)
		return nil
	})
	if err != nil {
		return 0, err
	}
	if published > 0 {
		r.metrics.AddOutboxPublished(published)
		r.logger.DebugContext(ctx, "relayed outbox batch", "count", published, "topic", r.topic)
	}
	return published, nil
}

func toMessage(topic string, m *models.OutboxMessage) kafka.Message {
	return kafka.Message{
		Topic: topic,
		Key:   []byte(m.AggregateID),
		Value: m.Payload,
		Headers: map[string]string{
			"event_type": m.EventType,
			"message_id": m.ID.String(),
		},
	}
}
