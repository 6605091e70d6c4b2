package kafka

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewProducerRequiresBrokers(t *testing.T) {
	_, err := NewProducer(nil, "approvald")
	require.Error(t, err)
}

func TestPublishNothingIsNoop(t *testing.T) {
	// the client dials lazily, so an unreachable seed is fine until a record is produced
	p, err := NewProducer([]string{"127.0.0.1:1"}, "approvald")
	require.NoError(t, err)
	defer p.Close()

	assert.NoError(t, p.Publish(context.Background(), nil))
}
