package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"approvalflow/internal/platform/config"
	"approvalflow/pkg/platform/sentinel"
)

func TestNewWithoutURL(t *testing.T) {
	c, err := New(context.Background(), config.RedisConfig{})
	require.NoError(t, err)
	assert.Nil(t, c)
}

func TestNewRejectsMalformedURL(t *testing.T) {
	_, err := New(context.Background(), config.RedisConfig{URL: "not a url"})
	require.Error(t, err)
}

func TestNewReportsUnreachableServer(t *testing.T) {
	// port 1 is reserved and refuses connections
	_, err := New(context.Background(), config.RedisConfig{
		URL:         "redis://127.0.0.1:1/0",
		DialTimeout: 200 * time.Millisecond,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, sentinel.ErrUnavailable))
}
