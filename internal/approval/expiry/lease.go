package expiry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultLeaseKey is shared by every replica sweeping the same database.
const DefaultLeaseKey = "approvalflow:expiry:lease"

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// RedisLease is a SET NX PX lease. The TTL bounds how long a crashed holder
// blocks the others, so it should exceed one sweep.
type RedisLease struct {
	client redis.UniversalClient
	key    string
	ttl    time.Duration

	mu    sync.Mutex
	token string
}

func NewRedisLease(client redis.UniversalClient, key string, ttl time.Duration) (*RedisLease, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if key == "" {
		key = DefaultLeaseKey
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive, got %s", ttl)
	}
	return &RedisLease{client: client, key: key, ttl: ttl}, nil
}

func (l *RedisLease) TryAcquire(ctx context.Context) (bool, error) {
	token := uuid.NewString()
	ok, err := l.client.SetNX(ctx, l.key, token, l.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("acquire sweep lease: %w", err)
	}
	if ok {
		l.mu.Lock()
		l.token = token
		l.mu.Unlock()
	}
	return ok, nil
}

// Release frees the lease if this instance still holds it. Releasing an
// expired or foreign lease is a no-op.
func (l *RedisLease) Release(ctx context.Context) error {
	l.mu.Lock()
	token := l.token
	l.token = ""
	l.mu.Unlock()
	if token == "" {
		return nil
	}
	if err := releaseScript.Run(ctx, l.client, []string{l.key}, token).Err(); err != nil {
		return fmt.Errorf("release sweep lease: %w", err)
	}
	return nil
}
