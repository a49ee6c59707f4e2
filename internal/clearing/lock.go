package clearing

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RunLockKey builds redis keys for clearing critical sections.
func RunLockKey(partnerID int64) string {
	return fmt.Sprintf("clearing:partner:%d:lock", partnerID)
}

// RedisRunLock serializes clearing commits per commercial partner with a
// SetNX lease. The TTL bounds how long a crashed commit can block others.
type RedisRunLock struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisRunLock(client *redis.Client, ttl time.Duration) *RedisRunLock {
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &RedisRunLock{client: client, ttl: ttl}
}

// Acquire takes the partner lock or fails with ErrRunLocked.
func (l *RedisRunLock) Acquire(ctx context.Context, partnerID int64) (func(), error) {
	key := RunLockKey(partnerID)
	ok, err := l.client.SetNX(ctx, key, "1", l.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("clearing: acquire lock: %w", err)
	}
	if !ok {
		return nil, ErrRunLocked
	}
	release := func() {
		// Release must survive a cancelled request context.
		l.client.Del(context.WithoutCancel(ctx), key)
	}
	return release, nil
}
