package clearing

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func TestRedisRunLock(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lock := NewRedisRunLock(client, time.Minute)
	ctx := context.Background()

	release, err := lock.Acquire(ctx, 7)
	require.NoError(t, err)
	require.True(t, mr.Exists(RunLockKey(7)))

	_, err = lock.Acquire(ctx, 7)
	require.ErrorIs(t, err, ErrRunLocked)

	// Another partner is not blocked.
	otherRelease, err := lock.Acquire(ctx, 8)
	require.NoError(t, err)
	otherRelease()

	release()
	require.False(t, mr.Exists(RunLockKey(7)))

	release2, err := lock.Acquire(ctx, 7)
	require.NoError(t, err)
	release2()
}

func TestRedisRunLockExpires(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	lock := NewRedisRunLock(client, time.Second)
	_, err := lock.Acquire(context.Background(), 7)
	require.NoError(t, err)

	mr.FastForward(2 * time.Second)

	release, err := lock.Acquire(context.Background(), 7)
	require.NoError(t, err)
	release()
}
