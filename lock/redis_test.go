package lock_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/stake-ledger/lock"
)

func newTestRedis(t *testing.T) *redis.Client {
	url := os.Getenv("TEST_REDIS_URL")
	if url == "" {
		t.Skip("TEST_REDIS_URL not set")
	}
	opts, err := redis.ParseURL(url)
	require.NoError(t, err)
	client := redis.NewClient(opts)
	t.Cleanup(func() { client.Close() })
	return client
}

func TestRedis_LockExcludesSecondHolder(t *testing.T) {
	client := newTestRedis(t)
	l := lock.NewRedis(client, lock.WithPrefix("stake-ledger-test:"), lock.WithTTL(5*time.Second))
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "admin")
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "admin")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()

	unlock2, err := l.Lock(ctx, "admin")
	require.NoError(t, err, "released lock can be taken again")
	unlock2()
}

func TestRedis_HolderOutlivesTTL(t *testing.T) {
	// GIVEN: a lock with a TTL shorter than the critical section
	client := newTestRedis(t)
	l := lock.NewRedis(client, lock.WithPrefix("stake-ledger-test:"), lock.WithTTL(300*time.Millisecond))
	ctx := context.Background()

	unlock, err := l.Lock(ctx, "slow")
	require.NoError(t, err)

	// WHEN: the holder stays in the section for several TTLs
	time.Sleep(time.Second)

	// THEN: the key was extended and nobody else got in
	waitCtx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
	defer cancel()
	_, err = l.Lock(waitCtx, "slow")
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	unlock()
	unlock()

	ttl, err := client.PTTL(ctx, "stake-ledger-test:slow").Result()
	require.NoError(t, err)
	assert.Equal(t, time.Duration(-2), ttl, "key is gone after unlock")
}
