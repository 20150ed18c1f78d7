package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// unlockScript deletes the key only while it still carries our token, so
// an expired lock re-acquired by someone else is never released by us.
var unlockScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// extendScript pushes the expiry out only while the key still carries our token.
var extendScript = redis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0
`)

// Redis is a lock shared by every process talking to the same Redis.
// Keys expire after TTL so a crashed holder cannot wedge the engine; a live
// holder extends its key every TTL/3 until it unlocks.
type Redis struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
	retry  time.Duration
	log    logrus.FieldLogger
}

// RedisOption configures a Redis lock.
type RedisOption func(*Redis)

func WithPrefix(prefix string) RedisOption          { return func(r *Redis) { r.prefix = prefix } }
func WithTTL(ttl time.Duration) RedisOption         { return func(r *Redis) { r.ttl = ttl } }
func WithRetry(every time.Duration) RedisOption     { return func(r *Redis) { r.retry = every } }
func WithLogger(log logrus.FieldLogger) RedisOption { return func(r *Redis) { r.log = log } }

// NewRedis returns a lock backed by client.
func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client: client,
		prefix: "stake-ledger:lock:",
		ttl:    30 * time.Second,
		retry:  25 * time.Millisecond,
		log:    logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lock polls SET NX until the key is ours or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	token, err := newToken()
	if err != nil {
		return nil, err
	}
	k := r.prefix + key

	for {
		ok, err := r.client.SetNX(ctx, k, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("redis lock %s: %w", key, err)
		}
		if ok {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(r.retry):
		}
	}

	done := make(chan struct{})
	stopped := make(chan struct{})
	go r.keepAlive(k, token, done, stopped)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(done)
			<-stopped
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := unlockScript.Run(ctx, r.client, []string{k}, token).Err(); err != nil {
				r.log.WithError(err).WithField("key", key).Warn("redis unlock failed; key will expire")
			}
		})
	}, nil
}

// keepAlive extends k until done is closed. If the key is no longer ours
// the holder has lost exclusivity, which is logged as an error.
func (r *Redis) keepAlive(k, token string, done <-chan struct{}, stopped chan<- struct{}) {
	defer close(stopped)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
		n, err := extendScript.Run(ctx, r.client, []string{k}, token, r.ttl.Milliseconds()).Int64()
		cancel()
		switch {
		case err != nil:
			r.log.WithError(err).WithField("key", k).Warn("redis lock extend failed")
		case n == 0:
			r.log.WithField("key", k).Error("redis lock expired while held")
			return
		}
	}
}

func newToken() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("lock token: %w", err)
	}
	return hex.EncodeToString(b), nil
}
