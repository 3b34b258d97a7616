package lock

import (
	"context"
	"time"

	redis "github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// Locker provides cluster-wide mutual exclusion with TTL-based
// auto-release. At most one holder exists per key at any time.
type Locker interface {
	// TryAcquire attempts to take the lock. It never blocks waiting for
	// a holder; contention is the expected steady state.
	TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	// Release frees the lock if this instance still holds it.
	Release(ctx context.Context, key string) error
}

// releaseScript deletes the key only if it still carries our token, so
// an instance that lost the lock to TTL expiry cannot free a newer
// holder's lock.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then return redis.call("del", KEYS[1]) end return 0`

// RedisLock implements Locker on a single Redis instance via
// SET key token NX PX ttl.
type RedisLock struct {
	client *redis.Client
	token  string
}

// NewRedisLock creates a lock with a unique holder token for this
// process instance.
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{
		client: client,
		token:  uuid.New().String(),
	}
}

// TryAcquire implements Locker.
func (l *RedisLock) TryAcquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	ok, err := l.client.SetNX(ctx, key, l.token, ttl).Result()
	if err != nil {
		return false, err
	}
	return ok, nil
}

// Release implements Locker.
func (l *RedisLock) Release(ctx context.Context, key string) error {
	return l.client.Eval(ctx, releaseScript, []string{key}, l.token).Err()
}
