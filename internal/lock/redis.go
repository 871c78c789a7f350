package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript deletes the key only while it still holds our token.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	else
		return 0
	end`)

// RedisLocker keeps leases as expiring Redis keys.
type RedisLocker struct {
	rdb redis.UniversalClient
}

func NewRedisLocker(rdb redis.UniversalClient) *RedisLocker {
	return &RedisLocker{rdb: rdb}
}

// DialRedis connects to url and checks the connection.
func DialRedis(ctx context.Context, url string) (*RedisLocker, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("connecting to redis: %w", err)
	}
	return NewRedisLocker(rdb), nil
}

func (l *RedisLocker) Close() error {
	return l.rdb.Close()
}

func lockKey(name string) string {
	return "lock:" + name
}

func (l *RedisLocker) Acquire(ctx context.Context, name string, ttl time.Duration) (Lease, error) {
	token := uuid.NewString()

	ok, err := l.rdb.SetNX(ctx, lockKey(name), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("acquiring lock %s: %w", name, err)
	}
	if !ok {
		return nil, ErrNotAcquired
	}

	return &redisLease{rdb: l.rdb, name: name, token: token}, nil
}

type redisLease struct {
	rdb   redis.UniversalClient
	name  string
	token string
}

func (l *redisLease) Release(ctx context.Context) error {
	if err := releaseScript.Run(ctx, l.rdb, []string{lockKey(l.name)}, l.token).Err(); err != nil {
		return fmt.Errorf("releasing lock %s: %w", l.name, err)
	}
	return nil
}
