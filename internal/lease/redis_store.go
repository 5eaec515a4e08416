package lease

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// renewScript extends the ttl only for the recorded holder.
// KEYS[1]=lease key, ARGV[1]=holder, ARGV[2]=ttl ms
var renewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// releaseScript deletes the key only for the recorded holder.
// KEYS[1]=lease key, ARGV[1]=holder
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

// RedisStore keeps leases as plain string keys with a PX expiry.
// Give it its own client so keepalive traffic never queues behind feed traffic.
type RedisStore struct {
	rdb *redis.Client
}

func NewRedisStore(rdb *redis.Client) *RedisStore {
	return &RedisStore{rdb: rdb}
}

func (s *RedisStore) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, key, holder, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("lease acquire: %w", err)
	}
	return ok, nil
}

func (s *RedisStore) Holder(ctx context.Context, key string) (string, error) {
	v, err := s.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("lease holder: %w", err)
	}
	return v, nil
}

func (s *RedisStore) Renew(ctx context.Context, key, holder string, ttl time.Duration) (bool, error) {
	n, err := renewScript.Run(ctx, s.rdb, []string{key}, holder, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lease renew: %w", err)
	}
	return n == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, key, holder string) (bool, error) {
	n, err := releaseScript.Run(ctx, s.rdb, []string{key}, holder).Int()
	if err != nil {
		return false, fmt.Errorf("lease release: %w", err)
	}
	return n == 1, nil
}
