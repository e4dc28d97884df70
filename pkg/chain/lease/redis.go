package lease

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// redisReleaseScript releases a lease only if the stored token matches,
// so an expired-and-reacquired lease is never released by the old holder.
var redisReleaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("DEL", KEYS[1])
end
return 0
`)

// redisRenewScript extends the TTL only for the current token holder.
var redisRenewScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
    return redis.call("PEXPIRE", KEYS[1], ARGV[2])
end
return 0
`)

// RedisLeaser coordinates chain writers across processes using Redis
// SET NX PX semantics.
type RedisLeaser struct {
	client *redis.Client
}

// NewRedisLeaser creates a leaser backed by Redis.
func NewRedisLeaser(addr, password string, db int) *RedisLeaser {
	return &RedisLeaser{client: redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})}
}

func leaseKey(key string) string {
	return fmt.Sprintf("lease:%s", key)
}

func (r *RedisLeaser) Acquire(ctx context.Context, key, holder string, ttl time.Duration) (*Lease, error) {
	token := uuid.New().String()
	ok, err := r.client.SetNX(ctx, leaseKey(key), token, ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lease error: %w", err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{
		Key:       key,
		Holder:    holder,
		Token:     token,
		ExpiresAt: time.Now().Add(ttl),
	}, nil
}

func (r *RedisLeaser) Renew(ctx context.Context, l *Lease, ttl time.Duration) error {
	res, err := redisRenewScript.Run(ctx, r.client, []string{leaseKey(l.Key)}, l.Token, ttl.Milliseconds()).Int64()
	if err != nil {
		return fmt.Errorf("redis lease error: %w", err)
	}
	if res == 0 {
		return ErrExpired
	}
	l.ExpiresAt = time.Now().Add(ttl)
	return nil
}

func (r *RedisLeaser) Release(ctx context.Context, l *Lease) error {
	res, err := redisReleaseScript.Run(ctx, r.client, []string{leaseKey(l.Key)}, l.Token).Int64()
	if err != nil {
		return fmt.Errorf("redis lease error: %w", err)
	}
	if res == 0 {
		return ErrExpired
	}
	return nil
}
