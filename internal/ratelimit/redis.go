package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// incrScript атомарно увеличивает счётчик и выставляет TTL окна
// при первом обращении. Возвращает {count, pttl_ms}.
var incrScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
	redis.call('PEXPIRE', KEYS[1], ARGV[1])
	ttl = tonumber(ARGV[1])
end
return {n, ttl}
`)

// RedisStore: общий для нескольких инстансов счётчик в Redis.
// Окно реализовано TTL ключа.
type RedisStore struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisStore создаёт клиент Redis из URL (например, redis://:pass@host:6379/0).
// Если prefix пустой: используется "auth:rl:".
func NewRedisStore(ctx context.Context, redisURL, prefix string) (*RedisStore, error) {
	const op = "ratelimit.redis.NewRedisStore"

	if prefix == "" {
		prefix = "auth:rl:"
	}

	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	rdb := redis.NewClient(opt)

	// Fail-fast на старте.
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return &RedisStore{rdb: rdb, prefix: prefix}, nil
}

func (r *RedisStore) key(id string) string { return r.prefix + id }

func (r *RedisStore) Incr(ctx context.Context, key string, d time.Duration, now time.Time) (int64, time.Time, error) {
	const op = "ratelimit.redis.Incr"

	ms := d.Milliseconds()
	if ms <= 0 {
		ms = 1
	}

	vals, err := incrScript.Run(ctx, r.rdb, []string{r.key(key)}, ms).Int64Slice()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("%s: %w", op, err)
	}

	if len(vals) != 2 {
		return 0, time.Time{}, fmt.Errorf("%s: unexpected script reply %v", op, vals)
	}

	return vals[0], now.Add(time.Duration(vals[1]) * time.Millisecond), nil
}

// Ping проверяет доступность Redis (readiness).
func (r *RedisStore) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

// Close закрывает клиент Redis.
func (r *RedisStore) Close() error { return r.rdb.Close() }
