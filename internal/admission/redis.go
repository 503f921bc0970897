package admission

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter implements fixed-window admission backed by Redis so multiple
// relay instances share one budget. The count and window expiry are managed
// inside a single Lua script, which gives the same check-and-increment
// atomicity the in-memory mutex does.
type RedisLimiter struct {
	client *redis.Client
	max    int
	size   time.Duration
}

// admitScript increments the per-key counter, starting the window (and its
// expiry) on the first event. Returns {allowed, retry_after_ms}.
var admitScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])

	local count = redis.call('INCR', key)
	if count == 1 then
		redis.call('PEXPIRE', key, window_ms)
	end

	if count <= limit then
		return {1, 0}
	end

	local ttl = redis.call('PTTL', key)
	if ttl < 0 then
		ttl = window_ms
	end
	return {0, ttl}
`)

func NewRedisLimiter(redisURL string, max int, size time.Duration) (*RedisLimiter, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return &RedisLimiter{client: client, max: max, size: size}, nil
}

func (l *RedisLimiter) Admit(ctx context.Context, key string) (Decision, error) {
	res, err := admitScript.Run(ctx, l.client,
		[]string{"admission:" + key},
		l.max, l.size.Milliseconds(),
	).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("admission check failed: %w", err)
	}
	if len(res) != 2 {
		return Decision{}, fmt.Errorf("admission check failed: unexpected script reply")
	}

	if res[0] == 1 {
		return Decision{Allowed: true}, nil
	}
	return Decision{RetryAfter: time.Duration(res[1]) * time.Millisecond}, nil
}

func (l *RedisLimiter) Limit() int { return l.max }

func (l *RedisLimiter) Close() error { return l.client.Close() }
