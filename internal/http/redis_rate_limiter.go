package httpx

import (
	"context"
	"log/slog"
	"time"

	redis "github.com/redis/go-redis/v9"
)

const (
	redisLimiterPrefix  = "buildor:ratelimit:"
	redisLimiterTimeout = 250 * time.Millisecond
)

type redisRateLimiter struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedisRateLimiter returns a limiter whose windows are shared by every API replica.
func NewRedisRateLimiter(addr, password string, db int, logger *slog.Logger) (RateLimiter, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisRateLimiter{client: client, logger: logger}, nil
}

// Allow fails open when Redis is unreachable.
func (rl *redisRateLimiter) Allow(ctx context.Context, key string, q Quota) Decision {
	if q.Limit <= 0 {
		return Decision{Allowed: true}
	}
	q = q.normalized()
	ctx, cancel := context.WithTimeout(ctx, redisLimiterTimeout)
	defer cancel()

	k := redisLimiterPrefix + key
	var (
		incr *redis.IntCmd
		ttl  *redis.DurationCmd
	)
	_, err := rl.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.ExpireNX(ctx, k, q.Window)
		ttl = pipe.PTTL(ctx, k)
		return nil
	})
	if err != nil {
		rl.logger.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
		return Decision{Allowed: true, Remaining: q.Limit}
	}
	left := ttl.Val()
	if left <= 0 {
		left = q.Window
	}
	count := int(incr.Val())
	return Decision{
		Allowed:   count <= q.Limit,
		Remaining: q.Limit - count,
		ResetAt:   time.Now().Add(left),
	}
}

func (rl *redisRateLimiter) Close() {
	_ = rl.client.Close()
}
