package orphan

import (
	"context"
	"time"

	"log/slog"

	redis "github.com/redis/go-redis/v9"
)

type redisTracker struct {
	client  *redis.Client
	logger  *slog.Logger
	prefix  string
	retries int
	grace   time.Duration
	timeout time.Duration
}

// NewRedis constructs a tracker shared by every handler instance through Redis.
func NewRedis(addr, password string, db, retries int, grace time.Duration, logger *slog.Logger) (Tracker, error) {
	client := redis.NewClient(&redis.Options{Addr: addr, Password: password, DB: db})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return &redisTracker{
		client:  client,
		logger:  logger,
		prefix:  "buildor:orphan:",
		retries: retries,
		grace:   grace,
		timeout: 250 * time.Millisecond,
	}, nil
}

// Observe redelivers while the key's counter stays within the retry budget.
// The counter expires with the grace window, so late repeats start a new budget.
// Redis failures fall back to redelivery; upstream retry limits still apply.
func (t *redisTracker) Observe(ctx context.Context, key string) Decision {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	redisKey := t.prefix + key
	counter, err := t.client.Incr(ctx, redisKey).Result()
	if err != nil {
		t.logRedisError("incr", err)
		return Decision{Retry: true}
	}
	if counter == 1 {
		if err := t.client.Expire(ctx, redisKey, t.grace).Err(); err != nil {
			t.logRedisError("expire", err)
		}
	}
	return Decision{Retry: int(counter) <= t.retries, Attempt: int(counter)}
}

func (t *redisTracker) Close() {
	if t.client != nil {
		_ = t.client.Close()
	}
}

func (t *redisTracker) logRedisError(op string, err error) {
	if t.logger == nil {
		return
	}
	t.logger.Error("redis orphan tracker error", "op", op, "error", err)
}
