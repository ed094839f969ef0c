package twofactor

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/dmitrijs2005/gophaccount/internal/common"
	"github.com/redis/go-redis/v9"
)

const (
	defaultMaxAttempts = 5
	defaultCooldown    = 15 * time.Minute
)

// Limiter caps failed second-factor attempts per user. Blocked calls return
// a *common.RateLimitError; store failures wrap common.ErrDependencyUnavailable.
type Limiter interface {
	Check(ctx context.Context, userID int64) error
	RecordFailure(ctx context.Context, userID int64) error
	Reset(ctx context.Context, userID int64) error
}

// RedisLimiter counts failures in "att:<user>" with a TTL set on the first
// failure, so the window starts at the first miss.
type RedisLimiter struct {
	redis       redis.UniversalClient
	maxAttempts int64
	cooldown    time.Duration
	now         func() time.Time
}

// NewRedisLimiter falls back to 5 attempts per 15 minutes for zero values.
func NewRedisLimiter(client redis.UniversalClient, maxAttempts int, cooldown time.Duration) *RedisLimiter {
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if cooldown <= 0 {
		cooldown = defaultCooldown
	}
	return &RedisLimiter{redis: client, maxAttempts: int64(maxAttempts), cooldown: cooldown, now: time.Now}
}

func (l *RedisLimiter) key(userID int64) string {
	return "att:" + strconv.FormatInt(userID, 10)
}

func (l *RedisLimiter) Check(ctx context.Context, userID int64) error {
	count, err := l.redis.Get(ctx, l.key(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return common.Unavailable(err)
	}
	if count >= l.maxAttempts {
		return l.blocked(ctx, userID)
	}
	return nil
}

func (l *RedisLimiter) RecordFailure(ctx context.Context, userID int64) error {
	count, err := l.redis.Incr(ctx, l.key(userID)).Result()
	if err != nil {
		return common.Unavailable(err)
	}
	if count == 1 {
		if err := l.redis.Expire(ctx, l.key(userID), l.cooldown).Err(); err != nil {
			return common.Unavailable(err)
		}
	}
	if count >= l.maxAttempts {
		return l.blocked(ctx, userID)
	}
	return nil
}

func (l *RedisLimiter) Reset(ctx context.Context, userID int64) error {
	if err := l.redis.Del(ctx, l.key(userID)).Err(); err != nil {
		return common.Unavailable(err)
	}
	return nil
}

func (l *RedisLimiter) blocked(ctx context.Context, userID int64) error {
	ttl, err := l.redis.PTTL(ctx, l.key(userID)).Result()
	if err != nil || ttl <= 0 {
		ttl = l.cooldown
	}
	return &common.RateLimitError{RetryAt: l.now().Add(ttl)}
}

// NoopLimiter never blocks. Used when no redis is configured.
type NoopLimiter struct{}

func (NoopLimiter) Check(context.Context, int64) error         { return nil }
func (NoopLimiter) RecordFailure(context.Context, int64) error { return nil }
func (NoopLimiter) Reset(context.Context, int64) error         { return nil }
