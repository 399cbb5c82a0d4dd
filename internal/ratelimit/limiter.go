// Package ratelimit implements the sliding-window rate limiter, per-feature
// cooldowns, throttle-notice suppression, and daily image quota. It prefers
// a Redis fast path and falls back to the persistence layer when Redis is
// absent or a call fails, via a nil-receiver-tolerant Redis wrapper.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/thathunky/gryag/internal/logging"
	"github.com/thathunky/gryag/internal/persistence"
)

// ErrBlocked names a rate-limit block for callers that want an error value;
// the Limiter's own checks report blocks through Decision and never return it.
var ErrBlocked = errors.New("ratelimit: blocked")

const windowSeconds = 3600

// Decision is the outcome of a rate/cooldown check.
type Decision struct {
	Allowed bool
	RetryAfter time.Duration
}

// Limiter implements the two-backend sliding-window design
type Limiter struct {
	redis redis.UniversalClient // nil disables the fast path
	fallback *persistence.QuotaStore
	admins map[int64]struct{}
	now func() time.Time

	suppressionCooldown time.Duration
}

// New builds a Limiter. admins bypass every check
// redisClient may be nil; every method below falls back to fallback.
func New(redisClient redis.UniversalClient, fallback *persistence.QuotaStore, admins map[int64]struct{}, suppressionCooldown time.Duration) *Limiter {
	if suppressionCooldown <= 0 {
 suppressionCooldown = 600 * time.Second
	}
	return &Limiter{
 redis: redisClient, fallback: fallback, admins: admins,
 now: time.Now, suppressionCooldown: suppressionCooldown,
	}
}

func (l *Limiter) isAdmin(userID int64) bool {
	_, ok := l.admins[userID]
	return ok
}

func windowStart(t time.Time) int64 {
	ts := t.Unix()
	return ts - (ts % windowSeconds)
}

// CheckAndIncrement enforces an hourly sliding-window budget for
// (userID, feature). limit <= 0 means unlimited. Admins always return
// Allowed=true without mutating the count.
func (l *Limiter) CheckAndIncrement(ctx context.Context, userID int64, feature string, limit int) (Decision, error) {
	if l.isAdmin(userID) || limit <= 0 {
 return Decision{Allowed: true}, nil
	}
	ws := windowStart(l.now())
	windowEnd := ws + windowSeconds

	count, err := l.incrementWindow(ctx, userID, feature, ws)
	if err != nil {
 return Decision{}, err
	}
	if count > int64(limit) {
 return Decision{Allowed: false, RetryAfter: time.Duration(windowEnd-l.now().Unix()) * time.Second}, nil
	}
	return Decision{Allowed: true}, nil
}

// Peek returns the current window count without incrementing it, used by
// admin "show quota" commands.
func (l *Limiter) Peek(ctx context.Context, userID int64, feature string) (int64, error) {
	ws := windowStart(l.now())
	if l.redis != nil {
 key := l.redisWindowKey(userID, feature, ws)
 n, err := l.redis.Get(ctx, key).Int64()
 if err == nil {
 return n, nil
 }
 if !errors.Is(err, redis.Nil) {
 logging.Log.Debug().Err(err).Str("key", key).Msg("ratelimit_redis_peek_failed")
 }
	}
	return l.fallback.WindowCount(ctx, userID, feature, ws)
}

func (l *Limiter) incrementWindow(ctx context.Context, userID int64, feature string, ws int64) (int64, error) {
	if l.redis != nil {
 key := l.redisWindowKey(userID, feature, ws)
 n, err := l.redis.Incr(ctx, key).Result()
 if err == nil {
 if n == 1 {
 l.redis.Expire(ctx, key, windowSeconds*time.Second)
 }
 return n, nil
 }
 logging.Log.Warn().Err(err).Str("key", key).Msg("ratelimit_redis_incr_failed_falling_back")
	}
	return l.fallback.IncrementWindow(ctx, userID, feature, ws)
}

func (l *Limiter) redisWindowKey(userID int64, feature string, ws int64) string {
	return fmt.Sprintf("rl:%s:%d:%d", feature, userID, ws)
}

// ResetUser deletes the current window's counter for (userID, feature),
// idempotently.
func (l *Limiter) ResetUser(ctx context.Context, userID int64, feature string) error {
	ws := windowStart(l.now())
	if l.redis != nil {
 if err := l.redis.Del(ctx, l.redisWindowKey(userID, feature, ws)).Err(); err != nil {
 logging.Log.Debug().Err(err).Msg("ratelimit_redis_reset_failed")
 }
	}
	return l.fallback.ResetWindow(ctx, userID, feature, ws)
}

// CheckCooldown enforces a fixed per-feature cooldown independent of the
// hourly window. Admins bypass.
func (l *Limiter) CheckCooldown(ctx context.Context, userID int64, feature string, cooldownSeconds int) (Decision, error) {
	if l.isAdmin(userID) || cooldownSeconds <= 0 {
 return Decision{Allowed: true}, nil
	}
	lastUsed, ok, err := l.lastUsed(ctx, userID, feature)
	if err != nil {
 return Decision{}, err
	}
	now := l.now().Unix()
	if ok && now-lastUsed < int64(cooldownSeconds) {
 return Decision{Allowed: false, RetryAfter: time.Duration(int64(cooldownSeconds)-(now-lastUsed)) * time.Second}, nil
	}
	if err := l.setLastUsed(ctx, userID, feature, now); err != nil {
 return Decision{}, err
	}
	return Decision{Allowed: true}, nil
}

func (l *Limiter) lastUsed(ctx context.Context, userID int64, feature string) (int64, bool, error) {
	if l.redis != nil {
 key := fmt.Sprintf("cd:%s:%d", feature, userID)
 n, err := l.redis.Get(ctx, key).Int64()
 if err == nil {
 return n, true, nil
 }
 if !errors.Is(err, redis.Nil) {
 logging.Log.Debug().Err(err).Msg("ratelimit_redis_cooldown_get_failed")
 } else {
 return 0, false, nil
 }
	}
	return l.fallback.LastUsed(ctx, userID, feature)
}

func (l *Limiter) setLastUsed(ctx context.Context, userID int64, feature string, ts int64) error {
	if l.redis != nil {
 key := fmt.Sprintf("cd:%s:%d", feature, userID)
 if err := l.redis.Set(ctx, key, ts, 0).Err(); err != nil {
 logging.Log.Debug().Err(err).Msg("ratelimit_redis_cooldown_set_failed")
 }
	}
	return l.fallback.SetLastUsed(ctx, userID, feature, ts)
}

// ShouldNotify implements throttle-notice suppression: the first block for
// (userID, feature) returns true; subsequent calls within
// suppressionCooldown return false.
func (l *Limiter) ShouldNotify(ctx context.Context, userID int64, feature string) (bool, error) {
	d, err := l.CheckCooldown(ctx, userID, "throttle_notice:"+feature, int(l.suppressionCooldown.Seconds()))
	if err != nil {
 return false, err
	}
	return d.Allowed, nil
}

// CheckImageQuota enforces the daily image cap keyed by UTC date. limit <=
// 0 means unlimited.
func (l *Limiter) CheckImageQuota(ctx context.Context, userID, chatID int64, limit int) (Decision, error) {
	if l.isAdmin(userID) || limit <= 0 {
 return Decision{Allowed: true}, nil
	}
	day := persistence.UTCDay(l.now())
	count, err := l.fallback.IncrementImageQuota(ctx, userID, chatID, day)
	if err != nil {
 return Decision{}, err
	}
	if count > int64(limit) {
 return Decision{Allowed: false}, nil
	}
	return Decision{Allowed: true}, nil
}
