// Package ratelimit enforces sliding-log rate limits in Redis.
//
// Every request appends a member to a sorted set scored by its arrival
// time, trims entries older than the window, and counts what remains. A
// request passes a window when the count stays at or below the window
// maximum, so a window of (N, seconds) permits exactly N requests. Denials
// report how long until the oldest logged request leaves the window.
package ratelimit

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Result of one limit check.
type Result struct {
	Allowed    bool
	RetryAfter int // seconds until a retry can succeed, set when denied
}

// Limiter checks requests against per-endpoint window rules. Redis being
// unavailable never blocks traffic; checks fail open with a warning.
type Limiter struct {
	redis  *redis.Client
	logger *zap.Logger
	now    func() time.Time
}

// NewLimiter creates a new limiter
func NewLimiter(rdb *redis.Client, logger *zap.Logger) *Limiter {
	return &Limiter{
		redis:  rdb,
		logger: logger,
		now:    time.Now,
	}
}

// AllowAgent checks an authenticated request against the rule for the
// endpoint at the agent's trust level.
func (l *Limiter) AllowAgent(ctx context.Context, agentID, endpoint string, trustLevel int) Result {
	return l.check(ctx, "agent:"+agentID, endpoint, RuleFor(endpoint, trustLevel))
}

// AllowIP checks an unauthenticated registration attempt per client IP.
func (l *Limiter) AllowIP(ctx context.Context, ip string) Result {
	return l.check(ctx, "ip:"+ip, EndpointRegister, registerWindows)
}

// check runs every window in order and stops at the first denial. Each
// window keeps its own sorted set, so a denied minute window does not
// consume a slot in the day window.
func (l *Limiter) check(ctx context.Context, subject, endpoint string, windows []Window) Result {
	now := l.now()

	for _, w := range windows {
		key := fmt.Sprintf("rl:%s:%s:%d", subject, endpoint, w.Seconds)

		res, err := l.checkWindow(ctx, key, w, now)
		if err != nil {
			l.logger.Warn("Rate limit check failed, allowing request",
				zap.String("key", key),
				zap.Error(err))
			return Result{Allowed: true}
		}
		if !res.Allowed {
			return res
		}
	}

	return Result{Allowed: true}
}

func (l *Limiter) checkWindow(ctx context.Context, key string, w Window, now time.Time) (Result, error) {
	nowSec := unixSeconds(now)
	cutoff := nowSec - float64(w.Seconds)

	pipe := l.redis.Pipeline()
	pipe.ZRemRangeByScore(ctx, key, "0", formatScore(cutoff))
	// Member is the stringified arrival time; requests landing in the
	// same microsecond merge into one entry.
	pipe.ZAdd(ctx, key, redis.Z{Score: nowSec, Member: formatScore(nowSec)})
	card := pipe.ZCard(ctx, key)
	pipe.Expire(ctx, key, time.Duration(w.Seconds)*time.Second)
	oldest := pipe.ZRangeWithScores(ctx, key, 0, 0)

	if _, err := pipe.Exec(ctx); err != nil {
		return Result{}, err
	}

	if card.Val() <= int64(w.Max) {
		return Result{Allowed: true}, nil
	}

	retryAfter := 1
	if entries := oldest.Val(); len(entries) > 0 {
		resetAt := entries[0].Score + float64(w.Seconds)
		if wait := int(math.Ceil(resetAt - nowSec)); wait > retryAfter {
			retryAfter = wait
		}
	}

	return Result{Allowed: false, RetryAfter: retryAfter}, nil
}

func unixSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}

func formatScore(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
