package middleware

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
)

// DistributedRateLimiter keeps fixed-window counters in Redis so every
// instance shares one budget per identifier.
type DistributedRateLimiter struct {
	redis    *redis.Client
	prefix   string
	failOpen bool
	now      func() time.Time

	mu     sync.RWMutex
	policy RateLimitPolicy
}

// NewDistributedRateLimiter creates a new Redis-backed rate limiter. With
// failOpen set, Redis errors admit the request and are returned alongside
// an allowing result.
func NewDistributedRateLimiter(redisClient *redis.Client, policy RateLimitPolicy, prefix string, failOpen bool) *DistributedRateLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &DistributedRateLimiter{
		redis:    redisClient,
		prefix:   prefix,
		failOpen: failOpen,
		now:      time.Now,
		policy:   policy,
	}
}

// Policy returns the active policy
func (rl *DistributedRateLimiter) Policy() RateLimitPolicy {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.policy
}

// SetPolicy swaps the policy. Open windows keep their TTL.
func (rl *DistributedRateLimiter) SetPolicy(policy RateLimitPolicy) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.policy = policy
}

func (rl *DistributedRateLimiter) key(policy RateLimitPolicy, identifier string) string {
	return fmt.Sprintf("%s:%s:%s", rl.prefix, policy.Name, identifier)
}

// Allow increments the window counter. The first request of a window sets
// its expiry; a counter found without one is repaired.
func (rl *DistributedRateLimiter) Allow(ctx context.Context, identifier string) (RateLimitResult, error) {
	policy := rl.Policy()
	redisKey := rl.key(policy, identifier)
	now := rl.now()

	pipe := rl.redis.Pipeline()
	incr := pipe.Incr(ctx, redisKey)
	pttl := pipe.PTTL(ctx, redisKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return rl.failure(policy, now, fmt.Errorf("redis error: %w", err))
	}

	count := incr.Val()
	ttl := pttl.Val()
	if count == 1 || ttl < 0 {
		if err := rl.redis.PExpire(ctx, redisKey, policy.Window).Err(); err != nil {
			return rl.failure(policy, now, fmt.Errorf("redis error: %w", err))
		}
		ttl = policy.Window
	}

	return decide(policy, count, now.Add(ttl), now), nil
}

func (rl *DistributedRateLimiter) failure(policy RateLimitPolicy, now time.Time, err error) (RateLimitResult, error) {
	if rl.failOpen {
		return RateLimitResult{
			Allowed:   true,
			Limit:     policy.MaxRequests,
			Remaining: policy.MaxRequests,
			ResetAt:   now.Add(policy.Window),
		}, err
	}
	return RateLimitResult{Limit: policy.MaxRequests, ResetAt: now.Add(policy.Window)}, err
}

// HealthCheck verifies Redis connectivity for rate limiting
func (rl *DistributedRateLimiter) HealthCheck(ctx context.Context) error {
	return rl.redis.Ping(ctx).Err()
}
