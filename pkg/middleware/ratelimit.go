package middleware

import (
	"context"
	"sync"
	"time"
)

// RateLimitPolicy is a fixed-window budget.
type RateLimitPolicy struct {
	Name        string
	MaxRequests int
	Window      time.Duration
}

// RateLimitResult describes one admission decision.
type RateLimitResult struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
	// RetryAfter is set on denial: whole seconds, at least one.
	RetryAfter time.Duration
}

// Limiter admits or rejects requests for an identifier.
type Limiter interface {
	Allow(ctx context.Context, identifier string) (RateLimitResult, error)
	Policy() RateLimitPolicy
	SetPolicy(policy RateLimitPolicy)
}

type rateLimitEntry struct {
	count   int
	resetAt time.Time
}

// RateLimiter is a process-local fixed-window counter.
type RateLimiter struct {
	mu      sync.Mutex
	policy  RateLimitPolicy
	entries map[string]*rateLimitEntry
	now     func() time.Time

	stopOnce sync.Once
	stop     chan struct{}
}

// NewRateLimiter creates a limiter for one policy
func NewRateLimiter(policy RateLimitPolicy) *RateLimiter {
	return &RateLimiter{
		policy:  policy,
		entries: make(map[string]*rateLimitEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

// SetClock replaces the limiter's clock
func (rl *RateLimiter) SetClock(now func() time.Time) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.now = now
}

// Policy returns the active policy
func (rl *RateLimiter) Policy() RateLimitPolicy {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return rl.policy
}

// SetPolicy swaps the policy. Open windows keep their reset time.
func (rl *RateLimiter) SetPolicy(policy RateLimitPolicy) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	rl.policy = policy
}

// Allow counts one request against identifier. It never returns an error.
func (rl *RateLimiter) Allow(_ context.Context, identifier string) (RateLimitResult, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, ok := rl.entries[identifier]
	if !ok || !now.Before(entry.resetAt) {
		entry = &rateLimitEntry{count: 0, resetAt: now.Add(rl.policy.Window)}
		rl.entries[identifier] = entry
	}
	entry.count++

	return decide(rl.policy, int64(entry.count), entry.resetAt, now), nil
}

// decide turns a window count into a result.
func decide(policy RateLimitPolicy, count int64, resetAt, now time.Time) RateLimitResult {
	res := RateLimitResult{
		Limit:   policy.MaxRequests,
		ResetAt: resetAt,
	}
	if count <= int64(policy.MaxRequests) {
		res.Allowed = true
		res.Remaining = policy.MaxRequests - int(count)
		return res
	}
	res.RetryAfter = retryAfter(resetAt.Sub(now))
	return res
}

// retryAfter rounds up to a whole second, minimum one.
func retryAfter(d time.Duration) time.Duration {
	secs := (d + time.Second - 1) / time.Second
	if secs < 1 {
		secs = 1
	}
	return secs * time.Second
}

// Sweep removes expired windows and returns how many it removed
func (rl *RateLimiter) Sweep() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	removed := 0
	for id, entry := range rl.entries {
		if !now.Before(entry.resetAt) {
			delete(rl.entries, id)
			removed++
		}
	}
	return removed
}

// Len returns the number of tracked identifiers
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.entries)
}

// Start sweeps on a ticker until ctx is done or Close is called
func (rl *RateLimiter) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				rl.Sweep()
			case <-ctx.Done():
				return
			case <-rl.stop:
				return
			}
		}
	}()
}

// Close stops the sweep goroutine. It is safe to call more than once.
func (rl *RateLimiter) Close() {
	rl.stopOnce.Do(func() { close(rl.stop) })
}
