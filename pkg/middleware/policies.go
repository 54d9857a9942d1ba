package middleware

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/platinummonkey/retailops/pkg/config"
	"github.com/platinummonkey/retailops/pkg/httputil"
)

// Policy names
const (
	PolicyAuth          = "auth"
	PolicyPasswordReset = "password_reset"
	PolicyRead          = "read"
	PolicyDefault       = "default"
)

// APIPrefix is the path prefix that is rate limited.
const APIPrefix = "/api/"

// DefaultPolicies returns the built-in budgets.
func DefaultPolicies() []RateLimitPolicy {
	return []RateLimitPolicy{
		{Name: PolicyAuth, MaxRequests: 5, Window: 15 * time.Minute},
		{Name: PolicyPasswordReset, MaxRequests: 3, Window: time.Hour},
		{Name: PolicyRead, MaxRequests: 100, Window: time.Minute},
		{Name: PolicyDefault, MaxRequests: 60, Window: time.Minute},
	}
}

// ApplyPolicyFile overlays a policy file on base. Policies named only in the
// file are appended in name order.
func ApplyPolicyFile(base []RateLimitPolicy, pf *config.PolicyFile) []RateLimitPolicy {
	out := make([]RateLimitPolicy, 0, len(base))
	seen := make(map[string]bool, len(base))
	for _, p := range base {
		if pol, ok := pf.Policies[p.Name]; ok {
			p.MaxRequests = pol.MaxRequests
			p.Window = pol.Window
		}
		seen[p.Name] = true
		out = append(out, p)
	}

	var extra []string
	for name := range pf.Policies {
		if !seen[name] {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	for _, name := range extra {
		pol := pf.Policies[name]
		out = append(out, RateLimitPolicy{Name: name, MaxRequests: pol.MaxRequests, Window: pol.Window})
	}
	return out
}

// LimiterFactory builds the limiter for a policy.
type LimiterFactory func(RateLimitPolicy) Limiter

// MemoryLimiters builds process-local limiters.
func MemoryLimiters(p RateLimitPolicy) Limiter {
	return NewRateLimiter(p)
}

// sweeper is implemented by limiters that hold local state.
type sweeper interface {
	Start(ctx context.Context, interval time.Duration)
	Close()
}

// RateLimitRegistry holds one limiter per named policy and resolves the
// policy for a request.
type RateLimitRegistry struct {
	mu            sync.RWMutex
	limiters      map[string]Limiter
	factory       LimiterFactory
	sweepInterval time.Duration
}

// NewRateLimitRegistry creates limiters for policies. A nil factory uses
// MemoryLimiters.
func NewRateLimitRegistry(policies []RateLimitPolicy, factory LimiterFactory, sweepInterval time.Duration) *RateLimitRegistry {
	if factory == nil {
		factory = MemoryLimiters
	}
	reg := &RateLimitRegistry{
		limiters:      make(map[string]Limiter, len(policies)),
		factory:       factory,
		sweepInterval: sweepInterval,
	}
	for _, p := range policies {
		reg.limiters[p.Name] = factory(p)
	}
	return reg
}

// Limiter returns the limiter for a policy name.
func (r *RateLimitRegistry) Limiter(name string) (Limiter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.limiters[name]
	return l, ok
}

// PolicyFor names the policy that applies to a request, or "" when the
// request is not rate limited.
func PolicyFor(req *http.Request) string {
	path := req.URL.Path
	switch {
	case !strings.HasPrefix(path, APIPrefix):
		return ""
	case strings.HasPrefix(path, "/api/auth/password-reset"):
		return PolicyPasswordReset
	case strings.HasPrefix(path, "/api/auth/"):
		return PolicyAuth
	case req.Method == http.MethodGet:
		return PolicyRead
	default:
		return PolicyDefault
	}
}

// Resolve returns the limiter for a request.
func (r *RateLimitRegistry) Resolve(req *http.Request) (Limiter, bool) {
	name := PolicyFor(req)
	if name == "" {
		return nil, false
	}
	if l, ok := r.Limiter(name); ok {
		return l, true
	}
	return r.Limiter(PolicyDefault)
}

// UpdatePolicies applies new budgets. Unknown names get new limiters.
func (r *RateLimitRegistry) UpdatePolicies(ctx context.Context, policies []RateLimitPolicy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, p := range policies {
		if l, ok := r.limiters[p.Name]; ok {
			l.SetPolicy(p)
			continue
		}
		l := r.factory(p)
		if s, ok := l.(sweeper); ok {
			s.Start(ctx, r.sweepInterval)
		}
		r.limiters[p.Name] = l
	}
}

// Policies returns the active policies
func (r *RateLimitRegistry) Policies() []RateLimitPolicy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]RateLimitPolicy, 0, len(r.limiters))
	for _, l := range r.limiters {
		out = append(out, l.Policy())
	}
	return out
}

// Start begins sweeping every local limiter.
func (r *RateLimitRegistry) Start(ctx context.Context) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.limiters {
		if s, ok := l.(sweeper); ok {
			s.Start(ctx, r.sweepInterval)
		}
	}
}

type healthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthCheck reports the first failing shared limiter backend. Local
// limiters have nothing to check.
func (r *RateLimitRegistry) HealthCheck(ctx context.Context) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for name, l := range r.limiters {
		if hc, ok := l.(healthChecker); ok {
			if err := hc.HealthCheck(ctx); err != nil {
				return fmt.Errorf("rate limit policy %s: %w", name, err)
			}
		}
	}
	return nil
}

// Close stops every sweep.
func (r *RateLimitRegistry) Close() {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, l := range r.limiters {
		if s, ok := l.(sweeper); ok {
			s.Close()
		}
	}
}

// Identifier keys a request: a digest of the bearer token when present,
// otherwise the client IP. JWTs share their header segment, so the key is
// taken from the hash of the whole token.
func Identifier(req *http.Request) string {
	if token := httputil.BearerToken(req); token != "" {
		sum := sha256.Sum256([]byte(token))
		return "token:" + hex.EncodeToString(sum[:8])
	}
	return "ip:" + httputil.ClientIP(req)
}
