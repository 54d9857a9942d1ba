// Package middleware provides the HTTP ingress pipeline: rate limiting,
// session authentication and page-section authorization.
//
// # Overview
//
// RouteGuard runs three steps per request:
//
//  1. Rate limit. Paths under /api/ are counted against a named policy and
//     always receive X-RateLimit-* headers. A denial is a 429 with
//     Retry-After.
//  2. Authenticate. Public paths (/health*, /metrics, /login, /api/auth/*)
//     skip this. Everything else needs a bearer token or the
//     retailops_session cookie, re-validated with the identity provider on
//     every request, and an active profile.
//  3. Authorize sections. Page paths such as /forecasts are checked against
//     the role's sections; a denial redirects to the first allowed section.
//
// # Rate Limiting
//
// RateLimiter is a process-local fixed-window counter:
//
//	limiter := middleware.NewRateLimiter(middleware.RateLimitPolicy{
//		Name: "auth", MaxRequests: 5, Window: 15 * time.Minute,
//	})
//	res, _ := limiter.Allow(ctx, "ip:203.0.113.7")
//
// RateLimitRegistry maps requests to the built-in policies (auth,
// password_reset, read, default) and supports hot reload through
// UpdatePolicies.
//
// DistributedRateLimiter keeps the same semantics in Redis for deployments
// with more than one instance. It is selected with
// RETAILOPS_RATELIMIT_BACKEND=redis:
//
//	reg := middleware.NewRateLimitRegistry(middleware.DefaultPolicies(),
//		func(p middleware.RateLimitPolicy) middleware.Limiter {
//			return middleware.NewDistributedRateLimiter(redisClient, p, "ratelimit", true)
//		}, time.Minute)
//
// # Principal Cache
//
// CachedPrincipalLoader fronts the profile repository with an expiring LRU.
// Sessions are never cached; only the profile lookup is.
package middleware
