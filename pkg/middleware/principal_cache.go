package middleware

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/retailops/pkg/observability"
	"github.com/platinummonkey/retailops/pkg/rbac"
)

// PrincipalLoader loads a principal's profile by identity id.
type PrincipalLoader interface {
	LoadPrincipal(ctx context.Context, id string) (*rbac.Principal, error)
}

// CachedPrincipalLoader keeps recently loaded profiles for a short TTL.
// Profile mutations must call Invalidate so role and scope changes take
// effect on the next request.
type CachedPrincipalLoader struct {
	loader  PrincipalLoader
	cache   *lru.LRU[string, rbac.Principal]
	metrics *observability.Metrics
}

// NewCachedPrincipalLoader wraps loader with an expiring LRU
func NewCachedPrincipalLoader(loader PrincipalLoader, size int, ttl time.Duration, metrics *observability.Metrics) *CachedPrincipalLoader {
	if size < 1 {
		size = 1024
	}
	return &CachedPrincipalLoader{
		loader:  loader,
		cache:   lru.NewLRU[string, rbac.Principal](size, nil, ttl),
		metrics: metrics,
	}
}

// LoadPrincipal returns a copy of the cached principal or loads it.
func (c *CachedPrincipalLoader) LoadPrincipal(ctx context.Context, id string) (*rbac.Principal, error) {
	if p, ok := c.cache.Get(id); ok {
		c.metrics.RecordCacheLookup(true)
		return &p, nil
	}
	c.metrics.RecordCacheLookup(false)

	p, err := c.loader.LoadPrincipal(ctx, id)
	if err != nil {
		return nil, err
	}
	c.cache.Add(id, *p)
	return p, nil
}

// Invalidate drops a cached principal
func (c *CachedPrincipalLoader) Invalidate(id string) {
	c.cache.Remove(id)
}

