// Package ratelimit provides process-wide rate limiting for external
// providers. Limiters are shared across all goroutines: per-turn or
// per-request limiting would multiply the effective rate under load and
// is not an acceptable substitute.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Registry holds one token bucket per provider name.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	defaults map[string]rate.Limit
	burst    int
}

// NewRegistry creates a registry. perSecond maps provider names to their
// sustained request rate; unknown providers fall back to 5 req/s.
func NewRegistry(perSecond map[string]float64, burst int) *Registry {
	if burst <= 0 {
		burst = 5
	}
	defaults := make(map[string]rate.Limit, len(perSecond))
	for name, r := range perSecond {
		defaults[name] = rate.Limit(r)
	}
	return &Registry{
		limiters: make(map[string]*rate.Limiter),
		defaults: defaults,
		burst:    burst,
	}
}

// Wait blocks until the named provider's limiter permits one request, or
// the context is done.
func (r *Registry) Wait(ctx context.Context, provider string) error {
	return r.limiter(provider).Wait(ctx)
}

// Allow reports whether one request may proceed immediately.
func (r *Registry) Allow(provider string) bool {
	return r.limiter(provider).Allow()
}

func (r *Registry) limiter(provider string) *rate.Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	if l, ok := r.limiters[provider]; ok {
		return l
	}
	limit, ok := r.defaults[provider]
	if !ok {
		limit = rate.Limit(5)
	}
	l := rate.NewLimiter(limit, r.burst)
	r.limiters[provider] = l
	return l
}
