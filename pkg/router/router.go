// Package router selects which Provider should serve the next
// completion call for a tenant: priority order, allow-listing, and
// live circuit/capacity availability.
package router

import (
	"context"
	"fmt"
	"strings"

	"github.com/aperturecloud/llmgateway/pkg/provider"
	"github.com/aperturecloud/llmgateway/pkg/tenant"
)

// Breaker is the subset of pkg/breaker.Breaker the router depends on.
type Breaker interface {
	CanRequest(ctx context.Context, providerID string) bool
}

// CapacityChecker reports whether providerID is at or over its soft
// capacity limits. activeCount is the in-process count of requests
// currently in flight against the provider, owned by the gateway.
type CapacityChecker interface {
	ProviderOverloaded(ctx context.Context, providerID string, concurrency, rateLimit int64) (bool, error)
}

// ActiveCounter reports how many requests are currently in flight
// against a provider, owned and incremented by the gateway facade.
type ActiveCounter interface {
	Active(providerID string) int
}

// SelectOpts narrows and steers Select.
type SelectOpts struct {
	Model          string
	PreferProvider string
}

// Decision is the result of a successful Select.
type Decision struct {
	Provider *provider.Provider
	Reason   string
}

// ErrNoProvidersAvailable is returned, wrapped with per-provider
// reasons, when no provider can take the request.
type ErrNoProvidersAvailable struct {
	Reasons []string
}

func (e *ErrNoProvidersAvailable) Error() string {
	return fmt.Sprintf("no-providers-available: %s", strings.Join(e.Reasons, "; "))
}

// Router is the Provider Router: read-only selection among ACTIVE and
// DEGRADED providers, respecting a tenant's allow-list and priority
// order, gated by circuit-breaker and capacity availability.
type Router struct {
	providers provider.Store
	tenants   tenant.Store
	breaker   Breaker
	capacity  CapacityChecker
	active    ActiveCounter
}

func New(providers provider.Store, tenants tenant.Store, breaker Breaker, capacity CapacityChecker, active ActiveCounter) *Router {
	return &Router{providers: providers, tenants: tenants, breaker: breaker, capacity: capacity, active: active}
}

// Select picks a provider for tenantID. It does not reserve capacity;
// the caller must increment the provider's active-request counter
// between Select and dispatch, in a scope that guarantees release.
func (r *Router) Select(ctx context.Context, tenantID string, opts SelectOpts) (*Decision, error) {
	t, err := r.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("router: load tenant %s: %w", tenantID, err)
	}

	candidates, err := r.providers.List(ctx, provider.Filter{
		Model:    opts.Model,
		Statuses: []provider.Status{provider.StatusActive, provider.StatusDegraded},
	})
	if err != nil {
		return nil, fmt.Errorf("router: list providers: %w", err)
	}

	var allowed []*provider.Provider
	for _, p := range candidates {
		if t.AllowsProvider(p.ID) {
			allowed = append(allowed, p)
		}
	}

	if opts.PreferProvider != "" {
		for _, p := range allowed {
			if p.ID != opts.PreferProvider {
				continue
			}
			if ok, reason := r.availability(ctx, p); ok {
				return &Decision{Provider: p, Reason: reason}, nil
			}
			break
		}
	}

	var reasons []string
	for _, p := range allowed {
		ok, reason := r.availability(ctx, p)
		if ok {
			return &Decision{Provider: p, Reason: reason}, nil
		}
		reasons = append(reasons, fmt.Sprintf("%s: %s", p.ID, reason))
	}

	return nil, &ErrNoProvidersAvailable{Reasons: reasons}
}

// availability evaluates whether p can currently take traffic, and
// returns a human-readable reason either way: a success reason naming
// the provider, its priority, and its status, or a denial reason
// naming the specific check that failed.
func (r *Router) availability(ctx context.Context, p *provider.Provider) (bool, string) {
	if !p.Available() {
		return false, "unavailable"
	}
	if !r.breaker.CanRequest(ctx, p.ID) {
		return false, "circuit-open"
	}

	overloaded, err := r.capacity.ProviderOverloaded(ctx, p.ID, int64(p.Concurrency), int64(p.RateLimit))
	if err != nil {
		return false, fmt.Sprintf("capacity-check-error: %v", err)
	}
	if overloaded {
		return false, "rate-limit"
	}
	if r.active != nil && r.active.Active(p.ID) >= p.Concurrency {
		return false, "capacity"
	}

	return true, fmt.Sprintf("%s: priority %d, status %s", p.ID, p.Priority, p.Status)
}
