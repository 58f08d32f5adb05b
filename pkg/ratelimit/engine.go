package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aperturecloud/llmgateway/pkg/clock"
	"github.com/aperturecloud/llmgateway/pkg/tenant"
)

// Engine is the Rate Limiter & Quota Engine: per-minute window
// admission plus daily/monthly budget enforcement ahead of every
// completion call.
type Engine struct {
	tenants  tenant.Store
	cost     CostAggregator
	store    Store
	clk      clock.Clock
	defaults Limits
}

func New(tenants tenant.Store, cost CostAggregator, store Store, clk clock.Clock, defaults Limits) *Engine {
	return &Engine{tenants: tenants, cost: cost, store: store, clk: clk, defaults: defaults}
}

func resolveLimits(t *tenant.Tenant, d Limits) Limits {
	l := d
	s := t.Settings
	if s.TenantRequestsPerMinute > 0 {
		l.TenantRequestsPerMinute = s.TenantRequestsPerMinute
	}
	if s.TenantTokensPerMinute > 0 {
		l.TenantTokensPerMinute = s.TenantTokensPerMinute
	}
	if s.TenantRequestsPerDay > 0 {
		l.TenantRequestsPerDay = s.TenantRequestsPerDay
	}
	if s.AgentRequestsPerMinute > 0 {
		l.AgentRequestsPerMinute = s.AgentRequestsPerMinute
	}
	if s.AgentTokensPerMinute > 0 {
		l.AgentTokensPerMinute = s.AgentTokensPerMinute
	}
	return l
}

// Check is the admission gate run ahead of provider selection. It is
// itself the thing that advances the minute-window request counter —
// three back-to-back calls against a 2-requests-per-minute tenant admit
// the first two and deny the third, because the window state Check
// reads is the window state Check just wrote.
func (e *Engine) Check(ctx context.Context, tenantID, agentID string) (*CheckResult, error) {
	t, err := e.tenants.Get(ctx, tenantID)
	if errors.Is(err, tenant.ErrNotFound) {
		return denied(ReasonTenantNotFound, 0), nil
	}
	if err != nil {
		return nil, fmt.Errorf("ratelimit: load tenant %s: %w", tenantID, err)
	}

	now := e.clk.Now()
	if t.LLMSuspended {
		return denied(ReasonTenantSuspended, clock.SecondsUntilMidnight(now)), nil
	}

	if t.DailyLimit != nil {
		used, err := e.cost.SumCostSince(ctx, tenantID, clock.DayStart(now))
		if err != nil {
			return nil, fmt.Errorf("ratelimit: daily cost for %s: %w", tenantID, err)
		}
		if used.GreaterThanOrEqual(*t.DailyLimit) {
			return denied(ReasonDailyBudgetExceeded, clock.SecondsUntilMidnight(now)), nil
		}
	}
	if t.MonthlyBudget != nil {
		used, err := e.cost.SumCostSince(ctx, tenantID, clock.MonthStart(now))
		if err != nil {
			return nil, fmt.Errorf("ratelimit: monthly cost for %s: %w", tenantID, err)
		}
		if used.GreaterThanOrEqual(*t.MonthlyBudget) {
			return denied(ReasonMonthlyBudgetExceeded, clock.SecondsUntilNextMonth(now)), nil
		}
	}

	limits := resolveLimits(t, e.defaults)
	windowStart := clock.AlignToMinute(now)

	tw, err := e.store.Increment(ctx, tenantKey(tenantID), windowStart, 1, 0)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: increment tenant window %s: %w", tenantID, err)
	}
	if tw.RequestCount > limits.TenantRequestsPerMinute || tw.TokenCount > limits.TenantTokensPerMinute {
		return denied(ReasonRateLimitExceeded, 60), nil
	}

	remaining := limits.TenantRequestsPerMinute - tw.RequestCount

	if agentID != "" {
		aw, err := e.store.Increment(ctx, agentKey(tenantID, agentID), windowStart, 1, 0)
		if err != nil {
			return nil, fmt.Errorf("ratelimit: increment agent window %s/%s: %w", tenantID, agentID, err)
		}
		if aw.RequestCount > limits.AgentRequestsPerMinute || aw.TokenCount > limits.AgentTokensPerMinute {
			return denied(ReasonRateLimitExceeded, 60), nil
		}
		if agentRemaining := limits.AgentRequestsPerMinute - aw.RequestCount; agentRemaining < remaining {
			remaining = agentRemaining
		}
	}

	return &CheckResult{Allowed: true, Remaining: remaining}, nil
}

// RecordUsage adds actual token usage to the current minute window for
// tenantID and, if provided, agentID. Request counts are advanced by
// Check, not here, so a completion that was admitted is never counted
// twice against the same window.
func (e *Engine) RecordUsage(ctx context.Context, tenantID, agentID string, tokens int64) error {
	windowStart := clock.AlignToMinute(e.clk.Now())
	if _, err := e.store.Increment(ctx, tenantKey(tenantID), windowStart, 0, tokens); err != nil {
		return fmt.Errorf("ratelimit: record tenant usage %s: %w", tenantID, err)
	}
	if agentID != "" {
		if _, err := e.store.Increment(ctx, agentKey(tenantID, agentID), windowStart, 0, tokens); err != nil {
			return fmt.Errorf("ratelimit: record agent usage %s/%s: %w", tenantID, agentID, err)
		}
	}
	return nil
}

// IncrementProvider advances a provider's minute-window request count,
// called once per dispatch attempt regardless of outcome.
func (e *Engine) IncrementProvider(ctx context.Context, providerID string) error {
	windowStart := clock.AlignToMinute(e.clk.Now())
	if _, err := e.store.Increment(ctx, providerKey(providerID), windowStart, 1, 0); err != nil {
		return fmt.Errorf("ratelimit: increment provider window %s: %w", providerID, err)
	}
	return nil
}

// ProviderOverloaded is the soft-overload proxy consulted by the
// router/gateway alongside the in-process active-request counter: a
// provider is at capacity if the persisted minute window already hit
// its request limit, or if requests in the last 30 seconds reached
// 2x its concurrency.
func (e *Engine) ProviderOverloaded(ctx context.Context, providerID string, concurrency, rateLimit int64) (bool, error) {
	now := e.clk.Now()
	windowStart := clock.AlignToMinute(now)
	w, err := e.store.Peek(ctx, providerKey(providerID), windowStart)
	if err != nil {
		return false, fmt.Errorf("ratelimit: peek provider window %s: %w", providerID, err)
	}
	if w.RequestCount >= rateLimit {
		return true, nil
	}
	recent, err := e.store.RecentRequestCount(ctx, providerKey(providerID), now.Add(-30*time.Second))
	if err != nil {
		return false, fmt.Errorf("ratelimit: recent provider usage %s: %w", providerID, err)
	}
	return recent >= 2*concurrency, nil
}

// GetQuota reports daily/monthly budget consumption and the live
// minute-window counters for tenantID.
func (e *Engine) GetQuota(ctx context.Context, tenantID string) (*Quota, error) {
	t, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: load tenant %s: %w", tenantID, err)
	}

	now := e.clk.Now()
	dailyUsed, err := e.cost.SumCostSince(ctx, tenantID, clock.DayStart(now))
	if err != nil {
		return nil, fmt.Errorf("ratelimit: daily cost for %s: %w", tenantID, err)
	}
	monthlyUsed, err := e.cost.SumCostSince(ctx, tenantID, clock.MonthStart(now))
	if err != nil {
		return nil, fmt.Errorf("ratelimit: monthly cost for %s: %w", tenantID, err)
	}

	q := &Quota{DailyUsed: dailyUsed, MonthlyUsed: monthlyUsed}
	if t.DailyLimit != nil {
		q.DailyLimit = t.DailyLimit
		remaining := t.DailyLimit.Sub(dailyUsed)
		q.DailyRemaining = &remaining
		if !t.DailyLimit.IsZero() {
			f, _ := dailyUsed.Div(*t.DailyLimit).Float64()
			q.DailyPercent = f
		}
	}
	if t.MonthlyBudget != nil {
		q.MonthlyLimit = t.MonthlyBudget
		remaining := t.MonthlyBudget.Sub(monthlyUsed)
		q.MonthlyRemaining = &remaining
		if !t.MonthlyBudget.IsZero() {
			f, _ := monthlyUsed.Div(*t.MonthlyBudget).Float64()
			q.MonthlyPercent = f
		}
	}

	windowStart := clock.AlignToMinute(now)
	tw, err := e.store.Peek(ctx, tenantKey(tenantID), windowStart)
	if err != nil {
		return nil, fmt.Errorf("ratelimit: peek tenant window %s: %w", tenantID, err)
	}
	q.WindowRequests = tw.RequestCount
	q.WindowTokens = tw.TokenCount
	return q, nil
}

// CleanupExpired deletes windows whose end is more than 5 minutes old.
func (e *Engine) CleanupExpired(ctx context.Context) error {
	return e.store.DeleteExpired(ctx, e.clk.Now().Add(-5*time.Minute))
}

// ResetTenant clears every rate-limit window belonging to tenantID (its
// own and its agents') and lifts suspension. Idempotent: calling it
// twice in a row is a no-op the second time.
func (e *Engine) ResetTenant(ctx context.Context, tenantID string) error {
	if err := e.store.DeleteByPrefix(ctx, tenantKey(tenantID)); err != nil {
		return fmt.Errorf("ratelimit: reset tenant windows %s: %w", tenantID, err)
	}
	if err := e.store.DeleteByPrefix(ctx, fmt.Sprintf("agent:%s:", tenantID)); err != nil {
		return fmt.Errorf("ratelimit: reset agent windows %s: %w", tenantID, err)
	}
	if _, err := e.tenants.SetSuspended(ctx, tenantID, false); err != nil {
		return fmt.Errorf("ratelimit: clear suspension %s: %w", tenantID, err)
	}
	return nil
}
