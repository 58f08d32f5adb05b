// Package ratelimit enforces per-minute request/token windows and
// daily/monthly budget checks ahead of every completion call, and tracks
// per-provider request counters used for soft overload detection.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Limits is the resolved set of thresholds a Check runs against, after
// merging tenant overrides onto the package defaults.
type Limits struct {
	TenantRequestsPerMinute int64
	TenantTokensPerMinute   int64
	TenantRequestsPerDay    int64
	AgentRequestsPerMinute  int64
	AgentTokensPerMinute    int64
	ProviderConcurrency     int64
	ProviderRequestsPerMinute int64
}

// DefaultLimits matches the gateway's documented defaults.
func DefaultLimits() Limits {
	return Limits{
		TenantRequestsPerMinute:   100,
		TenantTokensPerMinute:     100_000,
		TenantRequestsPerDay:      5_000,
		AgentRequestsPerMinute:    20,
		AgentTokensPerMinute:      50_000,
		ProviderConcurrency:       5,
		ProviderRequestsPerMinute: 60,
	}
}

// Window is a single 60-second wall-clock-aligned counter bucket.
type Window struct {
	Key          string
	WindowStart  time.Time
	RequestCount int64
	TokenCount   int64
}

func (w *Window) end() time.Time { return w.WindowStart.Add(time.Minute) }

// Store persists rate-limit windows keyed by an opaque string
// ("tenant:<id>", "agent:<tenantId>:<agentId>", "provider:<id>").
type Store interface {
	// Increment creates-or-resets the window for key at windowStart (if
	// the stored window has a different start, the counters reset to
	// exactly this increment) and adds requests/tokens to it, returning
	// the post-increment window.
	Increment(ctx context.Context, key string, windowStart time.Time, requests, tokens int64) (*Window, error)

	// Peek reads the current window for key without mutating it. A
	// window whose start doesn't match windowStart is treated as not
	// found (it belongs to a prior minute).
	Peek(ctx context.Context, key string, windowStart time.Time) (*Window, error)

	// RecentRequestCount sums RequestCount across the window(s)
	// overlapping [since, now] for key — used for the provider
	// soft-overload proxy, which looks back 30 seconds rather than at a
	// single minute window.
	RecentRequestCount(ctx context.Context, key string, since time.Time) (int64, error)

	// DeleteExpired removes windows whose end is before cutoff.
	DeleteExpired(ctx context.Context, cutoff time.Time) error

	// DeleteByPrefix removes every window whose key has the given
	// prefix, used by resetTenant to drop "tenant:<id>" and
	// "agent:<id>:" windows together.
	DeleteByPrefix(ctx context.Context, prefix string) error
}

// CostAggregator answers "how much has this tenant spent since X" —
// implemented by the usage tracker's store, consulted here so the quota
// engine never needs to know how usage records are persisted.
type CostAggregator interface {
	SumCostSince(ctx context.Context, tenantID string, since time.Time) (decimal.Decimal, error)
}

// Reason codes returned in CheckResult.Reason, stable across clients.
const (
	ReasonTenantNotFound     = "tenant-not-found"
	ReasonTenantSuspended    = "tenant-suspended"
	ReasonDailyBudgetExceeded = "daily-budget-exceeded"
	ReasonMonthlyBudgetExceeded = "monthly-budget-exceeded"
	ReasonRateLimitExceeded  = "rate-limit-exceeded"
)

// CheckResult is the outcome of an admission check.
type CheckResult struct {
	Allowed           bool
	Reason            string
	RetryAfterSeconds int64
	Remaining         int64
}

func denied(reason string, retryAfter int64) *CheckResult {
	return &CheckResult{Allowed: false, Reason: reason, RetryAfterSeconds: retryAfter}
}

// Quota is the getQuota() projection: current usage against daily and
// monthly budgets, plus the live minute-window counters.
type Quota struct {
	DailyUsed        decimal.Decimal
	DailyLimit       *decimal.Decimal
	DailyRemaining   *decimal.Decimal
	DailyPercent     float64
	MonthlyUsed      decimal.Decimal
	MonthlyLimit     *decimal.Decimal
	MonthlyRemaining *decimal.Decimal
	MonthlyPercent   float64
	WindowRequests   int64
	WindowTokens     int64
}

// tenantKey and agentKey centralize the namespacing scheme so Engine and
// Store agree on it without either importing tenant directly.
func tenantKey(tenantID string) string { return fmt.Sprintf("tenant:%s", tenantID) }
func agentKey(tenantID, agentID string) string {
	return fmt.Sprintf("agent:%s:%s", tenantID, agentID)
}
func providerKey(providerID string) string { return fmt.Sprintf("provider:%s", providerID) }
