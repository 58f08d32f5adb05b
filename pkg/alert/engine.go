package alert

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aperturecloud/llmgateway/pkg/clock"
	"github.com/aperturecloud/llmgateway/pkg/tenant"
)

// CostAggregator is the subset of pkg/usage.Store the engine needs to
// sum a tenant's spend over a window.
type CostAggregator interface {
	SumCostSince(ctx context.Context, tenantID string, since time.Time) (decimal.Decimal, error)
}

// Notifier dispatches a created alert through the Notification
// Pipeline. Its failures are logged by the caller, never propagated.
type Notifier interface {
	Notify(ctx context.Context, a *Alert) error
}

// EventPublisher broadcasts a created alert onto the realtime bus.
// Unlike Notifier, a failure here has nothing to propagate — Publish
// has no error return — so it's fire-and-forget by design.
type EventPublisher interface {
	PublishAlert(tenantID string, a *Alert)
}

// Engine is the Alert Engine: budget-threshold scans plus ad-hoc
// operational alert creation, each followed by a best-effort
// notification dispatch.
type Engine struct {
	alerts   Store
	tenants  tenant.Store
	cost     CostAggregator
	notifier Notifier
	events   EventPublisher
	clk      clock.Clock
}

func New(alerts Store, tenants tenant.Store, cost CostAggregator, notifier Notifier, clk clock.Clock) *Engine {
	return &Engine{alerts: alerts, tenants: tenants, cost: cost, notifier: notifier, clk: clk}
}

// SetNotifier assigns the notifier after construction, for bootstrap
// sequences where the notification pipeline depends on state (a
// dialed Redis client, tenant notification configs) not available
// until after the engine itself is built.
func (e *Engine) SetNotifier(n Notifier) {
	e.notifier = n
}

// SetEvents assigns the realtime event publisher after construction.
func (e *Engine) SetEvents(p EventPublisher) {
	e.events = p
}

// severityForThreshold maps a remaining-fraction threshold to the
// severity the fixed ladder assigns it: <=1% and <=5% are critical,
// <=10% and <=20% are warning. The <=1% band is also the one the
// one-time exceeded alert rides alongside, per checkScope.
func severityForThreshold(threshold float64) Severity {
	if threshold <= 0.05 {
		return SeverityCritical
	}
	return SeverityWarning
}

// CheckAndCreateAlerts aggregates tenantID's spend since day-start and
// month-start and raises at most one threshold alert per scope (the
// most severe threshold crossed), plus a one-time budget/daily
// -exceeded alert (with suspension) if the limit was reached outright.
func (e *Engine) CheckAndCreateAlerts(ctx context.Context, tenantID string) error {
	t, err := e.tenants.Get(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("alert: load tenant %s: %w", tenantID, err)
	}

	now := e.clk.Now()
	if t.MonthlyBudget != nil {
		used, err := e.cost.SumCostSince(ctx, tenantID, clock.MonthStart(now))
		if err != nil {
			return fmt.Errorf("alert: monthly cost for %s: %w", tenantID, err)
		}
		if err := e.checkScope(ctx, t, ScopeMonthly, TypeBudgetWarning, TypeBudgetCritical, TypeBudgetExceeded,
			used, *t.MonthlyBudget, clock.MonthStart(now)); err != nil {
			return err
		}
	}
	if t.DailyLimit != nil {
		used, err := e.cost.SumCostSince(ctx, tenantID, clock.DayStart(now))
		if err != nil {
			return fmt.Errorf("alert: daily cost for %s: %w", tenantID, err)
		}
		if err := e.checkScope(ctx, t, ScopeDaily, TypeDailyWarning, TypeDailyWarning, TypeDailyExceeded,
			used, *t.DailyLimit, clock.DayStart(now)); err != nil {
			return err
		}
	}
	return nil
}

// checkScope runs the threshold ladder and exceeded check for one
// budget scope (daily or monthly). warningType/criticalType pick the
// Type recorded for non-exceeded crossings (the monthly ladder
// distinguishes budget-warning/budget-critical; the spec gives the
// daily ladder a single daily-warning type for all non-exceeded
// crossings).
func (e *Engine) checkScope(ctx context.Context, t *tenant.Tenant, scope Scope, warningType, criticalType, exceededType Type, used, limit decimal.Decimal, periodAt time.Time) error {
	if limit.IsZero() {
		return nil
	}
	usedF, _ := used.Float64()
	limitF, _ := limit.Float64()
	remaining := 1 - usedF/limitF

	var matched *float64
	var matchedSeverity Severity
	for _, threshold := range t.Thresholds() {
		if remaining > threshold {
			continue
		}
		th := threshold
		matched = &th
		matchedSeverity = severityForThreshold(threshold)
	}

	if matched != nil {
		typ := warningType
		if matchedSeverity == SeverityCritical {
			typ = criticalType
		}
		if err := e.createIfAbsent(ctx, t.ID, "", typ, matchedSeverity, scope, matched, periodAt,
			fmt.Sprintf("%.0f%% of budget remaining (%.4f of %.4f)", remaining*100, limit.Sub(used).InexactFloat64(), limitF),
			usedF, limitF); err != nil {
			return err
		}
	}

	if used.GreaterThanOrEqual(limit) {
		if err := e.createIfAbsent(ctx, t.ID, "", exceededType, SeverityCritical, scope, nil, periodAt,
			fmt.Sprintf("budget exceeded: used %.4f of %.4f", usedF, limitF), usedF, limitF); err != nil {
			return err
		}
		if t.Settings.SuspendOnExceed && !t.LLMSuspended {
			if _, err := e.tenants.SetSuspended(ctx, t.ID, true); err != nil {
				return fmt.Errorf("alert: suspend tenant %s: %w", t.ID, err)
			}
		}
	}
	return nil
}

func (e *Engine) createIfAbsent(ctx context.Context, tenantID, botID string, t Type, sev Severity, scope Scope, threshold *float64, periodAt time.Time, message string, used, limit float64) error {
	existing, err := e.alerts.FindExisting(ctx, tenantID, t, threshold, periodAt)
	if err != nil {
		return fmt.Errorf("alert: find existing %s/%s: %w", tenantID, t, err)
	}
	if existing != nil {
		return nil
	}

	a := &Alert{
		TenantID:  tenantID,
		BotID:     botID,
		Type:      t,
		Severity:  sev,
		Scope:     scope,
		Threshold: threshold,
		PeriodAt:  periodAt,
		Message:   message,
		Used:      used,
		Limit:     limit,
		CreatedAt: e.clk.Now(),
	}
	if limit != 0 {
		a.PercentUsed = used / limit
	}
	if err := e.alerts.Create(ctx, a); err != nil {
		return fmt.Errorf("alert: create %s/%s: %w", tenantID, t, err)
	}
	if e.events != nil {
		e.events.PublishAlert(tenantID, a)
	}
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, a); err != nil {
			return fmt.Errorf("alert: notify %s: %w", a.ID, err)
		}
	}
	return nil
}

// RaiseAdmin creates and dispatches an ad-hoc operational alert not
// tied to a budget scope: emergency credential activation, bot health
// transitions.
func (e *Engine) RaiseAdmin(ctx context.Context, tenantID, botID string, t Type, sev Severity, message string) error {
	a := &Alert{
		TenantID:  tenantID,
		BotID:     botID,
		Type:      t,
		Severity:  sev,
		Message:   message,
		CreatedAt: e.clk.Now(),
	}
	if err := e.alerts.Create(ctx, a); err != nil {
		return fmt.Errorf("alert: create admin alert %s: %w", t, err)
	}
	if e.events != nil {
		e.events.PublishAlert(tenantID, a)
	}
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, a); err != nil {
			return fmt.Errorf("alert: notify %s: %w", a.ID, err)
		}
	}
	return nil
}

// Acknowledge marks alertID acknowledged by userID. Idempotent: a
// second call by the same user is a no-op; by a different user it is
// an error, and in neither case does the recorded acknowledger change.
func (e *Engine) Acknowledge(ctx context.Context, alertID, userID string) error {
	return e.alerts.Acknowledge(ctx, alertID, userID, e.clk.Now())
}

// ListByTenant returns tenantID's alerts, including already-acknowledged
// ones when includeAcknowledged is true.
func (e *Engine) ListByTenant(ctx context.Context, tenantID string, includeAcknowledged bool) ([]*Alert, error) {
	return e.alerts.ListByTenant(ctx, tenantID, includeAcknowledged)
}

// BulkAcknowledge acknowledges every alert in alertIDs as userID,
// continuing past individual failures and returning a combined error
// naming each alert that could not be acknowledged.
func (e *Engine) BulkAcknowledge(ctx context.Context, alertIDs []string, userID string) error {
	var failed []string
	now := e.clk.Now()
	for _, id := range alertIDs {
		if err := e.alerts.Acknowledge(ctx, id, userID, now); err != nil {
			failed = append(failed, id)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("alert: failed to acknowledge %d of %d alerts: %v", len(failed), len(alertIDs), failed)
	}
	return nil
}
