// Package tenant models the organizational owner of bots, credentials,
// and budgets — the unit of isolation for the gateway.
package tenant

import (
	"time"

	"github.com/shopspring/decimal"
)

// Status is the lifecycle state of a Tenant.
type Status string

const (
	StatusActive    Status = "active"
	StatusSuspended Status = "suspended"
	StatusDeleted   Status = "deleted"
)

// DefaultAlertThresholds is the fraction-remaining ladder used when a
// tenant does not configure its own.
var DefaultAlertThresholds = []float64{0.20, 0.10, 0.05, 0.01}

// Settings is the tenant's free-form budget/notification configuration
// bag. Zero values mean "use the package default" at the call site.
type Settings struct {
	SuspendOnExceed bool `json:"suspend_on_exceed"`

	TenantRequestsPerMinute int64 `json:"tenant_requests_per_minute,omitempty"`
	TenantTokensPerMinute   int64 `json:"tenant_tokens_per_minute,omitempty"`
	TenantRequestsPerDay    int64 `json:"tenant_requests_per_day,omitempty"`
	AgentRequestsPerMinute  int64 `json:"agent_requests_per_minute,omitempty"`
	AgentTokensPerMinute    int64 `json:"agent_tokens_per_minute,omitempty"`
}

// Tenant is the top-level organizational owner in the gateway's data
// model.
type Tenant struct {
	ID             string           `json:"id"`
	DisplayName    string           `json:"display_name"`
	MonthlyBudget  *decimal.Decimal `json:"monthly_budget,omitempty"`
	DailyLimit     *decimal.Decimal `json:"daily_limit,omitempty"`
	LLMSuspended   bool             `json:"llm_suspended"`
	Status         Status           `json:"status"`
	AllowProviders []string         `json:"allowed_providers,omitempty"` // empty = all
	AlertThreshold []float64        `json:"alert_thresholds,omitempty"`
	Settings       Settings         `json:"settings"`
	CreatedAt      time.Time        `json:"created_at"`
	DeletedAt      *time.Time       `json:"deleted_at,omitempty"`
}

// Thresholds returns the tenant's configured alert thresholds, or the
// package default if none were set, sorted descending (least severe
// first) for the threshold scan.
func (t *Tenant) Thresholds() []float64 {
	th := t.AlertThreshold
	if len(th) == 0 {
		th = DefaultAlertThresholds
	}
	out := make([]float64, len(th))
	copy(out, th)
	for i := 1; i < len(out); i++ {
		for j := i; j > 0 && out[j] > out[j-1]; j-- {
			out[j], out[j-1] = out[j-1], out[j]
		}
	}
	return out
}

// IsActive reports whether the tenant may be the owner of live traffic.
func (t *Tenant) IsActive() bool {
	return t.Status == StatusActive && t.DeletedAt == nil
}

// AllowsProvider reports whether provider may be selected for this tenant.
// An empty allow-list means "all providers allowed".
func (t *Tenant) AllowsProvider(providerID string) bool {
	if len(t.AllowProviders) == 0 {
		return true
	}
	for _, id := range t.AllowProviders {
		if id == providerID {
			return true
		}
	}
	return false
}
