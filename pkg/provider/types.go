// Package provider models a backing LLM endpoint: its identity, priority,
// cost rates, and lifecycle status, plus the Dispatcher used to actually
// place a completion call against it.
package provider

import (
	"time"

	"github.com/shopspring/decimal"
)

// Type tags how a Provider is reached.
type Type string

const (
	TypeVendorAPI            Type = "vendor-api"
	TypeSubscriptionSession  Type = "subscription-session"
	TypeOther                Type = "other"
)

// Status is the provider's health/lifecycle state. Only the circuit
// breaker or an explicit admin override may change it.
type Status string

const (
	StatusActive      Status = "ACTIVE"
	StatusDegraded    Status = "DEGRADED"
	StatusCircuitOpen Status = "CIRCUIT_OPEN"
	StatusDisabled    Status = "DISABLED"
)

// Provider is a single routable LLM backend.
type Provider struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Type        Type            `json:"type"`
	Model       string          `json:"model"`
	Priority    int             `json:"priority"` // lower = preferred
	Status      Status          `json:"status"`
	RateLimit   int             `json:"rate_limit"`  // requests/min
	Concurrency int             `json:"concurrency"` // max simultaneous
	CostInput   decimal.Decimal `json:"cost_input"`   // cost per input token
	CostOutput  decimal.Decimal `json:"cost_output"`  // cost per output token
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Available reports whether the provider may be selected for any traffic
// at all, independent of circuit/capacity checks.
func (p *Provider) Available() bool {
	return p.Status == StatusActive || p.Status == StatusDegraded
}

// Cost computes the cost of a completion from token counts, rounded to
// 8 fractional digits to match the usage record's cost precision.
func (p *Provider) Cost(inputTokens, outputTokens int64) decimal.Decimal {
	in := p.CostInput.Mul(decimal.NewFromInt(inputTokens))
	out := p.CostOutput.Mul(decimal.NewFromInt(outputTokens))
	return in.Add(out).Round(8)
}

// StatusHistoryEntry is an append-only record of a provider status
// transition, written by the circuit breaker.
type StatusHistoryEntry struct {
	ProviderID string    `json:"provider_id"`
	From       Status    `json:"from"`
	To         Status    `json:"to"`
	Reason     string    `json:"reason"`
	At         time.Time `json:"at"`
}
