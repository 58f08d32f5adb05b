// Package usage tracks every completion call's cost and token counts
// in an append-only log, and triggers budget-threshold alert checks
// off the back of each write.
package usage

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyTenantID = errors.New("usage: tenant_id must not be empty")
	ErrEmptyProvider = errors.New("usage: provider_id must not be empty")
)

// Record is a single completion call's accounting entry.
type Record struct {
	ID           string          `json:"id"`
	TenantID     string          `json:"tenant_id"`
	AgentID      string          `json:"agent_id,omitempty"`
	ProviderID   string          `json:"provider_id"`
	Model        string          `json:"model"`
	InputTokens  int64           `json:"input_tokens"`
	OutputTokens int64           `json:"output_tokens"`
	Cost         decimal.Decimal `json:"cost"`
	Success      bool            `json:"success"`
	ErrorMessage string          `json:"error_message,omitempty"`
	LatencyMs    int64           `json:"latency_ms"`
	Timestamp    time.Time       `json:"timestamp"`
}

// Validate checks the record carries the minimum fields needed to be
// attributed and aggregated.
func (r Record) Validate() error {
	if r.TenantID == "" {
		return ErrEmptyTenantID
	}
	if r.ProviderID == "" {
		return ErrEmptyProvider
	}
	return nil
}

// Period is an inclusive-start, exclusive-end time range used for
// aggregation queries.
type Period struct {
	Start time.Time
	End   time.Time
}

// Totals is the aggregated result of summing Records over a Period.
type Totals struct {
	RequestCount int64
	SuccessCount int64
	FailureCount int64
	InputTokens  int64
	OutputTokens int64
	Cost         decimal.Decimal
}
