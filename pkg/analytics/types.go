// Package analytics provides read-only aggregation over usage
// records: period summaries, grouped breakdowns, and a real-time
// rollup, all derived from the same append-only log the Usage
// Tracker writes.
package analytics

import (
	"github.com/shopspring/decimal"
)

// Summary is the top-level period rollup, including the top-5
// agent/model breakdowns and a naive linear budget projection.
type Summary struct {
	RequestCount      int64
	SuccessCount      int64
	FailureCount      int64
	SuccessRate       float64
	InputTokens       int64
	OutputTokens      int64
	TotalCost         decimal.Decimal
	AverageLatencyMs  float64
	TopAgents         []GroupRow
	TopModels         []GroupRow
	ProjectedMonthEnd decimal.Decimal
	ProjectionValid   bool // false when the period isn't a month-to-date window
}

// GroupRow is one row of a grouped breakdown (by agent, model,
// provider, or day), with its share of the period's total cost.
type GroupRow struct {
	Key          string
	RequestCount int64
	SuccessCount int64
	FailureCount int64
	InputTokens  int64
	OutputTokens int64
	Cost         decimal.Decimal
	CostShare    float64 // Cost / period total cost, 0 when total is zero
}

// HourlyRow is one hour-of-day bucket for today's traffic.
type HourlyRow struct {
	Hour         int
	RequestCount int64
	Cost         decimal.Decimal
}

// RealTime is the last-5-minute rollup.
type RealTime struct {
	RequestCount     int64
	SuccessCount     int64
	FailureCount     int64
	Cost             decimal.Decimal
	AverageLatencyMs float64
}
