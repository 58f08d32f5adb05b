package analytics

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aperturecloud/llmgateway/pkg/clock"
	"github.com/aperturecloud/llmgateway/pkg/usage"
)

// Aggregator answers analytics queries over a tenant's usage log.
type Aggregator struct {
	usage usage.Store
	clk   clock.Clock
}

func New(usageStore usage.Store, clk clock.Clock) *Aggregator {
	return &Aggregator{usage: usageStore, clk: clk}
}

// Summary computes the period rollup plus top-5 agent/model
// breakdowns and an end-of-month cost projection. The projection is
// only meaningful when period starts at the current month's start;
// ProjectionValid is false otherwise.
func (a *Aggregator) Summary(ctx context.Context, tenantID string, period usage.Period) (*Summary, error) {
	records, err := a.usage.List(ctx, tenantID, period)
	if err != nil {
		return nil, fmt.Errorf("analytics: summary: %w", err)
	}

	s := &Summary{TotalCost: decimal.Zero}
	var latencySum int64
	byAgent := map[string]*GroupRow{}
	byModel := map[string]*GroupRow{}

	for _, r := range records {
		s.RequestCount++
		if r.Success {
			s.SuccessCount++
		} else {
			s.FailureCount++
		}
		s.InputTokens += r.InputTokens
		s.OutputTokens += r.OutputTokens
		s.TotalCost = s.TotalCost.Add(r.Cost)
		latencySum += r.LatencyMs

		accumulate(byAgent, r.AgentID, r)
		accumulate(byModel, r.Model, r)
	}

	if s.RequestCount > 0 {
		s.SuccessRate = float64(s.SuccessCount) / float64(s.RequestCount)
		s.AverageLatencyMs = float64(latencySum) / float64(s.RequestCount)
	}

	s.TopAgents = topN(byAgent, s.TotalCost, 5)
	s.TopModels = topN(byModel, s.TotalCost, 5)

	now := a.clk.Now()
	monthStart := clock.MonthStart(now)
	if period.Start.Equal(monthStart) {
		s.ProjectionValid = true
		daysElapsed := now.Sub(monthStart).Hours()/24 + 1
		daysInMonth := daysInMonthOf(now)
		if daysElapsed > 0 {
			perDay := s.TotalCost.Div(decimal.NewFromFloat(daysElapsed))
			s.ProjectedMonthEnd = perDay.Mul(decimal.NewFromInt(int64(daysInMonth)))
		}
	}

	return s, nil
}

// ByAgent, ByModel, and ByProvider return a grouped breakdown with
// each row's share of the period's total cost.
func (a *Aggregator) ByAgent(ctx context.Context, tenantID string, period usage.Period) ([]GroupRow, error) {
	return a.groupBy(ctx, tenantID, period, func(r *usage.Record) string { return r.AgentID })
}

func (a *Aggregator) ByModel(ctx context.Context, tenantID string, period usage.Period) ([]GroupRow, error) {
	return a.groupBy(ctx, tenantID, period, func(r *usage.Record) string { return r.Model })
}

func (a *Aggregator) ByProvider(ctx context.Context, tenantID string, period usage.Period) ([]GroupRow, error) {
	return a.groupBy(ctx, tenantID, period, func(r *usage.Record) string { return r.ProviderID })
}

// ByDay buckets the period's records by calendar day (UTC).
func (a *Aggregator) ByDay(ctx context.Context, tenantID string, period usage.Period) ([]GroupRow, error) {
	return a.groupBy(ctx, tenantID, period, func(r *usage.Record) string { return r.Timestamp.Format("2006-01-02") })
}

// HourlyToday buckets today's records (UTC) into 24 hour-of-day rows,
// zero-filled for hours with no traffic.
func (a *Aggregator) HourlyToday(ctx context.Context, tenantID string) ([]HourlyRow, error) {
	now := a.clk.Now()
	period := usage.Period{Start: clock.DayStart(now), End: clock.DayStart(now).AddDate(0, 0, 1)}
	records, err := a.usage.List(ctx, tenantID, period)
	if err != nil {
		return nil, fmt.Errorf("analytics: hourly today: %w", err)
	}

	rows := make([]HourlyRow, 24)
	for i := range rows {
		rows[i] = HourlyRow{Hour: i, Cost: decimal.Zero}
	}
	for _, r := range records {
		h := r.Timestamp.Hour()
		rows[h].RequestCount++
		rows[h].Cost = rows[h].Cost.Add(r.Cost)
	}
	return rows, nil
}

// RealTime returns the last-5-minute rollup.
func (a *Aggregator) RealTime(ctx context.Context, tenantID string) (*RealTime, error) {
	now := a.clk.Now()
	period := usage.Period{Start: now.Add(-5 * time.Minute), End: now.Add(time.Second)}
	records, err := a.usage.List(ctx, tenantID, period)
	if err != nil {
		return nil, fmt.Errorf("analytics: real time: %w", err)
	}

	rt := &RealTime{Cost: decimal.Zero}
	var latencySum int64
	for _, r := range records {
		rt.RequestCount++
		if r.Success {
			rt.SuccessCount++
		} else {
			rt.FailureCount++
		}
		rt.Cost = rt.Cost.Add(r.Cost)
		latencySum += r.LatencyMs
	}
	if rt.RequestCount > 0 {
		rt.AverageLatencyMs = float64(latencySum) / float64(rt.RequestCount)
	}
	return rt, nil
}

func (a *Aggregator) groupBy(ctx context.Context, tenantID string, period usage.Period, keyFn func(*usage.Record) string) ([]GroupRow, error) {
	records, err := a.usage.List(ctx, tenantID, period)
	if err != nil {
		return nil, fmt.Errorf("analytics: group by: %w", err)
	}

	groups := map[string]*GroupRow{}
	total := decimal.Zero
	for _, r := range records {
		accumulate(groups, keyFn(r), r)
		total = total.Add(r.Cost)
	}

	return topN(groups, total, 0), nil
}

// accumulate folds one usage.Record into groups[key], creating the
// row on first sight.
func accumulate(groups map[string]*GroupRow, key string, r *usage.Record) {
	row, ok := groups[key]
	if !ok {
		row = &GroupRow{Key: key, Cost: decimal.Zero}
		groups[key] = row
	}
	row.RequestCount++
	if r.Success {
		row.SuccessCount++
	} else {
		row.FailureCount++
	}
	row.InputTokens += r.InputTokens
	row.OutputTokens += r.OutputTokens
	row.Cost = row.Cost.Add(r.Cost)
}

// topN returns groups sorted by cost descending, with CostShare
// computed against total. limit == 0 means "return all".
func topN(groups map[string]*GroupRow, total decimal.Decimal, limit int) []GroupRow {
	rows := make([]GroupRow, 0, len(groups))
	for _, row := range groups {
		if !total.IsZero() {
			row.CostShare, _ = row.Cost.Div(total).Float64()
		}
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Cost.GreaterThan(rows[j].Cost) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

func daysInMonthOf(t time.Time) int {
	firstOfNext := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, t.Location()).AddDate(0, 1, 0)
	lastOfMonth := firstOfNext.AddDate(0, 0, -1)
	return lastOfMonth.Day()
}
