package usage

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppendRejectsInvalidRecord(t *testing.T) {
	s := NewMemoryStore()
	err := s.Append(context.Background(), &Record{ProviderID: "p1"})
	require.ErrorIs(t, err, ErrEmptyTenantID)
}

func TestMemoryStoreSumCostSinceFiltersByTenantAndTime(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, &Record{TenantID: "t1", ProviderID: "p1", Cost: decimal.NewFromInt(5), Timestamp: base}))
	require.NoError(t, s.Append(ctx, &Record{TenantID: "t1", ProviderID: "p1", Cost: decimal.NewFromInt(3), Timestamp: base.Add(time.Hour)}))
	require.NoError(t, s.Append(ctx, &Record{TenantID: "t2", ProviderID: "p1", Cost: decimal.NewFromInt(100), Timestamp: base}))

	sum, err := s.SumCostSince(ctx, "t1", base)
	require.NoError(t, err)
	require.True(t, sum.Equal(decimal.NewFromInt(8)))

	sum, err = s.SumCostSince(ctx, "t1", base.Add(30*time.Minute))
	require.NoError(t, err)
	require.True(t, sum.Equal(decimal.NewFromInt(3)))
}

func TestMemoryStoreTotalsAggregatesWithinPeriod(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, s.Append(ctx, &Record{TenantID: "t1", ProviderID: "p1", InputTokens: 10, OutputTokens: 5, Cost: decimal.NewFromInt(1), Success: true, Timestamp: base}))
	require.NoError(t, s.Append(ctx, &Record{TenantID: "t1", ProviderID: "p1", InputTokens: 20, OutputTokens: 10, Cost: decimal.NewFromInt(2), Success: false, Timestamp: base.Add(time.Minute)}))
	require.NoError(t, s.Append(ctx, &Record{TenantID: "t1", ProviderID: "p1", Cost: decimal.NewFromInt(99), Timestamp: base.Add(48 * time.Hour)}))

	totals, err := s.Totals(ctx, "t1", Period{Start: base, End: base.Add(24 * time.Hour)})
	require.NoError(t, err)
	require.Equal(t, int64(2), totals.RequestCount)
	require.Equal(t, int64(1), totals.SuccessCount)
	require.Equal(t, int64(1), totals.FailureCount)
	require.Equal(t, int64(30), totals.InputTokens)
	require.True(t, totals.Cost.Equal(decimal.NewFromInt(3)))
}

func TestMemoryStoreListReturnsCopiesWithinPeriod(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Append(ctx, &Record{TenantID: "t1", ProviderID: "p1", Timestamp: base}))

	recs, err := s.List(ctx, "t1", Period{Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	recs[0].ProviderID = "tampered"

	recs2, err := s.List(ctx, "t1", Period{Start: base, End: base.Add(time.Hour)})
	require.NoError(t, err)
	require.Equal(t, "p1", recs2[0].ProviderID)
}
