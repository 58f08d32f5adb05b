package tenant

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aperturecloud/llmgateway/pkg/store"
)

func TestMemoryStoreSuspendIsIdempotentAndReportsChange(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryStore()

	budget := decimal.NewFromInt(100)
	require.NoError(t, s.Upsert(ctx, &Tenant{ID: "t1", Status: StatusActive, MonthlyBudget: &budget}))

	changed, err := s.SetSuspended(ctx, "t1", true)
	require.NoError(t, err)
	require.True(t, changed)

	changed, err = s.SetSuspended(ctx, "t1", true)
	require.NoError(t, err)
	require.False(t, changed, "second identical suspend should be a no-op")

	got, err := s.Get(ctx, "t1")
	require.NoError(t, err)
	require.True(t, got.LLMSuspended)
}

func TestMemoryStoreGetMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "missing")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func TestThresholdsSortedDescendingWithDefault(t *testing.T) {
	tn := &Tenant{}
	got := tn.Thresholds()
	require.Equal(t, []float64{0.20, 0.10, 0.05, 0.01}, got)

	tn.AlertThreshold = []float64{0.01, 0.20, 0.05}
	got = tn.Thresholds()
	require.Equal(t, []float64{0.20, 0.05, 0.01}, got)
}

func TestAllowsProviderEmptyListAllowsAll(t *testing.T) {
	tn := &Tenant{}
	require.True(t, tn.AllowsProvider("anything"))

	tn.AllowProviders = []string{"p1"}
	require.True(t, tn.AllowsProvider("p1"))
	require.False(t, tn.AllowsProvider("p2"))
}
