package alert

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreFindExistingMatchesOnTenantTypeThresholdPeriod(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	th := 0.10
	period := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, s.Create(ctx, &Alert{TenantID: "t1", Type: TypeBudgetWarning, Threshold: &th, PeriodAt: period}))

	found, err := s.FindExisting(ctx, "t1", TypeBudgetWarning, &th, period)
	require.NoError(t, err)
	require.NotNil(t, found)

	otherTh := 0.05
	notFound, err := s.FindExisting(ctx, "t1", TypeBudgetWarning, &otherTh, period)
	require.NoError(t, err)
	require.Nil(t, notFound)
}

func TestMemoryStoreFindExistingIgnoresAcknowledgedAlerts(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	th := 0.10
	period := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	a := &Alert{TenantID: "t1", Type: TypeBudgetWarning, Threshold: &th, PeriodAt: period}
	require.NoError(t, s.Create(ctx, a))
	require.NoError(t, s.Acknowledge(ctx, a.ID, "user1", time.Now()))

	found, err := s.FindExisting(ctx, "t1", TypeBudgetWarning, &th, period)
	require.NoError(t, err)
	require.Nil(t, found, "an acknowledged alert should not block re-creation in a future period")
}

func TestMemoryStoreGetMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreAcknowledgeMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	err := s.Acknowledge(context.Background(), "ghost", "user1", time.Now())
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreListByTenantExcludesAcknowledgedByDefault(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a1 := &Alert{TenantID: "t1", Type: TypeBudgetWarning}
	a2 := &Alert{TenantID: "t1", Type: TypeBudgetCritical}
	require.NoError(t, s.Create(ctx, a1))
	require.NoError(t, s.Create(ctx, a2))
	require.NoError(t, s.Acknowledge(ctx, a1.ID, "user1", time.Now()))

	active, err := s.ListByTenant(ctx, "t1", false)
	require.NoError(t, err)
	require.Len(t, active, 1)
	require.Equal(t, a2.ID, active[0].ID)

	all, err := s.ListByTenant(ctx, "t1", true)
	require.NoError(t, err)
	require.Len(t, all, 2)
}
