package bot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreListByTenantFiltersByTenant(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Upsert(ctx, &Bot{ID: "b1", TenantID: "t1", Name: "one", Enabled: true}))
	require.NoError(t, s.Upsert(ctx, &Bot{ID: "b2", TenantID: "t2", Name: "two", Enabled: true}))

	bots, err := s.ListByTenant(ctx, "t1")
	require.NoError(t, err)
	require.Len(t, bots, 1)
	require.Equal(t, "b1", bots[0].ID)
}

func TestMemoryStoreGetMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.Get(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreAdminAgentRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	a := &AdminAgent{ID: "a1", TenantID: "t1", Status: AdminAgentActive, HealthCheckEnabled: true, MaxRestartAttempts: 3}
	require.NoError(t, s.UpsertAdminAgent(ctx, a))

	got, err := s.GetAdminAgent(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, 3, got.MaxRestartAttempts)

	all, err := s.ListAdminAgents(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
}

func TestMemoryStoreGetAdminAgentMissingReturnsNotFound(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetAdminAgent(context.Background(), "ghost")
	require.ErrorIs(t, err, ErrNotFound)
}
