package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aperturecloud/llmgateway/pkg/clock"
)

func int64p(n int64) *int64 { return &n }

func newPoolHarness(t *testing.T, creds []*Credential, now time.Time) (*Pool, *MemoryStore, *clock.Fake, []string) {
	t.Helper()
	store := NewMemoryStore()
	ctx := context.Background()
	for _, c := range creds {
		require.NoError(t, store.Upsert(ctx, c))
	}
	clk := clock.NewFake(now)
	var alerts []string
	p := NewPool(store, clk, func(_ context.Context, alertType, severity, message string) {
		alerts = append(alerts, alertType+"|"+severity+"|"+message)
	})
	require.NoError(t, p.Load(ctx, "t1"))
	return p, store, clk, alerts
}

func TestGetPoolOrdersEmergencyThenRegularThenOAuth(t *testing.T) {
	creds := []*Credential{
		{ID: "oauth1", TenantID: "t1", Type: TypeOAuth, Status: StatusActive, Priority: PriorityOAuth},
		{ID: "reg1", TenantID: "t1", Type: TypeAPIKey, Status: StatusActive, Priority: 1},
		{ID: "emg1", TenantID: "t1", Type: TypeAPIKey, Status: StatusActive, Priority: 0, Emergency: true},
		{ID: "reg2", TenantID: "t1", Type: TypeAPIKey, Status: StatusActive, Priority: 2},
	}
	p, _, _, _ := newPoolHarness(t, creds, time.Now())

	ordered := p.GetPool("t1")
	require.Len(t, ordered, 4)
	require.Equal(t, "emg1", ordered[0].ID)
	require.Equal(t, "oauth1", ordered[len(ordered)-1].ID)
}

func TestSelectBestPrefersMoreRemainingCredits(t *testing.T) {
	creds := []*Credential{
		{ID: "low", TenantID: "t1", Status: StatusActive, QuotaLimit: int64p(100), QuotaUsed: 90},
		{ID: "high", TenantID: "t1", Status: StatusActive, QuotaLimit: int64p(100), QuotaUsed: 10},
	}
	p, _, _, _ := newPoolHarness(t, creds, time.Now())

	best, err := p.SelectBest(context.Background(), "t1", SelectOpts{ExcludeEmergency: true})
	require.NoError(t, err)
	require.Equal(t, "high", best.ID)
}

func TestSelectBestSkipsRecentlyErroredCredential(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	errAt := now.Add(-time.Minute)
	creds := []*Credential{
		{ID: "errored", TenantID: "t1", Status: StatusActive, QuotaLimit: int64p(100), QuotaUsed: 0, LastErrorAt: &errAt},
		{ID: "clean", TenantID: "t1", Status: StatusActive, QuotaLimit: int64p(100), QuotaUsed: 50},
	}
	p, _, _, _ := newPoolHarness(t, creds, now)

	best, err := p.SelectBest(context.Background(), "t1", SelectOpts{ExcludeEmergency: true})
	require.NoError(t, err)
	require.Equal(t, "clean", best.ID, "errored credential has more headroom but a recent error, so it sorts after clean")
}

func TestSelectBestExcludesNonActiveStatus(t *testing.T) {
	creds := []*Credential{
		{ID: "revoked", TenantID: "t1", Status: StatusRevoked, QuotaLimit: int64p(100)},
		{ID: "active", TenantID: "t1", Status: StatusActive, QuotaLimit: int64p(100)},
	}
	p, _, _, _ := newPoolHarness(t, creds, time.Now())

	best, err := p.SelectBest(context.Background(), "t1", SelectOpts{ExcludeEmergency: true})
	require.NoError(t, err)
	require.Equal(t, "active", best.ID)
}

func TestSelectBestFallsBackToEmergencyAndAlerts(t *testing.T) {
	creds := []*Credential{
		{ID: "exhausted", TenantID: "t1", Status: StatusExhausted},
		{ID: "emg", TenantID: "t1", Status: StatusExhausted, Emergency: true, QuotaLimit: int64p(1000), QuotaUsed: 10},
	}
	p, store, _, alerts := newPoolHarness(t, creds, time.Now())

	best, err := p.SelectBest(context.Background(), "t1", SelectOpts{ExcludeEmergency: false})
	require.NoError(t, err)
	require.NotNil(t, best)
	require.Equal(t, "emg", best.ID)
	require.Equal(t, StatusActive, best.Status)
	require.Len(t, alerts, 1)
	require.Contains(t, alerts[0], "emergency-activation|info")

	persisted, err := store.Get(context.Background(), "emg")
	require.NoError(t, err)
	require.Equal(t, StatusActive, persisted.Status)
}

func TestSelectBestCriticalAlertWhenNoEmergencyAvailable(t *testing.T) {
	creds := []*Credential{
		{ID: "exhausted", TenantID: "t1", Status: StatusExhausted},
	}
	p, _, _, alerts := newPoolHarness(t, creds, time.Now())

	best, err := p.SelectBest(context.Background(), "t1", SelectOpts{ExcludeEmergency: false})
	require.NoError(t, err)
	require.Nil(t, best)
	require.Len(t, alerts, 1)
	require.Contains(t, alerts[0], "emergency-activation|critical")
}

func TestSelectBestExcludedEmergencyReturnsNilWithoutFallback(t *testing.T) {
	creds := []*Credential{
		{ID: "emg", TenantID: "t1", Status: StatusActive, Emergency: true},
	}
	p, _, _, alerts := newPoolHarness(t, creds, time.Now())

	best, err := p.SelectBest(context.Background(), "t1", SelectOpts{ExcludeEmergency: true})
	require.NoError(t, err)
	require.Nil(t, best)
	require.Empty(t, alerts)
}

func TestUpdateUsageTransitionsToExhaustedOnQuotaError(t *testing.T) {
	creds := []*Credential{{ID: "c1", TenantID: "t1", Status: StatusActive, QuotaLimit: int64p(100)}}
	p, store, _, _ := newPoolHarness(t, creds, time.Now())
	ctx := context.Background()

	err := p.UpdateUsage(ctx, "t1", "c1", 10, false, errors.New("provider quota exceeded"))
	require.NoError(t, err)

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, StatusExhausted, got.Status)
	require.Equal(t, int64(10), got.QuotaUsed)
	require.NotEmpty(t, got.LastError)
}

func TestUpdateUsageTransitionsToRevokedOnAuthError(t *testing.T) {
	creds := []*Credential{{ID: "c1", TenantID: "t1", Status: StatusActive}}
	p, store, _, _ := newPoolHarness(t, creds, time.Now())
	ctx := context.Background()

	require.NoError(t, p.UpdateUsage(ctx, "t1", "c1", 1, false, errors.New("401 invalid api key")))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, StatusRevoked, got.Status)
}

func TestUpdateUsageSuccessLeavesStatusActive(t *testing.T) {
	creds := []*Credential{{ID: "c1", TenantID: "t1", Status: StatusActive}}
	p, store, _, _ := newPoolHarness(t, creds, time.Now())
	ctx := context.Background()

	require.NoError(t, p.UpdateUsage(ctx, "t1", "c1", 25, true, nil))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)
	require.Equal(t, int64(25), got.QuotaUsed)
	require.NotNil(t, got.LastUsedAt)
}

func TestResetQuotaReactivatesExhaustedCredential(t *testing.T) {
	creds := []*Credential{{ID: "c1", TenantID: "t1", Status: StatusExhausted, QuotaUsed: 90, LastError: "quota exceeded"}}
	p, store, _, _ := newPoolHarness(t, creds, time.Now())
	ctx := context.Background()

	require.NoError(t, p.ResetQuota(ctx, "t1", "c1"))

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)
	require.Equal(t, int64(0), got.QuotaUsed)
	require.Empty(t, got.LastError)
}

func TestRevokeMarksRevokedInCacheAndStore(t *testing.T) {
	creds := []*Credential{{ID: "c1", TenantID: "t1", Status: StatusActive}}
	p, store, _, _ := newPoolHarness(t, creds, time.Now())
	ctx := context.Background()

	require.NoError(t, p.Revoke(ctx, "t1", "c1"))

	best, err := p.SelectBest(ctx, "t1", SelectOpts{ExcludeEmergency: true})
	require.NoError(t, err)
	require.Nil(t, best)

	got, err := store.Get(ctx, "c1")
	require.NoError(t, err)
	require.Equal(t, StatusRevoked, got.Status)
}

func TestEmergencyActivateForcesCredentialActiveAndAlerts(t *testing.T) {
	creds := []*Credential{{ID: "emg1", TenantID: "t1", Status: StatusExhausted, Emergency: true, LastError: "quota exceeded"}}
	p, store, _, alerts := newPoolHarness(t, creds, time.Now())
	ctx := context.Background()

	require.NoError(t, p.EmergencyActivate(ctx, "t1", "emg1"))

	got, err := store.Get(ctx, "emg1")
	require.NoError(t, err)
	require.Equal(t, StatusActive, got.Status)
	require.Empty(t, got.LastError)

	require.Len(t, alerts, 1)
	require.Contains(t, alerts[0], "emergency-activation")
}

func TestEmergencyActivateUnknownCredentialErrors(t *testing.T) {
	p, _, _, _ := newPoolHarness(t, nil, time.Now())
	err := p.EmergencyActivate(context.Background(), "t1", "missing")
	require.Error(t, err)
}
