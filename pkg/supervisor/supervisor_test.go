package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aperturecloud/llmgateway/pkg/alert"
	"github.com/aperturecloud/llmgateway/pkg/bot"
	"github.com/aperturecloud/llmgateway/pkg/bothealth"
	"github.com/aperturecloud/llmgateway/pkg/clock"
	"github.com/aperturecloud/llmgateway/pkg/tenant"
)

// scriptedProber returns queued errors in order, nil once exhausted.
type scriptedProber struct {
	errs []error
	i    int
}

func (p *scriptedProber) Probe(_ context.Context, _ *bot.Bot) error {
	if p.i >= len(p.errs) {
		return nil
	}
	err := p.errs[p.i]
	p.i++
	return err
}

type scriptedRestarter struct {
	calls int
	err   error
}

func (r *scriptedRestarter) Restart(_ context.Context, _ *bot.Bot) error {
	r.calls++
	return r.err
}

func newSupervisorHarness(t *testing.T, prober bothealth.Prober, restarter Restarter) (*Supervisor, *bot.MemoryStore, *alert.MemoryStore, *clock.Fake) {
	t.Helper()
	ts := tenant.NewMemoryStore()
	bots := bot.NewMemoryStore()
	healthLog := bothealth.NewMemoryStore()
	alertStore := alert.NewMemoryStore()
	clk := clock.NewFake(time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC))

	ctx := context.Background()
	require.NoError(t, ts.Upsert(ctx, &tenant.Tenant{ID: "t1", Status: tenant.StatusActive}))
	require.NoError(t, bots.Upsert(ctx, &bot.Bot{ID: "b1", TenantID: "t1", Name: "b1", Enabled: true}))
	require.NoError(t, bots.UpsertAdminAgent(ctx, &bot.AdminAgent{
		ID: "a1", TenantID: "t1", Status: bot.AdminAgentActive, HealthCheckEnabled: true,
		AutoRestartEnabled: true, MaxRestartAttempts: 2,
	}))

	checker := bothealth.New(bots, prober, clk)
	engine := alert.New(alertStore, ts, &zeroCost{}, nil, clk)

	s := New(ts, bots, checker, healthLog, engine, restarter, clk)
	return s, bots, alertStore, clk
}

type zeroCost struct{}

func (zeroCost) SumCostSince(context.Context, string, time.Time) (decimal.Decimal, error) {
	return decimal.Zero, nil
}

func TestSupervisorHealsDeadBotAcrossTwoTicks(t *testing.T) {
	prober := &scriptedProber{errs: []error{errors.New("down")}}
	restarter := &scriptedRestarter{}
	s, _, alertStore, _ := newSupervisorHarness(t, prober, restarter)

	ctx := context.Background()
	s.RunOnce(ctx)

	results := s.Results()
	require.Equal(t, 1, results["t1"].Unhealthy)
	require.Contains(t, results["t1"].Actions, "restart:b1")

	alerts, err := alertStore.ListByTenant(ctx, "t1", true)
	require.NoError(t, err)
	require.True(t, hasType(alerts, alert.TypeBotDown))

	s.RunOnce(ctx)
	results = s.Results()
	require.Equal(t, 1, results["t1"].Healthy)

	alerts, err = alertStore.ListByTenant(ctx, "t1", true)
	require.NoError(t, err)
	require.True(t, hasType(alerts, alert.TypeBotRecovered))
	require.Equal(t, 1, restarter.calls)
}

func TestSupervisorSkipsOverlappingTick(t *testing.T) {
	s, _, _, _ := newSupervisorHarness(t, &scriptedProber{}, &scriptedRestarter{})
	s.running = 1
	s.RunOnce(context.Background())
	require.Empty(t, s.Results())
}

func TestSupervisorBoundsRestartAttempts(t *testing.T) {
	prober := &scriptedProber{errs: []error{errors.New("down"), errors.New("down"), errors.New("down")}}
	restarter := &scriptedRestarter{}
	s, _, _, _ := newSupervisorHarness(t, prober, restarter)

	ctx := context.Background()
	s.RunOnce(ctx)
	s.RunOnce(ctx)
	s.RunOnce(ctx)

	require.Equal(t, 2, restarter.calls, "restart must stop once maxRestartAttempts is reached")
}

func hasType(alerts []*alert.Alert, t alert.Type) bool {
	for _, a := range alerts {
		if a.Type == t {
			return true
		}
	}
	return false
}
