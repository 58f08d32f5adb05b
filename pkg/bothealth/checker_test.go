package bothealth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aperturecloud/llmgateway/pkg/bot"
	"github.com/aperturecloud/llmgateway/pkg/clock"
)

type fakeProber struct {
	advance time.Duration
	err     error
	clk     *clock.Fake
}

func (p *fakeProber) Probe(_ context.Context, _ *bot.Bot) error {
	if p.clk != nil && p.advance > 0 {
		p.clk.Advance(p.advance)
	}
	return p.err
}

func TestCheckBotHealthMissingBotIsDead(t *testing.T) {
	bots := bot.NewMemoryStore()
	clk := clock.NewFake(time.Now())
	c := New(bots, &fakeProber{}, clk)

	r := c.CheckBotHealth(context.Background(), "ghost")
	require.Equal(t, Dead, r.Classification)
	require.Equal(t, "bot-not-found", r.Error)
}

func TestCheckBotHealthDisabledBotIsDead(t *testing.T) {
	bots := bot.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, bots.Upsert(ctx, &bot.Bot{ID: "b1", TenantID: "t1", Enabled: false}))
	clk := clock.NewFake(time.Now())
	c := New(bots, &fakeProber{}, clk)

	r := c.CheckBotHealth(ctx, "b1")
	require.Equal(t, Dead, r.Classification)
	require.Equal(t, "bot-disabled", r.Error)
}

func TestCheckBotHealthProbeErrorIsUnhealthy(t *testing.T) {
	bots := bot.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, bots.Upsert(ctx, &bot.Bot{ID: "b1", TenantID: "t1", Enabled: true}))
	clk := clock.NewFake(time.Now())
	c := New(bots, &fakeProber{err: errors.New("channel unreachable")}, clk)

	r := c.CheckBotHealth(ctx, "b1")
	require.Equal(t, Unhealthy, r.Classification)
	require.Equal(t, "channel unreachable", r.Error)
}

func TestCheckBotHealthSlowProbeIsDegraded(t *testing.T) {
	bots := bot.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, bots.Upsert(ctx, &bot.Bot{ID: "b1", TenantID: "t1", Enabled: true}))
	clk := clock.NewFake(time.Now())
	c := New(bots, &fakeProber{advance: 6 * time.Second, clk: clk}, clk)

	r := c.CheckBotHealth(ctx, "b1")
	require.Equal(t, Degraded, r.Classification)
	require.Equal(t, int64(6000), r.LatencyMs)
}

func TestCheckBotHealthFastProbeIsHealthy(t *testing.T) {
	bots := bot.NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, bots.Upsert(ctx, &bot.Bot{ID: "b1", TenantID: "t1", Enabled: true}))
	clk := clock.NewFake(time.Now())
	c := New(bots, &fakeProber{advance: 100 * time.Millisecond, clk: clk}, clk)

	r := c.CheckBotHealth(ctx, "b1")
	require.Equal(t, Healthy, r.Classification)
}
