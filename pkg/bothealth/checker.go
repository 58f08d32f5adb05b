package bothealth

import (
	"context"
	"time"

	"github.com/aperturecloud/llmgateway/pkg/bot"
	"github.com/aperturecloud/llmgateway/pkg/clock"
)

// Prober is the liveness check run against a bot. The MVP implementation
// is a minimal record-store round-trip; a real deployment replaces it
// with a call against the bot's own channel (webhook ping, WS heartbeat,
// etc.) without touching the classification contract below.
type Prober interface {
	Probe(ctx context.Context, b *bot.Bot) error
}

// StoreRoundTripProber is the MVP probe: a read of the bot's own record,
// proving the store is reachable and the bot row still exists.
type StoreRoundTripProber struct {
	Bots bot.Store
}

func (p *StoreRoundTripProber) Probe(ctx context.Context, b *bot.Bot) error {
	_, err := p.Bots.Get(ctx, b.ID)
	return err
}

// Checker classifies a bot's liveness on demand.
type Checker struct {
	bots   bot.Store
	prober Prober
	clk    clock.Clock
}

func New(bots bot.Store, prober Prober, clk clock.Clock) *Checker {
	return &Checker{bots: bots, prober: prober, clk: clk}
}

// CheckBotHealth runs the classification contract: missing or disabled
// bots are DEAD without a probe; a probe error is UNHEALTHY; elapsed time
// past the degraded threshold is DEGRADED; otherwise HEALTHY. A latency
// measurement is captured on every path, including the ones that never
// reach the probe.
func (c *Checker) CheckBotHealth(ctx context.Context, botID string) *Result {
	start := c.clk.Now()

	b, err := c.bots.Get(ctx, botID)
	if err != nil {
		return &Result{BotID: botID, Classification: Dead, Error: "bot-not-found", LatencyMs: elapsedMs(c.clk, start)}
	}
	if !b.Enabled {
		return &Result{BotID: botID, Classification: Dead, Error: "bot-disabled", LatencyMs: elapsedMs(c.clk, start)}
	}

	probeErr := c.prober.Probe(ctx, b)
	elapsed := elapsedMs(c.clk, start)
	if probeErr != nil {
		return &Result{BotID: botID, Classification: Unhealthy, Error: probeErr.Error(), LatencyMs: elapsed}
	}
	if time.Duration(elapsed)*time.Millisecond > degradedLatency {
		return &Result{BotID: botID, Classification: Degraded, LatencyMs: elapsed}
	}
	return &Result{BotID: botID, Classification: Healthy, LatencyMs: elapsed}
}

func elapsedMs(clk clock.Clock, start time.Time) int64 {
	return clk.Now().Sub(start).Milliseconds()
}
