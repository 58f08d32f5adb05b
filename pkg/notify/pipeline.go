package notify

import (
	"context"
	"log/slog"
	"sync"

	"github.com/aperturecloud/llmgateway/pkg/alert"
	"github.com/aperturecloud/llmgateway/pkg/clock"
)

// Pipeline is the Notification Pipeline: throttles, gates on
// quiet/business hours, renders a template, and fans the alert out to
// every channel its severity maps to. It implements alert.Notifier.
type Pipeline struct {
	configs  ConfigStore
	throttle ThrottleStore
	channels map[string]Channel
	clk      clock.Clock

	// adminAgentID resolves the fingerprint's first component; bot
	// alerts carry a bot ID of their own, operational/system alerts
	// (budget, emergency activation) use the tenant ID as a stand-in
	// since there's a single admin agent scope per tenant in the MVP.
	adminAgentID func(a *alert.Alert) string
}

func New(configs ConfigStore, throttle ThrottleStore, clk clock.Clock, channels ...Channel) *Pipeline {
	byName := make(map[string]Channel, len(channels))
	for _, c := range channels {
		byName[c.Name()] = c
	}
	return &Pipeline{
		configs: configs, throttle: throttle, channels: byName, clk: clk,
		adminAgentID: func(a *alert.Alert) string { return a.TenantID },
	}
}

// Notify implements alert.Notifier.
func (p *Pipeline) Notify(ctx context.Context, a *alert.Alert) error {
	_, err := p.Dispatch(ctx, a)
	return err
}

// Dispatch runs the full pipeline and returns the per-channel outcome
// for inspection (used by the admin API and tests); Notify discards
// it to satisfy alert.Notifier's narrower signature.
func (p *Pipeline) Dispatch(ctx context.Context, a *alert.Alert) (Result, error) {
	if a.Severity == alert.SeverityInfo {
		slog.Info("notify: info alert", "alert_id", a.ID, "tenant_id", a.TenantID, "type", a.Type, "message", a.Message)
		return Result{}, nil
	}

	now := p.clk.Now()
	fingerprint := Fingerprint(p.adminAgentID(a), a)
	sent, err := p.throttle.WasSentRecently(ctx, fingerprint, now)
	if err != nil {
		slog.Error("notify: throttle check failed", "fingerprint", fingerprint, "error", err)
	} else if sent {
		return Result{Throttled: true}, nil
	}

	cfg, err := p.configs.Get(ctx, a.TenantID)
	if err != nil {
		cfg = DefaultConfig(a.TenantID)
	}

	isCritical := a.Severity == alert.SeverityCritical
	if !ShouldNotifyNow(cfg, now, isCritical) {
		return Result{}, nil
	}

	tmpl, err := RenderTemplate(templateNameFor(a.Severity), Data{Vars: map[string]string{
		"title":   string(a.Type),
		"tenant":  a.TenantID,
		"bot":     a.BotID,
		"message": a.Message,
		"time":    now.Format("2006-01-02 15:04:05 MST"),
	}})
	if err != nil {
		return Result{}, err
	}

	names := severityChannels[a.Severity]
	results := make(map[string]ChannelResult, len(names))
	var mu sync.Mutex
	var wg sync.WaitGroup
	anySuccess := false

	for _, name := range names {
		ch, ok := p.channels[name]
		if !ok {
			continue
		}
		wg.Add(1)
		go func(ch Channel, name string) {
			defer wg.Done()
			sendErr := ch.Send(ctx, a, tmpl, cfg)
			mu.Lock()
			defer mu.Unlock()
			if sendErr != nil {
				results[name] = ChannelResult{Success: false, Error: sendErr.Error()}
				slog.Error("notify: channel failed", "channel", name, "alert_id", a.ID, "error", sendErr)
			} else {
				results[name] = ChannelResult{Success: true}
				anySuccess = true
			}
		}(ch, name)
	}
	wg.Wait()

	if a.ChannelsSent == nil {
		a.ChannelsSent = make(map[string]bool)
	}
	for name, r := range results {
		a.ChannelsSent[name] = r.Success
	}

	if anySuccess {
		if err := p.throttle.RecordSent(ctx, fingerprint, now); err != nil {
			slog.Error("notify: record throttle failed", "fingerprint", fingerprint, "error", err)
		}
	}

	return Result{Channels: results}, nil
}

func templateNameFor(sev alert.Severity) string {
	if sev == alert.SeverityCritical {
		return "critical-alert"
	}
	return "warning-alert"
}
