package usage

import (
	"context"
	"log/slog"

	"github.com/aperturecloud/llmgateway/pkg/clock"
	"github.com/aperturecloud/llmgateway/pkg/provider"
)

// AlertChecker is invoked asynchronously after every usage write. Its
// concrete implementation (pkg/alert.Engine) scans the tenant's budget
// thresholds and fires notifications; failures here are logged and
// never surfaced to the completion caller.
type AlertChecker interface {
	CheckAndCreateAlerts(ctx context.Context, tenantID string) error
}

// Tracker is the Usage Tracker: computes cost from the provider's
// rates, appends the record, and kicks off a background threshold
// check.
type Tracker struct {
	store     Store
	providers provider.Store
	alerts    AlertChecker
	clk       clock.Clock
}

func New(store Store, providers provider.Store, alerts AlertChecker, clk clock.Clock) *Tracker {
	return &Tracker{store: store, providers: providers, alerts: alerts, clk: clk}
}

// WriteUsageInput carries a completion call's outcome into WriteUsage.
type WriteUsageInput struct {
	TenantID     string
	AgentID      string
	ProviderID   string
	Model        string
	InputTokens  int64
	OutputTokens int64
	Success      bool
	ErrorMessage string
	LatencyMs    int64
}

// WriteUsage prices the call against the provider's cost rates,
// appends the record, and schedules an async alert check for the
// tenant. The alert check runs in its own goroutine: a slow or failing
// alert scan must never add latency to, or fail, the completion call
// that triggered it.
func (t *Tracker) WriteUsage(ctx context.Context, in WriteUsageInput) (*Record, error) {
	p, err := t.providers.Get(ctx, in.ProviderID)
	if err != nil {
		return nil, err
	}

	r := &Record{
		TenantID:     in.TenantID,
		AgentID:      in.AgentID,
		ProviderID:   in.ProviderID,
		Model:        in.Model,
		InputTokens:  in.InputTokens,
		OutputTokens: in.OutputTokens,
		Cost:         p.Cost(in.InputTokens, in.OutputTokens),
		Success:      in.Success,
		ErrorMessage: in.ErrorMessage,
		LatencyMs:    in.LatencyMs,
		Timestamp:    t.clk.Now(),
	}
	if err := t.store.Append(ctx, r); err != nil {
		return nil, err
	}

	if t.alerts != nil {
		go func() {
			if err := t.alerts.CheckAndCreateAlerts(context.Background(), in.TenantID); err != nil {
				slog.Error("usage: alert check failed", "tenant_id", in.TenantID, "error", err)
			}
		}()
	}

	return r, nil
}
