// Package supervisor runs the periodic tenant fan-out that health-checks
// bots, drives auto-heal, and raises bot-lifecycle alerts.
package supervisor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/robfig/cron/v3"

	"github.com/aperturecloud/llmgateway/pkg/alert"
	"github.com/aperturecloud/llmgateway/pkg/bot"
	"github.com/aperturecloud/llmgateway/pkg/bothealth"
	"github.com/aperturecloud/llmgateway/pkg/clock"
	"github.com/aperturecloud/llmgateway/pkg/tenant"
)

// DefaultSchedule matches the documented default cadence.
const DefaultSchedule = "*/5 * * * *"

// Restarter performs the corrective action against a dead or unhealthy
// bot. The concrete implementation (process respawn, container restart,
// webhook kick) is an external collaborator; the loop only needs to know
// whether the attempt succeeded.
type Restarter interface {
	Restart(ctx context.Context, b *bot.Bot) error
}

// EventPublisher broadcasts a tenant's tick result onto the realtime
// bus, for dashboards watching bot health without polling.
type EventPublisher interface {
	PublishHealth(tenantID string, result TickResult)
}

// LoggingRestarter is the stand-in production Restarter: it has no
// process supervisor or container runtime to call into, so it only
// records the attempt. A real deployment replaces this with whatever
// actually respawns the bot; wiring that is outside this loop's scope.
type LoggingRestarter struct{}

func (LoggingRestarter) Restart(_ context.Context, b *bot.Bot) error {
	slog.Info("supervisor: restart requested (no-op restarter)", "bot_id", b.ID)
	return nil
}

// TickResult is one tenant's outcome from a single supervisor tick,
// retained in-process for status inspection.
type TickResult struct {
	TenantID   string
	Healthy    int
	Degraded   int
	Unhealthy  int
	Dead       int
	Actions    []string
	DurationMs int64
	Error      string
}

// Supervisor is the Supervisor Loop: a single non-reentrant cron task
// that fans out across tenants, health-checks their bots, and applies
// the auto-heal policy.
type Supervisor struct {
	tenants   tenant.Store
	bots      bot.Store
	checker   *bothealth.Checker
	healthLog bothealth.Store
	alerts    *alert.Engine
	restarter Restarter
	events    EventPublisher
	clk       clock.Clock

	cron    *cron.Cron
	running int32

	mu              sync.Mutex
	results         map[string]TickResult
	restartAttempts map[string]int
}

func New(tenants tenant.Store, bots bot.Store, checker *bothealth.Checker, healthLog bothealth.Store,
	alerts *alert.Engine, restarter Restarter, clk clock.Clock) *Supervisor {
	return &Supervisor{
		tenants: tenants, bots: bots, checker: checker, healthLog: healthLog,
		alerts: alerts, restarter: restarter, clk: clk,
		results:         make(map[string]TickResult),
		restartAttempts: make(map[string]int),
	}
}

// SetEvents assigns the realtime event publisher after construction.
func (s *Supervisor) SetEvents(p EventPublisher) {
	s.events = p
}

// Start schedules RunOnce on the given cron expression and begins
// running it in the background.
func (s *Supervisor) Start(schedule string) error {
	if schedule == "" {
		schedule = DefaultSchedule
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		s.RunOnce(context.Background())
	})
	if err != nil {
		return fmt.Errorf("supervisor: schedule %q: %w", schedule, err)
	}
	s.cron.Start()
	return nil
}

// Stop halts the cron scheduler. In-flight ticks are allowed to finish.
func (s *Supervisor) Stop() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

// Results returns the most recent tick outcome per tenant.
func (s *Supervisor) Results() map[string]TickResult {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]TickResult, len(s.results))
	for k, v := range s.results {
		out[k] = v
	}
	return out
}

// RunOnce executes a single tick: non-overlapping with any tick already
// in progress (a concurrent call is skipped and logged), fanning out
// across every ACTIVE, health-check-enabled AdminAgent whose tenant is
// ACTIVE and not deleted.
func (s *Supervisor) RunOnce(ctx context.Context) {
	if !atomic.CompareAndSwapInt32(&s.running, 0, 1) {
		slog.Warn("supervisor: tick already running, skipping")
		return
	}
	defer atomic.StoreInt32(&s.running, 0)

	agents, err := s.bots.ListAdminAgents(ctx)
	if err != nil {
		slog.Error("supervisor: list admin agents", "error", err)
		return
	}

	for _, a := range agents {
		if a.Status != bot.AdminAgentActive || !a.HealthCheckEnabled {
			continue
		}
		t, err := s.tenants.Get(ctx, a.TenantID)
		if err != nil || !t.IsActive() {
			continue
		}
		result := s.runTenantCycle(ctx, t, a)
		s.mu.Lock()
		s.results[a.TenantID] = result
		s.mu.Unlock()
		if s.events != nil {
			s.events.PublishHealth(a.TenantID, result)
		}
	}
}

func (s *Supervisor) runTenantCycle(ctx context.Context, t *tenant.Tenant, a *bot.AdminAgent) TickResult {
	start := s.clk.Now()
	result := TickResult{TenantID: t.ID}

	bots, err := s.bots.ListByTenant(ctx, t.ID)
	if err != nil {
		result.Error = err.Error()
		result.DurationMs = s.clk.Now().Sub(start).Milliseconds()
		return result
	}

	for _, b := range bots {
		r := s.checker.CheckBotHealth(ctx, b.ID)
		prior, _ := s.healthLog.LatestForBot(ctx, b.ID)

		entry := &bothealth.LogEntry{
			BotID: b.ID, AdminAgentID: a.ID, Classification: r.Classification,
			LatencyMs: r.LatencyMs, Error: r.Error, CheckedAt: s.clk.Now(),
		}

		switch r.Classification {
		case bothealth.Healthy:
			result.Healthy++
			if prior != nil && (prior.Classification == bothealth.Dead || prior.Classification == bothealth.Unhealthy) {
				s.raiseAlert(ctx, t.ID, b.ID, alert.TypeBotRecovered, alert.SeverityInfo, fmt.Sprintf("bot %s recovered", b.ID))
			}
			s.mu.Lock()
			delete(s.restartAttempts, b.ID)
			s.mu.Unlock()
		case bothealth.Degraded:
			result.Degraded++
			if prior == nil || prior.Classification != bothealth.Degraded {
				s.raiseAlert(ctx, t.ID, b.ID, alert.TypeBotSlow, alert.SeverityWarning, fmt.Sprintf("bot %s is degraded (latency %dms)", b.ID, r.LatencyMs))
			}
		case bothealth.Unhealthy:
			result.Unhealthy++
			s.autoHeal(ctx, t.ID, b, a, entry, &result)
		case bothealth.Dead:
			result.Dead++
			if r.Error != "bot-not-found" {
				s.autoHeal(ctx, t.ID, b, a, entry, &result)
			}
		}

		if err := s.healthLog.Append(ctx, entry); err != nil {
			slog.Error("supervisor: append health log", "bot_id", b.ID, "error", err)
		}
	}

	result.DurationMs = s.clk.Now().Sub(start).Milliseconds()
	return result
}

func (s *Supervisor) autoHeal(ctx context.Context, tenantID string, b *bot.Bot, a *bot.AdminAgent, entry *bothealth.LogEntry, result *TickResult) {
	if !a.AutoRestartEnabled || s.restarter == nil {
		return
	}

	s.mu.Lock()
	attempts := s.restartAttempts[b.ID]
	if attempts >= a.MaxRestartAttempts {
		s.mu.Unlock()
		s.raiseAlert(ctx, tenantID, b.ID, alert.TypeBotDown, alert.SeverityCritical, fmt.Sprintf("bot %s exceeded max restart attempts (%d)", b.ID, a.MaxRestartAttempts))
		return
	}
	s.restartAttempts[b.ID] = attempts + 1
	s.mu.Unlock()

	entry.Action = "restart"
	result.Actions = append(result.Actions, fmt.Sprintf("restart:%s", b.ID))

	// Whether the restart call itself errors or merely completes, the bot
	// is still classified DEAD/UNHEALTHY this tick — recovery is only
	// confirmed by a later tick's probe succeeding, which raises
	// BOT_RECOVERED from the Healthy-transition path above.
	if err := s.restarter.Restart(ctx, b); err != nil {
		entry.ActionResult = "failed"
	} else {
		entry.ActionResult = "attempted"
	}
	s.raiseAlert(ctx, tenantID, b.ID, alert.TypeBotDown, alert.SeverityCritical, fmt.Sprintf("bot %s is down (restart %s)", b.ID, entry.ActionResult))
}

func (s *Supervisor) raiseAlert(ctx context.Context, tenantID, botID string, t alert.Type, sev alert.Severity, message string) {
	if s.alerts == nil {
		return
	}
	if err := s.alerts.RaiseAdmin(ctx, tenantID, botID, t, sev, message); err != nil {
		slog.Error("supervisor: raise alert", "type", t, "bot_id", botID, "error", err)
	}
}
