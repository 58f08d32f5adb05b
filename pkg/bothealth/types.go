// Package bothealth classifies a bot's liveness on demand and keeps an
// append-only log of the classifications the Supervisor Loop observes.
package bothealth

import "time"

// Classification is the outcome of a single health probe.
type Classification string

const (
	Healthy   Classification = "HEALTHY"
	Degraded  Classification = "DEGRADED"
	Unhealthy Classification = "UNHEALTHY"
	Dead      Classification = "DEAD"
)

// degradedLatency is the elapsed-time threshold past which an otherwise
// successful probe is downgraded to DEGRADED rather than HEALTHY.
const degradedLatency = 5000 * time.Millisecond

// Result is the outcome of one checkBotHealth call.
type Result struct {
	BotID          string
	Classification Classification
	LatencyMs      int64
	Error          string
}

// LogEntry is an append-only record of one health check, with whatever
// corrective action the Supervisor Loop took attached.
type LogEntry struct {
	ID             string         `json:"id"`
	BotID          string         `json:"bot_id"`
	AdminAgentID   string         `json:"admin_agent_id"`
	Classification Classification `json:"classification"`
	LatencyMs      int64          `json:"latency_ms"`
	Error          string         `json:"error,omitempty"`
	Action         string         `json:"action,omitempty"`
	ActionResult   string         `json:"action_result,omitempty"`
	CheckedAt      time.Time      `json:"checked_at"`
}
