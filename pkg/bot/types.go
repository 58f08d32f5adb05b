// Package bot models a tenant's bots and the per-tenant AdminAgent that
// carries health-check configuration for the Supervisor Loop.
package bot

import "time"

// AdminAgentStatus is the lifecycle state of an AdminAgent.
type AdminAgentStatus string

const (
	AdminAgentActive   AdminAgentStatus = "ACTIVE"
	AdminAgentPaused   AdminAgentStatus = "PAUSED"
	AdminAgentDisabled AdminAgentStatus = "DISABLED"
)

// Bot is a single tenant-owned worker the gateway supervises.
type Bot struct {
	ID        string            `json:"id"`
	TenantID  string            `json:"tenant_id"`
	Name      string            `json:"name"`
	Enabled   bool              `json:"enabled"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// AdminAgent is the per-tenant supervision configuration: one per tenant,
// consulted by the Supervisor Loop to decide which bots to health-check
// and how aggressively to auto-heal them.
type AdminAgent struct {
	ID       string           `json:"id"`
	TenantID string           `json:"tenant_id"`
	Status   AdminAgentStatus `json:"status"`

	HealthCheckEnabled  bool          `json:"health_check_enabled"`
	HealthCheckInterval time.Duration `json:"health_check_interval"`
	HealthCheckTimeout  time.Duration `json:"health_check_timeout"`
	MaxRestartAttempts  int           `json:"max_restart_attempts"`

	LatencyAlertThresholdMs int64   `json:"latency_alert_threshold_ms"`
	ErrorRateAlertThreshold float64 `json:"error_rate_alert_threshold"`

	AutoRestartEnabled  bool `json:"auto_restart_enabled"`
	AutoRollbackEnabled bool `json:"auto_rollback_enabled"`

	CreatedAt time.Time `json:"created_at"`
}

// DefaultHealthCheckInterval matches the Supervisor Loop's documented
// default cron cadence.
const DefaultHealthCheckInterval = 5 * time.Minute
