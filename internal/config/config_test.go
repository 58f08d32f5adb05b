package config_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/aperturecloud/llmgateway/internal/config"
)

// TestLoad_Defaults verifies that Load() returns the documented
// defaults when no environment variables are set.
func TestLoad_Defaults(t *testing.T) {
	for _, key := range []string{
		"PORT", "LOG_LEVEL", "DATABASE_URL", "LITE_MODE", "REDIS_URL",
		"LLM_TENANT_REQUESTS_PER_MINUTE", "LLM_PROVIDER_MAX_CONCURRENCY",
		"BREAKER_FAILURE_THRESHOLD", "SUPERVISOR_SCHEDULE",
		"NOTIFICATION_THROTTLE_WINDOW_SECONDS", "ALERT_THRESHOLDS",
	} {
		t.Setenv(key, "")
	}

	cfg := config.Load()

	assert.Equal(t, "8080", cfg.Port)
	assert.Equal(t, "INFO", cfg.LogLevel)
	assert.Contains(t, cfg.DatabaseURL, "localhost")
	assert.False(t, cfg.LiteMode)

	assert.EqualValues(t, 100, cfg.TenantRequestsPerMinute)
	assert.EqualValues(t, 100_000, cfg.TenantTokensPerMinute)
	assert.EqualValues(t, 5_000, cfg.TenantRequestsPerDay)
	assert.EqualValues(t, 20, cfg.AgentRequestsPerMinute)
	assert.EqualValues(t, 50_000, cfg.AgentTokensPerMinute)
	assert.EqualValues(t, 5, cfg.ProviderMaxConcurrency)
	assert.EqualValues(t, 60, cfg.ProviderRequestsPerMinute)

	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, 3, cfg.BreakerSuccessThreshold)
	assert.Equal(t, 60*time.Second, cfg.BreakerOpenTimeout)
	assert.Equal(t, 30*time.Second, cfg.BreakerHalfOpenTimeout)

	assert.Equal(t, "*/5 * * * *", cfg.SupervisorSchedule)
	assert.Equal(t, "UTC", cfg.SupervisorTimezone)

	assert.Equal(t, 5*time.Minute, cfg.NotificationThrottleWindow)
	assert.True(t, cfg.NotificationExceptCritical)

	assert.Equal(t, []float64{0.20, 0.10, 0.05, 0.01}, cfg.AlertThresholds)
	assert.Equal(t, 30*time.Second, cfg.DispatchTimeout)
}

// TestLoad_Overrides verifies that environment variables correctly
// override defaults.
func TestLoad_Overrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "DEBUG")
	t.Setenv("DATABASE_URL", "postgres://production:5432/db")
	t.Setenv("LITE_MODE", "true")
	t.Setenv("LLM_TENANT_REQUESTS_PER_MINUTE", "250")
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "10")
	t.Setenv("SUPERVISOR_SCHEDULE", "*/10 * * * *")
	t.Setenv("ALERT_THRESHOLDS", "0.5,0.25,0.1")

	cfg := config.Load()

	assert.Equal(t, "9090", cfg.Port)
	assert.Equal(t, "DEBUG", cfg.LogLevel)
	assert.Equal(t, "postgres://production:5432/db", cfg.DatabaseURL)
	assert.True(t, cfg.LiteMode)
	assert.EqualValues(t, 250, cfg.TenantRequestsPerMinute)
	assert.Equal(t, 10, cfg.BreakerFailureThreshold)
	assert.Equal(t, "*/10 * * * *", cfg.SupervisorSchedule)
	assert.Equal(t, []float64{0.5, 0.25, 0.1}, cfg.AlertThresholds)
}

func TestLoad_MalformedOverrideFallsBackToDefault(t *testing.T) {
	t.Setenv("BREAKER_FAILURE_THRESHOLD", "not-a-number")
	t.Setenv("ALERT_THRESHOLDS", "not,valid,floats")

	cfg := config.Load()

	assert.Equal(t, 5, cfg.BreakerFailureThreshold)
	assert.Equal(t, []float64{0.20, 0.10, 0.05, 0.01}, cfg.AlertThresholds)
}
