// Package config loads the gateway's runtime configuration from
// environment variables, applying the defaults documented for each
// knob when the variable is unset.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config holds every tunable the gateway's subsystems read at
// startup: server basics, rate-limit defaults, breaker thresholds,
// the supervisor's schedule, notification gating, and alert
// thresholds.
type Config struct {
	Port        string
	LogLevel    string
	DatabaseURL string
	LiteMode    bool // use the embedded SQLite store instead of Postgres
	RedisURL    string

	TenantRequestsPerMinute   int64
	TenantTokensPerMinute     int64
	TenantRequestsPerDay      int64
	AgentRequestsPerMinute    int64
	AgentTokensPerMinute      int64
	ProviderMaxConcurrency    int64
	ProviderRequestsPerMinute int64

	BreakerFailureThreshold int
	BreakerSuccessThreshold int
	BreakerOpenTimeout      time.Duration
	BreakerHalfOpenTimeout  time.Duration

	SupervisorSchedule string
	SupervisorTimezone string

	NotificationThrottleWindow time.Duration
	NotificationExceptCritical bool

	AlertThresholds []float64

	DispatchTimeout time.Duration

	AdminJWTSecret      string
	AdminRateLimitRPS   float64
	AdminRateLimitBurst int
}

// Load reads every knob from its environment variable, falling back
// to the documented default when unset.
func Load() *Config {
	return &Config{
		Port:        getString("PORT", "8080"),
		LogLevel:    getString("LOG_LEVEL", "INFO"),
		DatabaseURL: getString("DATABASE_URL", "postgres://gateway@localhost:5432/gateway?sslmode=disable"),
		LiteMode:    getBool("LITE_MODE", false),
		RedisURL:    getString("REDIS_URL", "redis://localhost:6379/0"),

		TenantRequestsPerMinute:   getInt64("LLM_TENANT_REQUESTS_PER_MINUTE", 100),
		TenantTokensPerMinute:     getInt64("LLM_TENANT_TOKENS_PER_MINUTE", 100_000),
		TenantRequestsPerDay:      getInt64("LLM_TENANT_REQUESTS_PER_DAY", 5_000),
		AgentRequestsPerMinute:    getInt64("LLM_AGENT_REQUESTS_PER_MINUTE", 20),
		AgentTokensPerMinute:      getInt64("LLM_AGENT_TOKENS_PER_MINUTE", 50_000),
		ProviderMaxConcurrency:    getInt64("LLM_PROVIDER_MAX_CONCURRENCY", 5),
		ProviderRequestsPerMinute: getInt64("LLM_PROVIDER_REQUESTS_PER_MINUTE", 60),

		BreakerFailureThreshold: int(getInt64("BREAKER_FAILURE_THRESHOLD", 5)),
		BreakerSuccessThreshold: int(getInt64("BREAKER_SUCCESS_THRESHOLD", 3)),
		BreakerOpenTimeout:      getDurationSeconds("BREAKER_OPEN_TIMEOUT_SECONDS", 60),
		BreakerHalfOpenTimeout:  getDurationSeconds("BREAKER_HALF_OPEN_TIMEOUT_SECONDS", 30),

		SupervisorSchedule: getString("SUPERVISOR_SCHEDULE", "*/5 * * * *"),
		SupervisorTimezone: getString("SUPERVISOR_TIMEZONE", "UTC"),

		NotificationThrottleWindow: getDurationSeconds("NOTIFICATION_THROTTLE_WINDOW_SECONDS", 300),
		NotificationExceptCritical: getBool("NOTIFICATION_EXCEPT_CRITICAL", true),

		AlertThresholds: getFloatList("ALERT_THRESHOLDS", []float64{0.20, 0.10, 0.05, 0.01}),

		DispatchTimeout: getDurationSeconds("DISPATCH_TIMEOUT_SECONDS", 30),

		AdminJWTSecret:      getString("ADMIN_JWT_SECRET", ""),
		AdminRateLimitRPS:   getFloat("ADMIN_RATE_LIMIT_RPS", 5),
		AdminRateLimitBurst: int(getInt64("ADMIN_RATE_LIMIT_BURST", 10)),
	}
}

func getFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return def
	}
	return f
}

func getString(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getBool(key string, def bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func getInt64(key string, def int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return def
	}
	return n
}

func getDurationSeconds(key string, defSeconds int64) time.Duration {
	return time.Duration(getInt64(key, defSeconds)) * time.Second
}

func getFloatList(key string, def []float64) []float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	var out []float64
	start := 0
	for i := 0; i <= len(v); i++ {
		if i == len(v) || v[i] == ',' {
			part := v[start:i]
			start = i + 1
			if part == "" {
				continue
			}
			f, err := strconv.ParseFloat(part, 64)
			if err != nil {
				return def
			}
			out = append(out, f)
		}
	}
	if len(out) == 0 {
		return def
	}
	return out
}
