package httpapi

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/aperturecloud/llmgateway/internal/config"
	"github.com/aperturecloud/llmgateway/internal/platform"
)

// Server wires the gateway's HTTP surface: the tenant-facing completion
// endpoint, the JWT-gated admin control API, and an unauthenticated
// health probe.
type Server struct {
	platform *platform.Platform
	tokens   *TokenManager
}

// New builds the handler tree. cfg.AdminJWTSecret gates every /admin
// route; an empty secret is only acceptable in lite-mode development,
// and New logs loudly rather than silently accepting unauthenticated
// admin access in any other configuration.
func New(p *platform.Platform, cfg *config.Config) http.Handler {
	if cfg.AdminJWTSecret == "" && !cfg.LiteMode {
		slog.Warn("httpapi: ADMIN_JWT_SECRET not set, falling back to an insecure default outside lite mode")
	}
	s := &Server{platform: p, tokens: NewTokenManager(adminSecret(cfg))}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("POST /v1/completions", s.handleCompletion)

	admin := http.NewServeMux()
	admin.HandleFunc("POST /admin/providers/{id}/reset", func(w http.ResponseWriter, r *http.Request) {
		s.handleCircuitReset(w, r, r.PathValue("id"))
	})
	admin.HandleFunc("POST /admin/tenants/{id}/rate-limit/reset", func(w http.ResponseWriter, r *http.Request) {
		s.handleTenantRateLimitReset(w, r, r.PathValue("id"))
	})
	admin.HandleFunc("GET /admin/tenants/{id}/alerts", func(w http.ResponseWriter, r *http.Request) {
		s.handleAlertsList(w, r, r.PathValue("id"))
	})
	admin.HandleFunc("POST /admin/alerts/acknowledge", s.handleAlertBulkAcknowledge)
	admin.HandleFunc("POST /admin/alerts/{id}/acknowledge", func(w http.ResponseWriter, r *http.Request) {
		s.handleAlertAcknowledge(w, r, r.PathValue("id"))
	})
	admin.HandleFunc("POST /admin/tenants/{tid}/credentials/{cid}/revoke", func(w http.ResponseWriter, r *http.Request) {
		s.handleCredentialRevoke(w, r, r.PathValue("tid"), r.PathValue("cid"))
	})
	admin.HandleFunc("POST /admin/tenants/{tid}/credentials/{cid}/emergency-activate", func(w http.ResponseWriter, r *http.Request) {
		s.handleCredentialEmergencyActivate(w, r, r.PathValue("tid"), r.PathValue("cid"))
	})
	admin.HandleFunc("GET /admin/providers", s.handleProviderList)
	admin.HandleFunc("GET /admin/providers/{id}/history", func(w http.ResponseWriter, r *http.Request) {
		s.handleProviderHistory(w, r, r.PathValue("id"))
	})
	admin.HandleFunc("POST /admin/supervisor/start", s.handleSupervisorStart)
	admin.HandleFunc("POST /admin/supervisor/stop", s.handleSupervisorStop)
	admin.HandleFunc("POST /admin/supervisor/trigger", s.handleSupervisorTrigger)

	ipLimiter := NewIPRateLimiter(cfg.AdminRateLimitRPS, cfg.AdminRateLimitBurst)
	mux.Handle("/admin/", ipLimiter.Middleware(AuthMiddleware(s.tokens)(admin)))

	return requestLogger(mux)
}

// requestLogger logs each request's method, path, status, and latency
// at debug level; handlers never need to log routing themselves.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		logRequest(r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func logRequest(method, path string, status int, elapsed time.Duration) {
	slog.Debug("httpapi: request", "method", method, "path", path, "status", status, "elapsed_ms", elapsed.Milliseconds())
}

func adminSecret(cfg *config.Config) []byte {
	if cfg.AdminJWTSecret != "" {
		return []byte(cfg.AdminJWTSecret)
	}
	return []byte("lite-mode-insecure-admin-secret")
}
