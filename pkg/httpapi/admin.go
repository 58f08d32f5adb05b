package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aperturecloud/llmgateway/pkg/alert"
	"github.com/aperturecloud/llmgateway/pkg/provider"
)

// handleCircuitReset serves POST /admin/providers/{id}/reset: forces a
// provider's breaker back to CLOSED.
func (s *Server) handleCircuitReset(w http.ResponseWriter, r *http.Request, providerID string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	s.platform.Breaker.Reset(r.Context(), providerID)
	WriteJSON(w, map[string]string{"provider_id": providerID, "status": "reset"})
}

// handleTenantRateLimitReset serves POST /admin/tenants/{id}/rate-limit/reset.
func (s *Server) handleTenantRateLimitReset(w http.ResponseWriter, r *http.Request, tenantID string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if err := s.platform.RateLimit.ResetTenant(r.Context(), tenantID); err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, map[string]string{"tenant_id": tenantID, "status": "reset"})
}

type acknowledgeRequest struct {
	UserID string `json:"userId"`
}

// handleAlertAcknowledge serves POST /admin/alerts/{id}/acknowledge.
func (s *Server) handleAlertAcknowledge(w http.ResponseWriter, r *http.Request, alertID string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req acknowledgeRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if req.UserID == "" {
		WriteBadRequest(w, "userId is required")
		return
	}
	if err := s.platform.Alerts.Acknowledge(r.Context(), alertID, req.UserID); err != nil {
		if isAlreadyAcknowledged(err) {
			WriteJSON(w, map[string]string{"alert_id": alertID, "status": "already-acknowledged"})
			return
		}
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, map[string]string{"alert_id": alertID, "status": "acknowledged"})
}

type bulkAcknowledgeRequest struct {
	AlertIDs []string `json:"alertIds"`
	UserID   string   `json:"userId"`
}

// handleAlertBulkAcknowledge serves POST /admin/alerts/acknowledge.
func (s *Server) handleAlertBulkAcknowledge(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req bulkAcknowledgeRequest
	if err := decodeBody(w, r, &req); err != nil {
		return
	}
	if req.UserID == "" || len(req.AlertIDs) == 0 {
		WriteBadRequest(w, "userId and alertIds are required")
		return
	}
	if err := s.platform.Alerts.BulkAcknowledge(r.Context(), req.AlertIDs, req.UserID); err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, map[string]any{"acknowledged": len(req.AlertIDs)})
}

// handleAlertsList serves GET /admin/tenants/{id}/alerts.
func (s *Server) handleAlertsList(w http.ResponseWriter, r *http.Request, tenantID string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	includeAck := r.URL.Query().Get("includeAcknowledged") == "true"
	alerts, err := s.platform.Alerts.ListByTenant(r.Context(), tenantID, includeAck)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, alerts)
}

// handleCredentialRevoke serves POST /admin/tenants/{tid}/credentials/{cid}/revoke.
func (s *Server) handleCredentialRevoke(w http.ResponseWriter, r *http.Request, tenantID, credentialID string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if err := s.platform.Credentials.Revoke(r.Context(), tenantID, credentialID); err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, map[string]string{"credential_id": credentialID, "status": "revoked"})
}

// handleCredentialEmergencyActivate serves POST
// /admin/tenants/{tid}/credentials/{cid}/emergency-activate.
func (s *Server) handleCredentialEmergencyActivate(w http.ResponseWriter, r *http.Request, tenantID, credentialID string) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	if err := s.platform.Credentials.EmergencyActivate(r.Context(), tenantID, credentialID); err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, map[string]string{"credential_id": credentialID, "status": "activated"})
}

// handleProviderList serves GET /admin/providers, optionally filtered by
// ?status=active,degraded.
func (s *Server) handleProviderList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	var f provider.Filter
	if m := r.URL.Query().Get("model"); m != "" {
		f.Model = m
	}
	providers, err := s.platform.Providers.List(r.Context(), f)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, providers)
}

// handleProviderHistory serves GET /admin/providers/{id}/history: the
// breaker's and admin's past status transitions for one provider.
func (s *Server) handleProviderHistory(w http.ResponseWriter, r *http.Request, providerID string) {
	if r.Method != http.MethodGet {
		WriteMethodNotAllowed(w)
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	history, err := s.platform.Providers.History(r.Context(), providerID, limit)
	if err != nil {
		WriteInternal(w, err)
		return
	}
	WriteJSON(w, history)
}

type supervisorScheduleRequest struct {
	Schedule string `json:"schedule,omitempty"`
}

// handleSupervisorStart serves POST /admin/supervisor/start.
func (s *Server) handleSupervisorStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	var req supervisorScheduleRequest
	_ = decodeOptionalBody(r, &req)
	if err := s.platform.Supervisor.Start(req.Schedule); err != nil {
		WriteBadRequest(w, err.Error())
		return
	}
	WriteJSON(w, map[string]string{"status": "started"})
}

// handleSupervisorStop serves POST /admin/supervisor/stop.
func (s *Server) handleSupervisorStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	s.platform.Supervisor.Stop()
	WriteJSON(w, map[string]string{"status": "stopped"})
}

// handleSupervisorTrigger serves POST /admin/supervisor/trigger: runs a
// single tick synchronously and returns the per-tenant results.
func (s *Server) handleSupervisorTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}
	s.platform.Supervisor.RunOnce(r.Context())
	WriteJSON(w, s.platform.Supervisor.Results())
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		WriteBadRequest(w, "invalid request body")
		return err
	}
	return nil
}

func decodeOptionalBody(r *http.Request, v any) error {
	if r.ContentLength == 0 {
		return nil
	}
	return json.NewDecoder(r.Body).Decode(v)
}

func isAlreadyAcknowledged(err error) bool {
	_, ok := err.(*alert.ErrAlreadyAcknowledged)
	return ok
}
