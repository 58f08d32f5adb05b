package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/aperturecloud/llmgateway/pkg/gateway"
	"github.com/aperturecloud/llmgateway/pkg/provider"
)

// completionMessage mirrors provider.Message over the wire.
type completionMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	TenantID       string              `json:"tenantId"`
	AgentID        string              `json:"agentId,omitempty"`
	Messages       []completionMessage `json:"messages"`
	Model          string              `json:"model,omitempty"`
	PreferProvider string              `json:"preferProvider,omitempty"`
	Channel        string              `json:"channel,omitempty"`
	GroupID        string              `json:"groupId,omitempty"`
	SessionID      string              `json:"sessionId,omitempty"`
	Metadata       map[string]string   `json:"metadata,omitempty"`
}

type completionUsage struct {
	InputTokens  int64  `json:"inputTokens"`
	OutputTokens int64  `json:"outputTokens"`
	TotalTokens  int64  `json:"totalTokens"`
	Cost         string `json:"cost"`
}

type completionResponse struct {
	ID        string           `json:"id"`
	Model     string           `json:"model"`
	Provider  string           `json:"provider"`
	Content   string           `json:"content"`
	Usage     completionUsage  `json:"usage"`
	LatencyMs int64            `json:"latencyMs"`
}

// handleCompletion serves POST /v1/completions: the gateway's single
// tenant-facing entry point.
func (s *Server) handleCompletion(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		WriteMethodNotAllowed(w)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req completionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		WriteBadRequest(w, "invalid request body")
		return
	}
	if req.TenantID == "" || len(req.Messages) == 0 {
		WriteBadRequest(w, "tenantId and at least one message are required")
		return
	}

	messages := make([]provider.Message, len(req.Messages))
	for i, m := range req.Messages {
		messages[i] = provider.Message{Role: m.Role, Content: m.Content}
	}

	result, err := s.platform.Gateway.Complete(r.Context(), gateway.CompletionRequest{
		TenantID:       req.TenantID,
		AgentID:        req.AgentID,
		Messages:       messages,
		Model:          req.Model,
		PreferProvider: req.PreferProvider,
		Channel:        req.Channel,
		GroupID:        req.GroupID,
		SessionID:      req.SessionID,
		Metadata:       req.Metadata,
	})
	if err != nil {
		writeGatewayError(w, err)
		return
	}

	WriteJSON(w, completionResponse{
		ID:        result.ID,
		Model:     result.Model,
		Provider:  result.Provider,
		Content:   result.Content,
		LatencyMs: result.LatencyMs,
		Usage: completionUsage{
			InputTokens:  result.Usage.InputTokens,
			OutputTokens: result.Usage.OutputTokens,
			TotalTokens:  result.Usage.TotalTokens,
			Cost:         result.Usage.Cost,
		},
	})
}

// writeGatewayError maps a *gateway.Error to the HTTP status its code
// implies; any other error is an internal failure.
func writeGatewayError(w http.ResponseWriter, err error) {
	gerr, ok := err.(*gateway.Error)
	if !ok {
		WriteInternal(w, err)
		return
	}
	status := http.StatusBadGateway
	switch gerr.Code {
	case gateway.CodeInvalidRequest:
		status = http.StatusBadRequest
	case gateway.CodeTenantNotFound:
		status = http.StatusNotFound
	case gateway.CodeTenantSuspended, gateway.CodeDailyBudgetExceeded, gateway.CodeMonthlyBudgetExceeded, gateway.CodeRateLimitExceeded:
		status = http.StatusTooManyRequests
	case gateway.CodeProviderUnavailable, gateway.CodeNoCredentialsAvailable:
		status = http.StatusServiceUnavailable
	case gateway.CodeUpstreamError:
		status = http.StatusBadGateway
	}
	if gerr.RetryAfterSec > 0 {
		w.Header().Set("Retry-After", strconv.FormatInt(gerr.RetryAfterSec, 10))
	}
	WriteError(w, status, string(gerr.Code), gerr.Message)
}
