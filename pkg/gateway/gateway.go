package gateway

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aperturecloud/llmgateway/pkg/breaker"
	"github.com/aperturecloud/llmgateway/pkg/clock"
	"github.com/aperturecloud/llmgateway/pkg/credential"
	"github.com/aperturecloud/llmgateway/pkg/provider"
	"github.com/aperturecloud/llmgateway/pkg/ratelimit"
	"github.com/aperturecloud/llmgateway/pkg/router"
	"github.com/aperturecloud/llmgateway/pkg/usage"
)

// defaultTimeout bounds a single dispatch attempt when the caller
// doesn't override it.
const defaultTimeout = 30 * time.Second

// CompletionRequest is the gateway's single entry-point input.
type CompletionRequest struct {
	TenantID       string
	AgentID        string
	Messages       []provider.Message
	Model          string
	PreferProvider string
	Channel        string
	GroupID        string
	SessionID      string
	Metadata       map[string]string
	Timeout        time.Duration
}

// Usage is the token/cost accounting returned alongside completion content.
type Usage struct {
	InputTokens  int64
	OutputTokens int64
	TotalTokens  int64
	Cost         string
}

// CompletionResult is the gateway's single entry-point output.
type CompletionResult struct {
	ID        string
	Model     string
	Provider  string
	Content   string
	Usage     Usage
	LatencyMs int64
}

// Gateway is the Gateway Facade: the orchestration point for every
// outbound completion call.
type Gateway struct {
	rateLimiter *ratelimit.Engine
	router      *router.Router
	providers   provider.Store
	dispatch    *provider.Registry
	breaker     *breaker.Breaker
	credentials *credential.Pool
	tracker     *usage.Tracker
	clk         clock.Clock

	mu     sync.Mutex
	active map[string]int
}

func New(
	rateLimiter *ratelimit.Engine,
	rtr *router.Router,
	providers provider.Store,
	dispatch *provider.Registry,
	brk *breaker.Breaker,
	credentials *credential.Pool,
	tracker *usage.Tracker,
	clk clock.Clock,
) *Gateway {
	return &Gateway{
		rateLimiter: rateLimiter,
		router:      rtr,
		providers:   providers,
		dispatch:    dispatch,
		breaker:     brk,
		credentials: credentials,
		tracker:     tracker,
		clk:         clk,
		active:      make(map[string]int),
	}
}

// SetRouter assigns the router after construction, for callers that
// need the gateway itself (as router.ActiveCounter) before the router
// can be built.
func (g *Gateway) SetRouter(rtr *router.Router) {
	g.router = rtr
}

// RegisterDispatcher adds a provider-type dispatcher to the gateway's
// registry.
func (g *Gateway) RegisterDispatcher(t provider.Type, d provider.Dispatcher) {
	g.dispatch.Register(t, d)
}

// Active implements router.ActiveCounter: the in-process count of
// requests currently dispatched against providerID. Reset to zero on
// process restart, a bounded drift the design note accepts.
func (g *Gateway) Active(providerID string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.active[providerID]
}

func (g *Gateway) incrActive(providerID string, delta int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.active[providerID] += delta
	if g.active[providerID] < 0 {
		g.active[providerID] = 0
	}
}

// Complete is the gateway's single orchestrated entry point.
func (g *Gateway) Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error) {
	if len(req.Messages) == 0 {
		return nil, newError(CodeInvalidRequest, "messages must not be empty")
	}

	checkResult, err := g.rateLimiter.Check(ctx, req.TenantID, req.AgentID)
	if err != nil {
		return nil, wrapError(CodeUpstreamError, "rate limit check failed", err)
	}
	if !checkResult.Allowed {
		return nil, rateLimitError(checkResult)
	}

	decision, err := g.router.Select(ctx, req.TenantID, router.SelectOpts{
		Model: req.Model, PreferProvider: req.PreferProvider,
	})
	if err != nil {
		var noProv *router.ErrNoProvidersAvailable
		if errors.As(err, &noProv) {
			return nil, wrapError(CodeProviderUnavailable, noProv.Error(), err)
		}
		return nil, wrapError(CodeProviderUnavailable, "provider selection failed", err)
	}
	p := decision.Provider

	g.incrActive(p.ID, 1)
	defer g.incrActive(p.ID, -1)
	if err := g.rateLimiter.IncrementProvider(ctx, p.ID); err != nil {
		return nil, wrapError(CodeUpstreamError, "failed to record provider usage", err)
	}

	cred, err := g.credentials.SelectBest(ctx, req.TenantID, credential.SelectOpts{Provider: p.ID, ExcludeEmergency: true})
	if err != nil {
		return nil, wrapError(CodeUpstreamError, "credential selection failed", err)
	}
	if cred == nil {
		cred, err = g.credentials.SelectBest(ctx, req.TenantID, credential.SelectOpts{Provider: p.ID, ExcludeEmergency: false})
		if err != nil {
			return nil, wrapError(CodeUpstreamError, "emergency credential selection failed", err)
		}
	}
	if cred == nil {
		return nil, newError(CodeNoCredentialsAvailable, fmt.Sprintf("no credentials available for provider %s", p.ID))
	}

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	dispatchCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := g.clk.Now()
	result, dispatchErr := g.dispatch.Dispatch(dispatchCtx, p, provider.CompletionRequest{Messages: req.Messages})
	latency := g.clk.Now().Sub(start)

	if dispatchErr != nil {
		return nil, g.handleFailure(ctx, req, p, cred, latency, dispatchErr)
	}
	return g.handleSuccess(ctx, req, p, cred, result, latency)
}

func (g *Gateway) handleSuccess(ctx context.Context, req CompletionRequest, p *provider.Provider, cred *credential.Credential, result *provider.CompletionResult, latency time.Duration) (*CompletionResult, error) {
	g.breaker.RecordSuccess(ctx, p.ID)

	totalTokens := result.InputTokens + result.OutputTokens
	if err := g.credentials.UpdateUsage(ctx, req.TenantID, cred.ID, totalTokens, true, nil); err != nil {
		// Credential accounting must not fail a successful completion.
		_ = err
	}
	if err := g.rateLimiter.RecordUsage(ctx, req.TenantID, req.AgentID, totalTokens); err != nil {
		_ = err
	}

	rec, err := g.tracker.WriteUsage(ctx, usage.WriteUsageInput{
		TenantID: req.TenantID, AgentID: req.AgentID, ProviderID: p.ID, Model: p.Model,
		InputTokens: result.InputTokens, OutputTokens: result.OutputTokens,
		Success: true, LatencyMs: latency.Milliseconds(),
	})
	if err != nil {
		// Usage-write failure is logged by the tracker's caller contract
		// elsewhere; the completion itself already succeeded and must be
		// returned to the caller regardless.
		rec = nil
	}

	cost := ""
	if rec != nil {
		cost = rec.Cost.String()
	} else {
		cost = p.Cost(result.InputTokens, result.OutputTokens).String()
	}

	return &CompletionResult{
		ID:       uuid.NewString(),
		Model:    p.Model,
		Provider: p.ID,
		Content:  result.Content,
		Usage: Usage{
			InputTokens:  result.InputTokens,
			OutputTokens: result.OutputTokens,
			TotalTokens:  totalTokens,
			Cost:         cost,
		},
		LatencyMs: latency.Milliseconds(),
	}, nil
}

func (g *Gateway) handleFailure(ctx context.Context, req CompletionRequest, p *provider.Provider, cred *credential.Credential, latency time.Duration, dispatchErr error) error {
	var de *provider.DispatchError
	countsAsFailure := true
	if errors.As(dispatchErr, &de) {
		countsAsFailure = de.CountsAsFailure()
	}
	if countsAsFailure {
		g.breaker.RecordFailure(ctx, p.ID)
	}

	if err := g.credentials.UpdateUsage(ctx, req.TenantID, cred.ID, 0, false, dispatchErr); err != nil {
		_ = err
	}

	errMsg := dispatchErr.Error()
	if errors.Is(dispatchErr, context.DeadlineExceeded) || errors.Is(dispatchErr, context.Canceled) {
		errMsg = "cancelled"
	}
	if _, err := g.tracker.WriteUsage(ctx, usage.WriteUsageInput{
		TenantID: req.TenantID, AgentID: req.AgentID, ProviderID: p.ID, Model: p.Model,
		OutputTokens: 0, Success: false, ErrorMessage: errMsg,
		LatencyMs: latency.Milliseconds(),
	}); err != nil {
		_ = err
	}

	return wrapError(CodeUpstreamError, "provider dispatch failed", dispatchErr)
}

func rateLimitError(r *ratelimit.CheckResult) *Error {
	switch r.Reason {
	case ratelimit.ReasonTenantNotFound:
		return &Error{Code: CodeTenantNotFound, Message: "tenant not found"}
	case ratelimit.ReasonTenantSuspended:
		return &Error{Code: CodeTenantSuspended, Message: "tenant is suspended", RetryAfterSec: r.RetryAfterSeconds}
	case ratelimit.ReasonDailyBudgetExceeded:
		return &Error{Code: CodeDailyBudgetExceeded, Message: "daily budget exceeded", RetryAfterSec: r.RetryAfterSeconds}
	case ratelimit.ReasonMonthlyBudgetExceeded:
		return &Error{Code: CodeMonthlyBudgetExceeded, Message: "monthly budget exceeded", RetryAfterSec: r.RetryAfterSeconds}
	default:
		return &Error{Code: CodeRateLimitExceeded, Message: "rate limit exceeded", RetryAfterSec: r.RetryAfterSeconds}
	}
}
