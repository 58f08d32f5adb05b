package gateway

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/aperturecloud/llmgateway/pkg/alert"
	"github.com/aperturecloud/llmgateway/pkg/breaker"
	"github.com/aperturecloud/llmgateway/pkg/clock"
	"github.com/aperturecloud/llmgateway/pkg/credential"
	"github.com/aperturecloud/llmgateway/pkg/provider"
	"github.com/aperturecloud/llmgateway/pkg/ratelimit"
	"github.com/aperturecloud/llmgateway/pkg/router"
	"github.com/aperturecloud/llmgateway/pkg/tenant"
	"github.com/aperturecloud/llmgateway/pkg/usage"
)

// stubDispatcher returns a fixed result or error regardless of provider.
type stubDispatcher struct {
	result *provider.CompletionResult
	err    error
	calls  int
}

func (d *stubDispatcher) Dispatch(_ context.Context, _ *provider.Provider, _ provider.CompletionRequest) (*provider.CompletionResult, error) {
	d.calls++
	if d.err != nil {
		return nil, d.err
	}
	return d.result, nil
}

type harness struct {
	gw         *Gateway
	tenants    *tenant.MemoryStore
	providers  *provider.MemoryStore
	creds      *credential.MemoryStore
	credPool   *credential.Pool
	usageStore *usage.MemoryStore
	alerts     *alert.Engine
	brk        *breaker.Breaker
	clk        *clock.Fake
	dispatcher *stubDispatcher
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	clk := clock.NewFake(time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC))

	tenants := tenant.NewMemoryStore()
	providers := provider.NewMemoryStore()
	credStore := credential.NewMemoryStore()
	alertStore := alert.NewMemoryStore()
	usageStore := usage.NewMemoryStore()
	rlStore := ratelimit.NewMemoryStore()

	ctx := context.Background()
	require.NoError(t, tenants.Upsert(ctx, &tenant.Tenant{ID: "t1", Status: tenant.StatusActive}))
	require.NoError(t, providers.Upsert(ctx, &provider.Provider{
		ID: "p1", Name: "primary", Type: provider.TypeVendorAPI, Model: "gpt-x",
		Priority: 1, Status: provider.StatusActive, RateLimit: 60, Concurrency: 5,
		CostInput: decimal.NewFromFloat(0.001), CostOutput: decimal.NewFromFloat(0.002),
		CreatedAt: clk.Now(), UpdatedAt: clk.Now(),
	}))
	require.NoError(t, credStore.Upsert(ctx, &credential.Credential{
		ID: "c1", TenantID: "t1", Type: credential.TypeAPIKey, Provider: "p1",
		Status: credential.StatusActive, Priority: 1,
	}))

	credPool := credential.NewPool(credStore, clk, nil)
	require.NoError(t, credPool.Load(ctx, "t1"))

	brk := breaker.New(breaker.DefaultConfig(), clk, providers)
	rl := ratelimit.New(tenants, usageStore, rlStore, clk, ratelimit.DefaultLimits())
	alerts := alert.New(alertStore, tenants, usageStore, nil, clk)
	tracker := usage.New(usageStore, providers, alerts, clk)

	gw := New(rl, nil, providers, provider.NewRegistry(), brk, credPool, tracker, clk)
	rtr := router.New(providers, tenants, brk, rl, gw)
	gw.router = rtr

	dispatcher := &stubDispatcher{result: &provider.CompletionResult{Content: "hi", InputTokens: 10, OutputTokens: 5}}
	gw.dispatch.Register(provider.TypeVendorAPI, dispatcher)

	return &harness{
		gw: gw, tenants: tenants, providers: providers, creds: credStore,
		credPool: credPool, usageStore: usageStore, alerts: alerts, brk: brk,
		clk: clk, dispatcher: dispatcher,
	}
}

func req() CompletionRequest {
	return CompletionRequest{TenantID: "t1", AgentID: "a1", Messages: []provider.Message{{Role: "user", Content: "hi"}}}
}

func TestCompleteSucceedsAndRecordsUsage(t *testing.T) {
	h := newHarness(t)
	res, err := h.gw.Complete(context.Background(), req())
	require.NoError(t, err)
	require.Equal(t, "p1", res.Provider)
	require.Equal(t, int64(10), res.Usage.InputTokens)
	require.Equal(t, int64(5), res.Usage.OutputTokens)

	totals, err := h.usageStore.Totals(context.Background(), "t1", usage.Period{Start: h.clk.Now().Add(-time.Hour), End: h.clk.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.Equal(t, int64(1), totals.RequestCount)
	require.Equal(t, int64(1), totals.SuccessCount)
}

func TestCompleteRejectsEmptyMessages(t *testing.T) {
	h := newHarness(t)
	r := req()
	r.Messages = nil
	_, err := h.gw.Complete(context.Background(), r)
	require.Error(t, err)
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, CodeInvalidRequest, gwErr.Code)
}

func TestCompleteReturnsTenantSuspendedError(t *testing.T) {
	h := newHarness(t)
	_, err := h.tenants.SetSuspended(context.Background(), "t1", true)
	require.NoError(t, err)

	_, err = h.gw.Complete(context.Background(), req())
	require.Error(t, err)
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, CodeTenantSuspended, gwErr.Code)
}

func TestCompleteOnDispatchFailureRecordsFailureAndTripsBreaker(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.err = &provider.DispatchError{StatusCode: 500, Err: errors.New("boom")}

	for i := 0; i < 5; i++ {
		_, err := h.gw.Complete(context.Background(), req())
		require.Error(t, err)
		var gwErr *Error
		require.True(t, errors.As(err, &gwErr))
		require.Equal(t, CodeUpstreamError, gwErr.Code)
	}

	require.Equal(t, breaker.Open, h.brk.State("p1"))

	totals, err := h.usageStore.Totals(context.Background(), "t1", usage.Period{Start: h.clk.Now().Add(-time.Hour), End: h.clk.Now().Add(time.Hour)})
	require.NoError(t, err)
	require.Equal(t, int64(5), totals.FailureCount)
}

func TestCompletePermanentErrorDoesNotTripBreaker(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.err = &provider.DispatchError{StatusCode: 401, Err: errors.New("invalid api key")}

	_, err := h.gw.Complete(context.Background(), req())
	require.Error(t, err)
	require.Equal(t, breaker.Closed, h.brk.State("p1"))
}

func TestCompleteActiveCounterReleasedAfterCall(t *testing.T) {
	h := newHarness(t)
	_, err := h.gw.Complete(context.Background(), req())
	require.NoError(t, err)
	require.Equal(t, 0, h.gw.Active("p1"))
}

func TestCompleteNoCredentialsAvailable(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.credPool.Revoke(context.Background(), "t1", "c1"))

	_, err := h.gw.Complete(context.Background(), req())
	require.Error(t, err)
	var gwErr *Error
	require.True(t, errors.As(err, &gwErr))
	require.Equal(t, CodeNoCredentialsAvailable, gwErr.Code)
}
