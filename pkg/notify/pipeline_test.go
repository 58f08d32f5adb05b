package notify

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aperturecloud/llmgateway/pkg/alert"
	"github.com/aperturecloud/llmgateway/pkg/clock"
)

type stubChannel struct {
	name  string
	err   error
	calls int32
}

func (c *stubChannel) Name() string { return c.name }
func (c *stubChannel) Send(_ context.Context, _ *alert.Alert, _ Template, _ *NotificationConfig) error {
	atomic.AddInt32(&c.calls, 1)
	return c.err
}

func newTestAlert(sev alert.Severity) *alert.Alert {
	return &alert.Alert{
		ID: "alert-1", TenantID: "t1", BotID: "b1",
		Type: alert.TypeBotDown, Severity: sev, Message: "bot b1 is down",
		CreatedAt: time.Now(),
	}
}

func TestPipelineDispatchesToMappedChannels(t *testing.T) {
	email := &stubChannel{name: ChannelEmail}
	webhook := &stubChannel{name: ChannelWebhook}
	whatsapp := &stubChannel{name: ChannelWhatsApp}
	p := New(NewMemoryConfigStore(), NewMemoryThrottleStore(), clock.NewFake(time.Now()), email, webhook, whatsapp)

	result, err := p.Dispatch(context.Background(), newTestAlert(alert.SeverityCritical))
	require.NoError(t, err)
	require.False(t, result.Throttled)
	require.True(t, result.Channels[ChannelEmail].Success)
	require.True(t, result.Channels[ChannelWebhook].Success)
	require.True(t, result.Channels[ChannelWhatsApp].Success)
	require.EqualValues(t, 1, email.calls)
}

func TestPipelineWarningOnlyDispatchesEmail(t *testing.T) {
	email := &stubChannel{name: ChannelEmail}
	webhook := &stubChannel{name: ChannelWebhook}
	p := New(NewMemoryConfigStore(), NewMemoryThrottleStore(), clock.NewFake(time.Now()), email, webhook)

	result, err := p.Dispatch(context.Background(), newTestAlert(alert.SeverityWarning))
	require.NoError(t, err)
	require.Len(t, result.Channels, 1)
	require.EqualValues(t, 1, email.calls)
	require.EqualValues(t, 0, webhook.calls)
}

func TestPipelineInfoSeverityNeverDispatches(t *testing.T) {
	email := &stubChannel{name: ChannelEmail}
	p := New(NewMemoryConfigStore(), NewMemoryThrottleStore(), clock.NewFake(time.Now()), email)

	result, err := p.Dispatch(context.Background(), newTestAlert(alert.SeverityInfo))
	require.NoError(t, err)
	require.Empty(t, result.Channels)
	require.EqualValues(t, 0, email.calls)
}

func TestPipelineThrottlesSecondDispatchWithinWindow(t *testing.T) {
	email := &stubChannel{name: ChannelEmail}
	p := New(NewMemoryConfigStore(), NewMemoryThrottleStore(), clock.NewFake(time.Now()), email)

	ctx := context.Background()
	a := newTestAlert(alert.SeverityWarning)
	_, err := p.Dispatch(ctx, a)
	require.NoError(t, err)

	result, err := p.Dispatch(ctx, a)
	require.NoError(t, err)
	require.True(t, result.Throttled)
	require.EqualValues(t, 1, email.calls)
}

func TestPipelineDoesNotThrottleWhenAllChannelsFail(t *testing.T) {
	email := &stubChannel{name: ChannelEmail, err: errors.New("smtp down")}
	p := New(NewMemoryConfigStore(), NewMemoryThrottleStore(), clock.NewFake(time.Now()), email)

	ctx := context.Background()
	a := newTestAlert(alert.SeverityWarning)
	result, err := p.Dispatch(ctx, a)
	require.NoError(t, err)
	require.False(t, result.Channels[ChannelEmail].Success)

	result, err = p.Dispatch(ctx, a)
	require.NoError(t, err)
	require.False(t, result.Throttled)
	require.EqualValues(t, 2, email.calls)
}

func TestPipelineRespectsQuietHoursForNonCritical(t *testing.T) {
	configs := NewMemoryConfigStore()
	require.NoError(t, configs.Upsert(context.Background(), &NotificationConfig{
		TenantID: "t1", QuietHoursEnabled: true, QuietHoursStart: "00:00", QuietHoursEnd: "23:59", ExceptCritical: true,
	}))
	email := &stubChannel{name: ChannelEmail}
	clk := clock.NewFake(time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC))
	p := New(configs, NewMemoryThrottleStore(), clk, email)

	result, err := p.Dispatch(context.Background(), newTestAlert(alert.SeverityWarning))
	require.NoError(t, err)
	require.Empty(t, result.Channels)
	require.EqualValues(t, 0, email.calls)
}
