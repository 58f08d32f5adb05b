package notify

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aperturecloud/llmgateway/pkg/alert"
)

func TestMemoryThrottleStoreWindow(t *testing.T) {
	s := NewMemoryThrottleStore()
	ctx := context.Background()
	now := time.Date(2026, 6, 15, 12, 0, 0, 0, time.UTC)

	sent, err := s.WasSentRecently(ctx, "fp1", now)
	require.NoError(t, err)
	require.False(t, sent)

	require.NoError(t, s.RecordSent(ctx, "fp1", now))

	sent, err = s.WasSentRecently(ctx, "fp1", now.Add(time.Minute))
	require.NoError(t, err)
	require.True(t, sent)

	sent, err = s.WasSentRecently(ctx, "fp1", now.Add(6*time.Minute))
	require.NoError(t, err)
	require.False(t, sent)
}

func TestFingerprintStableForSameAlert(t *testing.T) {
	a := &alert.Alert{TenantID: "t1", BotID: "b1", Type: alert.TypeBotDown, Severity: alert.SeverityCritical, Message: "down"}
	fp1 := Fingerprint("t1", a)
	fp2 := Fingerprint("t1", a)
	require.Equal(t, fp1, fp2)
}

func TestFingerprintDiffersByBot(t *testing.T) {
	a1 := &alert.Alert{TenantID: "t1", BotID: "b1", Type: alert.TypeBotDown, Severity: alert.SeverityCritical, Message: "down"}
	a2 := &alert.Alert{TenantID: "t1", BotID: "b2", Type: alert.TypeBotDown, Severity: alert.SeverityCritical, Message: "down"}
	require.NotEqual(t, Fingerprint("t1", a1), Fingerprint("t1", a2))
}
