package platform_test

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aperturecloud/llmgateway/internal/config"
	"github.com/aperturecloud/llmgateway/internal/platform"
)

// TestBootstrapLiteModeWiresEverything exercises the SQLite lite-mode
// path end to end: every engine should come back non-nil and the
// gateway's router should already be assigned.
func TestBootstrapLiteModeWiresEverything(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg := config.Load()
	cfg.LiteMode = true
	cfg.RedisURL = ""

	p, err := platform.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	require.NotNil(t, p.Tenants)
	require.NotNil(t, p.Providers)
	require.NotNil(t, p.Bots)
	require.NotNil(t, p.Credentials)
	require.NotNil(t, p.Breaker)
	require.NotNil(t, p.RateLimit)
	require.NotNil(t, p.Router)
	require.NotNil(t, p.Gateway)
	require.NotNil(t, p.Usage)
	require.NotNil(t, p.Alerts)
	require.NotNil(t, p.Notify)
	require.NotNil(t, p.BotHealth)
	require.NotNil(t, p.Supervisor)
	require.NotNil(t, p.Analytics)
	require.NotNil(t, p.Events)
	require.Nil(t, p.Redis)

	_, err = os.Stat("data/gateway.db")
	require.NoError(t, err)
}
