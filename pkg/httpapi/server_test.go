package httpapi_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aperturecloud/llmgateway/internal/config"
	"github.com/aperturecloud/llmgateway/internal/platform"
	"github.com/aperturecloud/llmgateway/pkg/httpapi"
)

func newTestServer(t *testing.T) (*httptest.Server, *config.Config) {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	cfg := config.Load()
	cfg.LiteMode = true
	cfg.RedisURL = ""
	cfg.AdminJWTSecret = "test-secret"

	p, err := platform.Bootstrap(context.Background(), cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	srv := httptest.NewServer(httpapi.New(p, cfg))
	t.Cleanup(srv.Close)
	return srv, cfg
}

func TestHealthEndpointIsUnauthenticated(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminEndpointRejectsMissingToken(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/admin/supervisor/trigger", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAdminEndpointAcceptsValidToken(t *testing.T) {
	srv, cfg := newTestServer(t)
	tm := httpapi.NewTokenManager([]byte(cfg.AdminJWTSecret))
	tok, err := tm.GenerateToken("op1", "", []string{"admin"}, time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/admin/supervisor/trigger", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminProviderListRequiresAuthAndReturnsOK(t *testing.T) {
	srv, cfg := newTestServer(t)
	tm := httpapi.NewTokenManager([]byte(cfg.AdminJWTSecret))
	tok, err := tm.GenerateToken("op1", "", []string{"admin"}, time.Hour)
	require.NoError(t, err)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/admin/providers", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+tok)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAdminProviderHistoryRequiresAuth(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Get(srv.URL + "/admin/providers/p1/history")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestCompletionRejectsEmptyMessages(t *testing.T) {
	srv, _ := newTestServer(t)
	resp, err := http.Post(srv.URL+"/v1/completions", "application/json", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
