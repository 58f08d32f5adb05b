package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTokenManagerRoundTrip(t *testing.T) {
	tm := NewTokenManager([]byte("secret"))
	tok, err := tm.GenerateToken("op1", "t1", []string{"admin"}, time.Hour)
	require.NoError(t, err)

	claims, err := tm.ValidateToken(tok)
	require.NoError(t, err)
	require.Equal(t, "op1", claims.Subject)
	require.Equal(t, "t1", claims.TenantID)
	require.True(t, claims.HasRole("admin"))
}

func TestTokenManagerRejectsExpiredToken(t *testing.T) {
	tm := NewTokenManager([]byte("secret"))
	tok, err := tm.GenerateToken("op1", "", nil, -time.Minute)
	require.NoError(t, err)

	_, err = tm.ValidateToken(tok)
	require.Error(t, err)
}

func TestTokenManagerRejectsWrongSecret(t *testing.T) {
	tm1 := NewTokenManager([]byte("secret-a"))
	tm2 := NewTokenManager([]byte("secret-b"))
	tok, err := tm1.GenerateToken("op1", "", nil, time.Hour)
	require.NoError(t, err)

	_, err = tm2.ValidateToken(tok)
	require.Error(t, err)
}

func TestAuthMiddlewareRejectsMissingAndInvalidTokens(t *testing.T) {
	tm := NewTokenManager([]byte("secret"))
	handler := AuthMiddleware(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
	handler.ServeHTTP(rec, req)
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
	req2.Header.Set("Authorization", "Bearer garbage")
	handler.ServeHTTP(rec2, req2)
	require.Equal(t, http.StatusUnauthorized, rec2.Code)
}

func TestAuthMiddlewareAllowsValidToken(t *testing.T) {
	tm := NewTokenManager([]byte("secret"))
	tok, err := tm.GenerateToken("op1", "", []string{"admin"}, time.Hour)
	require.NoError(t, err)

	var sawClaims *AdminClaims
	handler := AuthMiddleware(tm)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, _ := ClaimsFromContext(r.Context())
		sawClaims = claims
		w.WriteHeader(http.StatusOK)
	}))

	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/admin/x", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	handler.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, sawClaims)
	require.Equal(t, "op1", sawClaims.Subject)
}
