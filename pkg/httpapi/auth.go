package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AdminClaims identifies the operator a bearer token was issued to.
// TenantID is set only for tenant-scoped admin tokens; an empty
// TenantID means the token is global (every tenant).
type AdminClaims struct {
	jwt.RegisteredClaims
	TenantID string `json:"tenant_id,omitempty"`
	Roles    []string `json:"roles,omitempty"`
}

// HasRole reports whether the claims carry roleName.
func (c *AdminClaims) HasRole(roleName string) bool {
	for _, r := range c.Roles {
		if r == roleName {
			return true
		}
	}
	return false
}

// TokenManager issues and validates admin bearer tokens signed with a
// single shared HMAC secret. A production deployment with more than
// one operator team would move to asymmetric per-issuer keys; a single
// admin surface behind one secret doesn't need that yet.
type TokenManager struct {
	secret []byte
}

func NewTokenManager(secret []byte) *TokenManager {
	return &TokenManager{secret: secret}
}

// GenerateToken issues a token for subject, scoped to tenantID (empty
// for a global admin token), valid for duration.
func (tm *TokenManager) GenerateToken(subject, tenantID string, roles []string, duration time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := AdminClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(duration)),
			Issuer:    "llmgateway-admin",
		},
		TenantID: tenantID,
		Roles:    roles,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(tm.secret)
}

// ValidateToken parses and verifies tokenString, returning its claims.
func (tm *TokenManager) ValidateToken(tokenString string) (*AdminClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &AdminClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.New("unexpected signing method")
		}
		return tm.secret, nil
	})
	if err != nil {
		return nil, err
	}
	claims, ok := token.Claims.(*AdminClaims)
	if !ok || !token.Valid {
		return nil, jwt.ErrTokenSignatureInvalid
	}
	return claims, nil
}

type claimsKey struct{}

// ClaimsFromContext returns the AdminClaims attached by AuthMiddleware.
func ClaimsFromContext(ctx context.Context) (*AdminClaims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*AdminClaims)
	return c, ok
}

// AuthMiddleware rejects any request lacking a valid "Bearer <token>"
// Authorization header signed by tm, and attaches the parsed claims to
// the request context for downstream handlers.
func AuthMiddleware(tm *TokenManager) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			const prefix = "Bearer "
			if !strings.HasPrefix(header, prefix) {
				WriteUnauthorized(w, "missing bearer token")
				return
			}
			claims, err := tm.ValidateToken(strings.TrimPrefix(header, prefix))
			if err != nil {
				WriteUnauthorized(w, "invalid or expired token")
				return
			}
			ctx := context.WithValue(r.Context(), claimsKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
