package credential

import (
	"context"
	"fmt"
	"os"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
)

// OAuthRefresher refreshes OAuth-type credentials ahead of expiry using
// the stored refresh token, replacing the expired access token in
// place. One instance is shared across all tenants.
type OAuthRefresher struct {
	config *oauth2.Config
	store  Store
}

// NewGoogleOAuthRefresher builds a refresher against Google's OAuth
// endpoints. clientID/clientSecret fall back to the environment when
// empty, matching how deployments typically provision them.
func NewGoogleOAuthRefresher(store Store, clientID, clientSecret string) *OAuthRefresher {
	if clientID == "" {
		clientID = os.Getenv("GOOGLE_CLIENT_ID")
	}
	if clientSecret == "" {
		clientSecret = os.Getenv("GOOGLE_CLIENT_SECRET")
	}
	return &OAuthRefresher{
		store: store,
		config: &oauth2.Config{
			ClientID:     clientID,
			ClientSecret: clientSecret,
			Endpoint:     google.Endpoint,
		},
	}
}

// Refresh exchanges c's refresh token for a fresh access token and
// persists the result. Returns the updated credential.
func (r *OAuthRefresher) Refresh(ctx context.Context, c *Credential) (*Credential, error) {
	if c.Type != TypeOAuth {
		return nil, fmt.Errorf("credential: %s is not an oauth credential", c.ID)
	}
	if c.RefreshToken == "" {
		return nil, fmt.Errorf("credential: %s has no refresh token", c.ID)
	}

	src := r.config.TokenSource(ctx, &oauth2.Token{RefreshToken: c.RefreshToken})
	tok, err := src.Token()
	if err != nil {
		return nil, fmt.Errorf("credential: refresh %s: %w", c.ID, err)
	}

	cp := *c
	cp.AccessToken = tok.AccessToken
	if tok.RefreshToken != "" {
		cp.RefreshToken = tok.RefreshToken
	}
	if cp.Status == StatusExpired {
		cp.Status = StatusActive
	}
	if err := r.store.Upsert(ctx, &cp); err != nil {
		return nil, fmt.Errorf("credential: persist refresh %s: %w", c.ID, err)
	}
	return &cp, nil
}

// NeedsRefresh reports whether c's access token is close enough to
// expiry (or already past it) that it should be refreshed before use.
// expiresAt is tracked by the caller via LastUsedAt/provider metadata
// since the Credential type itself only records issuance, not expiry.
func NeedsRefresh(expiresAt time.Time, now time.Time, skew time.Duration) bool {
	return !expiresAt.After(now.Add(skew))
}
