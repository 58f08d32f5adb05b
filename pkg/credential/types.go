// Package credential manages the pool of API keys and OAuth tokens used
// to authenticate outbound provider calls: selection, usage accounting,
// and quota/revocation lifecycle.
package credential

import "time"

// Type distinguishes how a credential authenticates.
type Type string

const (
	TypeAPIKey Type = "api-key"
	TypeOAuth  Type = "oauth"
)

// Status is the credential's lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusExhausted Status = "exhausted"
	StatusExpired   Status = "expired"
	StatusRevoked   Status = "revoked"
	StatusEmergency Status = "emergency"
)

// Priority constants used by getPool's default ordering when a
// credential doesn't carry an explicit priority of its own.
const (
	PriorityOAuth     = 100
	PriorityEmergency = 999
)

// Credential is a single API key or OAuth token available to a tenant
// for outbound provider calls.
type Credential struct {
	ID          string     `json:"id"`
	TenantID    string     `json:"tenant_id"`
	Type        Type       `json:"type"`
	Provider    string     `json:"provider"`
	Name        string     `json:"name"`
	Status      Status     `json:"status"`
	Priority    int        `json:"priority"`
	Emergency   bool       `json:"emergency"`
	QuotaLimit  *int64     `json:"quota_limit,omitempty"`
	QuotaUsed   int64      `json:"quota_used"`
	LastError   string     `json:"last_error,omitempty"`
	LastErrorAt *time.Time `json:"last_error_at,omitempty"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	// Secret material. Never serialized; encrypted at rest by the store.
	AccessToken  string `json:"-"`
	RefreshToken string `json:"-"`
}

// UsagePercent returns quotaUsed/quotaLimit, or 0 if unlimited.
func (c *Credential) UsagePercent() float64 {
	if c.QuotaLimit == nil || *c.QuotaLimit == 0 {
		return 0
	}
	return float64(c.QuotaUsed) / float64(*c.QuotaLimit)
}

// RemainingCredits returns quotaLimit - quotaUsed, or a very large
// number when unlimited (so unlimited credentials sort first under a
// "most remaining" ordering, matching their effectively infinite headroom).
func (c *Credential) RemainingCredits() int64 {
	if c.QuotaLimit == nil {
		return 1<<62 - c.QuotaUsed
	}
	return *c.QuotaLimit - c.QuotaUsed
}

// HasRecentError reports whether the credential errored within window
// of "now" — used to push recently-failing credentials to the back of
// selectBest's ordering.
func (c *Credential) HasRecentError(now time.Time, window time.Duration) bool {
	if c.LastErrorAt == nil {
		return false
	}
	return now.Sub(*c.LastErrorAt) < window
}
