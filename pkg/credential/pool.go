package credential

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aperturecloud/llmgateway/pkg/clock"
)

// recentErrorWindow is how long a credential is penalized in selectBest
// after its last failure.
const recentErrorWindow = 5 * time.Minute

// AlertFunc records an admin alert; the pool never decides how alerts
// are delivered, only that one fired.
type AlertFunc func(ctx context.Context, alertType, severity, message string)

// Pool selects and accounts for a tenant's outbound credentials,
// keeping an in-process cache of quota/status alongside the backing
// Store so selectBest never needs a round-trip on the hot path.
type Pool struct {
	store Store
	clk   clock.Clock
	alert AlertFunc

	mu       sync.Mutex
	byTenant map[string][]*Credential // cache, mutated in place
}

func NewPool(store Store, clk clock.Clock, alert AlertFunc) *Pool {
	return &Pool{store: store, clk: clk, alert: alert, byTenant: make(map[string][]*Credential)}
}

// Load seeds the in-process cache for tenantID from the store. Call
// once at startup per tenant and after any out-of-band credential
// change.
func (p *Pool) Load(ctx context.Context, tenantID string) error {
	creds, err := p.store.ListByTenant(ctx, tenantID)
	if err != nil {
		return fmt.Errorf("credential: load pool %s: %w", tenantID, err)
	}
	p.mu.Lock()
	p.byTenant[tenantID] = creds
	p.mu.Unlock()
	return nil
}

// GetPool returns tenantID's credentials ordered by priority: emergency
// (999) first, then regular credentials in insertion order, then OAuth
// (100) last.
func (p *Pool) GetPool(tenantID string) []*Credential {
	p.mu.Lock()
	defer p.mu.Unlock()
	creds := append([]*Credential(nil), p.byTenant[tenantID]...)
	sort.SliceStable(creds, func(i, j int) bool {
		return priorityRank(creds[i]) > priorityRank(creds[j])
	})
	return creds
}

func priorityRank(c *Credential) int {
	if c.Emergency {
		return PriorityEmergency
	}
	return c.Priority
}

// SelectOpts narrows SelectBest's candidate set.
type SelectOpts struct {
	Provider         string
	ExcludeEmergency bool
	ExcludeIDs       map[string]bool
}

// SelectBest picks the credential to use for the next call against
// tenantID. It restricts to active, non-emergency (by default)
// credentials matching Provider if given, then sorts by remaining
// credits descending, usage-percentage ascending, "no recent error"
// first, priority ascending. If nothing qualifies and emergency
// credentials are not excluded, it falls back to the least-used
// emergency credential, flips its cached status to active, and raises
// an emergency-activation alert.
func (p *Pool) SelectBest(ctx context.Context, tenantID string, opts SelectOpts) (*Credential, error) {
	p.mu.Lock()
	creds := p.byTenant[tenantID]
	now := p.clk.Now()

	var candidates []*Credential
	for _, c := range creds {
		if c.Status != StatusActive {
			continue
		}
		if opts.Provider != "" && c.Provider != opts.Provider {
			continue
		}
		if opts.ExcludeEmergency && c.Emergency {
			continue
		}
		if opts.ExcludeIDs[c.ID] {
			continue
		}
		candidates = append(candidates, c)
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if ra, rb := a.RemainingCredits(), b.RemainingCredits(); ra != rb {
			return ra > rb
		}
		if pa, pb := a.UsagePercent(), b.UsagePercent(); pa != pb {
			return pa < pb
		}
		if ea, eb := a.HasRecentError(now, recentErrorWindow), b.HasRecentError(now, recentErrorWindow); ea != eb {
			return !ea
		}
		return a.Priority < b.Priority
	})

	if len(candidates) > 0 {
		best := candidates[0]
		p.mu.Unlock()
		return best, nil
	}

	if opts.ExcludeEmergency {
		p.mu.Unlock()
		return nil, nil
	}

	// Fall back to the emergency credential with the most remaining
	// quota headroom (equivalently, the least-used one).
	var emergency *Credential
	for _, c := range creds {
		if !c.Emergency || c.Status == StatusRevoked {
			continue
		}
		if emergency == nil || c.RemainingCredits() > emergency.RemainingCredits() {
			emergency = c
		}
	}
	if emergency == nil {
		p.mu.Unlock()
		if p.alert != nil {
			p.alert(ctx, "emergency-activation", "critical", fmt.Sprintf("no emergency credential available for tenant %s", tenantID))
		}
		return nil, nil
	}
	emergency.Status = StatusActive
	cp := *emergency
	p.mu.Unlock()

	if err := p.store.Upsert(ctx, &cp); err != nil {
		return nil, fmt.Errorf("credential: persist emergency activation %s: %w", cp.ID, err)
	}
	if p.alert != nil {
		p.alert(ctx, "emergency-activation", "info", fmt.Sprintf("activated emergency credential %s for tenant %s", cp.ID, tenantID))
	}
	return &cp, nil
}

// UpdateUsage records the outcome of a call made with credentialID:
// quotaUsed and lastUsedAt always advance; on failure, lastError and
// lastErrorAt are set and the credential may transition to exhausted
// (quota/rate-limit/429 errors) or revoked (invalid/revoked/401 errors).
func (p *Pool) UpdateUsage(ctx context.Context, tenantID, credentialID string, tokens int64, success bool, callErr error) error {
	p.mu.Lock()
	c := p.findLocked(tenantID, credentialID)
	if c == nil {
		p.mu.Unlock()
		return fmt.Errorf("credential: %s not found in pool for tenant %s", credentialID, tenantID)
	}

	now := p.clk.Now()
	c.QuotaUsed += tokens
	c.LastUsedAt = &now

	if !success && callErr != nil {
		msg := callErr.Error()
		c.LastError = msg
		c.LastErrorAt = &now
		switch {
		case containsAny(msg, "quota", "rate limit", "429"):
			c.Status = StatusExhausted
		case containsAny(msg, "invalid", "revoked", "401"):
			c.Status = StatusRevoked
		}
	}
	cp := *c
	p.mu.Unlock()

	if err := p.store.Upsert(ctx, &cp); err != nil {
		return fmt.Errorf("credential: persist usage %s: %w", credentialID, err)
	}
	return nil
}

// ResetQuota clears quotaUsed and, if the credential was exhausted,
// reactivates it.
func (p *Pool) ResetQuota(ctx context.Context, tenantID, credentialID string) error {
	p.mu.Lock()
	c := p.findLocked(tenantID, credentialID)
	if c == nil {
		p.mu.Unlock()
		return fmt.Errorf("credential: %s not found in pool for tenant %s", credentialID, tenantID)
	}
	c.QuotaUsed = 0
	c.LastError = ""
	c.LastErrorAt = nil
	if c.Status == StatusExhausted {
		c.Status = StatusActive
	}
	cp := *c
	p.mu.Unlock()

	if err := p.store.Upsert(ctx, &cp); err != nil {
		return fmt.Errorf("credential: persist quota reset %s: %w", credentialID, err)
	}
	return nil
}

// Revoke marks credentialID revoked in both the cache and the store.
func (p *Pool) Revoke(ctx context.Context, tenantID, credentialID string) error {
	p.mu.Lock()
	c := p.findLocked(tenantID, credentialID)
	if c == nil {
		p.mu.Unlock()
		return fmt.Errorf("credential: %s not found in pool for tenant %s", credentialID, tenantID)
	}
	c.Status = StatusRevoked
	cp := *c
	p.mu.Unlock()

	if err := p.store.Upsert(ctx, &cp); err != nil {
		return fmt.Errorf("credential: persist revoke %s: %w", credentialID, err)
	}
	return nil
}

// EmergencyActivate forces credentialID into active status regardless
// of its current quota or error state, for an operator responding to an
// outage who needs a specific emergency credential live immediately
// rather than waiting for SelectBest's automatic fallback.
func (p *Pool) EmergencyActivate(ctx context.Context, tenantID, credentialID string) error {
	p.mu.Lock()
	c := p.findLocked(tenantID, credentialID)
	if c == nil {
		p.mu.Unlock()
		return fmt.Errorf("credential: %s not found in pool for tenant %s", credentialID, tenantID)
	}
	c.Status = StatusActive
	c.LastError = ""
	c.LastErrorAt = nil
	cp := *c
	p.mu.Unlock()

	if err := p.store.Upsert(ctx, &cp); err != nil {
		return fmt.Errorf("credential: persist emergency activation %s: %w", credentialID, err)
	}
	if p.alert != nil {
		p.alert(ctx, "emergency-activation", "info", fmt.Sprintf("operator activated emergency credential %s for tenant %s", credentialID, tenantID))
	}
	return nil
}

// findLocked must be called with p.mu held.
func (p *Pool) findLocked(tenantID, credentialID string) *Credential {
	for _, c := range p.byTenant[tenantID] {
		if c.ID == credentialID {
			return c
		}
	}
	return nil
}

func containsAny(s string, subs ...string) bool {
	lower := strings.ToLower(s)
	for _, sub := range subs {
		if strings.Contains(lower, sub) {
			return true
		}
	}
	return false
}
