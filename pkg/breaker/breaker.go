// Package breaker implements a per-provider circuit breaker whose state
// is mirrored onto the Provider entity's status field and logged to an
// append-only history, so a provider's health survives process restarts.
package breaker

import (
	"context"
	"sync"
	"time"

	"github.com/aperturecloud/llmgateway/pkg/clock"
	"github.com/aperturecloud/llmgateway/pkg/provider"
)

// State is the breaker's internal finite-state-machine state.
type State string

const (
	Closed   State = "CLOSED"
	Open     State = "OPEN"
	HalfOpen State = "HALF_OPEN"
)

// Config are the thresholds and timeouts that drive state transitions.
type Config struct {
	FailureThreshold int           // failures in CLOSED before tripping to OPEN
	SuccessThreshold int           // successes in HALF_OPEN before closing
	OpenTimeout      time.Duration // how long OPEN holds before allowing a probe
	HalfOpenTimeout  time.Duration // how long a HALF_OPEN probe window is given before reverting to OPEN
}

// DefaultConfig matches the gateway's documented defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		SuccessThreshold: 3,
		OpenTimeout:      60 * time.Second,
		HalfOpenTimeout:  30 * time.Second,
	}
}

type providerState struct {
	state       State
	failures    int
	successes   int
	openedAt    time.Time
	probeSentAt time.Time // when the single HALF_OPEN probe was let through
}

// Breaker tracks one FSM per provider and mirrors transitions onto the
// Provider store's status and status-history log.
type Breaker struct {
	cfg   Config
	clock clock.Clock
	store provider.Store

	mu     sync.Mutex
	byProv map[string]*providerState
}

func New(cfg Config, clk clock.Clock, store provider.Store) *Breaker {
	return &Breaker{
		cfg:    cfg,
		clock:  clk,
		store:  store,
		byProv: make(map[string]*providerState),
	}
}

func (b *Breaker) stateFor(providerID string) *providerState {
	ps, ok := b.byProv[providerID]
	if !ok {
		ps = &providerState{state: Closed}
		b.byProv[providerID] = ps
	}
	return ps
}

// Rehydrate seeds breaker state from providers persisted as CIRCUIT_OPEN
// or DEGRADED, so a process restart doesn't silently re-admit traffic to
// a provider that was unhealthy when the process died.
func (b *Breaker) Rehydrate(ctx context.Context) error {
	open, err := b.store.List(ctx, provider.Filter{Statuses: []provider.Status{provider.StatusCircuitOpen}})
	if err != nil {
		return err
	}
	degraded, err := b.store.List(ctx, provider.Filter{Statuses: []provider.Status{provider.StatusDegraded}})
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	now := b.clock.Now()
	for _, p := range open {
		b.byProv[p.ID] = &providerState{state: Open, openedAt: now}
	}
	for _, p := range degraded {
		b.byProv[p.ID] = &providerState{state: HalfOpen}
	}
	return nil
}

// CanRequest reports whether providerID may currently receive traffic.
// It performs the lazy OPEN→HALF_OPEN transition as a side effect, and
// enforces that only one probe is in flight during HALF_OPEN.
func (b *Breaker) CanRequest(ctx context.Context, providerID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.stateFor(providerID)
	now := b.clock.Now()

	switch ps.state {
	case Open:
		if now.Sub(ps.openedAt) >= b.cfg.OpenTimeout {
			b.transition(ctx, providerID, ps, HalfOpen, "open timeout elapsed, probing")
			ps.probeSentAt = now
			return true
		}
		return false
	case HalfOpen:
		// Only admit one probe at a time; once a probe window has been
		// open past halfOpenTimeout without a verdict, allow another.
		if ps.probeSentAt.IsZero() || now.Sub(ps.probeSentAt) >= b.cfg.HalfOpenTimeout {
			ps.probeSentAt = now
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess registers a successful call against providerID.
func (b *Breaker) RecordSuccess(ctx context.Context, providerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.stateFor(providerID)
	switch ps.state {
	case HalfOpen:
		ps.successes++
		if ps.successes >= b.cfg.SuccessThreshold {
			b.transition(ctx, providerID, ps, Closed, "success threshold reached")
			ps.successes = 0
			ps.failures = 0
			ps.openedAt = time.Time{}
		}
	default:
		ps.failures = 0
	}
}

// RecordFailure registers a failed call against providerID. Only errors
// for which CountsAsFailure() is true should ever reach this method —
// client errors (bad request, auth) must not trip the breaker.
func (b *Breaker) RecordFailure(ctx context.Context, providerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.stateFor(providerID)
	switch ps.state {
	case HalfOpen:
		ps.failures = 0
		ps.successes = 0
		b.transition(ctx, providerID, ps, Open, "failure during half-open probe")
		ps.openedAt = b.clock.Now()
	default:
		ps.failures++
		if ps.failures >= b.cfg.FailureThreshold {
			b.transition(ctx, providerID, ps, Open, "failure threshold exceeded")
			ps.openedAt = b.clock.Now()
		}
	}
}

// Reset forces providerID back to CLOSED, as an admin override.
func (b *Breaker) Reset(ctx context.Context, providerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ps := b.stateFor(providerID)
	b.transition(ctx, providerID, ps, Closed, "manual reset")
	ps.failures = 0
	ps.successes = 0
	ps.openedAt = time.Time{}
	ps.probeSentAt = time.Time{}
}

// State returns the current FSM state for providerID without mutating it.
func (b *Breaker) State(providerID string) State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateFor(providerID).state
}

var mirror = map[State]provider.Status{
	Closed:   provider.StatusActive,
	HalfOpen: provider.StatusDegraded,
	Open:     provider.StatusCircuitOpen,
}

// transition moves ps to `to`, mirrors it onto the Provider store's
// status field, and appends a status-history entry. Caller must hold
// b.mu. Store errors are swallowed: the in-memory FSM is authoritative
// for request admission, and a best-effort mirror write must never
// block or fail a completion call.
func (b *Breaker) transition(ctx context.Context, providerID string, ps *providerState, to State, reason string) {
	if ps.state == to {
		return
	}
	ps.state = to
	newStatus, ok := mirror[to]
	if !ok {
		return
	}
	_ = b.store.SetStatus(ctx, providerID, newStatus, reason)
}
