package tenant

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/aperturecloud/llmgateway/pkg/store"
)

// ErrNotFound mirrors store.ErrNotFound for callers that only import this
// package.
var ErrNotFound = store.ErrNotFound

// Store persists and retrieves Tenants, and applies the narrow set of
// mutations the gateway core needs (suspend/resume, cascading soft
// delete). General tenant CRUD (name changes, billing address, etc.) is
// owned by the external admin surface, not this package.
type Store interface {
	Get(ctx context.Context, tenantID string) (*Tenant, error)
	Upsert(ctx context.Context, t *Tenant) error

	// SetSuspended flips llm_suspended in a single conditional update and
	// returns whether the row changed (used by the quota engine's
	// suspend-on-exceed path).
	SetSuspended(ctx context.Context, tenantID string, suspended bool) (bool, error)

	// SoftDelete marks the tenant deleted without removing it; usage
	// records and audit logs referencing it are retained.
	SoftDelete(ctx context.Context, tenantID string) error
}

// MemoryStore is an in-process Store, used for tests and the SQLite lite
// mode bootstrap.
type MemoryStore struct {
	mu      sync.RWMutex
	tenants map[string]*Tenant
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{tenants: make(map[string]*Tenant)}
}

func (s *MemoryStore) Get(_ context.Context, tenantID string) (*Tenant, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (s *MemoryStore) Upsert(_ context.Context, t *Tenant) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *t
	s.tenants[t.ID] = &cp
	return nil
}

func (s *MemoryStore) SetSuspended(_ context.Context, tenantID string, suspended bool) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return false, store.ErrNotFound
	}
	if t.LLMSuspended == suspended {
		return false, nil
	}
	t.LLMSuspended = suspended
	return true, nil
}

func (s *MemoryStore) SoftDelete(_ context.Context, tenantID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tenants[tenantID]
	if !ok {
		return store.ErrNotFound
	}
	now := time.Now().UTC()
	t.DeletedAt = &now
	t.Status = StatusDeleted
	return nil
}

// PostgresStore implements Store against Postgres, following the same
// upsert-and-JSON-bag shape as the rest of the gateway's stores.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const tenantSchema = `
CREATE TABLE IF NOT EXISTS tenants (
	id               TEXT PRIMARY KEY,
	display_name     TEXT NOT NULL,
	monthly_budget   NUMERIC(20,8),
	daily_limit      NUMERIC(20,8),
	llm_suspended    BOOLEAN NOT NULL DEFAULT FALSE,
	status           TEXT NOT NULL,
	allowed_providers JSONB,
	alert_thresholds  JSONB,
	settings          JSONB,
	created_at       TIMESTAMPTZ NOT NULL,
	deleted_at       TIMESTAMPTZ
);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, tenantSchema)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, tenantID string) (*Tenant, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, display_name, monthly_budget, daily_limit, llm_suspended, status,
		       allowed_providers, alert_thresholds, settings, created_at, deleted_at
		FROM tenants WHERE id = $1
	`, tenantID)

	var (
		t                                    Tenant
		monthlyBudget, dailyLimit            sql.NullString
		allowedJSON, thresholdJSON, settJSON []byte
		deletedAt                            sql.NullTime
	)
	err := row.Scan(&t.ID, &t.DisplayName, &monthlyBudget, &dailyLimit, &t.LLMSuspended, &t.Status,
		&allowedJSON, &thresholdJSON, &settJSON, &t.CreatedAt, &deletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("tenant: get %s: %w", tenantID, err)
	}
	if monthlyBudget.Valid {
		d, decErr := decimal.NewFromString(monthlyBudget.String)
		if decErr != nil {
			return nil, fmt.Errorf("tenant: parse monthly_budget: %w", decErr)
		}
		t.MonthlyBudget = &d
	}
	if dailyLimit.Valid {
		d, decErr := decimal.NewFromString(dailyLimit.String)
		if decErr != nil {
			return nil, fmt.Errorf("tenant: parse daily_limit: %w", decErr)
		}
		t.DailyLimit = &d
	}
	if len(allowedJSON) > 0 {
		_ = json.Unmarshal(allowedJSON, &t.AllowProviders)
	}
	if len(thresholdJSON) > 0 {
		_ = json.Unmarshal(thresholdJSON, &t.AlertThreshold)
	}
	if len(settJSON) > 0 {
		_ = json.Unmarshal(settJSON, &t.Settings)
	}
	if deletedAt.Valid {
		t.DeletedAt = &deletedAt.Time
	}
	return &t, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, t *Tenant) error {
	allowedJSON, _ := json.Marshal(t.AllowProviders)
	thresholdJSON, _ := json.Marshal(t.AlertThreshold)
	settJSON, _ := json.Marshal(t.Settings)

	var monthlyBudget, dailyLimit any
	if t.MonthlyBudget != nil {
		monthlyBudget = t.MonthlyBudget.String()
	}
	if t.DailyLimit != nil {
		dailyLimit = t.DailyLimit.String()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (id, display_name, monthly_budget, daily_limit, llm_suspended, status,
			allowed_providers, alert_thresholds, settings, created_at, deleted_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
		ON CONFLICT (id) DO UPDATE SET
			display_name = EXCLUDED.display_name,
			monthly_budget = EXCLUDED.monthly_budget,
			daily_limit = EXCLUDED.daily_limit,
			llm_suspended = EXCLUDED.llm_suspended,
			status = EXCLUDED.status,
			allowed_providers = EXCLUDED.allowed_providers,
			alert_thresholds = EXCLUDED.alert_thresholds,
			settings = EXCLUDED.settings,
			deleted_at = EXCLUDED.deleted_at
	`, t.ID, t.DisplayName, monthlyBudget, dailyLimit, t.LLMSuspended, t.Status,
		allowedJSON, thresholdJSON, settJSON, t.CreatedAt, t.DeletedAt)
	if err != nil {
		return fmt.Errorf("tenant: upsert %s: %w", t.ID, err)
	}
	return nil
}

func (s *PostgresStore) SetSuspended(ctx context.Context, tenantID string, suspended bool) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET llm_suspended = $2 WHERE id = $1 AND llm_suspended <> $2`,
		tenantID, suspended)
	if err != nil {
		return false, fmt.Errorf("tenant: set suspended %s: %w", tenantID, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (s *PostgresStore) SoftDelete(ctx context.Context, tenantID string) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE tenants SET status = $2, deleted_at = now() WHERE id = $1`,
		tenantID, StatusDeleted)
	if err != nil {
		return fmt.Errorf("tenant: soft delete %s: %w", tenantID, err)
	}
	return nil
}
