package bot

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/aperturecloud/llmgateway/pkg/store"
)

// ErrNotFound mirrors store.ErrNotFound for callers that only import this
// package.
var ErrNotFound = store.ErrNotFound

// Store persists Bots and their owning AdminAgent.
type Store interface {
	Get(ctx context.Context, botID string) (*Bot, error)
	ListByTenant(ctx context.Context, tenantID string) ([]*Bot, error)
	Upsert(ctx context.Context, b *Bot) error

	GetAdminAgent(ctx context.Context, tenantID string) (*AdminAgent, error)
	UpsertAdminAgent(ctx context.Context, a *AdminAgent) error
	ListAdminAgents(ctx context.Context) ([]*AdminAgent, error)
}

// MemoryStore is an in-process Store used for tests and lite mode.
type MemoryStore struct {
	mu     sync.RWMutex
	bots   map[string]*Bot
	agents map[string]*AdminAgent // keyed by tenant ID
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{bots: make(map[string]*Bot), agents: make(map[string]*AdminAgent)}
}

func (s *MemoryStore) Get(_ context.Context, botID string) (*Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.bots[botID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *b
	return &cp, nil
}

func (s *MemoryStore) ListByTenant(_ context.Context, tenantID string) ([]*Bot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Bot
	for _, b := range s.bots {
		if b.TenantID == tenantID {
			cp := *b
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *MemoryStore) Upsert(_ context.Context, b *Bot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *b
	s.bots[b.ID] = &cp
	return nil
}

func (s *MemoryStore) GetAdminAgent(_ context.Context, tenantID string) (*AdminAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[tenantID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) UpsertAdminAgent(_ context.Context, a *AdminAgent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *a
	s.agents[a.TenantID] = &cp
	return nil
}

func (s *MemoryStore) ListAdminAgents(_ context.Context) ([]*AdminAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*AdminAgent, 0, len(s.agents))
	for _, a := range s.agents {
		cp := *a
		out = append(out, &cp)
	}
	return out, nil
}

// PostgresStore implements Store against Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const botSchema = `
CREATE TABLE IF NOT EXISTS bots (
	id         TEXT PRIMARY KEY,
	tenant_id  TEXT NOT NULL,
	name       TEXT NOT NULL,
	enabled    BOOLEAN NOT NULL DEFAULT TRUE,
	metadata   JSONB,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bots_tenant ON bots(tenant_id);

CREATE TABLE IF NOT EXISTS admin_agents (
	id                          TEXT PRIMARY KEY,
	tenant_id                   TEXT NOT NULL UNIQUE,
	status                      TEXT NOT NULL,
	health_check_enabled        BOOLEAN NOT NULL DEFAULT TRUE,
	health_check_interval_ms    BIGINT NOT NULL,
	health_check_timeout_ms     BIGINT NOT NULL,
	max_restart_attempts        INTEGER NOT NULL,
	latency_alert_threshold_ms  BIGINT NOT NULL,
	error_rate_alert_threshold  DOUBLE PRECISION NOT NULL,
	auto_restart_enabled        BOOLEAN NOT NULL DEFAULT FALSE,
	auto_rollback_enabled       BOOLEAN NOT NULL DEFAULT FALSE,
	created_at                  TIMESTAMPTZ NOT NULL
);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, botSchema)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, botID string) (*Bot, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, name, enabled, metadata, created_at FROM bots WHERE id = $1
	`, botID)
	b, err := scanBot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bot: get %s: %w", botID, err)
	}
	return b, nil
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID string) ([]*Bot, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, name, enabled, metadata, created_at FROM bots WHERE tenant_id = $1
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("bot: list %s: %w", tenantID, err)
	}
	defer rows.Close()

	var out []*Bot
	for rows.Next() {
		b, err := scanBot(rows)
		if err != nil {
			return nil, fmt.Errorf("bot: scan: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanBot(row scanner) (*Bot, error) {
	var b Bot
	var metaJSON []byte
	if err := row.Scan(&b.ID, &b.TenantID, &b.Name, &b.Enabled, &metaJSON, &b.CreatedAt); err != nil {
		return nil, err
	}
	if len(metaJSON) > 0 {
		_ = json.Unmarshal(metaJSON, &b.Metadata)
	}
	return &b, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, b *Bot) error {
	metaJSON, _ := json.Marshal(b.Metadata)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bots (id, tenant_id, name, enabled, metadata, created_at)
		VALUES ($1,$2,$3,$4,$5,$6)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, enabled = EXCLUDED.enabled, metadata = EXCLUDED.metadata
	`, b.ID, b.TenantID, b.Name, b.Enabled, metaJSON, b.CreatedAt)
	if err != nil {
		return fmt.Errorf("bot: upsert %s: %w", b.ID, err)
	}
	return nil
}

func (s *PostgresStore) GetAdminAgent(ctx context.Context, tenantID string) (*AdminAgent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, status, health_check_enabled, health_check_interval_ms,
		       health_check_timeout_ms, max_restart_attempts, latency_alert_threshold_ms,
		       error_rate_alert_threshold, auto_restart_enabled, auto_rollback_enabled, created_at
		FROM admin_agents WHERE tenant_id = $1
	`, tenantID)
	a, err := scanAdminAgent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("bot: get admin agent %s: %w", tenantID, err)
	}
	return a, nil
}

func (s *PostgresStore) ListAdminAgents(ctx context.Context) ([]*AdminAgent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, status, health_check_enabled, health_check_interval_ms,
		       health_check_timeout_ms, max_restart_attempts, latency_alert_threshold_ms,
		       error_rate_alert_threshold, auto_restart_enabled, auto_rollback_enabled, created_at
		FROM admin_agents
	`)
	if err != nil {
		return nil, fmt.Errorf("bot: list admin agents: %w", err)
	}
	defer rows.Close()

	var out []*AdminAgent
	for rows.Next() {
		a, err := scanAdminAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("bot: scan admin agent: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func scanAdminAgent(row scanner) (*AdminAgent, error) {
	var a AdminAgent
	var intervalMs, timeoutMs int64
	if err := row.Scan(&a.ID, &a.TenantID, &a.Status, &a.HealthCheckEnabled, &intervalMs,
		&timeoutMs, &a.MaxRestartAttempts, &a.LatencyAlertThresholdMs,
		&a.ErrorRateAlertThreshold, &a.AutoRestartEnabled, &a.AutoRollbackEnabled, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.HealthCheckInterval = time.Duration(intervalMs) * time.Millisecond
	a.HealthCheckTimeout = time.Duration(timeoutMs) * time.Millisecond
	return &a, nil
}

func (s *PostgresStore) UpsertAdminAgent(ctx context.Context, a *AdminAgent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO admin_agents (id, tenant_id, status, health_check_enabled, health_check_interval_ms,
			health_check_timeout_ms, max_restart_attempts, latency_alert_threshold_ms,
			error_rate_alert_threshold, auto_restart_enabled, auto_rollback_enabled, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (tenant_id) DO UPDATE SET
			status = EXCLUDED.status, health_check_enabled = EXCLUDED.health_check_enabled,
			health_check_interval_ms = EXCLUDED.health_check_interval_ms,
			health_check_timeout_ms = EXCLUDED.health_check_timeout_ms,
			max_restart_attempts = EXCLUDED.max_restart_attempts,
			latency_alert_threshold_ms = EXCLUDED.latency_alert_threshold_ms,
			error_rate_alert_threshold = EXCLUDED.error_rate_alert_threshold,
			auto_restart_enabled = EXCLUDED.auto_restart_enabled,
			auto_rollback_enabled = EXCLUDED.auto_rollback_enabled
	`, a.ID, a.TenantID, a.Status, a.HealthCheckEnabled, a.HealthCheckInterval.Milliseconds(),
		a.HealthCheckTimeout.Milliseconds(), a.MaxRestartAttempts, a.LatencyAlertThresholdMs,
		a.ErrorRateAlertThreshold, a.AutoRestartEnabled, a.AutoRollbackEnabled, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("bot: upsert admin agent %s: %w", a.TenantID, err)
	}
	return nil
}
