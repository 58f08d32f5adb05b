package provider

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/aperturecloud/llmgateway/pkg/store"
)

// ErrNotFound mirrors store.ErrNotFound for callers that only import this
// package.
var ErrNotFound = store.ErrNotFound

// Filter narrows List to the providers the router cares about.
type Filter struct {
	Model    string   // empty = any
	Statuses []Status // empty = any
	IDs      []string // empty = any (intersected with Statuses/Model)
}

// Store persists Providers and their status-transition history. Status
// is mutated only via SetStatus (the circuit breaker's path), never
// through a general Upsert of the whole row.
type Store interface {
	Get(ctx context.Context, providerID string) (*Provider, error)
	List(ctx context.Context, f Filter) ([]*Provider, error)
	Upsert(ctx context.Context, p *Provider) error
	SetStatus(ctx context.Context, providerID string, to Status, reason string) error
	History(ctx context.Context, providerID string, limit int) ([]StatusHistoryEntry, error)
}

// MemoryStore is an in-process Store used for tests and lite mode.
type MemoryStore struct {
	mu        sync.RWMutex
	providers map[string]*Provider
	history   map[string][]StatusHistoryEntry
	now       func() time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		providers: make(map[string]*Provider),
		history:   make(map[string][]StatusHistoryEntry),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (s *MemoryStore) Get(_ context.Context, providerID string) (*Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.providers[providerID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *MemoryStore) List(_ context.Context, f Filter) ([]*Provider, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowStatus := func(st Status) bool {
		if len(f.Statuses) == 0 {
			return true
		}
		for _, s := range f.Statuses {
			if s == st {
				return true
			}
		}
		return false
	}
	allowID := func(id string) bool {
		if len(f.IDs) == 0 {
			return true
		}
		for _, want := range f.IDs {
			if want == id {
				return true
			}
		}
		return false
	}

	var out []*Provider
	for _, p := range s.providers {
		if f.Model != "" && p.Model != f.Model {
			continue
		}
		if !allowStatus(p.Status) || !allowID(p.ID) {
			continue
		}
		cp := *p
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Priority < out[j].Priority })
	return out, nil
}

func (s *MemoryStore) Upsert(_ context.Context, p *Provider) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *p
	s.providers[p.ID] = &cp
	return nil
}

func (s *MemoryStore) SetStatus(_ context.Context, providerID string, to Status, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.providers[providerID]
	if !ok {
		return store.ErrNotFound
	}
	from := p.Status
	if from == to {
		return nil
	}
	p.Status = to
	p.UpdatedAt = s.now()
	s.history[providerID] = append(s.history[providerID], StatusHistoryEntry{
		ProviderID: providerID, From: from, To: to, Reason: reason, At: p.UpdatedAt,
	})
	return nil
}

func (s *MemoryStore) History(_ context.Context, providerID string, limit int) ([]StatusHistoryEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h := s.history[providerID]
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]StatusHistoryEntry, len(h))
	copy(out, h)
	return out, nil
}

// PostgresStore implements Store against Postgres.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const providerSchema = `
CREATE TABLE IF NOT EXISTS providers (
	id          TEXT PRIMARY KEY,
	name        TEXT NOT NULL,
	type        TEXT NOT NULL,
	model       TEXT NOT NULL,
	priority    INTEGER NOT NULL,
	status      TEXT NOT NULL,
	rate_limit  INTEGER NOT NULL,
	concurrency INTEGER NOT NULL,
	cost_input  NUMERIC(20,10) NOT NULL,
	cost_output NUMERIC(20,10) NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_providers_model_priority ON providers(model, priority);

-- Append-only: a trigger-free convention enforced at the application layer
-- here (see pkg/store.AppendOnly); Postgres deployments additionally
-- REVOKE UPDATE, DELETE on this table for any role but the migrator.
CREATE TABLE IF NOT EXISTS provider_status_history (
	id          BIGSERIAL PRIMARY KEY,
	provider_id TEXT NOT NULL REFERENCES providers(id),
	from_status TEXT NOT NULL,
	to_status   TEXT NOT NULL,
	reason      TEXT,
	at          TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_provider_status_history_provider ON provider_status_history(provider_id, at DESC);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, providerSchema)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, providerID string) (*Provider, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, type, model, priority, status, rate_limit, concurrency,
		       cost_input, cost_output, created_at, updated_at
		FROM providers WHERE id = $1
	`, providerID)
	p, err := scanProvider(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("provider: get %s: %w", providerID, err)
	}
	return p, nil
}

func (s *PostgresStore) List(ctx context.Context, f Filter) ([]*Provider, error) {
	query := `
		SELECT id, name, type, model, priority, status, rate_limit, concurrency,
		       cost_input, cost_output, created_at, updated_at
		FROM providers WHERE 1=1`
	var args []any
	if f.Model != "" {
		args = append(args, f.Model)
		query += fmt.Sprintf(" AND model = $%d", len(args))
	}
	if len(f.Statuses) > 0 {
		placeholders := ""
		for i, st := range f.Statuses {
			args = append(args, string(st))
			if i > 0 {
				placeholders += ","
			}
			placeholders += fmt.Sprintf("$%d", len(args))
		}
		query += fmt.Sprintf(" AND status IN (%s)", placeholders)
	}
	query += " ORDER BY priority ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("provider: list: %w", err)
	}
	defer rows.Close()

	var out []*Provider
	for rows.Next() {
		p, err := scanProvider(rows)
		if err != nil {
			return nil, fmt.Errorf("provider: scan: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanProvider(row scanner) (*Provider, error) {
	var p Provider
	var costIn, costOut string
	if err := row.Scan(&p.ID, &p.Name, &p.Type, &p.Model, &p.Priority, &p.Status,
		&p.RateLimit, &p.Concurrency, &costIn, &costOut, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, err
	}
	if d, err := parseDecimal(costIn); err == nil {
		p.CostInput = d
	}
	if d, err := parseDecimal(costOut); err == nil {
		p.CostOutput = d
	}
	return &p, nil
}

func (s *PostgresStore) Upsert(ctx context.Context, p *Provider) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO providers (id, name, type, model, priority, status, rate_limit, concurrency,
			cost_input, cost_output, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name, type = EXCLUDED.type, model = EXCLUDED.model,
			priority = EXCLUDED.priority, rate_limit = EXCLUDED.rate_limit,
			concurrency = EXCLUDED.concurrency, cost_input = EXCLUDED.cost_input,
			cost_output = EXCLUDED.cost_output, updated_at = EXCLUDED.updated_at
	`, p.ID, p.Name, p.Type, p.Model, p.Priority, p.Status, p.RateLimit, p.Concurrency,
		p.CostInput.String(), p.CostOutput.String(), p.CreatedAt, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("provider: upsert %s: %w", p.ID, err)
	}
	return nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, providerID string, to Status, reason string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("provider: set status begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var from Status
	if err := tx.QueryRowContext(ctx, `SELECT status FROM providers WHERE id = $1 FOR UPDATE`, providerID).Scan(&from); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return fmt.Errorf("provider: set status lookup %s: %w", providerID, err)
	}
	if from == to {
		return tx.Commit()
	}

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE providers SET status = $2, updated_at = $3 WHERE id = $1`, providerID, to, now); err != nil {
		return fmt.Errorf("provider: set status update %s: %w", providerID, err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO provider_status_history (provider_id, from_status, to_status, reason, at)
		VALUES ($1,$2,$3,$4,$5)
	`, providerID, from, to, reason, now); err != nil {
		return fmt.Errorf("provider: append status history %s: %w", providerID, err)
	}
	return tx.Commit()
}

func (s *PostgresStore) History(ctx context.Context, providerID string, limit int) ([]StatusHistoryEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT provider_id, from_status, to_status, reason, at
		FROM provider_status_history WHERE provider_id = $1
		ORDER BY at DESC LIMIT $2
	`, providerID, limit)
	if err != nil {
		return nil, fmt.Errorf("provider: history %s: %w", providerID, err)
	}
	defer rows.Close()

	var out []StatusHistoryEntry
	for rows.Next() {
		var e StatusHistoryEntry
		var reason sql.NullString
		if err := rows.Scan(&e.ProviderID, &e.From, &e.To, &reason, &e.At); err != nil {
			return nil, fmt.Errorf("provider: history scan: %w", err)
		}
		e.Reason = reason.String
		out = append(out, e)
	}
	return out, rows.Err()
}
