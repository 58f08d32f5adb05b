package usage

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Store is the append-only usage record log. SumCostSince makes Store
// satisfy pkg/ratelimit's CostAggregator interface directly.
type Store interface {
	Append(ctx context.Context, r *Record) error
	SumCostSince(ctx context.Context, tenantID string, since time.Time) (decimal.Decimal, error)
	Totals(ctx context.Context, tenantID string, period Period) (*Totals, error)
	List(ctx context.Context, tenantID string, period Period) ([]*Record, error)
}

// MemoryStore is an in-process Store used for tests and lite mode.
type MemoryStore struct {
	mu      sync.RWMutex
	records []*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

func (s *MemoryStore) Append(_ context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *r
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	s.records = append(s.records, &cp)
	return nil
}

func (s *MemoryStore) SumCostSince(_ context.Context, tenantID string, since time.Time) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := decimal.Zero
	for _, r := range s.records {
		if r.TenantID == tenantID && !r.Timestamp.Before(since) {
			total = total.Add(r.Cost)
		}
	}
	return total, nil
}

func (s *MemoryStore) Totals(_ context.Context, tenantID string, period Period) (*Totals, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t := &Totals{Cost: decimal.Zero}
	for _, r := range s.records {
		if r.TenantID != tenantID || r.Timestamp.Before(period.Start) || !r.Timestamp.Before(period.End) {
			continue
		}
		t.RequestCount++
		if r.Success {
			t.SuccessCount++
		} else {
			t.FailureCount++
		}
		t.InputTokens += r.InputTokens
		t.OutputTokens += r.OutputTokens
		t.Cost = t.Cost.Add(r.Cost)
	}
	return t, nil
}

func (s *MemoryStore) List(_ context.Context, tenantID string, period Period) ([]*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*Record
	for _, r := range s.records {
		if r.TenantID != tenantID || r.Timestamp.Before(period.Start) || !r.Timestamp.Before(period.End) {
			continue
		}
		cp := *r
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

const usageSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	agent_id      TEXT,
	provider_id   TEXT NOT NULL,
	model         TEXT,
	input_tokens  BIGINT NOT NULL,
	output_tokens BIGINT NOT NULL,
	cost          NUMERIC(20,10) NOT NULL,
	success       BOOLEAN NOT NULL,
	error_message TEXT,
	latency_ms    BIGINT NOT NULL,
	timestamp     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_tenant_time ON usage_records(tenant_id, timestamp);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, usageSchema)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, r *Record) error {
	if err := r.Validate(); err != nil {
		return err
	}
	id := r.ID
	if id == "" {
		id = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO usage_records (id, tenant_id, agent_id, provider_id, model, input_tokens,
			output_tokens, cost, success, error_message, latency_ms, timestamp)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
	`, id, r.TenantID, r.AgentID, r.ProviderID, r.Model, r.InputTokens, r.OutputTokens,
		r.Cost.String(), r.Success, r.ErrorMessage, r.LatencyMs, r.Timestamp)
	if err != nil {
		return fmt.Errorf("usage: append: %w", err)
	}
	return nil
}

func (s *PostgresStore) SumCostSince(ctx context.Context, tenantID string, since time.Time) (decimal.Decimal, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(cost), 0) FROM usage_records WHERE tenant_id = $1 AND timestamp >= $2
	`, tenantID, since)
	var sum string
	if err := row.Scan(&sum); err != nil {
		return decimal.Zero, fmt.Errorf("usage: sum cost since: %w", err)
	}
	d, err := decimal.NewFromString(sum)
	if err != nil {
		return decimal.Zero, fmt.Errorf("usage: parse cost sum: %w", err)
	}
	return d, nil
}

func (s *PostgresStore) Totals(ctx context.Context, tenantID string, period Period) (*Totals, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(CASE WHEN success THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN success THEN 0 ELSE 1 END), 0),
		       COALESCE(SUM(input_tokens), 0), COALESCE(SUM(output_tokens), 0),
		       COALESCE(SUM(cost), 0)
		FROM usage_records WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp < $3
	`, tenantID, period.Start, period.End)

	var t Totals
	var cost string
	if err := row.Scan(&t.RequestCount, &t.SuccessCount, &t.FailureCount, &t.InputTokens, &t.OutputTokens, &cost); err != nil {
		return nil, fmt.Errorf("usage: totals: %w", err)
	}
	d, err := decimal.NewFromString(cost)
	if err != nil {
		return nil, fmt.Errorf("usage: parse totals cost: %w", err)
	}
	t.Cost = d
	return &t, nil
}

func (s *PostgresStore) List(ctx context.Context, tenantID string, period Period) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, agent_id, provider_id, model, input_tokens, output_tokens,
		       cost, success, error_message, latency_ms, timestamp
		FROM usage_records WHERE tenant_id = $1 AND timestamp >= $2 AND timestamp < $3
		ORDER BY timestamp
	`, tenantID, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("usage: list: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var r Record
		var agentID, errMsg sql.NullString
		var cost string
		if err := rows.Scan(&r.ID, &r.TenantID, &agentID, &r.ProviderID, &r.Model, &r.InputTokens,
			&r.OutputTokens, &cost, &r.Success, &errMsg, &r.LatencyMs, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("usage: scan: %w", err)
		}
		r.AgentID = agentID.String
		r.ErrorMessage = errMsg.String
		d, err := decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("usage: parse record cost: %w", err)
		}
		r.Cost = d
		out = append(out, &r)
	}
	return out, rows.Err()
}
