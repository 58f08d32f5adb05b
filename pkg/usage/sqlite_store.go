package usage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// SQLiteStore implements Store against an embedded modernc.org/sqlite
// database, for single-node "lite mode" deployments that want the
// usage ledger to survive a restart without standing up Postgres.
// Schema and query shape mirror PostgresStore; only the placeholder
// syntax differs (SQLite's driver expects positional `?`, not `$N`).
type SQLiteStore struct {
	db *sql.DB
}

func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const sqliteUsageSchema = `
CREATE TABLE IF NOT EXISTS usage_records (
	id            TEXT PRIMARY KEY,
	tenant_id     TEXT NOT NULL,
	agent_id      TEXT,
	provider_id   TEXT NOT NULL,
	model         TEXT,
	input_tokens  INTEGER NOT NULL,
	output_tokens INTEGER NOT NULL,
	cost          TEXT NOT NULL,
	success       INTEGER NOT NULL,
	error_message TEXT,
	latency_ms    INTEGER NOT NULL,
	timestamp     TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_records_tenant_time ON usage_records(tenant_id, timestamp);
`

func (s *SQLiteStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteUsageSchema)
	return err
}

func (s *SQLiteStore) Append(ctx context.Context, r *Record) error {
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
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)
	`, id, r.TenantID, r.AgentID, r.ProviderID, r.Model, r.InputTokens, r.OutputTokens,
		r.Cost.String(), r.Success, r.ErrorMessage, r.LatencyMs, r.Timestamp)
	if err != nil {
		return fmt.Errorf("usage: sqlite append: %w", err)
	}
	return nil
}

// SumCostSince and Totals sum cost in Go rather than in SQL: SQLite
// has no fixed-point NUMERIC type, and summing the TEXT column as
// REAL would reintroduce the float rounding error decimal.Decimal
// exists to avoid.
func (s *SQLiteStore) SumCostSince(ctx context.Context, tenantID string, since time.Time) (decimal.Decimal, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT cost FROM usage_records WHERE tenant_id = ? AND timestamp >= ?
	`, tenantID, since)
	if err != nil {
		return decimal.Zero, fmt.Errorf("usage: sqlite sum cost since: %w", err)
	}
	defer rows.Close()

	sum := decimal.Zero
	for rows.Next() {
		var cost string
		if err := rows.Scan(&cost); err != nil {
			return decimal.Zero, fmt.Errorf("usage: sqlite sum cost since scan: %w", err)
		}
		d, err := decimal.NewFromString(cost)
		if err != nil {
			return decimal.Zero, fmt.Errorf("usage: sqlite sum cost since parse: %w", err)
		}
		sum = sum.Add(d)
	}
	return sum, rows.Err()
}

func (s *SQLiteStore) Totals(ctx context.Context, tenantID string, period Period) (*Totals, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT success, input_tokens, output_tokens, cost
		FROM usage_records WHERE tenant_id = ? AND timestamp >= ? AND timestamp < ?
	`, tenantID, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("usage: sqlite totals: %w", err)
	}
	defer rows.Close()

	t := &Totals{Cost: decimal.Zero}
	for rows.Next() {
		var success bool
		var inputTokens, outputTokens int64
		var cost string
		if err := rows.Scan(&success, &inputTokens, &outputTokens, &cost); err != nil {
			return nil, fmt.Errorf("usage: sqlite totals scan: %w", err)
		}
		d, err := decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("usage: sqlite totals parse cost: %w", err)
		}
		t.RequestCount++
		if success {
			t.SuccessCount++
		} else {
			t.FailureCount++
		}
		t.InputTokens += inputTokens
		t.OutputTokens += outputTokens
		t.Cost = t.Cost.Add(d)
	}
	return t, rows.Err()
}

func (s *SQLiteStore) List(ctx context.Context, tenantID string, period Period) ([]*Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, tenant_id, agent_id, provider_id, model, input_tokens, output_tokens,
		       cost, success, error_message, latency_ms, timestamp
		FROM usage_records WHERE tenant_id = ? AND timestamp >= ? AND timestamp < ?
		ORDER BY timestamp
	`, tenantID, period.Start, period.End)
	if err != nil {
		return nil, fmt.Errorf("usage: sqlite list: %w", err)
	}
	defer rows.Close()

	var out []*Record
	for rows.Next() {
		var r Record
		var agentID, errMsg sql.NullString
		var cost string
		if err := rows.Scan(&r.ID, &r.TenantID, &agentID, &r.ProviderID, &r.Model, &r.InputTokens,
			&r.OutputTokens, &cost, &r.Success, &errMsg, &r.LatencyMs, &r.Timestamp); err != nil {
			return nil, fmt.Errorf("usage: sqlite scan: %w", err)
		}
		r.AgentID = agentID.String
		r.ErrorMessage = errMsg.String
		d, err := decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("usage: sqlite parse record cost: %w", err)
		}
		r.Cost = d
		out = append(out, &r)
	}
	return out, rows.Err()
}
