package alert

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/aperturecloud/llmgateway/pkg/store"
)

// ErrNotFound mirrors store.ErrNotFound for callers that only import
// this package.
var ErrNotFound = store.ErrNotFound

// Store persists Alerts. Unlike the append-only logs, alerts are
// mutated in place for acknowledgement.
type Store interface {
	Create(ctx context.Context, a *Alert) error
	Get(ctx context.Context, alertID string) (*Alert, error)
	FindExisting(ctx context.Context, tenantID string, t Type, threshold *float64, periodAt time.Time) (*Alert, error)
	Acknowledge(ctx context.Context, alertID, userID string, at time.Time) error
	ListByTenant(ctx context.Context, tenantID string, includeAcknowledged bool) ([]*Alert, error)
}

// MemoryStore is an in-process Store used for tests and lite mode.
type MemoryStore struct {
	mu    sync.Mutex
	byID  map[string]*Alert
	order []string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byID: make(map[string]*Alert)}
}

func (s *MemoryStore) Create(_ context.Context, a *Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	cp := *a
	s.byID[a.ID] = &cp
	s.order = append(s.order, a.ID)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, alertID string) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[alertID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (s *MemoryStore) FindExisting(_ context.Context, tenantID string, t Type, threshold *float64, periodAt time.Time) (*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, id := range s.order {
		a := s.byID[id]
		if a.TenantID != tenantID || a.Type != t || a.Acknowledged {
			continue
		}
		if !sameThreshold(a.Threshold, threshold) {
			continue
		}
		if !a.PeriodAt.Equal(periodAt) {
			continue
		}
		cp := *a
		return &cp, nil
	}
	return nil, nil
}

func sameThreshold(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func (s *MemoryStore) Acknowledge(_ context.Context, alertID, userID string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.byID[alertID]
	if !ok {
		return store.ErrNotFound
	}
	if a.Acknowledged {
		if a.AcknowledgedBy == userID {
			return nil
		}
		return &ErrAlreadyAcknowledged{AlertID: alertID}
	}
	a.Acknowledged = true
	a.AcknowledgedBy = userID
	aAt := at
	a.AcknowledgedAt = &aAt
	return nil
}

func (s *MemoryStore) ListByTenant(_ context.Context, tenantID string, includeAcknowledged bool) ([]*Alert, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*Alert
	for _, id := range s.order {
		a := s.byID[id]
		if a.TenantID != tenantID {
			continue
		}
		if a.Acknowledged && !includeAcknowledged {
			continue
		}
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

const alertSchema = `
CREATE TABLE IF NOT EXISTS admin_alerts (
	id              TEXT PRIMARY KEY,
	tenant_id       TEXT NOT NULL,
	bot_id          TEXT,
	type            TEXT NOT NULL,
	severity        TEXT NOT NULL,
	scope           TEXT,
	threshold       DOUBLE PRECISION,
	period_at       TIMESTAMPTZ,
	message         TEXT NOT NULL,
	used            DOUBLE PRECISION,
	"limit"         DOUBLE PRECISION,
	percent_used    DOUBLE PRECISION,
	acknowledged    BOOLEAN NOT NULL DEFAULT FALSE,
	acknowledged_by TEXT,
	acknowledged_at TIMESTAMPTZ,
	channels_sent   JSONB,
	expires_at      TIMESTAMPTZ,
	created_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_admin_alerts_tenant ON admin_alerts(tenant_id, acknowledged);
CREATE INDEX IF NOT EXISTS idx_admin_alerts_dedup ON admin_alerts(tenant_id, type, threshold, period_at);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, alertSchema)
	return err
}

func (s *PostgresStore) Create(ctx context.Context, a *Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	channels, err := json.Marshal(a.ChannelsSent)
	if err != nil {
		return fmt.Errorf("alert: marshal channels: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO admin_alerts (id, tenant_id, bot_id, type, severity, scope, threshold, period_at,
			message, used, "limit", percent_used, acknowledged, channels_sent, expires_at, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)
	`, a.ID, a.TenantID, nullableString(a.BotID), a.Type, a.Severity, nullableString(string(a.Scope)),
		a.Threshold, nullableTime(a.PeriodAt), a.Message, a.Used, a.Limit, a.PercentUsed,
		a.Acknowledged, channels, a.ExpiresAt, a.CreatedAt)
	if err != nil {
		return fmt.Errorf("alert: create: %w", err)
	}
	return nil
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func (s *PostgresStore) Get(ctx context.Context, alertID string) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, bot_id, type, severity, scope, threshold, period_at, message,
		       used, "limit", percent_used, acknowledged, acknowledged_by, acknowledged_at,
		       channels_sent, expires_at, created_at
		FROM admin_alerts WHERE id = $1
	`, alertID)
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("alert: get %s: %w", alertID, err)
	}
	return a, nil
}

func (s *PostgresStore) FindExisting(ctx context.Context, tenantID string, t Type, threshold *float64, periodAt time.Time) (*Alert, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, bot_id, type, severity, scope, threshold, period_at, message,
		       used, "limit", percent_used, acknowledged, acknowledged_by, acknowledged_at,
		       channels_sent, expires_at, created_at
		FROM admin_alerts
		WHERE tenant_id = $1 AND type = $2 AND threshold IS NOT DISTINCT FROM $3
		      AND period_at IS NOT DISTINCT FROM $4 AND acknowledged = FALSE
		LIMIT 1
	`, tenantID, t, threshold, nullableTime(periodAt))
	a, err := scanAlert(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("alert: find existing: %w", err)
	}
	return a, nil
}

type scanner interface{ Scan(dest ...any) error }

func scanAlert(row scanner) (*Alert, error) {
	var a Alert
	var botID, scope, ackBy sql.NullString
	var threshold sql.NullFloat64
	var periodAt, ackAt, expiresAt sql.NullTime
	var channels []byte

	if err := row.Scan(&a.ID, &a.TenantID, &botID, &a.Type, &a.Severity, &scope, &threshold, &periodAt,
		&a.Message, &a.Used, &a.Limit, &a.PercentUsed, &a.Acknowledged, &ackBy, &ackAt, &channels,
		&expiresAt, &a.CreatedAt); err != nil {
		return nil, err
	}
	a.BotID = botID.String
	a.Scope = Scope(scope.String)
	if threshold.Valid {
		a.Threshold = &threshold.Float64
	}
	if periodAt.Valid {
		a.PeriodAt = periodAt.Time
	}
	a.AcknowledgedBy = ackBy.String
	if ackAt.Valid {
		a.AcknowledgedAt = &ackAt.Time
	}
	if expiresAt.Valid {
		a.ExpiresAt = &expiresAt.Time
	}
	if len(channels) > 0 {
		_ = json.Unmarshal(channels, &a.ChannelsSent)
	}
	return &a, nil
}

func (s *PostgresStore) Acknowledge(ctx context.Context, alertID, userID string, at time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("alert: acknowledge begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var acked bool
	var ackBy sql.NullString
	if err := tx.QueryRowContext(ctx, `SELECT acknowledged, acknowledged_by FROM admin_alerts WHERE id = $1 FOR UPDATE`, alertID).
		Scan(&acked, &ackBy); err != nil {
		if err == sql.ErrNoRows {
			return store.ErrNotFound
		}
		return fmt.Errorf("alert: acknowledge lookup %s: %w", alertID, err)
	}
	if acked {
		if ackBy.String == userID {
			return tx.Commit()
		}
		return &ErrAlreadyAcknowledged{AlertID: alertID}
	}

	if _, err := tx.ExecContext(ctx, `
		UPDATE admin_alerts SET acknowledged = TRUE, acknowledged_by = $2, acknowledged_at = $3 WHERE id = $1
	`, alertID, userID, at); err != nil {
		return fmt.Errorf("alert: acknowledge update %s: %w", alertID, err)
	}
	return tx.Commit()
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID string, includeAcknowledged bool) ([]*Alert, error) {
	query := `
		SELECT id, tenant_id, bot_id, type, severity, scope, threshold, period_at, message,
		       used, "limit", percent_used, acknowledged, acknowledged_by, acknowledged_at,
		       channels_sent, expires_at, created_at
		FROM admin_alerts WHERE tenant_id = $1`
	if !includeAcknowledged {
		query += " AND acknowledged = FALSE"
	}
	query += " ORDER BY created_at DESC"

	rows, err := s.db.QueryContext(ctx, query, tenantID)
	if err != nil {
		return nil, fmt.Errorf("alert: list %s: %w", tenantID, err)
	}
	defer rows.Close()

	var out []*Alert
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, fmt.Errorf("alert: scan: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
