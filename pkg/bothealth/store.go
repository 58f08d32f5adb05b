package bothealth

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Store is the append-only Bot Health Log: write-once entries, read back
// per bot (most recent first) for transition detection.
type Store interface {
	Append(ctx context.Context, e *LogEntry) error
	LatestForBot(ctx context.Context, botID string) (*LogEntry, error)
	ListByBot(ctx context.Context, botID string, limit int) ([]*LogEntry, error)
}

// MemoryStore is an in-process Store used for tests and lite mode.
type MemoryStore struct {
	mu    sync.Mutex
	byBot map[string][]*LogEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byBot: make(map[string][]*LogEntry)}
}

func (s *MemoryStore) Append(_ context.Context, e *LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	cp := *e
	s.byBot[e.BotID] = append(s.byBot[e.BotID], &cp)
	return nil
}

func (s *MemoryStore) LatestForBot(_ context.Context, botID string) (*LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.byBot[botID]
	if len(entries) == 0 {
		return nil, nil
	}
	cp := *entries[len(entries)-1]
	return &cp, nil
}

func (s *MemoryStore) ListByBot(_ context.Context, botID string, limit int) ([]*LogEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.byBot[botID]
	if limit > 0 && len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	out := make([]*LogEntry, len(entries))
	for i, e := range entries {
		cp := *e
		out[i] = &cp
	}
	return out, nil
}

// PostgresStore implements Store against Postgres. The table is
// append-only at the application layer here and additionally has
// UPDATE/DELETE revoked from non-migrator roles in the deployment schema.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const healthLogSchema = `
CREATE TABLE IF NOT EXISTS bot_health_log (
	id              TEXT PRIMARY KEY,
	bot_id          TEXT NOT NULL,
	admin_agent_id  TEXT NOT NULL,
	classification  TEXT NOT NULL,
	latency_ms      BIGINT NOT NULL,
	error           TEXT,
	action          TEXT,
	action_result   TEXT,
	checked_at      TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_bot_health_log_bot_checked ON bot_health_log(bot_id, checked_at DESC);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, healthLogSchema)
	return err
}

func (s *PostgresStore) Append(ctx context.Context, e *LogEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO bot_health_log (id, bot_id, admin_agent_id, classification, latency_ms, error, action, action_result, checked_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, e.ID, e.BotID, e.AdminAgentID, e.Classification, e.LatencyMs, e.Error, e.Action, e.ActionResult, e.CheckedAt)
	if err != nil {
		return fmt.Errorf("bothealth: append %s: %w", e.BotID, err)
	}
	return nil
}

func (s *PostgresStore) LatestForBot(ctx context.Context, botID string) (*LogEntry, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, bot_id, admin_agent_id, classification, latency_ms, error, action, action_result, checked_at
		FROM bot_health_log WHERE bot_id = $1 ORDER BY checked_at DESC LIMIT 1
	`, botID)
	e, err := scanLogEntry(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("bothealth: latest %s: %w", botID, err)
	}
	return e, nil
}

func (s *PostgresStore) ListByBot(ctx context.Context, botID string, limit int) ([]*LogEntry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, bot_id, admin_agent_id, classification, latency_ms, error, action, action_result, checked_at
		FROM bot_health_log WHERE bot_id = $1 ORDER BY checked_at DESC LIMIT $2
	`, botID, limit)
	if err != nil {
		return nil, fmt.Errorf("bothealth: list %s: %w", botID, err)
	}
	defer rows.Close()

	var out []*LogEntry
	for rows.Next() {
		e, err := scanLogEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("bothealth: scan: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanLogEntry(row scanner) (*LogEntry, error) {
	var e LogEntry
	var errMsg, action, actionResult sql.NullString
	if err := row.Scan(&e.ID, &e.BotID, &e.AdminAgentID, &e.Classification, &e.LatencyMs,
		&errMsg, &action, &actionResult, &e.CheckedAt); err != nil {
		return nil, err
	}
	e.Error = errMsg.String
	e.Action = action.String
	e.ActionResult = actionResult.String
	return &e, nil
}
