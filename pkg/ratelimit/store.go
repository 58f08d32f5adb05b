package ratelimit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store, used for tests and lite mode.
type MemoryStore struct {
	mu      sync.Mutex
	windows map[string]*Window
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{windows: make(map[string]*Window)}
}

func (s *MemoryStore) Increment(_ context.Context, key string, windowStart time.Time, requests, tokens int64) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[key]
	if !ok || !w.WindowStart.Equal(windowStart) {
		w = &Window{Key: key, WindowStart: windowStart}
		s.windows[key] = w
	}
	w.RequestCount += requests
	w.TokenCount += tokens
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) Peek(_ context.Context, key string, windowStart time.Time) (*Window, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok || !w.WindowStart.Equal(windowStart) {
		return &Window{Key: key, WindowStart: windowStart}, nil
	}
	cp := *w
	return &cp, nil
}

func (s *MemoryStore) RecentRequestCount(_ context.Context, key string, since time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[key]
	if !ok {
		return 0, nil
	}
	if w.end().Before(since) {
		return 0, nil
	}
	return w.RequestCount, nil
}

func (s *MemoryStore) DeleteExpired(_ context.Context, cutoff time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k, w := range s.windows {
		if w.end().Before(cutoff) {
			delete(s.windows, k)
		}
	}
	return nil
}

func (s *MemoryStore) DeleteByPrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range s.windows {
		if strings.HasPrefix(k, prefix) {
			delete(s.windows, k)
		}
	}
	return nil
}

// PostgresStore implements Store against Postgres with an atomic
// upsert-or-reset per window, following the same conditional-update
// shape used across the gateway's other stores.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const rateLimitSchema = `
CREATE TABLE IF NOT EXISTS rate_limit_windows (
	key            TEXT PRIMARY KEY,
	window_start   TIMESTAMPTZ NOT NULL,
	request_count  BIGINT NOT NULL DEFAULT 0,
	token_count    BIGINT NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_rate_limit_windows_start ON rate_limit_windows(window_start);
`

func (s *PostgresStore) Init(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, rateLimitSchema)
	return err
}

func (s *PostgresStore) Increment(ctx context.Context, key string, windowStart time.Time, requests, tokens int64) (*Window, error) {
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO rate_limit_windows (key, window_start, request_count, token_count)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (key) DO UPDATE SET
			request_count = CASE WHEN rate_limit_windows.window_start = EXCLUDED.window_start
				THEN rate_limit_windows.request_count + EXCLUDED.request_count
				ELSE EXCLUDED.request_count END,
			token_count = CASE WHEN rate_limit_windows.window_start = EXCLUDED.window_start
				THEN rate_limit_windows.token_count + EXCLUDED.token_count
				ELSE EXCLUDED.token_count END,
			window_start = EXCLUDED.window_start
		RETURNING window_start, request_count, token_count
	`, key, windowStart, requests, tokens)

	var w Window
	w.Key = key
	if err := row.Scan(&w.WindowStart, &w.RequestCount, &w.TokenCount); err != nil {
		return nil, fmt.Errorf("ratelimit: increment %s: %w", key, err)
	}
	return &w, nil
}

func (s *PostgresStore) Peek(ctx context.Context, key string, windowStart time.Time) (*Window, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT window_start, request_count, token_count FROM rate_limit_windows WHERE key = $1
	`, key)

	var w Window
	w.Key = key
	err := row.Scan(&w.WindowStart, &w.RequestCount, &w.TokenCount)
	if err == sql.ErrNoRows {
		return &Window{Key: key, WindowStart: windowStart}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("ratelimit: peek %s: %w", key, err)
	}
	if !w.WindowStart.Equal(windowStart) {
		return &Window{Key: key, WindowStart: windowStart}, nil
	}
	return &w, nil
}

func (s *PostgresStore) RecentRequestCount(ctx context.Context, key string, since time.Time) (int64, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT COALESCE(request_count, 0) FROM rate_limit_windows
		WHERE key = $1 AND window_start + interval '60 seconds' >= $2
	`, key, since)
	var n int64
	if err := row.Scan(&n); err != nil {
		if err == sql.ErrNoRows {
			return 0, nil
		}
		return 0, fmt.Errorf("ratelimit: recent request count %s: %w", key, err)
	}
	return n, nil
}

func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM rate_limit_windows WHERE window_start + interval '60 seconds' < $1
	`, cutoff)
	if err != nil {
		return fmt.Errorf("ratelimit: delete expired: %w", err)
	}
	return nil
}

func (s *PostgresStore) DeleteByPrefix(ctx context.Context, prefix string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM rate_limit_windows WHERE key LIKE $1`, prefix+"%")
	if err != nil {
		return fmt.Errorf("ratelimit: delete by prefix %s: %w", prefix, err)
	}
	return nil
}
