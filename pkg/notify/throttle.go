package notify

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/aperturecloud/llmgateway/pkg/alert"
)

// Fingerprint identifies "the same alert" for throttling purposes:
// the same admin agent, type, severity, and subject firing the same
// title within the throttle window is collapsed to a single send.
func Fingerprint(adminAgentID string, a *alert.Alert) string {
	subject := a.BotID
	if subject == "" {
		subject = "system"
	}
	raw := fmt.Sprintf("%s|%s|%s|%s|%s", adminAgentID, a.Type, a.Severity, subject, a.Message)
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:16])
}

// ThrottleStore records the last send time per fingerprint.
type ThrottleStore interface {
	// WasSentRecently reports whether fingerprint was recorded within
	// ThrottleWindow of now.
	WasSentRecently(ctx context.Context, fingerprint string, now time.Time) (bool, error)
	RecordSent(ctx context.Context, fingerprint string, now time.Time) error
}

// MemoryThrottleStore is an in-process ThrottleStore for tests and
// single-node deployments.
type MemoryThrottleStore struct {
	mu       sync.Mutex
	lastSent map[string]time.Time
}

func NewMemoryThrottleStore() *MemoryThrottleStore {
	return &MemoryThrottleStore{lastSent: make(map[string]time.Time)}
}

func (s *MemoryThrottleStore) WasSentRecently(_ context.Context, fingerprint string, now time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	last, ok := s.lastSent[fingerprint]
	if !ok {
		return false, nil
	}
	return now.Sub(last) < ThrottleWindow, nil
}

func (s *MemoryThrottleStore) RecordSent(_ context.Context, fingerprint string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSent[fingerprint] = now
	return nil
}

// RedisThrottleStore is the production ThrottleStore: a SETEX-backed
// cache that lets the throttle window be enforced across replicas
// without a shared database round-trip.
type RedisThrottleStore struct {
	rdb *redis.Client
}

func NewRedisThrottleStore(rdb *redis.Client) *RedisThrottleStore {
	return &RedisThrottleStore{rdb: rdb}
}

func redisThrottleKey(fingerprint string) string {
	return "notify:throttle:" + fingerprint
}

func (s *RedisThrottleStore) WasSentRecently(ctx context.Context, fingerprint string, _ time.Time) (bool, error) {
	_, err := s.rdb.Get(ctx, redisThrottleKey(fingerprint)).Result()
	if err == nil {
		return true, nil
	}
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	return false, fmt.Errorf("notify: throttle lookup: %w", err)
}

func (s *RedisThrottleStore) RecordSent(ctx context.Context, fingerprint string, now time.Time) error {
	if err := s.rdb.Set(ctx, redisThrottleKey(fingerprint), now.Format(time.RFC3339), ThrottleWindow).Err(); err != nil {
		return fmt.Errorf("notify: throttle record: %w", err)
	}
	return nil
}
