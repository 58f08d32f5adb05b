package bothealth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestMemoryStoreAppendAndLatest(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Append(ctx, &LogEntry{BotID: "b1", Classification: Healthy, CheckedAt: time.Now()}))
	require.NoError(t, s.Append(ctx, &LogEntry{BotID: "b1", Classification: Degraded, CheckedAt: time.Now()}))

	latest, err := s.LatestForBot(ctx, "b1")
	require.NoError(t, err)
	require.Equal(t, Degraded, latest.Classification)

	all, err := s.ListByBot(ctx, "b1", 0)
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestMemoryStoreLatestForBotWithNoHistoryIsNil(t *testing.T) {
	s := NewMemoryStore()
	latest, err := s.LatestForBot(context.Background(), "ghost")
	require.NoError(t, err)
	require.Nil(t, latest)
}
