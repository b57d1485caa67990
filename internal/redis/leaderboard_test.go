package redis

import (
	"context"
	"io"
	"log/slog"
	"testing"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/game-storage/internal/domain"
)

// newTestCache spins up a miniredis server and returns a cache bound to it.
func newTestCache(t *testing.T) *LeaderboardCache {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewWithClient(client, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestLeaderboardCache_SetScoreIfBetter(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	changed, err := cache.SetScoreIfBetter(ctx, domain.PeriodDaily, "u1", 100)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = cache.SetScoreIfBetter(ctx, domain.PeriodDaily, "u1", 50)
	require.NoError(t, err)
	assert.False(t, changed)

	changed, err = cache.SetScoreIfBetter(ctx, domain.PeriodDaily, "u1", 100)
	require.NoError(t, err)
	assert.False(t, changed)

	entry, err := cache.GetUserRank(ctx, domain.PeriodDaily, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, entry.Score)

	changed, err = cache.SetScoreIfBetter(ctx, domain.PeriodDaily, "u1", 150)
	require.NoError(t, err)
	assert.True(t, changed)

	entry, err = cache.GetUserRank(ctx, domain.PeriodDaily, "u1")
	require.NoError(t, err)
	assert.Equal(t, 150, entry.Score)
}

func TestLeaderboardCache_GetTopN(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	for userID, score := range map[string]int{"a": 30, "b": 10, "c": 20} {
		_, err := cache.SetScoreIfBetter(ctx, domain.PeriodWeekly, userID, score)
		require.NoError(t, err)
	}

	top, err := cache.GetTopN(ctx, domain.PeriodWeekly, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)
	assert.Equal(t, "a", top[0].UserID)
	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, 30, top[0].Score)
	assert.Equal(t, "c", top[1].UserID)
	assert.Equal(t, 2, top[1].Rank)

	count, err := cache.GetCount(ctx, domain.PeriodWeekly)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestLeaderboardCache_GetUserRank(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.BatchSetScores(ctx, domain.PeriodAllTime, map[string]int{
		"a": 5, "b": 15, "c": 10,
	}))

	entry, err := cache.GetUserRank(ctx, domain.PeriodAllTime, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, entry.Rank)
	assert.Equal(t, 10, entry.Score)

	_, err = cache.GetUserRank(ctx, domain.PeriodAllTime, "missing")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestLeaderboardCache_BatchSetScoresKeepsBest(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	require.NoError(t, cache.BatchSetScores(ctx, domain.PeriodDaily, map[string]int{"a": 50}))
	require.NoError(t, cache.BatchSetScores(ctx, domain.PeriodDaily, map[string]int{"a": 20}))
	require.NoError(t, cache.BatchSetScores(ctx, domain.PeriodDaily, nil))

	entry, err := cache.GetUserRank(ctx, domain.PeriodDaily, "a")
	require.NoError(t, err)
	assert.Equal(t, 50, entry.Score)
}

func TestLeaderboardCache_ResetPeriod(t *testing.T) {
	cache := newTestCache(t)
	ctx := context.Background()

	_, err := cache.SetScoreIfBetter(ctx, domain.PeriodDaily, "a", 1)
	require.NoError(t, err)
	_, err = cache.SetScoreIfBetter(ctx, domain.PeriodMonthly, "a", 1)
	require.NoError(t, err)

	require.NoError(t, cache.ResetPeriod(ctx, domain.PeriodDaily))

	count, err := cache.GetCount(ctx, domain.PeriodDaily)
	require.NoError(t, err)
	assert.Zero(t, count)
	count, err = cache.GetCount(ctx, domain.PeriodMonthly)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
}
