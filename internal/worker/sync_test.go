package worker

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/game-storage/internal/config"
	"github.com/game-storage/internal/domain"
	"github.com/game-storage/internal/memory"
	"github.com/game-storage/internal/redis"
)

func newTestWorker(t *testing.T, interval time.Duration) (*SyncWorker, *memory.Store, *redis.LeaderboardCache) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	cache := redis.NewWithClient(client, logger)

	store := memory.New()
	w := NewSyncWorker(store, cache, &config.SyncConfig{Interval: interval, BatchSize: 2}, logger)
	return w, store, cache
}

func TestSyncWorker_RunOnceWarmsCache(t *testing.T) {
	w, store, cache := newTestWorker(t, time.Hour)
	ctx := context.Background()

	name := "alice"
	alice, err := store.CreateUser(ctx, domain.NewUser{TelegramID: "1", Username: &name})
	require.NoError(t, err)

	require.NoError(t, store.UpdateLeaderboard(ctx, alice.ID, 300, domain.PeriodDaily))
	require.NoError(t, store.UpdateLeaderboard(ctx, "u2", 200, domain.PeriodDaily))
	require.NoError(t, store.UpdateLeaderboard(ctx, "u3", 100, domain.PeriodDaily))
	require.NoError(t, store.UpdateLeaderboard(ctx, "u2", 50, domain.PeriodWeekly))

	w.RunOnce(ctx)

	// more entries than one batch
	count, err := cache.GetCount(ctx, domain.PeriodDaily)
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)

	entry, err := cache.GetUserRank(ctx, domain.PeriodDaily, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, entry.Rank)
	assert.Equal(t, 300, entry.Score)

	entry, err = cache.GetUserRank(ctx, domain.PeriodWeekly, "u2")
	require.NoError(t, err)
	assert.Equal(t, 50, entry.Score)
}

func TestSyncWorker_SyncPeriodKeepsHigherCachedScore(t *testing.T) {
	w, store, cache := newTestWorker(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.UpdateLeaderboard(ctx, "u1", 100, domain.PeriodMonthly))
	_, err := cache.SetScoreIfBetter(ctx, domain.PeriodMonthly, "u1", 500)
	require.NoError(t, err)

	require.NoError(t, w.SyncPeriod(ctx, domain.PeriodMonthly))

	entry, err := cache.GetUserRank(ctx, domain.PeriodMonthly, "u1")
	require.NoError(t, err)
	assert.Equal(t, 500, entry.Score)
}

func TestSyncWorker_RebuildDropsStaleScores(t *testing.T) {
	w, store, cache := newTestWorker(t, time.Hour)
	ctx := context.Background()

	require.NoError(t, store.UpdateLeaderboard(ctx, "u1", 100, domain.PeriodMonthly))
	_, err := cache.SetScoreIfBetter(ctx, domain.PeriodMonthly, "u1", 500)
	require.NoError(t, err)
	_, err = cache.SetScoreIfBetter(ctx, domain.PeriodMonthly, "ghost", 900)
	require.NoError(t, err)

	require.NoError(t, w.Rebuild(ctx))

	entry, err := cache.GetUserRank(ctx, domain.PeriodMonthly, "u1")
	require.NoError(t, err)
	assert.Equal(t, 100, entry.Score)
	assert.Equal(t, 1, entry.Rank)

	_, err = cache.GetUserRank(ctx, domain.PeriodMonthly, "ghost")
	assert.ErrorIs(t, err, domain.ErrEntryNotFound)
}

func TestSyncWorker_StartStop(t *testing.T) {
	w, store, cache := newTestWorker(t, 20*time.Millisecond)
	ctx := context.Background()

	require.NoError(t, w.Start(ctx))
	assert.True(t, w.IsRunning())
	require.NoError(t, w.Start(ctx))

	require.NoError(t, store.UpdateLeaderboard(ctx, "u1", 42, domain.PeriodAllTime))
	require.Eventually(t, func() bool {
		count, err := cache.GetCount(ctx, domain.PeriodAllTime)
		return err == nil && count == 1
	}, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, w.Stop())
	assert.False(t, w.IsRunning())
	require.NoError(t, w.Stop())

	// the worker can be restarted after a stop
	require.NoError(t, w.Start(ctx))
	require.NoError(t, w.Stop())
}
