package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/game-storage/internal/domain"
	"github.com/game-storage/internal/storage"
	"github.com/game-storage/internal/storage/storagetest"
)

// fakeClock hands out a fixed time that tests advance explicitly
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 3, 1, 9, 30, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestStore_Repository(t *testing.T) {
	storagetest.RunRepositoryTests(t, func(t *testing.T) storage.Repository {
		return New()
	})
}

func TestStore_ResetDailyRewardsStampsOneDayAhead(t *testing.T) {
	clock := newFakeClock()
	store := New(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.ResetDailyRewards(ctx, "u1"))

	rewards, err := store.GetDailyRewards(ctx, "u1")
	require.NoError(t, err)
	require.Len(t, rewards, 7)
	for _, r := range rewards {
		assert.Equal(t, clock.Now().Add(24*time.Hour), r.ResetAt)
	}
}

func TestStore_ClaimDailyRewardStampsClaimTime(t *testing.T) {
	clock := newFakeClock()
	store := New(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.ResetDailyRewards(ctx, "u1"))
	clock.Advance(time.Hour)

	claimed, err := store.ClaimDailyReward(ctx, "u1", 2)
	require.NoError(t, err)
	require.NotNil(t, claimed.ClaimedAt)
	assert.Equal(t, clock.Now(), *claimed.ClaimedAt)

	// the returned row is a copy
	*claimed.ClaimedAt = time.Time{}
	claimed.Claimed = false
	rewards, err := store.GetDailyRewards(ctx, "u1")
	require.NoError(t, err)
	assert.True(t, rewards[1].Claimed)
	assert.Equal(t, clock.Now(), *rewards[1].ClaimedAt)
}

func TestStore_ClaimFailureLeavesStateUnchanged(t *testing.T) {
	clock := newFakeClock()
	store := New(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.ResetDailyRewards(ctx, "u1"))
	_, err := store.ClaimDailyReward(ctx, "u1", 1)
	require.NoError(t, err)
	before, err := store.GetDailyRewards(ctx, "u1")
	require.NoError(t, err)

	clock.Advance(time.Minute)
	_, err = store.ClaimDailyReward(ctx, "u1", 1)
	require.ErrorIs(t, err, domain.ErrRewardAlreadyClaimed)

	after, err := store.GetDailyRewards(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStore_DuplicateTelegramIDCreatesTwoUsers(t *testing.T) {
	clock := newFakeClock()
	store := New(WithClock(clock.Now))
	ctx := context.Background()

	first, err := store.CreateUser(ctx, domain.NewUser{TelegramID: "42"})
	require.NoError(t, err)
	clock.Advance(time.Second)
	second, err := store.CreateUser(ctx, domain.NewUser{TelegramID: "42"})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	got, err := store.GetUserByTelegramID(ctx, "42")
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
}

func TestStore_DuplicateTelegramIDSameInstantResolvesToFirst(t *testing.T) {
	clock := newFakeClock()
	ids := []string{"zz", "mm", "aa"}
	store := New(WithClock(clock.Now), WithIDGenerator(func() string {
		id := ids[0]
		ids = ids[1:]
		return id
	}))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := store.CreateUser(ctx, domain.NewUser{TelegramID: "42"})
		require.NoError(t, err)
	}

	for i := 0; i < 20; i++ {
		got, err := store.GetUserByTelegramID(ctx, "42")
		require.NoError(t, err)
		assert.Equal(t, "zz", got.ID)
	}
}

func TestStore_CreatePlayerLastWriteWins(t *testing.T) {
	store := New()
	ctx := context.Background()

	_, err := store.CreatePlayer(ctx, domain.NewPlayer{UserID: "u1", Coins: 5})
	require.NoError(t, err)
	second, err := store.CreatePlayer(ctx, domain.NewPlayer{UserID: "u1", Coins: 9})
	require.NoError(t, err)

	got, err := store.GetPlayer(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, second.ID, got.ID)
	assert.Equal(t, 9, got.Coins)
}

func TestStore_UpdatePlayerRefreshesUpdatedAt(t *testing.T) {
	clock := newFakeClock()
	store := New(WithClock(clock.Now))
	ctx := context.Background()

	created, err := store.CreatePlayer(ctx, domain.NewPlayer{UserID: "u1"})
	require.NoError(t, err)
	clock.Advance(time.Minute)

	updated, err := store.UpdatePlayer(ctx, "u1", domain.PlayerPatch{Level: domain.Int(3)})
	require.NoError(t, err)
	assert.Equal(t, 3, updated.Level)
	assert.Equal(t, created.UpdatedAt.Add(time.Minute), updated.UpdatedAt)
}

func TestStore_LeaderboardJoinWithMissingUser(t *testing.T) {
	store := New()
	ctx := context.Background()

	require.NoError(t, store.UpdateLeaderboard(ctx, "ghost", 10, domain.PeriodDaily))

	entries, err := store.GetLeaderboard(ctx, domain.PeriodDaily, 10)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "ghost", entries[0].UserID)
	assert.Nil(t, entries[0].User)
}

func TestStore_LeaderboardIgnoresLowerScoreTimestamp(t *testing.T) {
	clock := newFakeClock()
	store := New(WithClock(clock.Now))
	ctx := context.Background()

	require.NoError(t, store.UpdateLeaderboard(ctx, "u1", 100, domain.PeriodDaily))
	first, err := store.GetLeaderboard(ctx, domain.PeriodDaily, 1)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	require.NoError(t, store.UpdateLeaderboard(ctx, "u1", 80, domain.PeriodDaily))
	second, err := store.GetLeaderboard(ctx, domain.PeriodDaily, 1)
	require.NoError(t, err)
	assert.Equal(t, first[0].UpdatedAt, second[0].UpdatedAt)

	require.NoError(t, store.UpdateLeaderboard(ctx, "u1", 120, domain.PeriodDaily))
	third, err := store.GetLeaderboard(ctx, domain.PeriodDaily, 1)
	require.NoError(t, err)
	assert.Equal(t, clock.Now(), third[0].UpdatedAt)
	assert.Equal(t, first[0].ID, third[0].ID)
}

func TestStore_UpdateLeaderboardRejectsEmptyPeriod(t *testing.T) {
	store := New()
	err := store.UpdateLeaderboard(context.Background(), "u1", 1, "")
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestStore_ConcurrentLeaderboardUpdates(t *testing.T) {
	store := New()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 1; i <= 200; i++ {
		wg.Add(1)
		go func(score int) {
			defer wg.Done()
			userID := fmt.Sprintf("u%d", score%10)
			_ = store.UpdateLeaderboard(ctx, userID, score, domain.PeriodAllTime)
		}(i)
	}
	wg.Wait()

	entries, err := store.GetLeaderboard(ctx, domain.PeriodAllTime, 100)
	require.NoError(t, err)
	require.Len(t, entries, 10)
	// best score for u0 is 200, for u1 it is 191, ...
	assert.Equal(t, 200, entries[0].Score)
	assert.Equal(t, "u0", entries[0].UserID)
	assert.Equal(t, 199, entries[1].Score)
	assert.Equal(t, 191, entries[9].Score)
}

func TestStore_MergeLeaderboardScoreDoesNotReportTies(t *testing.T) {
	store := New()
	ctx := context.Background()

	improved, err := store.MergeLeaderboardScore(ctx, "u1", 10, domain.PeriodDaily)
	require.NoError(t, err)
	assert.True(t, improved)

	improved, err = store.MergeLeaderboardScore(ctx, "u1", 10, domain.PeriodDaily)
	require.NoError(t, err)
	assert.False(t, improved)

	_, err = store.MergeLeaderboardScore(ctx, "u1", 10, "")
	assert.ErrorIs(t, err, domain.ErrInvalidPeriod)
}

func TestStore_WithIDGenerator(t *testing.T) {
	n := 0
	store := New(WithIDGenerator(func() string {
		n++
		return fmt.Sprintf("id-%d", n)
	}))

	user, err := store.CreateUser(context.Background(), domain.NewUser{TelegramID: "1"})
	require.NoError(t, err)
	assert.Equal(t, "id-1", user.ID)
}
