// Package storagetest holds the behavioural test suite every storage.Repository must pass.
package storagetest

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/game-storage/internal/domain"
	"github.com/game-storage/internal/storage"
)

// Factory returns a fresh repository for a single test
type Factory func(t *testing.T) storage.Repository

// RunRepositoryTests runs the shared repository behaviour tests against newRepo
func RunRepositoryTests(t *testing.T, newRepo Factory) {
	t.Run("CreateAndGetUser", func(t *testing.T) { testCreateAndGetUser(t, newRepo(t)) })
	t.Run("GetUserByTelegramID", func(t *testing.T) { testGetUserByTelegramID(t, newRepo(t)) })
	t.Run("Players", func(t *testing.T) { testPlayers(t, newRepo(t)) })
	t.Run("ApplyPlayerProgress", func(t *testing.T) { testApplyPlayerProgress(t, newRepo(t)) })
	t.Run("ApplyPlayerProgressConcurrent", func(t *testing.T) { testApplyPlayerProgressConcurrent(t, newRepo(t)) })
	t.Run("DailyRewardCycle", func(t *testing.T) { testDailyRewardCycle(t, newRepo(t)) })
	t.Run("ClaimDailyReward", func(t *testing.T) { testClaimDailyReward(t, newRepo(t)) })
	t.Run("Achievements", func(t *testing.T) { testAchievements(t, newRepo(t)) })
	t.Run("RecentScores", func(t *testing.T) { testRecentScores(t, newRepo(t)) })
	t.Run("LeaderboardBestScoreWins", func(t *testing.T) { testLeaderboardBestScoreWins(t, newRepo(t)) })
	t.Run("MergeLeaderboardScore", func(t *testing.T) { testMergeLeaderboardScore(t, newRepo(t)) })
	t.Run("LeaderboardRanking", func(t *testing.T) { testLeaderboardRanking(t, newRepo(t)) })
	t.Run("Periods", func(t *testing.T) { testPeriods(t, newRepo(t)) })
}

func str(s string) *string { return &s }

// uniquePeriod keeps leaderboard tests isolated on shared databases
func uniquePeriod(prefix string) domain.Period {
	return domain.Period(fmt.Sprintf("%s-%s", prefix, uuid.NewString()[:8]))
}

func createUser(t *testing.T, repo storage.Repository, name string) *domain.User {
	t.Helper()
	user, err := repo.CreateUser(context.Background(), domain.NewUser{
		TelegramID: "tg-" + uuid.NewString(),
		Username:   str(name),
	})
	require.NoError(t, err)
	return user
}

func testCreateAndGetUser(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	before := time.Now().Add(-time.Second)

	created, err := repo.CreateUser(ctx, domain.NewUser{
		TelegramID: "tg-" + uuid.NewString(),
		Username:   str("neo"),
		FirstName:  str("Thomas"),
		LastName:   str("Anderson"),
	})
	require.NoError(t, err)
	require.NotEmpty(t, created.ID)
	assert.WithinRange(t, created.CreatedAt, before, time.Now().Add(time.Second))

	got, err := repo.GetUser(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, created.TelegramID, got.TelegramID)
	assert.Equal(t, created.Username, got.Username)
	assert.Equal(t, created.FirstName, got.FirstName)
	assert.Equal(t, created.LastName, got.LastName)
	assert.Nil(t, got.PhotoURL)
	assert.True(t, created.CreatedAt.Equal(got.CreatedAt))

	_, err = repo.GetUser(ctx, uuid.NewString())
	assert.ErrorIs(t, err, domain.ErrUserNotFound)
}

func testGetUserByTelegramID(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	telegramID := "tg-" + uuid.NewString()

	_, err := repo.GetUserByTelegramID(ctx, telegramID)
	assert.ErrorIs(t, err, domain.ErrUserNotFound)

	created, err := repo.CreateUser(ctx, domain.NewUser{TelegramID: telegramID})
	require.NoError(t, err)

	got, err := repo.GetUserByTelegramID(ctx, telegramID)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func testPlayers(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	user := createUser(t, repo, "player")

	_, err := repo.GetPlayer(ctx, user.ID)
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

	_, err = repo.UpdatePlayer(ctx, user.ID, domain.PlayerPatch{Coins: domain.Int(1)})
	assert.ErrorIs(t, err, domain.ErrPlayerNotFound)

	created, err := repo.CreatePlayer(ctx, domain.NewPlayer{UserID: user.ID, Coins: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, created.Level)
	assert.Equal(t, 10, created.Coins)

	updated, err := repo.UpdatePlayer(ctx, user.ID, domain.PlayerPatch{
		Coins:      domain.Int(42),
		Experience: domain.Int(7),
	})
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, 42, updated.Coins)
	assert.Equal(t, 7, updated.Experience)
	assert.Equal(t, 1, updated.Level)
	assert.False(t, updated.UpdatedAt.Before(created.UpdatedAt))

	got, err := repo.GetPlayer(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, 42, got.Coins)
}

func testDailyRewardCycle(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	user := createUser(t, repo, "rewards")

	rewards, err := repo.GetDailyRewards(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, rewards)

	before := time.Now().Truncate(time.Millisecond)
	require.NoError(t, repo.ResetDailyRewards(ctx, user.ID))
	after := time.Now().Add(time.Millisecond)

	rewards, err = repo.GetDailyRewards(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, rewards, domain.RewardCycleDays)
	for i, r := range rewards {
		assert.Equal(t, i+1, r.Day)
		assert.False(t, r.Claimed)
		assert.Nil(t, r.ClaimedAt)
		assert.WithinRange(t, r.ResetAt, before.Add(24*time.Hour), after.Add(24*time.Hour))
	}

	// a reset discards claims in progress
	_, err = repo.ClaimDailyReward(ctx, user.ID, 1)
	require.NoError(t, err)
	require.NoError(t, repo.ResetDailyRewards(ctx, user.ID))

	rewards, err = repo.GetDailyRewards(ctx, user.ID)
	require.NoError(t, err)
	require.Len(t, rewards, domain.RewardCycleDays)
	for _, r := range rewards {
		assert.False(t, r.Claimed)
	}
}

func testClaimDailyReward(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	user := createUser(t, repo, "claimer")

	_, err := repo.ClaimDailyReward(ctx, user.ID, 1)
	assert.ErrorIs(t, err, domain.ErrRewardNotFound)

	require.NoError(t, repo.ResetDailyRewards(ctx, user.ID))

	_, err = repo.ClaimDailyReward(ctx, user.ID, 8)
	assert.ErrorIs(t, err, domain.ErrRewardNotFound)

	claimed, err := repo.ClaimDailyReward(ctx, user.ID, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, claimed.Day)
	assert.True(t, claimed.Claimed)
	require.NotNil(t, claimed.ClaimedAt)

	_, err = repo.ClaimDailyReward(ctx, user.ID, 3)
	assert.ErrorIs(t, err, domain.ErrRewardAlreadyClaimed)

	rewards, err := repo.GetDailyRewards(ctx, user.ID)
	require.NoError(t, err)
	for _, r := range rewards {
		if r.Day == 3 {
			assert.True(t, r.Claimed)
			require.NotNil(t, r.ClaimedAt)
			assert.True(t, claimed.ClaimedAt.Equal(*r.ClaimedAt))
			continue
		}
		assert.False(t, r.Claimed)
		assert.Nil(t, r.ClaimedAt)
	}
}

func testAchievements(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	user := createUser(t, repo, "achiever")

	list, err := repo.GetAchievements(ctx, user.ID)
	require.NoError(t, err)
	assert.Empty(t, list)

	in := domain.NewAchievement{
		UserID:      user.ID,
		Type:        "first_win",
		Title:       "First Win",
		Description: "Win a game",
		Reward:      50,
	}
	first, err := repo.AddAchievement(ctx, in)
	require.NoError(t, err)
	assert.NotEmpty(t, first.ID)
	assert.Equal(t, 50, first.Reward)

	// duplicates are allowed
	second, err := repo.AddAchievement(ctx, in)
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	list, err = repo.GetAchievements(ctx, user.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func testRecentScores(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	user := createUser(t, repo, "scorer")

	first, err := repo.AddGameScore(ctx, domain.NewGameScore{UserID: user.ID, GameMode: "classic", Score: 10})
	require.NoError(t, err)
	time.Sleep(10 * time.Millisecond)
	second, err := repo.AddGameScore(ctx, domain.NewGameScore{UserID: user.ID, GameMode: "classic", Score: 20})
	require.NoError(t, err)
	require.True(t, second.PlayedAt.After(first.PlayedAt))

	recent, err := repo.GetRecentScores(ctx, user.ID, 1)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, second.ID, recent[0].ID)

	recent, err = repo.GetRecentScores(ctx, user.ID, 0)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, second.ID, recent[0].ID)
	assert.Equal(t, first.ID, recent[1].ID)
}

func scoreOf(t *testing.T, repo storage.Repository, period domain.Period, userID string) int {
	t.Helper()
	entries, err := repo.GetLeaderboard(context.Background(), period, 100)
	require.NoError(t, err)
	for _, e := range entries {
		if e.UserID == userID {
			return e.Score
		}
	}
	t.Fatalf("user %s not on leaderboard %s", userID, period)
	return 0
}

func testLeaderboardBestScoreWins(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	user := createUser(t, repo, "best")
	period := uniquePeriod("daily")

	require.NoError(t, repo.UpdateLeaderboard(ctx, user.ID, 100, period))
	require.NoError(t, repo.UpdateLeaderboard(ctx, user.ID, 50, period))
	assert.Equal(t, 100, scoreOf(t, repo, period, user.ID))

	require.NoError(t, repo.UpdateLeaderboard(ctx, user.ID, 100, period))
	assert.Equal(t, 100, scoreOf(t, repo, period, user.ID))

	require.NoError(t, repo.UpdateLeaderboard(ctx, user.ID, 150, period))
	assert.Equal(t, 150, scoreOf(t, repo, period, user.ID))

	// one entry per user and period
	entries, err := repo.GetLeaderboard(ctx, period, 100)
	require.NoError(t, err)
	assert.Len(t, entries, 1)

	// periods are independent
	other := uniquePeriod("weekly")
	require.NoError(t, repo.UpdateLeaderboard(ctx, user.ID, 5, other))
	assert.Equal(t, 5, scoreOf(t, repo, other, user.ID))
	assert.Equal(t, 150, scoreOf(t, repo, period, user.ID))
}

func testLeaderboardRanking(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	period := uniquePeriod("daily")

	a := createUser(t, repo, "a")
	b := createUser(t, repo, "b")
	c := createUser(t, repo, "c")
	require.NoError(t, repo.UpdateLeaderboard(ctx, a.ID, 30, period))
	require.NoError(t, repo.UpdateLeaderboard(ctx, b.ID, 10, period))
	require.NoError(t, repo.UpdateLeaderboard(ctx, c.ID, 20, period))

	top, err := repo.GetLeaderboard(ctx, period, 2)
	require.NoError(t, err)
	require.Len(t, top, 2)

	assert.Equal(t, 1, top[0].Rank)
	assert.Equal(t, 30, top[0].Score)
	assert.Equal(t, a.ID, top[0].UserID)
	require.NotNil(t, top[0].User)
	assert.Equal(t, a.ID, top[0].User.ID)

	assert.Equal(t, 2, top[1].Rank)
	assert.Equal(t, 20, top[1].Score)
	require.NotNil(t, top[1].User)
	assert.Equal(t, c.ID, top[1].User.ID)

	again, err := repo.GetLeaderboard(ctx, period, 2)
	require.NoError(t, err)
	require.Len(t, again, 2)
	for i := range top {
		assert.Equal(t, top[i].Rank, again[i].Rank)
		assert.Equal(t, top[i].UserID, again[i].UserID)
		assert.Equal(t, top[i].Score, again[i].Score)
	}

	empty, err := repo.GetLeaderboard(ctx, uniquePeriod("monthly"), 10)
	require.NoError(t, err)
	assert.Empty(t, empty)
}

func testPeriods(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	user := createUser(t, repo, "periods")
	period := uniquePeriod("all_time")

	require.NoError(t, repo.UpdateLeaderboard(ctx, user.ID, 1, period))

	periods, err := repo.Periods(ctx)
	require.NoError(t, err)
	assert.Contains(t, periods, period)
}

func testApplyPlayerProgress(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	user := createUser(t, repo, "progress")

	// missing player is created at level 1
	player, err := repo.ApplyPlayerProgress(ctx, user.ID, domain.PlayerProgress{Coins: 5})
	require.NoError(t, err)
	assert.Equal(t, 1, player.Level)
	assert.Equal(t, 5, player.Coins)

	player, err = repo.ApplyPlayerProgress(ctx, user.ID, domain.PlayerProgress{
		Coins:              10,
		Experience:         250,
		TotalScore:         40,
		GamesPlayed:        1,
		ExperiencePerLevel: 100,
	})
	require.NoError(t, err)
	assert.Equal(t, 15, player.Coins)
	assert.Equal(t, 250, player.Experience)
	assert.Equal(t, 40, player.TotalScore)
	assert.Equal(t, 1, player.GamesPlayed)
	assert.Equal(t, 3, player.Level)

	// level is never lowered by a later delta
	player, err = repo.ApplyPlayerProgress(ctx, user.ID, domain.PlayerProgress{Coins: -5, ExperiencePerLevel: 1000})
	require.NoError(t, err)
	assert.Equal(t, 10, player.Coins)
	assert.Equal(t, 3, player.Level)

	stored, err := repo.GetPlayer(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, player.Coins, stored.Coins)
	assert.Equal(t, player.Level, stored.Level)
}

func testApplyPlayerProgressConcurrent(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	user := createUser(t, repo, "concurrent")

	const workers = 20
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := repo.ApplyPlayerProgress(ctx, user.ID, domain.PlayerProgress{Coins: 1, GamesPlayed: 1})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	player, err := repo.GetPlayer(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, workers, player.Coins)
	assert.Equal(t, workers, player.GamesPlayed)
}

func testMergeLeaderboardScore(t *testing.T, repo storage.Repository) {
	ctx := context.Background()
	user := createUser(t, repo, "merge")
	period := uniquePeriod("daily")

	improved, err := repo.MergeLeaderboardScore(ctx, user.ID, 100, period)
	require.NoError(t, err)
	assert.True(t, improved, "first score")

	improved, err = repo.MergeLeaderboardScore(ctx, user.ID, 50, period)
	require.NoError(t, err)
	assert.False(t, improved, "lower score")

	improved, err = repo.MergeLeaderboardScore(ctx, user.ID, 100, period)
	require.NoError(t, err)
	assert.False(t, improved, "equal score")

	improved, err = repo.MergeLeaderboardScore(ctx, user.ID, 150, period)
	require.NoError(t, err)
	assert.True(t, improved, "higher score")
	assert.Equal(t, 150, scoreOf(t, repo, period, user.ID))
}
