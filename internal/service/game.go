package service

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/game-storage/internal/config"
	"github.com/game-storage/internal/domain"
	"github.com/game-storage/internal/metrics"
	"github.com/game-storage/internal/redis"
	"github.com/game-storage/internal/storage"
)

// Reward claim results reported to metrics
const (
	claimResultOK             = "claimed"
	claimResultAlreadyClaimed = "already_claimed"
	claimResultNotFound       = "not_found"
	claimResultError          = "error"
)

// Broadcaster pushes leaderboard changes to connected clients
type Broadcaster interface {
	BroadcastLeaderboard(period domain.Period, entries []domain.RankedEntry)
	BroadcastBestScore(period domain.Period, userID string, score int)
}

// rewardLockStripes is the number of mutexes guarding reward cycles
const rewardLockStripes = 64

// GameService provides business logic on top of a storage repository
type GameService struct {
	repo        storage.Repository
	cache       *redis.LeaderboardCache
	broadcaster Broadcaster
	metrics     *metrics.Metrics
	config      *config.Config
	logger      *slog.Logger
	now         func() time.Time

	// rewardLocks serialise cycle regeneration and claims per user
	rewardLocks [rewardLockStripes]sync.Mutex
}

// NewGameService creates a new game service. cache and broadcaster may be nil.
func NewGameService(
	repo storage.Repository,
	cache *redis.LeaderboardCache,
	broadcaster Broadcaster,
	m *metrics.Metrics,
	cfg *config.Config,
	logger *slog.Logger,
) *GameService {
	return &GameService{
		repo:        repo,
		cache:       cache,
		broadcaster: broadcaster,
		metrics:     m,
		config:      cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// SetClock replaces the time source used for reward cycle expiry
func (s *GameService) SetClock(now func() time.Time) {
	if now != nil {
		s.now = now
	}
}

// RegisterUser returns the user already linked to the Telegram id, or creates
// the user together with a level 1 player and a fresh reward cycle.
func (s *GameService) RegisterUser(ctx context.Context, input domain.NewUser) (*domain.User, *domain.Player, error) {
	input.TelegramID = strings.TrimSpace(input.TelegramID)
	if input.TelegramID == "" {
		return nil, nil, fmt.Errorf("telegram id required: %w", domain.ErrInvalidRequest)
	}

	existing, err := s.repo.GetUserByTelegramID(ctx, input.TelegramID)
	switch {
	case err == nil:
		player, err := s.ensurePlayer(ctx, existing.ID)
		if err != nil {
			return nil, nil, err
		}
		return existing, player, nil
	case !errors.Is(err, domain.ErrUserNotFound):
		return nil, nil, fmt.Errorf("looking up telegram user: %w", err)
	}

	user, err := s.repo.CreateUser(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("creating user: %w", err)
	}
	player, err := s.repo.CreatePlayer(ctx, domain.NewPlayer{UserID: user.ID, Level: 1})
	if err != nil {
		return nil, nil, fmt.Errorf("creating player: %w", err)
	}
	if err := s.repo.ResetDailyRewards(ctx, user.ID); err != nil {
		return nil, nil, fmt.Errorf("provisioning daily rewards: %w", err)
	}

	s.metrics.UserRegistered()
	s.logger.Info("user registered", "user_id", user.ID, "telegram_id", user.TelegramID)
	return user, player, nil
}

func (s *GameService) ensurePlayer(ctx context.Context, userID string) (*domain.Player, error) {
	player, err := s.repo.GetPlayer(ctx, userID)
	if err == nil {
		return player, nil
	}
	if !errors.Is(err, domain.ErrPlayerNotFound) {
		return nil, fmt.Errorf("getting player: %w", err)
	}
	player, err = s.repo.CreatePlayer(ctx, domain.NewPlayer{UserID: userID, Level: 1})
	if err != nil {
		return nil, fmt.Errorf("creating player: %w", err)
	}
	return player, nil
}

// GetUser returns a user by id
func (s *GameService) GetUser(ctx context.Context, userID string) (*domain.User, error) {
	return s.repo.GetUser(ctx, userID)
}

// GetUserByTelegramID returns the user linked to a Telegram account
func (s *GameService) GetUserByTelegramID(ctx context.Context, telegramID string) (*domain.User, error) {
	return s.repo.GetUserByTelegramID(ctx, telegramID)
}

// GetPlayer returns the game state of a user
func (s *GameService) GetPlayer(ctx context.Context, userID string) (*domain.Player, error) {
	return s.repo.GetPlayer(ctx, userID)
}

// UpdatePlayer merges the set fields of the patch into the player
func (s *GameService) UpdatePlayer(ctx context.Context, userID string, patch domain.PlayerPatch) (*domain.Player, error) {
	if patch.IsEmpty() {
		return nil, fmt.Errorf("empty player patch: %w", domain.ErrInvalidRequest)
	}
	return s.repo.UpdatePlayer(ctx, userID, patch)
}

// GetProfile returns a user with its player and achievements
func (s *GameService) GetProfile(ctx context.Context, userID string) (*domain.Profile, error) {
	user, err := s.repo.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}

	profile := &domain.Profile{User: *user}
	player, err := s.repo.GetPlayer(ctx, userID)
	switch {
	case err == nil:
		profile.Player = player
	case !errors.Is(err, domain.ErrPlayerNotFound):
		return nil, fmt.Errorf("getting player: %w", err)
	}

	achievements, err := s.repo.GetAchievements(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting achievements: %w", err)
	}
	profile.Achievements = achievements
	return profile, nil
}

// SubmitGameScore records a finished game, applies its rewards to the player
// and merges the score into every configured leaderboard period.
func (s *GameService) SubmitGameScore(ctx context.Context, input domain.NewGameScore) (*domain.ScoreResult, error) {
	if input.UserID == "" {
		return nil, fmt.Errorf("user id required: %w", domain.ErrInvalidRequest)
	}
	if input.Score < 0 || input.CoinsEarned < 0 || input.ExperienceEarned < 0 {
		return nil, fmt.Errorf("negative score values: %w", domain.ErrInvalidRequest)
	}
	if _, err := s.repo.GetUser(ctx, input.UserID); err != nil {
		return nil, err
	}

	score, err := s.repo.AddGameScore(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("adding game score: %w", err)
	}
	s.metrics.ScoreSubmitted(score.GameMode)

	updated, err := s.repo.ApplyPlayerProgress(ctx, input.UserID, domain.PlayerProgress{
		Coins:              score.CoinsEarned,
		Experience:         score.ExperienceEarned,
		TotalScore:         score.Score,
		GamesPlayed:        1,
		ExperiencePerLevel: s.config.Progression.ExperiencePerLevel,
	})
	if err != nil {
		return nil, fmt.Errorf("updating player: %w", err)
	}

	result := &domain.ScoreResult{
		Score:   *score,
		Player:  *updated,
		Periods: make(map[domain.Period]bool, len(s.config.Leaderboard.Periods)),
	}
	for _, period := range s.config.Leaderboard.Periods {
		improved, err := s.mergeScore(ctx, period, input.UserID, score.Score)
		if err != nil {
			return nil, err
		}
		result.Periods[period] = improved
		if improved {
			s.metrics.LeaderboardImproved(period)
			s.broadcast(ctx, period, input.UserID, score.Score)
		}
	}

	s.logger.Debug("game score submitted",
		"user_id", input.UserID,
		"game_mode", score.GameMode,
		"score", score.Score,
	)
	return result, nil
}

// mergeScore applies best-score-wins to the repository and mirrors a new
// best into the cache. It reports whether the stored best score went up.
func (s *GameService) mergeScore(ctx context.Context, period domain.Period, userID string, score int) (bool, error) {
	improved, err := s.repo.MergeLeaderboardScore(ctx, userID, score, period)
	if err != nil {
		return false, fmt.Errorf("updating %s leaderboard: %w", period, err)
	}
	if !improved || s.cache == nil {
		return improved, nil
	}

	// The sync worker repairs a cache that missed the write
	if _, err := s.cache.SetScoreIfBetter(ctx, period, userID, score); err != nil {
		s.logger.Warn("failed to update leaderboard cache", "period", period, "user_id", userID, "error", err)
	}
	return true, nil
}

func (s *GameService) broadcast(ctx context.Context, period domain.Period, userID string, score int) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastBestScore(period, userID, score)

	entries, err := s.repo.GetLeaderboard(ctx, period, s.config.Leaderboard.DefaultLimit)
	if err != nil {
		s.logger.Warn("failed to load leaderboard for broadcast", "period", period, "error", err)
		return
	}
	s.broadcaster.BroadcastLeaderboard(period, entries)
}

// SubmitGameScoreBatch submits scores one by one, logging failures and
// continuing. It returns the number of accepted scores.
func (s *GameService) SubmitGameScoreBatch(ctx context.Context, scores []domain.NewGameScore) int {
	accepted := 0
	for _, score := range scores {
		if _, err := s.SubmitGameScore(ctx, score); err != nil {
			s.logger.Error("failed to submit score in batch",
				"user_id", score.UserID,
				"game_mode", score.GameMode,
				"error", err,
			)
			continue
		}
		accepted++
	}
	return accepted
}

// DailyRewards returns the user's reward cycle, starting a new one when the
// user has none or every reset time has passed.
func (s *GameService) DailyRewards(ctx context.Context, userID string) ([]domain.DailyReward, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	mu := s.rewardLock(userID)
	mu.Lock()
	defer mu.Unlock()
	return s.currentCycle(ctx, userID)
}

func (s *GameService) rewardLock(userID string) *sync.Mutex {
	h := fnv.New32a()
	_, _ = h.Write([]byte(userID))
	return &s.rewardLocks[h.Sum32()%rewardLockStripes]
}

// currentCycle loads the reward cycle and regenerates it once expired.
// Callers hold the user's reward lock.
func (s *GameService) currentCycle(ctx context.Context, userID string) ([]domain.DailyReward, error) {
	rewards, err := s.repo.GetDailyRewards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting daily rewards: %w", err)
	}
	if !domain.CycleExpired(rewards, s.now()) {
		return rewards, nil
	}

	if err := s.repo.ResetDailyRewards(ctx, userID); err != nil {
		return nil, fmt.Errorf("resetting daily rewards: %w", err)
	}
	s.logger.Debug("daily reward cycle regenerated", "user_id", userID)

	rewards, err = s.repo.GetDailyRewards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("getting daily rewards: %w", err)
	}
	return rewards, nil
}

// ResetDailyRewards starts a new reward cycle for the user
func (s *GameService) ResetDailyRewards(ctx context.Context, userID string) ([]domain.DailyReward, error) {
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, err
	}

	mu := s.rewardLock(userID)
	mu.Lock()
	defer mu.Unlock()
	if err := s.repo.ResetDailyRewards(ctx, userID); err != nil {
		return nil, fmt.Errorf("resetting daily rewards: %w", err)
	}
	return s.repo.GetDailyRewards(ctx, userID)
}

// ClaimDailyReward claims a cycle day and credits its coins to the player.
// An expired cycle is regenerated first. The returned player is nil when the
// claim succeeded but the credit could not be applied.
func (s *GameService) ClaimDailyReward(ctx context.Context, userID string, day int) (*domain.DailyReward, *domain.Player, error) {
	if day < 1 || day > domain.RewardCycleDays {
		return nil, nil, fmt.Errorf("day %d out of range: %w", day, domain.ErrInvalidRequest)
	}
	if _, err := s.repo.GetUser(ctx, userID); err != nil {
		return nil, nil, err
	}

	reward, err := s.claim(ctx, userID, day)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrRewardAlreadyClaimed):
			s.metrics.RewardClaimed(claimResultAlreadyClaimed)
		case errors.Is(err, domain.ErrRewardNotFound):
			s.metrics.RewardClaimed(claimResultNotFound)
		default:
			s.metrics.RewardClaimed(claimResultError)
		}
		return nil, nil, err
	}
	s.metrics.RewardClaimed(claimResultOK)

	return reward, s.creditCoins(ctx, userID, s.config.Rewards.CoinsForDay(day), "daily_reward"), nil
}

func (s *GameService) claim(ctx context.Context, userID string, day int) (*domain.DailyReward, error) {
	mu := s.rewardLock(userID)
	mu.Lock()
	defer mu.Unlock()

	if _, err := s.currentCycle(ctx, userID); err != nil {
		return nil, err
	}
	return s.repo.ClaimDailyReward(ctx, userID, day)
}

// creditCoins adds coins to the player's balance. The grant that earned them
// is already committed, so a failure is logged and reported as a nil player.
func (s *GameService) creditCoins(ctx context.Context, userID string, coins int, source string) *domain.Player {
	player, err := s.repo.ApplyPlayerProgress(ctx, userID, domain.PlayerProgress{Coins: coins})
	if err != nil {
		s.logger.Error("failed to credit coins",
			"user_id", userID,
			"coins", coins,
			"source", source,
			"error", err,
		)
		return nil
	}
	return player
}

// GetAchievements returns a user's achievements in unlock order
func (s *GameService) GetAchievements(ctx context.Context, userID string) ([]domain.Achievement, error) {
	return s.repo.GetAchievements(ctx, userID)
}

// UnlockAchievement appends an achievement and credits its reward coins
func (s *GameService) UnlockAchievement(ctx context.Context, input domain.NewAchievement) (*domain.Achievement, *domain.Player, error) {
	if input.UserID == "" || input.Type == "" {
		return nil, nil, fmt.Errorf("user id and type required: %w", domain.ErrInvalidRequest)
	}
	if input.Reward < 0 {
		return nil, nil, fmt.Errorf("negative reward: %w", domain.ErrInvalidRequest)
	}
	if _, err := s.repo.GetUser(ctx, input.UserID); err != nil {
		return nil, nil, err
	}

	achievement, err := s.repo.AddAchievement(ctx, input)
	if err != nil {
		return nil, nil, fmt.Errorf("adding achievement: %w", err)
	}
	s.metrics.AchievementUnlocked()

	return achievement, s.creditCoins(ctx, input.UserID, achievement.Reward, "achievement"), nil
}

// RecentScores returns the user's latest scores
func (s *GameService) RecentScores(ctx context.Context, userID string, limit int) ([]domain.GameScore, error) {
	return s.repo.GetRecentScores(ctx, userID, s.clampLimit(limit))
}

// Leaderboard returns the ranked top list of a period
func (s *GameService) Leaderboard(ctx context.Context, period domain.Period, limit int) ([]domain.RankedEntry, error) {
	if !period.Valid() {
		return nil, domain.ErrInvalidPeriod
	}
	return s.repo.GetLeaderboard(ctx, period, s.clampLimit(limit))
}

// UserRank returns a user's rank and best score in a period
func (s *GameService) UserRank(ctx context.Context, period domain.Period, userID string) (*domain.LeaderboardEntry, error) {
	if !period.Valid() {
		return nil, domain.ErrInvalidPeriod
	}
	if s.cache != nil {
		entry, err := s.cache.GetUserRank(ctx, period, userID)
		switch {
		case err == nil:
			return entry, nil
		case !errors.Is(err, domain.ErrEntryNotFound):
			s.logger.Warn("leaderboard cache unavailable, falling back to repository", "period", period, "error", err)
		}
	}
	return s.repositoryEntry(ctx, period, userID)
}

// LeaderboardStats returns the number of ranked users and the top score of a period
func (s *GameService) LeaderboardStats(ctx context.Context, period domain.Period) (*domain.LeaderboardStats, error) {
	if !period.Valid() {
		return nil, domain.ErrInvalidPeriod
	}
	stats := &domain.LeaderboardStats{Period: period}

	if s.cache != nil {
		err := s.cacheStats(ctx, stats)
		if err == nil {
			return stats, nil
		}
		s.logger.Warn("leaderboard cache unavailable, falling back to repository", "period", period, "error", err)
	}

	entries, err := s.repo.GetLeaderboard(ctx, period, math.MaxInt32)
	if err != nil {
		return nil, fmt.Errorf("getting %s leaderboard: %w", period, err)
	}
	stats.TotalUsers = int64(len(entries))
	if len(entries) > 0 {
		stats.TopScore = entries[0].Score
	}
	return stats, nil
}

// repositoryEntry finds a user's ranked entry by scanning the full period
func (s *GameService) repositoryEntry(ctx context.Context, period domain.Period, userID string) (*domain.LeaderboardEntry, error) {
	entries, err := s.repo.GetLeaderboard(ctx, period, math.MaxInt32)
	if err != nil {
		return nil, fmt.Errorf("getting %s leaderboard: %w", period, err)
	}
	for _, e := range entries {
		if e.UserID == userID {
			entry := e.LeaderboardEntry
			return &entry, nil
		}
	}
	return nil, domain.ErrEntryNotFound
}

func (s *GameService) cacheStats(ctx context.Context, stats *domain.LeaderboardStats) error {
	count, err := s.cache.GetCount(ctx, stats.Period)
	if err != nil {
		return err
	}
	top, err := s.cache.GetTopN(ctx, stats.Period, 1)
	if err != nil {
		return err
	}
	stats.TotalUsers = count
	if len(top) > 0 {
		stats.TopScore = top[0].Score
	}
	return nil
}

func (s *GameService) clampLimit(limit int) int {
	if limit <= 0 {
		limit = s.config.Leaderboard.DefaultLimit
	}
	if limit > s.config.Leaderboard.MaxLimit {
		limit = s.config.Leaderboard.MaxLimit
	}
	return limit
}
