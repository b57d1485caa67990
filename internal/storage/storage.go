// Package storage defines the data-access contract for game state.
package storage

import (
	"context"

	"github.com/game-storage/internal/domain"
)

// Repository is the storage contract shared by the in-memory and PostgreSQL backends.
// Every call may block on I/O in a networked implementation.
type Repository interface {
	// Users
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetUserByTelegramID(ctx context.Context, telegramID string) (*domain.User, error)
	CreateUser(ctx context.Context, user domain.NewUser) (*domain.User, error)

	// Players, keyed by user id
	GetPlayer(ctx context.Context, userID string) (*domain.Player, error)
	CreatePlayer(ctx context.Context, player domain.NewPlayer) (*domain.Player, error)
	UpdatePlayer(ctx context.Context, userID string, patch domain.PlayerPatch) (*domain.Player, error)
	// ApplyPlayerProgress adds the increments atomically, creating a level 1
	// player first when the user has none.
	ApplyPlayerProgress(ctx context.Context, userID string, progress domain.PlayerProgress) (*domain.Player, error)

	// Daily rewards
	GetDailyRewards(ctx context.Context, userID string) ([]domain.DailyReward, error)
	ClaimDailyReward(ctx context.Context, userID string, day int) (*domain.DailyReward, error)
	ResetDailyRewards(ctx context.Context, userID string) error

	// Achievements
	GetAchievements(ctx context.Context, userID string) ([]domain.Achievement, error)
	AddAchievement(ctx context.Context, achievement domain.NewAchievement) (*domain.Achievement, error)

	// Game scores
	AddGameScore(ctx context.Context, score domain.NewGameScore) (*domain.GameScore, error)
	GetRecentScores(ctx context.Context, userID string, limit int) ([]domain.GameScore, error)

	// Leaderboard
	GetLeaderboard(ctx context.Context, period domain.Period, limit int) ([]domain.RankedEntry, error)
	UpdateLeaderboard(ctx context.Context, userID string, score int, period domain.Period) error
	// MergeLeaderboardScore is UpdateLeaderboard reporting whether the stored best changed
	MergeLeaderboardScore(ctx context.Context, userID string, score int, period domain.Period) (bool, error)
	Periods(ctx context.Context) ([]domain.Period, error)
}
